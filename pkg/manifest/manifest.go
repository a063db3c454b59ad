// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package manifest abstracts the producer of the manifest.json and
// environment.json documents stored inside every version. The documents
// are opaque to the engine: it writes them during snapshots, rewrites the
// manifest on rename and fork, and hands them back to the producer to
// restore tale metadata.
package manifest

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/taleverse/talefs/pkg/store"
)

// Producer serializes and restores tale metadata.
type Producer interface {
	// Manifest renders the manifest document for the given tale.
	// versionID and versionName are empty when the manifest is built
	// only for comparison.
	Manifest(ctx context.Context, tale *store.Tale, versionID, versionName string) ([]byte, error)
	// Environment renders the runtime environment document.
	Environment(ctx context.Context, tale *store.Tale) ([]byte, error)
	// Restore parses previously produced documents into the tale fields
	// they capture. Only Title and Metadata are meaningful on the result.
	Restore(ctx context.Context, manifest, environment []byte) (*store.Tale, error)
	// Dataset extracts the dataset section of a manifest.
	Dataset(manifest []byte) (interface{}, error)
}

// document is the builtin manifest shape. Real deployments plug in their
// own producer; this one captures exactly the fields the engine needs to
// round-trip.
type document struct {
	VersionID   string                 `json:"versionId,omitempty"`
	VersionName string                 `json:"versionName,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Dataset     interface{}            `json:"dataset,omitempty"`
}

type environment struct {
	Image interface{} `json:"image,omitempty"`
}

type builtin struct{}

// NewBuiltin returns the builtin JSON producer.
func NewBuiltin() Producer {
	return builtin{}
}

func (builtin) Manifest(_ context.Context, tale *store.Tale, versionID, versionName string) ([]byte, error) {
	doc := document{
		VersionID:   versionID,
		VersionName: versionName,
		Title:       tale.Title,
		Metadata:    tale.Metadata,
	}
	if tale.Metadata != nil {
		doc.Dataset = tale.Metadata["dataset"]
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	return b, errors.Wrap(err, "manifest: error rendering manifest")
}

func (builtin) Environment(_ context.Context, tale *store.Tale) ([]byte, error) {
	var env environment
	if tale.Metadata != nil {
		env.Image = tale.Metadata["image"]
	}
	b, err := json.MarshalIndent(env, "", "  ")
	return b, errors.Wrap(err, "manifest: error rendering environment")
}

func (builtin) Restore(_ context.Context, manifestDoc, environmentDoc []byte) (*store.Tale, error) {
	var doc document
	if err := json.Unmarshal(manifestDoc, &doc); err != nil {
		return nil, errors.Wrap(err, "manifest: error parsing manifest")
	}
	var env environment
	if err := json.Unmarshal(environmentDoc, &env); err != nil {
		return nil, errors.Wrap(err, "manifest: error parsing environment")
	}

	t := &store.Tale{
		Title:    doc.Title,
		Metadata: doc.Metadata,
	}
	if env.Image != nil {
		if t.Metadata == nil {
			t.Metadata = map[string]interface{}{}
		}
		t.Metadata["image"] = env.Image
	}
	return t, nil
}

func (builtin) Dataset(manifestDoc []byte) (interface{}, error) {
	var doc document
	if err := json.Unmarshal(manifestDoc, &doc); err != nil {
		return nil, errors.Wrap(err, "manifest: error parsing manifest")
	}
	return doc.Dataset, nil
}
