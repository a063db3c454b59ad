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

package talefs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/store"
)

// Tale loads a tale document.
func (fs *TaleFS) Tale(ctx context.Context, taleID string) (*store.Tale, error) {
	return fs.store.Tale(ctx, taleID)
}

// CreateTale inserts a tale document and attaches the versioning
// machinery to it. An empty workspacePath gets a directory under the
// system temp dir.
func (fs *TaleFS) CreateTale(ctx context.Context, title, workspacePath string, metadata map[string]interface{}) (*store.Tale, error) {
	user, _ := appctx.ContextGetUser(ctx)
	t := &store.Tale{
		ID:            fs.store.NewID(),
		CreatorID:     user,
		Title:         title,
		WorkspacePath: workspacePath,
		Metadata:      metadata,
	}
	if t.WorkspacePath == "" {
		t.WorkspacePath = filepath.Join(os.TempDir(), "talefs", "workspaces", t.ID)
	}
	if err := os.MkdirAll(t.WorkspacePath, 0755); err != nil {
		return nil, errors.Wrap(err, "talefs: error creating workspace "+t.WorkspacePath)
	}

	if err := fs.store.SaveTale(ctx, t); err != nil {
		return nil, err
	}
	if err := fs.OnTaleCreated(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CopyTale duplicates a tale with its whole version and run history. The
// copy gets a fresh workspace directory next to the source's; with a
// target version the copied workspace is restored from its clone,
// otherwise it starts empty.
func (fs *TaleFS) CopyTale(ctx context.Context, srcTaleID, targetVersionID string, shallow bool) (*store.Tale, error) {
	src, err := fs.store.Tale(ctx, srcTaleID)
	if err != nil {
		return nil, err
	}

	user, _ := appctx.ContextGetUser(ctx)
	dst := &store.Tale{
		ID:        fs.store.NewID(),
		CreatorID: user,
		Title:     src.Title,
	}
	if src.Metadata != nil {
		dst.Metadata = make(map[string]interface{}, len(src.Metadata))
		for k, v := range src.Metadata {
			dst.Metadata[k] = v
		}
	}
	dst.WorkspacePath = filepath.Join(filepath.Dir(src.WorkspacePath), dst.ID)
	if err := os.MkdirAll(dst.WorkspacePath, 0755); err != nil {
		return nil, errors.Wrap(err, "talefs: error creating workspace "+dst.WorkspacePath)
	}

	if err := fs.store.SaveTale(ctx, dst); err != nil {
		return nil, err
	}
	if err := fs.OnTaleCreated(ctx, dst); err != nil {
		return nil, err
	}
	if err := fs.OnTaleCopied(ctx, src.ID, dst.ID, targetVersionID, shallow); err != nil {
		return nil, err
	}
	return fs.store.Tale(ctx, dst.ID)
}

// RemoveTale tears a tale down, history included.
func (fs *TaleFS) RemoveTale(ctx context.Context, taleID string) error {
	return fs.OnTaleRemoved(ctx, taleID)
}
