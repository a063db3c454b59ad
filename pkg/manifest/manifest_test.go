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

package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleverse/talefs/pkg/store"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewBuiltin()
	tale := &store.Tale{
		Title: "Ligo Binary Merger",
		Metadata: map[string]interface{}{
			"image":   map[string]interface{}{"name": "jupyter"},
			"dataset": []interface{}{"doi:10.5281/zenodo.820223"},
		},
	}

	manifestDoc, err := p.Manifest(ctx, tale, "v1", "First Version")
	require.NoError(t, err)
	environmentDoc, err := p.Environment(ctx, tale)
	require.NoError(t, err)

	restored, err := p.Restore(ctx, manifestDoc, environmentDoc)
	require.NoError(t, err)
	assert.Equal(t, tale.Title, restored.Title)
	assert.Equal(t, map[string]interface{}{"name": "jupyter"}, restored.Metadata["image"])
	assert.Equal(t, []interface{}{"doi:10.5281/zenodo.820223"}, restored.Metadata["dataset"])
}

func TestDataset(t *testing.T) {
	ctx := context.Background()
	p := NewBuiltin()
	tale := &store.Tale{
		Metadata: map[string]interface{}{
			"dataset": []interface{}{"doi:a", "doi:b"},
		},
	}

	manifestDoc, err := p.Manifest(ctx, tale, "v1", "v1")
	require.NoError(t, err)

	ds, err := p.Dataset(manifestDoc)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"doi:a", "doi:b"}, ds)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	_, err := NewBuiltin().Restore(context.Background(), []byte("{"), []byte("{}"))
	assert.Error(t, err)
}
