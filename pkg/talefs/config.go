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
	"fmt"
	"os"
	"path/filepath"

	"github.com/taleverse/talefs/pkg/layout"
	"github.com/taleverse/talefs/pkg/store/registry"
)

// Config selects the metadata store driver and the two on-disk roots.
// Services embed it in their own config with a mapstructure squash.
type Config struct {
	VersionsRoot string `mapstructure:"versions_root"`
	RunsRoot     string `mapstructure:"runs_root"`

	StoreDriver  string                 `mapstructure:"store_driver"`
	StoreOptions map[string]interface{} `mapstructure:"store_options"`
}

// ApplyDefaults puts the roots under the system temp directory and picks
// the in-process store.
func (c *Config) ApplyDefaults() {
	if c.VersionsRoot == "" {
		c.VersionsRoot = filepath.Join(os.TempDir(), "talefs", "versions")
	}
	if c.RunsRoot == "" {
		c.RunsRoot = filepath.Join(os.TempDir(), "talefs", "runs")
	}
	if c.StoreDriver == "" {
		c.StoreDriver = "memory"
	}
}

// NewFromConfig builds an engine from a decoded config, resolving the
// store driver through the registry.
func NewFromConfig(ctx context.Context, c *Config, opts ...Option) (*TaleFS, error) {
	newStore, ok := registry.NewFuncs[c.StoreDriver]
	if !ok {
		return nil, fmt.Errorf("store driver %q not found", c.StoreDriver)
	}
	st, err := newStore(c.StoreOptions)
	if err != nil {
		return nil, err
	}

	fs, err := New(st, layout.New(c.VersionsRoot, c.RunsRoot), opts...)
	if err != nil {
		return nil, err
	}
	if err := fs.Init(ctx); err != nil {
		return nil, err
	}
	return fs, nil
}
