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

// Package talefs implements the versioning engine: immutable hard-linked
// snapshots of tale workspaces, runs derived from them, restore, fork and
// the run heartbeat reaper. The metadata store, the manifest producer and
// the task queue are external collaborators passed in at construction.
package talefs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/jobqueue"
	"github.com/taleverse/talefs/pkg/layout"
	"github.com/taleverse/talefs/pkg/manifest"
	"github.com/taleverse/talefs/pkg/store"
	"github.com/taleverse/talefs/pkg/token"
)

// TaleFS is the versioning engine. It is safe for concurrent use; all
// cross-request synchronization happens through the store's conditional
// update primitive.
type TaleFS struct {
	store    store.Store
	layout   layout.Layout
	producer manifest.Producer
	queue    jobqueue.Queue
	tokens   *token.Manager
}

// Option configures optional collaborators.
type Option func(*TaleFS)

// WithProducer replaces the builtin manifest producer.
func WithProducer(p manifest.Producer) Option {
	return func(fs *TaleFS) {
		fs.producer = p
	}
}

// WithQueue wires the task queue used by StartRun and the reaper.
func WithQueue(q jobqueue.Queue) Option {
	return func(fs *TaleFS) {
		fs.queue = q
	}
}

// WithTokenManager wires the credential manager for job credentials.
func WithTokenManager(m *token.Manager) Option {
	return func(fs *TaleFS) {
		fs.tokens = m
	}
}

// New returns an engine over the given store and path layout.
func New(st store.Store, l layout.Layout, opts ...Option) (*TaleFS, error) {
	fs := &TaleFS{
		store:    st,
		layout:   l,
		producer: manifest.NewBuiltin(),
	}
	for _, opt := range opts {
		opt(fs)
	}

	for _, root := range []string{l.VersionsRoot, l.RunsRoot} {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, errors.Wrap(err, "talefs: error creating root "+root)
		}
	}
	return fs, nil
}

// Init performs crash recovery: critical-section flags left set by a
// crashed holder are cleared. Call once at process start.
func (fs *TaleFS) Init(ctx context.Context) error {
	n, err := fs.store.ResetCriticalSections(ctx)
	if err != nil {
		return errors.Wrap(err, "talefs: error resetting critical sections")
	}
	if n > 0 {
		appctx.GetLogger(ctx).Warn().Int("count", n).Msg("cleared stuck critical sections")
	}
	return nil
}

// Layout exposes the path layout, mainly for tests and diagnostics.
func (fs *TaleFS) Layout() layout.Layout {
	return fs.layout
}

// generateName renders the default version/run name from the wall clock,
// the locale-independent equivalent of strftime's %c.
func (fs *TaleFS) generateName() string {
	return time.Now().Format(time.ANSIC)
}

// touchDirStamp bumps a directory's timestamps to now.
func touchDirStamp(dir string) error {
	now := time.Now()
	return errors.Wrap(os.Chtimes(dir, now, now), "talefs: error touching "+dir)
}

// ensureTrash creates dir and its .trash subdirectory.
func ensureTrash(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "talefs: error creating "+dir)
	}
	trash := filepath.Join(dir, layout.TrashDirName)
	if err := os.MkdirAll(trash, 0755); err != nil {
		return errors.Wrap(err, "talefs: error creating "+trash)
	}
	return nil
}
