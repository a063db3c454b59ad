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

// Package memory provides an in-process metadata store, used in tests and
// single-node deployments. The conditional update is a mutex-guarded
// compare-and-set, which gives the same guarantee the document store's
// conditional update gives across processes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/store"
	"github.com/taleverse/talefs/pkg/store/registry"
)

func init() {
	registry.Register("memory", New)
}

var (
	sharedOnce sync.Once
	shared     *mem
)

// New returns the process-wide memory store. All services in a process
// share one instance so they observe the same records, mirroring how
// every service talks to the same database in a real deployment.
func New(_ map[string]interface{}) (store.Store, error) {
	sharedOnce.Do(func() {
		shared = newMem()
	})
	return shared, nil
}

// NewStandalone returns a fresh, unshared memory store for tests.
func NewStandalone() store.Store {
	return newMem()
}

func newMem() *mem {
	return &mem{
		folders: map[string]*store.Folder{},
		tales:   map[string]*store.Tale{},
	}
}

type mem struct {
	mu      sync.Mutex
	folders map[string]*store.Folder
	tales   map[string]*store.Tale
}

func (m *mem) NewID() string {
	return primitive.NewObjectID().Hex()
}

func copyFolder(f *store.Folder) *store.Folder {
	c := *f
	if f.Meta != nil {
		c.Meta = make(map[string]string, len(f.Meta))
		for k, v := range f.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

func copyTale(t *store.Tale) *store.Tale {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (m *mem) Folder(_ context.Context, id string) (*store.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return nil, errtypes.NotFound("folder " + id)
	}
	return copyFolder(f), nil
}

func (m *mem) FindFolder(_ context.Context, parentID, name string) (*store.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.folders {
		if f.ParentID == parentID && f.Name == name {
			return copyFolder(f), nil
		}
	}
	return nil, errtypes.NotFound("folder " + name + " below " + parentID)
}

func (m *mem) ChildFolders(_ context.Context, parentID string, opts store.ListOptions) ([]*store.Folder, error) {
	m.mu.Lock()
	children := []*store.Folder{}
	for _, f := range m.folders {
		if f.ParentID == parentID {
			children = append(children, copyFolder(f))
		}
	}
	m.mu.Unlock()

	field := opts.Sort
	if field == "" {
		field = "created"
	}
	order := opts.Order
	if order == 0 {
		order = store.Ascending
	}
	sort.SliceStable(children, func(i, j int) bool {
		var less bool
		switch field {
		case "updated":
			less = children[i].Updated.Before(children[j].Updated)
		case "name":
			less = children[i].Name < children[j].Name
		default:
			less = children[i].Created.Before(children[j].Created)
		}
		if order == store.Descending {
			return !less
		}
		return less
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(children) {
			return []*store.Folder{}, nil
		}
		children = children[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(children) {
		children = children[:opts.Limit]
	}
	return children, nil
}

func (m *mem) FoldersByStatus(_ context.Context, statuses ...int) ([]*store.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := []*store.Folder{}
	for _, f := range m.folders {
		for _, s := range statuses {
			if f.Status == s && f.RunVersionID != "" {
				matches = append(matches, copyFolder(f))
				break
			}
		}
	}
	return matches, nil
}

func (m *mem) SaveFolder(_ context.Context, f *store.Folder) error {
	if f.ID == "" {
		return errtypes.BadRequest("folder has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// timestamps are the caller's to manage so that forks can preserve
	// them; only missing ones are filled in
	now := time.Now()
	if f.Created.IsZero() {
		f.Created = now
	}
	if f.Updated.IsZero() {
		f.Updated = now
	}
	m.folders[f.ID] = copyFolder(f)
	return nil
}

func (m *mem) RemoveFolder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[id]; !ok {
		return errtypes.NotFound("folder " + id)
	}
	delete(m.folders, id)
	return nil
}

func (m *mem) TouchFolder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return errtypes.NotFound("folder " + id)
	}
	f.Updated = time.Now()
	return nil
}

func (m *mem) SetCriticalSection(_ context.Context, rootID string, value bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[rootID]
	if !ok {
		return false, errtypes.NotFound("folder " + rootID)
	}
	if f.CriticalSection == value {
		return false, nil
	}
	f.CriticalSection = value
	f.Seq++
	return true, nil
}

func (m *mem) ResetCriticalSections(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.folders {
		if f.CriticalSection {
			f.CriticalSection = false
			n++
		}
	}
	return n, nil
}

func (m *mem) Tale(_ context.Context, id string) (*store.Tale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tales[id]
	if !ok {
		return nil, errtypes.NotFound("tale " + id)
	}
	return copyTale(t), nil
}

func (m *mem) SaveTale(_ context.Context, t *store.Tale) error {
	if t.ID == "" {
		return errtypes.BadRequest("tale has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if t.Created.IsZero() {
		t.Created = now
	}
	if t.Updated.IsZero() {
		t.Updated = now
	}
	m.tales[t.ID] = copyTale(t)
	return nil
}

func (m *mem) RemoveTale(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tales[id]; !ok {
		return errtypes.NotFound("tale " + id)
	}
	delete(m.tales, id)
	return nil
}

func (m *mem) TouchTale(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tales[id]
	if !ok {
		return errtypes.NotFound("tale " + id)
	}
	t.Updated = time.Now()
	return nil
}
