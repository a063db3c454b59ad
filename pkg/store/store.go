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

// Package store defines the metadata store the versioning engine persists
// folder and tale records in. The engine treats it as a document store
// with one atomic conditional-update primitive; everything else is plain
// CRUD. Drivers register themselves in pkg/store/registry.
package store

import (
	"context"
	"time"
)

// Folder is a metadata record for a versions root, a runs root, a version
// or a run. Roots are distinguished by their parent being empty.
type Folder struct {
	ID       string `bson:"_id"`
	ParentID string `bson:"parentId,omitempty"`
	Name     string `bson:"name"`
	TaleID   string `bson:"taleId,omitempty"`

	// FsPath is the absolute on-disk directory backing this record.
	// It never changes after creation; renames only touch Name.
	FsPath    string `bson:"fsPath,omitempty"`
	IsMapping bool   `bson:"isMapping,omitempty"`

	// Seq and CriticalSection implement the per-root critical section.
	// Both are only meaningful on root records.
	Seq             int64 `bson:"seq"`
	CriticalSection bool  `bson:"criticalSection"`

	// RefCount counts the live runs derived from a version.
	RefCount int `bson:"refCount"`

	// RunVersionID is the version a run derives from.
	RunVersionID string `bson:"runVersionId,omitempty"`
	// Status is the run state machine code.
	Status int `bson:"status"`

	// Meta carries opaque job bookkeeping (node id, container name,
	// task id, credential) for the heartbeat reaper.
	Meta map[string]string `bson:"meta,omitempty"`

	CreatorID string    `bson:"creatorId,omitempty"`
	Created   time.Time `bson:"created"`
	Updated   time.Time `bson:"updated"`
}

// Tale is the slice of the project document the engine reads and writes.
// The full tale schema belongs to the enclosing service.
type Tale struct {
	ID            string `bson:"_id"`
	CreatorID     string `bson:"creatorId,omitempty"`
	Title         string `bson:"title,omitempty"`
	WorkspacePath string `bson:"workspacePath"`

	VersionsRootID string `bson:"versionsRootId,omitempty"`
	RunsRootID     string `bson:"runsRootId,omitempty"`
	RestoredFrom   string `bson:"restoredFrom,omitempty"`

	// Metadata is the opaque document the manifest producer serializes
	// and restores.
	Metadata map[string]interface{} `bson:"metadata,omitempty"`

	Created time.Time `bson:"created"`
	Updated time.Time `bson:"updated"`
}

// SortOrder selects the direction of ChildFolders listings.
type SortOrder int

const (
	// Ascending sorts oldest first.
	Ascending SortOrder = 1
	// Descending sorts newest first.
	Descending SortOrder = -1
)

// ListOptions bound and order ChildFolders results.
type ListOptions struct {
	// Sort is the field to sort by: "created", "updated" or "name".
	// Empty means "created".
	Sort   string
	Order  SortOrder
	Limit  int
	Offset int
}

// Store is the metadata store adapter. All methods return
// errtypes.NotFound when the addressed record does not exist.
type Store interface {
	// NewID mints a new 24-hex record id.
	NewID() string

	Folder(ctx context.Context, id string) (*Folder, error)
	// FindFolder returns the child of parentID named name, or NotFound.
	FindFolder(ctx context.Context, parentID, name string) (*Folder, error)
	ChildFolders(ctx context.Context, parentID string, opts ListOptions) ([]*Folder, error)
	// FoldersByStatus returns all folders whose status is one of the
	// given codes. The heartbeat reaper uses it to find candidate runs
	// across all tales.
	FoldersByStatus(ctx context.Context, statuses ...int) ([]*Folder, error)
	SaveFolder(ctx context.Context, f *Folder) error
	RemoveFolder(ctx context.Context, id string) error
	// TouchFolder bumps the updated timestamp of a record.
	TouchFolder(ctx context.Context, id string) error

	// SetCriticalSection atomically sets the critical-section flag of a
	// root record to value iff it currently differs, incrementing the
	// seq counter. It reports whether the update applied. This is the
	// only synchronization primitive the engine relies on.
	SetCriticalSection(ctx context.Context, rootID string, value bool) (bool, error)
	// ResetCriticalSections clears all set critical-section flags and
	// returns how many were cleared. Called once at process start to
	// recover from crashed holders.
	ResetCriticalSections(ctx context.Context) (int, error)

	Tale(ctx context.Context, id string) (*Tale, error)
	SaveTale(ctx context.Context, t *Tale) error
	RemoveTale(ctx context.Context, id string) error
	// TouchTale bumps the updated timestamp of a tale.
	TouchTale(ctx context.Context, id string) error
}
