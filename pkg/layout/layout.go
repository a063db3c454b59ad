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

// Package layout maps tale, version and run ids to their on-disk
// directories. Tale directories are sharded by the first two characters of
// the tale id to keep the roots from growing unbounded:
//
//	<root>/<taleID[:2]>/<taleID>/<childID>/
//
// Every tale directory carries a .trash sibling for deleted children.
package layout

import (
	"fmt"
	"path/filepath"
)

// TrashDirName is the directory deleted versions and runs are moved into.
const TrashDirName = ".trash"

// Layout resolves absolute paths below the two configured roots.
type Layout struct {
	// VersionsRoot is the root of all version trees.
	VersionsRoot string
	// RunsRoot is the root of all run trees.
	RunsRoot string
}

// New returns a layout over the given roots. The roots must be absolute.
func New(versionsRoot, runsRoot string) Layout {
	return Layout{VersionsRoot: versionsRoot, RunsRoot: runsRoot}
}

func shard(root, taleID string) string {
	return filepath.Join(root, taleID[:2], taleID)
}

// TaleVersionsDir returns the directory holding all versions of a tale.
func (l Layout) TaleVersionsDir(taleID string) string {
	return shard(l.VersionsRoot, taleID)
}

// TaleRunsDir returns the directory holding all runs of a tale.
func (l Layout) TaleRunsDir(taleID string) string {
	return shard(l.RunsRoot, taleID)
}

// VersionDir returns the directory of a single version.
func (l Layout) VersionDir(taleID, versionID string) string {
	return filepath.Join(l.TaleVersionsDir(taleID), versionID)
}

// RunDir returns the directory of a single run.
func (l Layout) RunDir(taleID, runID string) string {
	return filepath.Join(l.TaleRunsDir(taleID), runID)
}

// VersionsTrashDir returns the trash directory of a tale's versions tree.
func (l Layout) VersionsTrashDir(taleID string) string {
	return filepath.Join(l.TaleVersionsDir(taleID), TrashDirName)
}

// RunsTrashDir returns the trash directory of a tale's runs tree.
func (l Layout) RunsTrashDir(taleID string) string {
	return filepath.Join(l.TaleRunsDir(taleID), TrashDirName)
}

// RunVersionLinkTarget returns the relative target of the "version" symlink
// inside a run directory. The target always climbs exactly four levels
// (run dir, tale dir, shard dir, runs root) so that a whole tale tree can
// be cloned under another tale id by rewriting only the final segments.
// The two roots must therefore share a parent directory.
func (l Layout) RunVersionLinkTarget(taleID, versionID string) string {
	return fmt.Sprintf("../../../../%s/%s/%s/%s", filepath.Base(l.VersionsRoot), taleID[:2], taleID, versionID)
}
