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

	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/snapshot"
	"github.com/taleverse/talefs/pkg/store"
)

// Fork duplicates every version and run of the source tale into the
// destination tale. Version identity carries over: each cloned run's
// version symlink and runVersionId are rewritten to the cloned version in
// the destination. With shallow set, only the target version is cloned
// and runs are skipped entirely; a shallow fork without a target is a
// no-op. When targetVersionID is given, the destination workspace is
// restored from its clone afterwards.
func (fs *TaleFS) Fork(ctx context.Context, srcTaleID, dstTaleID, targetVersionID string, shallow bool) error {
	if shallow && targetVersionID == "" {
		return nil
	}

	src, err := fs.store.Tale(ctx, srcTaleID)
	if err != nil {
		return err
	}
	dst, err := fs.store.Tale(ctx, dstTaleID)
	if err != nil {
		return err
	}

	versionIDMap := map[string]string{}

	if err := fs.forkRoot(ctx, src.VersionsRootID, dst.VersionsRootID,
		fs.layout.TaleVersionsDir(dst.ID), versionIDMap, forkVersions{
			shallow:         shallow,
			targetVersionID: targetVersionID,
		}); err != nil {
		return err
	}
	if !shallow {
		if err := fs.forkRoot(ctx, src.RunsRootID, dst.RunsRootID,
			fs.layout.TaleRunsDir(dst.ID), versionIDMap, forkRuns{dstTaleID: dst.ID}); err != nil {
			return err
		}
	}

	if err := fs.recountForkedVersions(ctx, dst, versionIDMap); err != nil {
		return err
	}
	if err := fs.regenerateForkedManifests(ctx, dst, versionIDMap); err != nil {
		return err
	}

	if targetVersionID != "" {
		mapped, ok := versionIDMap[targetVersionID]
		if !ok {
			return errtypes.NotFound("target version " + targetVersionID + " in source tale")
		}
		return fs.RestoreVersion(ctx, dst.ID, mapped)
	}
	return nil
}

// forkPass customizes forkRoot for the versions and the runs pass.
type forkPass interface {
	skip(src *store.Folder) bool
	rewire(fs *TaleFS, clone *store.Folder, versionIDMap map[string]string) error
	record(srcID, dstID string, versionIDMap map[string]string)
}

type forkVersions struct {
	shallow         bool
	targetVersionID string
}

func (p forkVersions) skip(src *store.Folder) bool {
	return p.shallow && src.ID != p.targetVersionID
}

func (p forkVersions) rewire(*TaleFS, *store.Folder, map[string]string) error { return nil }

func (p forkVersions) record(srcID, dstID string, versionIDMap map[string]string) {
	versionIDMap[srcID] = dstID
}

type forkRuns struct {
	dstTaleID string
}

func (p forkRuns) skip(*store.Folder) bool { return false }

// rewire replaces the cloned run's version symlink with one pointing at
// the cloned version, and remaps runVersionId accordingly.
func (p forkRuns) rewire(fs *TaleFS, clone *store.Folder, versionIDMap map[string]string) error {
	link := filepath.Join(clone.FsPath, VersionLinkName)
	target, err := os.Readlink(link)
	if err != nil {
		return errors.Wrap(err, "talefs: error reading version link of cloned run "+clone.ID)
	}
	mapped, ok := versionIDMap[filepath.Base(target)]
	if !ok {
		return errtypes.InternalError("cloned run " + clone.ID + " references unknown version " + filepath.Base(target))
	}

	if err := os.Remove(link); err != nil {
		return errors.Wrap(err, "talefs: error removing stale version link")
	}
	if err := os.Symlink(fs.layout.RunVersionLinkTarget(p.dstTaleID, mapped), link); err != nil {
		return errors.Wrap(err, "talefs: error rewriting version link")
	}
	clone.RunVersionID = mapped
	return nil
}

func (p forkRuns) record(string, string, map[string]string) {}

// forkRoot clones every child of srcRootID under dstRootID: record fields
// by value, directory tree by symlink-preserving deep copy, timestamps
// preserved from the source.
func (fs *TaleFS) forkRoot(ctx context.Context, srcRootID, dstRootID, dstRootDir string, versionIDMap map[string]string, pass forkPass) error {
	children, err := fs.store.ChildFolders(ctx, srcRootID, store.ListOptions{Sort: "created", Order: store.Ascending})
	if err != nil {
		return err
	}
	dstRoot, err := fs.store.Folder(ctx, dstRootID)
	if err != nil {
		return err
	}

	for _, src := range children {
		if pass.skip(src) {
			continue
		}

		clone := *src
		clone.ID = fs.store.NewID()
		clone.ParentID = dstRoot.ID
		clone.TaleID = dstRoot.TaleID
		clone.FsPath = filepath.Join(dstRootDir, clone.ID)
		if src.Meta != nil {
			clone.Meta = make(map[string]string, len(src.Meta))
			for k, v := range src.Meta {
				clone.Meta[k] = v
			}
		}

		if err := os.Mkdir(clone.FsPath, 0755); err != nil {
			return errors.Wrap(err, "talefs: error creating "+clone.FsPath)
		}
		if err := snapshot.CopyTree(src.FsPath, clone.FsPath); err != nil {
			return err
		}
		if err := pass.rewire(fs, &clone, versionIDMap); err != nil {
			return err
		}
		if err := fs.store.SaveFolder(ctx, &clone); err != nil {
			return err
		}
		pass.record(src.ID, clone.ID, versionIDMap)
	}
	return nil
}

// recountForkedVersions recomputes refCount on every cloned version from
// the cloned runs. The source counts cannot be copied blindly, a shallow
// fork clones no runs at all.
func (fs *TaleFS) recountForkedVersions(ctx context.Context, dst *store.Tale, versionIDMap map[string]string) error {
	runs, err := fs.store.ChildFolders(ctx, dst.RunsRootID, store.ListOptions{})
	if err != nil {
		return err
	}
	refs := map[string]int{}
	for _, r := range runs {
		refs[r.RunVersionID]++
	}

	for _, cloneID := range versionIDMap {
		v, err := fs.store.Folder(ctx, cloneID)
		if err != nil {
			return err
		}
		if v.RefCount == refs[cloneID] {
			continue
		}
		v.RefCount = refs[cloneID]
		if err := fs.store.SaveFolder(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// regenerateForkedManifests rewrites each cloned version's manifest from
// the destination tale's current state, so the embedded version id and
// title belong to the destination.
func (fs *TaleFS) regenerateForkedManifests(ctx context.Context, dst *store.Tale, versionIDMap map[string]string) error {
	for _, cloneID := range versionIDMap {
		v, err := fs.store.Folder(ctx, cloneID)
		if err != nil {
			return err
		}
		doc, err := fs.producer.Manifest(ctx, dst, v.ID, v.Name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(v.FsPath, ManifestFile), doc, 0644); err != nil {
			return errors.Wrap(err, "talefs: error writing manifest of cloned version "+v.ID)
		}
	}
	return nil
}
