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
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/snapshot"
	"github.com/taleverse/talefs/pkg/store"
)

// Names of the files a version directory contains next to its workspace.
const (
	ManifestFile    = "manifest.json"
	EnvironmentFile = "environment.json"
	WorkspaceDir    = "workspace"
)

// CreateVersion snapshots the tale's workspace into a new immutable
// version. An empty name is replaced by a wall-clock one. Unless force is
// set, creation short-circuits with NotModified when neither the workspace
// nor the tale metadata changed since the last version or since the
// version the tale was last restored from.
func (fs *TaleFS) CreateVersion(ctx context.Context, taleID, name string, force, allowRename bool) (*store.Folder, error) {
	tale, err := fs.store.Tale(ctx, taleID)
	if err != nil {
		return nil, err
	}
	root, err := fs.store.Folder(ctx, tale.VersionsRootID)
	if err != nil {
		return nil, err
	}

	if err := fs.enterCriticalSection(ctx, root.ID); err != nil {
		return nil, err
	}
	defer fs.exitCriticalSection(ctx, root.ID)

	if name == "" {
		name = fs.generateName()
	}
	name, err = fs.checkNameSanity(ctx, root.ID, name, allowRename)
	if err != nil {
		return nil, err
	}

	last, err := fs.newestChild(ctx, root.ID)
	if err != nil {
		return nil, err
	}

	if !force {
		for _, v := range fs.dedupeCandidates(ctx, tale, last) {
			same, err := fs.sameAsVersion(ctx, tale, v)
			if err != nil {
				return nil, err
			}
			if same {
				return nil, errtypes.NotModified(v.ID)
			}
		}
	}

	version, err := fs.createSubdir(ctx, root, name, fs.layout.TaleVersionsDir(taleID))
	if err != nil {
		return nil, err
	}

	oldWorkspace := ""
	if last != nil {
		oldWorkspace = filepath.Join(last.FsPath, WorkspaceDir)
	}
	if err := fs.snapshotInto(ctx, tale, version, oldWorkspace); err != nil {
		// roll back the half-built version before surfacing
		if rmErr := os.RemoveAll(version.FsPath); rmErr != nil {
			appctx.GetLogger(ctx).Error().Err(rmErr).Str("path", version.FsPath).Msg("error removing partial version")
		}
		if rmErr := fs.store.RemoveFolder(ctx, version.ID); rmErr != nil {
			appctx.GetLogger(ctx).Error().Err(rmErr).Str("version", version.ID).Msg("error removing partial version record")
		}
		return nil, err
	}

	if err := fs.store.TouchTale(ctx, taleID); err != nil {
		return nil, err
	}
	return version, nil
}

// dedupeCandidates returns the versions a new snapshot is compared
// against: the version the tale was last restored from, then the newest
// version, in that order.
func (fs *TaleFS) dedupeCandidates(ctx context.Context, tale *store.Tale, last *store.Folder) []*store.Folder {
	candidates := []*store.Folder{}
	if tale.RestoredFrom != "" {
		if v, err := fs.store.Folder(ctx, tale.RestoredFrom); err == nil {
			candidates = append(candidates, v)
		}
	}
	if last != nil && (len(candidates) == 0 || candidates[0].ID != last.ID) {
		candidates = append(candidates, last)
	}
	return candidates
}

// sameAsVersion reports whether the tale's current metadata and workspace
// are identical to what version v captured. Metadata is compared after a
// render/restore round trip through the producer so both sides are
// normalized the same way; the workspace is compared by hard-link
// identity.
func (fs *TaleFS) sameAsVersion(ctx context.Context, tale *store.Tale, v *store.Folder) (bool, error) {
	crtManifest, err := fs.producer.Manifest(ctx, tale, "", "")
	if err != nil {
		return false, err
	}
	crtEnvironment, err := fs.producer.Environment(ctx, tale)
	if err != nil {
		return false, err
	}
	crt, err := fs.producer.Restore(ctx, crtManifest, crtEnvironment)
	if err != nil {
		return false, err
	}

	captured, err := fs.restoreView(ctx, v)
	if err != nil {
		return false, err
	}

	if crt.Title != captured.Title || !reflect.DeepEqual(crt.Metadata, captured.Metadata) {
		return false, nil
	}
	return snapshot.SameTree(filepath.Join(v.FsPath, WorkspaceDir), tale.WorkspacePath)
}

// snapshotInto writes the manifest and environment documents and
// hard-links the tale workspace into the version directory.
func (fs *TaleFS) snapshotInto(ctx context.Context, tale *store.Tale, version *store.Folder, oldWorkspace string) error {
	manifestDoc, err := fs.producer.Manifest(ctx, tale, version.ID, version.Name)
	if err != nil {
		return err
	}
	environmentDoc, err := fs.producer.Environment(ctx, tale)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(version.FsPath, ManifestFile), manifestDoc, 0644); err != nil {
		return errors.Wrap(err, "talefs: error writing manifest")
	}
	if err := os.WriteFile(filepath.Join(version.FsPath, EnvironmentFile), environmentDoc, 0644); err != nil {
		return errors.Wrap(err, "talefs: error writing environment")
	}

	dst := filepath.Join(version.FsPath, WorkspaceDir)
	if err := os.Mkdir(dst, 0755); err != nil {
		return errors.Wrap(err, "talefs: error creating "+dst)
	}
	return snapshot.Walk(oldWorkspace, tale.WorkspacePath, dst)
}

func (fs *TaleFS) newestChild(ctx context.Context, rootID string) (*store.Folder, error) {
	children, err := fs.store.ChildFolders(ctx, rootID, store.ListOptions{
		Sort:  "created",
		Order: store.Descending,
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, nil
	}
	return children[0], nil
}

// ListVersions returns the versions of a tale.
func (fs *TaleFS) ListVersions(ctx context.Context, taleID string, opts store.ListOptions) ([]*store.Folder, error) {
	tale, err := fs.store.Tale(ctx, taleID)
	if err != nil {
		return nil, err
	}
	return fs.store.ChildFolders(ctx, tale.VersionsRootID, opts)
}

// Version loads a single version record.
func (fs *TaleFS) Version(ctx context.Context, versionID string) (*store.Folder, error) {
	return fs.store.Folder(ctx, versionID)
}

// VersionExists reports whether a version with the given name exists and
// returns it when it does.
func (fs *TaleFS) VersionExists(ctx context.Context, taleID, name string) (*store.Folder, bool, error) {
	tale, err := fs.store.Tale(ctx, taleID)
	if err != nil {
		return nil, false, err
	}
	v, err := fs.store.FindFolder(ctx, tale.VersionsRootID, name)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

// RenameVersion changes a version's display name. The backing directory
// never moves; only the record and the embedded manifest name change.
func (fs *TaleFS) RenameVersion(ctx context.Context, versionID, name string, allowRename bool) (*store.Folder, error) {
	v, err := fs.store.Folder(ctx, versionID)
	if err != nil {
		return nil, err
	}
	name, err = fs.checkNameSanity(ctx, v.ParentID, name, allowRename)
	if err != nil {
		return nil, err
	}

	v.Name = name
	v.Updated = time.Now()
	if err := fs.store.SaveFolder(ctx, v); err != nil {
		return nil, err
	}
	if err := fs.rewriteManifest(ctx, v); err != nil {
		return nil, err
	}
	if err := fs.store.TouchTale(ctx, v.TaleID); err != nil {
		return nil, err
	}
	return v, nil
}

// rewriteManifest regenerates a version's manifest from its own captured
// documents, so a rename never leaks metadata changes made to the tale
// after the snapshot.
func (fs *TaleFS) rewriteManifest(ctx context.Context, v *store.Folder) error {
	captured, err := fs.restoreView(ctx, v)
	if err != nil {
		return err
	}
	doc, err := fs.producer.Manifest(ctx, captured, v.ID, v.Name)
	if err != nil {
		return err
	}
	return errors.Wrap(
		os.WriteFile(filepath.Join(v.FsPath, ManifestFile), doc, 0644),
		"talefs: error rewriting manifest",
	)
}

// DeleteVersion removes a version record and moves its directory into the
// sibling .trash. A version still referenced by runs cannot be deleted.
func (fs *TaleFS) DeleteVersion(ctx context.Context, versionID string) error {
	v, err := fs.store.Folder(ctx, versionID)
	if err != nil {
		return err
	}

	if err := fs.enterCriticalSection(ctx, v.ParentID); err != nil {
		return err
	}
	defer fs.exitCriticalSection(ctx, v.ParentID)

	// re-read under the section, the refCount may have moved
	v, err = fs.store.Folder(ctx, versionID)
	if err != nil {
		return err
	}
	if v.RefCount > 0 {
		return errtypes.InUse("version " + versionID)
	}

	if err := fs.store.RemoveFolder(ctx, v.ID); err != nil {
		return err
	}
	if err := moveToTrash(v.FsPath, fs.layout.VersionsTrashDir(v.TaleID)); err != nil {
		return err
	}
	return fs.store.TouchTale(ctx, v.TaleID)
}

// RestoreVersion replaces the tale's live workspace and metadata with
// what the version captured, and marks the tale as restored from it.
func (fs *TaleFS) RestoreVersion(ctx context.Context, taleID, versionID string) error {
	tale, err := fs.store.Tale(ctx, taleID)
	if err != nil {
		return err
	}
	v, err := fs.store.Folder(ctx, versionID)
	if err != nil {
		return err
	}

	if err := fs.enterCriticalSection(ctx, tale.VersionsRootID); err != nil {
		return err
	}
	defer fs.exitCriticalSection(ctx, tale.VersionsRootID)

	if err := os.RemoveAll(tale.WorkspacePath); err != nil {
		return errors.Wrap(err, "talefs: error clearing workspace of "+taleID)
	}
	if err := os.MkdirAll(tale.WorkspacePath, 0755); err != nil {
		return errors.Wrap(err, "talefs: error recreating workspace of "+taleID)
	}
	if err := snapshot.Walk("", filepath.Join(v.FsPath, WorkspaceDir), tale.WorkspacePath); err != nil {
		return err
	}

	captured, err := fs.restoreView(ctx, v)
	if err != nil {
		return err
	}
	tale.Title = captured.Title
	tale.Metadata = captured.Metadata
	tale.RestoredFrom = v.ID
	tale.Updated = time.Now()
	return fs.store.SaveTale(ctx, tale)
}

// RestoreView assembles the tale state a version captured, without
// mutating anything. Only Title and Metadata are meaningful on the result.
func (fs *TaleFS) RestoreView(ctx context.Context, versionID string) (*store.Tale, error) {
	v, err := fs.store.Folder(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return fs.restoreView(ctx, v)
}

func (fs *TaleFS) restoreView(ctx context.Context, v *store.Folder) (*store.Tale, error) {
	manifestDoc, err := os.ReadFile(filepath.Join(v.FsPath, ManifestFile))
	if err != nil {
		return nil, errors.Wrap(err, "talefs: error reading manifest of "+v.ID)
	}
	environmentDoc, err := os.ReadFile(filepath.Join(v.FsPath, EnvironmentFile))
	if err != nil {
		return nil, errors.Wrap(err, "talefs: error reading environment of "+v.ID)
	}
	return fs.producer.Restore(ctx, manifestDoc, environmentDoc)
}

// Dataset returns the parsed dataset section of a version's manifest.
func (fs *TaleFS) Dataset(ctx context.Context, versionID string) (interface{}, error) {
	v, err := fs.store.Folder(ctx, versionID)
	if err != nil {
		return nil, err
	}
	manifestDoc, err := os.ReadFile(filepath.Join(v.FsPath, ManifestFile))
	if err != nil {
		return nil, errors.Wrap(err, "talefs: error reading manifest of "+versionID)
	}
	return fs.producer.Dataset(manifestDoc)
}

// ClearVersions drops all version records of a tale, leaving the on-disk
// directories for manual cleanup. Maintenance operation.
func (fs *TaleFS) ClearVersions(ctx context.Context, taleID string) error {
	tale, err := fs.store.Tale(ctx, taleID)
	if err != nil {
		return err
	}
	return fs.clearChildren(ctx, tale.VersionsRootID)
}
