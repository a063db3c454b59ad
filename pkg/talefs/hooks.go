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
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/store"
)

// Display names of the per-tale root folders.
const (
	VersionsRootName = "Versions"
	RunsRootName     = "Runs"
)

// OnTaleCreated attaches the versioning machinery to a fresh tale: a
// versions root and a runs root, both as records and as on-disk
// directories with their .trash siblings. The enclosing service calls
// this right after inserting the tale document.
func (fs *TaleFS) OnTaleCreated(ctx context.Context, tale *store.Tale) error {
	versionsRoot := &store.Folder{
		ID:        fs.store.NewID(),
		Name:      VersionsRootName,
		TaleID:    tale.ID,
		FsPath:    fs.layout.TaleVersionsDir(tale.ID),
		CreatorID: tale.CreatorID,
	}
	runsRoot := &store.Folder{
		ID:        fs.store.NewID(),
		Name:      RunsRootName,
		TaleID:    tale.ID,
		FsPath:    fs.layout.TaleRunsDir(tale.ID),
		CreatorID: tale.CreatorID,
	}

	for _, root := range []*store.Folder{versionsRoot, runsRoot} {
		if err := ensureTrash(root.FsPath); err != nil {
			return err
		}
		if err := fs.store.SaveFolder(ctx, root); err != nil {
			return err
		}
	}

	tale.VersionsRootID = versionsRoot.ID
	tale.RunsRootID = runsRoot.ID
	tale.Updated = time.Now()
	return fs.store.SaveTale(ctx, tale)
}

// OnTaleRemoved tears everything down again: child records, root records,
// both directory trees including trash, and finally the tale document.
func (fs *TaleFS) OnTaleRemoved(ctx context.Context, taleID string) error {
	tale, err := fs.store.Tale(ctx, taleID)
	if err != nil {
		return err
	}

	for _, rootID := range []string{tale.VersionsRootID, tale.RunsRootID} {
		if rootID == "" {
			continue
		}
		if err := fs.clearChildren(ctx, rootID); err != nil {
			return err
		}
		if err := fs.store.RemoveFolder(ctx, rootID); err != nil && !isNotFound(err) {
			return err
		}
	}

	for _, dir := range []string{fs.layout.TaleVersionsDir(taleID), fs.layout.TaleRunsDir(taleID)} {
		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrap(err, "talefs: error removing "+dir)
		}
	}
	return fs.store.RemoveTale(ctx, taleID)
}

// OnTaleCopied forks the source tale's history into the freshly created
// destination tale. The destination must already have been through
// OnTaleCreated.
func (fs *TaleFS) OnTaleCopied(ctx context.Context, srcTaleID, dstTaleID, targetVersionID string, shallow bool) error {
	return fs.Fork(ctx, srcTaleID, dstTaleID, targetVersionID, shallow)
}

// ensureVersionBackoff bounds the Busy retries of EnsureVersion. The
// critical section may be held for seconds by a large snapshot.
func ensureVersionBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// EnsureVersion guarantees a version exists before export or publish.
// With a version id it only bumps the version's updated timestamp.
// Without one it snapshots the workspace, folding NotModified into
// success and retrying with backoff while the tale is busy.
func (fs *TaleFS) EnsureVersion(ctx context.Context, taleID, versionID string) (*store.Folder, error) {
	if versionID != "" {
		v, err := fs.store.Folder(ctx, versionID)
		if err != nil {
			return nil, err
		}
		if err := fs.store.TouchFolder(ctx, v.ID); err != nil {
			return nil, err
		}
		return v, nil
	}

	var version *store.Folder
	op := func() error {
		v, err := fs.CreateVersion(ctx, taleID, "", false, true)
		switch {
		case err == nil:
			version = v
			return nil
		case isNotModified(err):
			v, loadErr := fs.store.Folder(ctx, err.(errtypes.NotModified).VersionID())
			if loadErr != nil {
				return backoff.Permanent(loadErr)
			}
			version = v
			return nil
		case isBusy(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	if err := backoff.Retry(op, backoff.WithContext(ensureVersionBackoff(), ctx)); err != nil {
		return nil, err
	}

	if err := fs.store.TouchFolder(ctx, version.ID); err != nil {
		return nil, err
	}
	return version, nil
}

func isNotModified(err error) bool {
	_, ok := err.(errtypes.IsNotModified)
	return ok
}

func isBusy(err error) bool {
	_, ok := err.(errtypes.IsBusy)
	return ok
}
