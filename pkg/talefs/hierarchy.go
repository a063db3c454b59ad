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
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/store"
)

// reservedNames are device filenames a portable name must not collide
// with, case-insensitively and regardless of extension.
var reservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// validateName rejects names that cannot serve as a single portable path
// component.
func validateName(name string) error {
	if name == "" {
		return errtypes.InvalidName("empty name")
	}
	if name == "." || name == ".." {
		return errtypes.InvalidName(name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return errtypes.InvalidName(name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return errtypes.InvalidName(name)
		}
	}
	base := strings.ToLower(name)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if _, ok := reservedNames[base]; ok {
		return errtypes.InvalidName(name)
	}
	return nil
}

// checkNameSanity validates name and resolves sibling collisions under
// parentID. With allowRename a taken name is suffixed "<name> (n)" for
// n=1..100; the first free candidate wins, and if all hundred are taken
// the last one is used regardless.
func (fs *TaleFS) checkNameSanity(ctx context.Context, parentID, name string, allowRename bool) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	_, err := fs.store.FindFolder(ctx, parentID, name)
	if err != nil {
		if isNotFound(err) {
			return name, nil
		}
		return "", err
	}

	if !allowRename {
		return "", errtypes.AlreadyExists(name)
	}

	candidate := name
	for n := 1; n <= 100; n++ {
		candidate = fmt.Sprintf("%s (%d)", name, n)
		_, err := fs.store.FindFolder(ctx, parentID, candidate)
		if err != nil {
			if isNotFound(err) {
				return candidate, nil
			}
			return "", err
		}
	}
	return candidate, nil
}

func isNotFound(err error) bool {
	_, ok := err.(errtypes.IsNotFound)
	return ok
}

// createSubdir creates a child record of parent together with its backing
// directory below rootDir, and bumps the parent's updated timestamp.
func (fs *TaleFS) createSubdir(ctx context.Context, parent *store.Folder, name, rootDir string) (*store.Folder, error) {
	user, _ := appctx.ContextGetUser(ctx)
	f := &store.Folder{
		ID:        fs.store.NewID(),
		ParentID:  parent.ID,
		Name:      name,
		TaleID:    parent.TaleID,
		IsMapping: true,
		CreatorID: user,
	}
	f.FsPath = filepath.Join(rootDir, f.ID)

	if err := os.Mkdir(f.FsPath, 0755); err != nil {
		return nil, errors.Wrap(err, "talefs: error creating "+f.FsPath)
	}
	if err := fs.store.SaveFolder(ctx, f); err != nil {
		if rmErr := os.Remove(f.FsPath); rmErr != nil {
			appctx.GetLogger(ctx).Error().Err(rmErr).Str("path", f.FsPath).Msg("error removing orphaned directory")
		}
		return nil, err
	}
	if err := fs.store.TouchFolder(ctx, parent.ID); err != nil {
		return nil, err
	}
	return f, nil
}

// enterCriticalSection acquires the per-root exclusion flag. Callers that
// fail to acquire get a Busy error and are expected to retry later.
func (fs *TaleFS) enterCriticalSection(ctx context.Context, rootID string) error {
	acquired, err := fs.store.SetCriticalSection(ctx, rootID, true)
	if err != nil {
		return err
	}
	if !acquired {
		return errtypes.Busy("critical section of " + rootID)
	}
	return nil
}

// exitCriticalSection releases the flag. It is deferred on every path that
// enters; a release failure is logged, not propagated, because the caller
// is usually already unwinding with the real error.
func (fs *TaleFS) exitCriticalSection(ctx context.Context, rootID string) {
	released, err := fs.store.SetCriticalSection(ctx, rootID, false)
	if err != nil {
		appctx.GetLogger(ctx).Error().Err(err).Str("root", rootID).Msg("error releasing critical section")
		return
	}
	if !released {
		appctx.GetLogger(ctx).Warn().Str("root", rootID).Msg("critical section was already released")
	}
}

// updateRefCount adds delta to a version's refCount under the critical
// section of its parent root, so that run creation cannot race version
// deletion.
func (fs *TaleFS) updateRefCount(ctx context.Context, versionsRootID, versionID string, delta int) error {
	if err := fs.enterCriticalSection(ctx, versionsRootID); err != nil {
		return err
	}
	defer fs.exitCriticalSection(ctx, versionsRootID)

	v, err := fs.store.Folder(ctx, versionID)
	if err != nil {
		return err
	}
	v.RefCount += delta
	v.Updated = time.Now()
	return fs.store.SaveFolder(ctx, v)
}

// moveToTrash renames a child directory into the sibling .trash. Rename
// only, no recursive copy, so the move is atomic on one filesystem. The
// trash entry's mtime records the deletion time, so sweeps can age
// entries out.
func moveToTrash(fsPath, trashDir string) error {
	dst := filepath.Join(trashDir, filepath.Base(fsPath))
	if err := os.Rename(fsPath, dst); err != nil {
		return errors.Wrapf(err, "talefs: error trashing %s", fsPath)
	}
	return touchDirStamp(dst)
}

// clearChildren removes all child records of a root, leaving the on-disk
// directories behind for manual cleanup. Maintenance operation.
func (fs *TaleFS) clearChildren(ctx context.Context, rootID string) error {
	children, err := fs.store.ChildFolders(ctx, rootID, store.ListOptions{})
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := fs.store.RemoveFolder(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}
