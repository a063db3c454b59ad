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

// Package snapshot implements the content-preserving tree operations the
// versioning engine is built on: the hard-link snapshot walk, hard-link
// tree equality and a symlink-preserving deep copy.
//
// Snapshots hard-link every file instead of copying it. This makes
// snapshots O(tree) in time and O(1) in data, and makes equality between a
// workspace file and its captured counterpart an inode comparison. The
// write path is expected to replace files with new inodes on modification,
// which breaks the shared identity exactly when content diverges.
package snapshot

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

// Walk builds a snapshot of crt inside the empty directory dst. old, when
// non-empty, points at the workspace of a previous snapshot; files that
// still share an inode with their old counterpart are linked from crt all
// the same, the old tree only guides kind checks.
//
// A failed link is fatal and propagates to the caller, which is expected
// to remove the partially built dst.
func Walk(old, crt, dst string) error {
	entries, err := os.ReadDir(crt)
	if err != nil {
		return errors.Wrap(err, "snapshot: error reading "+crt)
	}

	for _, e := range entries {
		crtPath := filepath.Join(crt, e.Name())
		dstPath := filepath.Join(dst, e.Name())

		oldPath := ""
		if old != "" {
			oldPath = filepath.Join(old, e.Name())
			fi, err := os.Stat(oldPath)
			switch {
			case err != nil:
				oldPath = ""
			case fi.IsDir() != e.IsDir():
				// kind changed between snapshots
				oldPath = ""
			}
		}

		if e.IsDir() {
			if err := os.Mkdir(dstPath, 0755); err != nil {
				return errors.Wrap(err, "snapshot: error creating "+dstPath)
			}
			if err := Walk(oldPath, crtPath, dstPath); err != nil {
				return err
			}
			continue
		}

		if err := os.Link(crtPath, dstPath); err != nil {
			return errors.Wrapf(err, "snapshot: error linking %s -> %s", crtPath, dstPath)
		}
		if err := copyStat(crtPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

// copyStat propagates mode and timestamps. Hard links share both already,
// so this only matters if a future implementation switches to copies; it
// is kept for parity with the capture semantics.
func copyStat(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return errors.Wrap(err, "snapshot: error getting metadata of "+src)
	}
	if err := os.Chmod(dst, fi.Mode()); err != nil {
		return errors.Wrap(err, "snapshot: error setting mode of "+dst)
	}
	if err := os.Chtimes(dst, fi.ModTime(), fi.ModTime()); err != nil {
		return errors.Wrap(err, "snapshot: error setting times of "+dst)
	}
	return nil
}

// SameFile reports whether the files at a and b are the same inode on the
// same device.
func SameFile(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}

// SameTree reports whether old and crt are structurally identical trees
// whose files all share inodes. A missing old tree is never the same.
func SameTree(old, crt string) (bool, error) {
	if old == "" {
		return false, nil
	}
	if _, err := os.Stat(old); err != nil {
		return false, nil
	}

	entries, err := os.ReadDir(crt)
	if err != nil {
		return false, errors.Wrap(err, "snapshot: error reading "+crt)
	}

	// count old entries to catch files that only exist in the old tree
	oldEntries, err := os.ReadDir(old)
	if err != nil {
		return false, nil
	}
	if len(oldEntries) != len(entries) {
		return false, nil
	}

	for _, e := range entries {
		oldPath := filepath.Join(old, e.Name())
		crtPath := filepath.Join(crt, e.Name())

		fi, err := os.Stat(oldPath)
		if err != nil {
			return false, nil
		}
		if fi.IsDir() != e.IsDir() {
			return false, nil
		}

		if e.IsDir() {
			same, err := SameTree(oldPath, crtPath)
			if err != nil || !same {
				return same, err
			}
			continue
		}

		if !SameFile(oldPath, crtPath) {
			return false, nil
		}
	}
	return true, nil
}

// CopyTree deep-copies src into dst, which must already exist. Symlinks
// are recreated with their original targets instead of being followed,
// so relative links inside the tree survive relocation.
func CopyTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrap(err, "snapshot: error reading "+src)
	}

	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())

		switch {
		case e.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(srcPath)
			if err != nil {
				return errors.Wrap(err, "snapshot: error reading link "+srcPath)
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return errors.Wrap(err, "snapshot: error creating link "+dstPath)
			}
		case e.IsDir():
			if err := os.Mkdir(dstPath, 0755); err != nil {
				return errors.Wrap(err, "snapshot: error creating "+dstPath)
			}
			if err := CopyTree(srcPath, dstPath); err != nil {
				return err
			}
		default:
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "snapshot: error opening "+src)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return errors.Wrap(err, "snapshot: error getting metadata of "+src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fi.Mode())
	if err != nil {
		return errors.Wrap(err, "snapshot: error creating "+dst)
	}

	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		return errors.Wrap(err, "snapshot: error copying "+src)
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, "snapshot: error closing "+dst)
	}
	return os.Chtimes(dst, fi.ModTime(), fi.ModTime())
}

// Inode returns the inode number of the file at path, for tests and
// diagnostics.
func Inode(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, errors.New("snapshot: no stat_t available")
	}
	return st.Ino, nil
}
