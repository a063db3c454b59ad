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
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/jobqueue"
	"github.com/taleverse/talefs/pkg/snapshot"
	"github.com/taleverse/talefs/pkg/store"
)

// Names of the files and links a run directory contains.
const (
	VersionLinkName = "version"
	StatusFile      = ".status"
	StdoutFile      = ".stdout"
	StderrFile      = ".stderr"
)

// DefaultEntrypoint is the script a recorded run executes when the caller
// does not name one.
const DefaultEntrypoint = "run.sh"

// jobCredentialTTL is the lifetime of the bearer credential handed to a
// recorded-run job at dispatch. Jobs may sit in the queue for a long time.
const jobCredentialTTL = 60 * 24 * time.Hour

// CreateRun derives a new run from a version: a symlink back to the
// version, a hard-linked snapshot of the version's workspace and a status
// file. The version's refCount is incremented under the versions-root
// critical section, so the version cannot be deleted from under the run.
func (fs *TaleFS) CreateRun(ctx context.Context, versionID, name string, allowRename bool) (*store.Folder, error) {
	version, err := fs.store.Folder(ctx, versionID)
	if err != nil {
		return nil, err
	}
	tale, err := fs.store.Tale(ctx, version.TaleID)
	if err != nil {
		return nil, err
	}
	root, err := fs.store.Folder(ctx, tale.RunsRootID)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = fs.generateName()
	}
	name, err = fs.checkNameSanity(ctx, root.ID, name, allowRename)
	if err != nil {
		return nil, err
	}

	run, err := fs.createSubdir(ctx, root, name, fs.layout.TaleRunsDir(tale.ID))
	if err != nil {
		return nil, err
	}
	run.RunVersionID = versionID
	run.Status = StatusUnknown
	if err := fs.store.SaveFolder(ctx, run); err != nil {
		return nil, err
	}

	if err := fs.buildRunDir(run, tale.ID, versionID); err != nil {
		if rmErr := os.RemoveAll(run.FsPath); rmErr != nil {
			appctx.GetLogger(ctx).Error().Err(rmErr).Str("path", run.FsPath).Msg("error removing partial run")
		}
		if rmErr := fs.store.RemoveFolder(ctx, run.ID); rmErr != nil {
			appctx.GetLogger(ctx).Error().Err(rmErr).Str("run", run.ID).Msg("error removing partial run record")
		}
		return nil, err
	}

	if err := fs.updateRefCount(ctx, version.ParentID, versionID, 1); err != nil {
		return nil, err
	}
	if err := fs.store.TouchTale(ctx, tale.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// buildRunDir populates a fresh run directory: the relative version
// symlink, the workspace snapshot (walked through the symlink, which also
// proves the link resolves) and the initial status file.
func (fs *TaleFS) buildRunDir(run *store.Folder, taleID, versionID string) error {
	link := filepath.Join(run.FsPath, VersionLinkName)
	if err := os.Symlink(fs.layout.RunVersionLinkTarget(taleID, versionID), link); err != nil {
		return errors.Wrap(err, "talefs: error creating version link")
	}

	dst := filepath.Join(run.FsPath, WorkspaceDir)
	if err := os.Mkdir(dst, 0755); err != nil {
		return errors.Wrap(err, "talefs: error creating "+dst)
	}
	if err := snapshot.Walk("", filepath.Join(link, WorkspaceDir), dst); err != nil {
		return err
	}

	return writeStatusFile(run.FsPath, StatusUnknown)
}

func writeStatusFile(runDir string, code int) error {
	line, err := StatusLine(code)
	if err != nil {
		return err
	}
	return errors.Wrap(
		os.WriteFile(filepath.Join(runDir, StatusFile), []byte(line), 0644),
		"talefs: error writing status file",
	)
}

// ListRuns returns the runs of a tale.
func (fs *TaleFS) ListRuns(ctx context.Context, taleID string, opts store.ListOptions) ([]*store.Folder, error) {
	tale, err := fs.store.Tale(ctx, taleID)
	if err != nil {
		return nil, err
	}
	return fs.store.ChildFolders(ctx, tale.RunsRootID, opts)
}

// Run loads a single run record.
func (fs *TaleFS) Run(ctx context.Context, runID string) (*store.Folder, error) {
	return fs.store.Folder(ctx, runID)
}

// RunExists reports whether a run with the given name exists and returns
// it when it does.
func (fs *TaleFS) RunExists(ctx context.Context, taleID, name string) (*store.Folder, bool, error) {
	tale, err := fs.store.Tale(ctx, taleID)
	if err != nil {
		return nil, false, err
	}
	r, err := fs.store.FindFolder(ctx, tale.RunsRootID, name)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return r, true, nil
}

// RenameRun changes a run's display name.
func (fs *TaleFS) RenameRun(ctx context.Context, runID, name string, allowRename bool) (*store.Folder, error) {
	r, err := fs.store.Folder(ctx, runID)
	if err != nil {
		return nil, err
	}
	name, err = fs.checkNameSanity(ctx, r.ParentID, name, allowRename)
	if err != nil {
		return nil, err
	}
	r.Name = name
	r.Updated = time.Now()
	if err := fs.store.SaveFolder(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRun trashes a run's directory, drops its record and releases its
// reference on the parent version.
func (fs *TaleFS) DeleteRun(ctx context.Context, runID string) error {
	r, err := fs.store.Folder(ctx, runID)
	if err != nil {
		return err
	}
	version, err := fs.store.Folder(ctx, r.RunVersionID)
	if err != nil {
		return err
	}

	if err := moveToTrash(r.FsPath, fs.layout.RunsTrashDir(r.TaleID)); err != nil {
		return err
	}
	if err := fs.store.RemoveFolder(ctx, r.ID); err != nil {
		return err
	}
	return fs.updateRefCount(ctx, version.ParentID, version.ID, -1)
}

// RunStatus returns a run's status code and symbolic name from the
// record; the on-disk .status file is advisory only.
func (fs *TaleFS) RunStatus(ctx context.Context, runID string) (int, string, error) {
	r, err := fs.store.Folder(ctx, runID)
	if err != nil {
		return 0, "", err
	}
	name, err := StatusName(r.Status)
	if err != nil {
		return 0, "", err
	}
	return r.Status, name, nil
}

// SetRunStatus moves a run to the given state, record first, .status file
// second. A failed file write propagates; the record already carries the
// new state and the file is advisory.
func (fs *TaleFS) SetRunStatus(ctx context.Context, runID string, code int) error {
	if _, err := StatusName(code); err != nil {
		return err
	}
	r, err := fs.store.Folder(ctx, runID)
	if err != nil {
		return err
	}
	r.Status = code
	r.Updated = time.Now()
	if err := fs.store.SaveFolder(ctx, r); err != nil {
		return err
	}
	return writeStatusFile(r.FsPath, code)
}

// StartRun dispatches the recorded-run job for a run. The job carries a
// long-lived bearer credential; the task id and credential are kept on the
// run record for the heartbeat reaper.
func (fs *TaleFS) StartRun(ctx context.Context, runID, entrypoint string) (string, error) {
	if fs.queue == nil {
		return "", errtypes.InternalError("no task queue configured")
	}
	r, err := fs.store.Folder(ctx, runID)
	if err != nil {
		return "", err
	}
	if entrypoint == "" {
		entrypoint = DefaultEntrypoint
	}

	credential := ""
	if fs.tokens != nil {
		user, _ := appctx.ContextGetUser(ctx)
		credential = fs.tokens.Create(user, jobCredentialTTL)
	}

	job := &jobqueue.Job{
		Title:      jobqueue.RecordedRunTitle,
		RunID:      r.ID,
		TaleID:     r.TaleID,
		Entrypoint: entrypoint,
		Credential: credential,
	}
	taskID, err := fs.queue.Dispatch(ctx, job)
	if err != nil {
		return "", err
	}

	if r.Meta == nil {
		r.Meta = map[string]string{}
	}
	r.Meta["jobId"] = job.ID
	r.Meta["taskId"] = taskID
	r.Meta["credential"] = credential
	r.Updated = time.Now()
	if err := fs.store.SaveFolder(ctx, r); err != nil {
		return "", err
	}
	return taskID, nil
}

// WatchJobEvents consumes job status events from the task queue and
// applies them to run records until the context is cancelled. Terminal
// states are sinks on this path; when a run reaches one its job credential
// is cut down to an hour.
func (fs *TaleFS) WatchJobEvents(ctx context.Context) error {
	if fs.queue == nil {
		return errtypes.InternalError("no task queue configured")
	}
	events, err := fs.queue.Events(ctx)
	if err != nil {
		return err
	}

	log := appctx.GetLogger(ctx)
	for ev := range events {
		if ev.Title != jobqueue.RecordedRunTitle {
			continue
		}
		if err := fs.applyJobEvent(ctx, ev); err != nil {
			log.Error().Err(err).Str("run", ev.RunID).Msg("error applying job event")
		}
	}
	return nil
}

func (fs *TaleFS) applyJobEvent(ctx context.Context, ev jobqueue.StatusEvent) error {
	code := StatusRunning
	switch ev.Status {
	case jobqueue.StatusSuccess:
		code = StatusCompleted
	case jobqueue.StatusError:
		code = StatusFailed
	}

	r, err := fs.store.Folder(ctx, ev.RunID)
	if err != nil {
		return err
	}
	if r.Status == code || IsTerminalStatus(r.Status) {
		return nil
	}
	if err := fs.SetRunStatus(ctx, r.ID, code); err != nil {
		return err
	}
	if IsTerminalStatus(code) && fs.tokens != nil {
		fs.tokens.SetTTL(r.Meta["credential"], time.Hour)
	}
	return nil
}

// OpenLogStream opens the run's .stdout or .stderr file for appending,
// creating it on first use. The job runner streams captured output here.
func (fs *TaleFS) OpenLogStream(ctx context.Context, runID, stream string) (io.WriteCloser, error) {
	r, err := fs.store.Folder(ctx, runID)
	if err != nil {
		return nil, err
	}
	var name string
	switch stream {
	case "stdout":
		name = StdoutFile
	case "stderr":
		name = StderrFile
	default:
		return nil, errtypes.BadRequest("unknown log stream " + stream)
	}
	f, err := os.OpenFile(filepath.Join(r.FsPath, name), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	return f, errors.Wrap(err, "talefs: error opening log stream")
}

// ClearRuns drops all run records of a tale, leaving the on-disk
// directories for manual cleanup. Maintenance operation.
func (fs *TaleFS) ClearRuns(ctx context.Context, taleID string) error {
	tale, err := fs.store.Tale(ctx, taleID)
	if err != nil {
		return err
	}
	return fs.clearChildren(ctx, tale.RunsRootID)
}
