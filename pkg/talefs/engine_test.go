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

package talefs_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/jobqueue"
	jqmem "github.com/taleverse/talefs/pkg/jobqueue/memory"
	"github.com/taleverse/talefs/pkg/layout"
	"github.com/taleverse/talefs/pkg/snapshot"
	"github.com/taleverse/talefs/pkg/store"
	stmem "github.com/taleverse/talefs/pkg/store/memory"
	"github.com/taleverse/talefs/pkg/talefs"
	"github.com/taleverse/talefs/pkg/token"
)

var _ = Describe("TaleFS", func() {
	var (
		ctx    context.Context
		tmp    string
		st     store.Store
		queue  *jqmem.Queue
		tokens *token.Manager
		fs     *talefs.TaleFS
		tale   *store.Tale
	)

	writeWorkspace := func(name, content string) {
		path := filepath.Join(tale.WorkspacePath, name)
		Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	}

	// rewrite with a fresh inode, the way an editor save-and-replace does
	rewriteWorkspace := func(name, content string) {
		path := filepath.Join(tale.WorkspacePath, name)
		Expect(os.Remove(path)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = appctx.ContextSetUser(context.Background(), "u-alice")
		tmp = GinkgoT().TempDir()
		st = stmem.NewStandalone()
		queue = jqmem.New()
		tokens = token.NewManager()

		var err error
		fs, err = talefs.New(st,
			layout.New(filepath.Join(tmp, "versions"), filepath.Join(tmp, "runs")),
			talefs.WithQueue(queue),
			talefs.WithTokenManager(tokens),
		)
		Expect(err).ToNot(HaveOccurred())
		Expect(fs.Init(ctx)).To(Succeed())

		tale, err = fs.CreateTale(ctx, "Ligo Binary Merger", filepath.Join(tmp, "workspace"),
			map[string]interface{}{
				"image":   map[string]interface{}{"name": "jupyter"},
				"dataset": []interface{}{"doi:10.5281/zenodo.820223"},
			})
		Expect(err).ToNot(HaveOccurred())
		writeWorkspace("run.sh", "#!/bin/sh\necho hi\n")
		writeWorkspace("a.txt", "a")
	})

	AfterEach(func() {
		tokens.Close()
	})

	Describe("creating a version", func() {
		It("captures the workspace by hard links", func() {
			v, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.Name).To(Equal("First Version"))
			Expect(v.FsPath).To(BeADirectory())
			Expect(filepath.Join(v.FsPath, "manifest.json")).To(BeARegularFile())
			Expect(filepath.Join(v.FsPath, "environment.json")).To(BeARegularFile())

			for _, name := range []string{"run.sh", "a.txt"} {
				Expect(snapshot.SameFile(
					filepath.Join(tale.WorkspacePath, name),
					filepath.Join(v.FsPath, "workspace", name),
				)).To(BeTrue(), name)
			}
		})

		It("short-circuits with NotModified on an unchanged workspace", func() {
			v1, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			_, err = fs.CreateVersion(ctx, tale.ID, "Second Version", false, false)
			Expect(err).To(HaveOccurred())
			nm, ok := err.(errtypes.NotModified)
			Expect(ok).To(BeTrue())
			Expect(nm.VersionID()).To(Equal(v1.ID))
		})

		It("snapshots again after a workspace change", func() {
			_, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			rewriteWorkspace("a.txt", "changed")
			v2, err := fs.CreateVersion(ctx, tale.ID, "Second Version", false, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(v2.Name).To(Equal("Second Version"))
		})

		It("snapshots again after a metadata change", func() {
			_, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			tale.Metadata["dataset"] = []interface{}{"doi:other"}
			Expect(st.SaveTale(ctx, tale)).To(Succeed())
			_, err = fs.CreateVersion(ctx, tale.ID, "Second Version", false, false)
			Expect(err).ToNot(HaveOccurred())
		})

		It("bypasses the short-circuit with force", func() {
			_, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			v2, err := fs.CreateVersion(ctx, tale.ID, "Second Version", true, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(v2.Name).To(Equal("Second Version"))
		})

		It("resolves name collisions when renaming is allowed", func() {
			_, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			v2, err := fs.CreateVersion(ctx, tale.ID, "First Version", true, true)
			Expect(err).ToNot(HaveOccurred())
			Expect(v2.Name).To(Equal("First Version (1)"))
		})

		It("rejects a taken name when renaming is not allowed", func() {
			_, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			_, err = fs.CreateVersion(ctx, tale.ID, "First Version", true, false)
			Expect(err).To(HaveOccurred())
			_, ok := err.(errtypes.IsAlreadyExists)
			Expect(ok).To(BeTrue())
		})

		It("rejects names that are not portable filenames", func() {
			for _, bad := range []string{"", "a/b", "..", "CON"} {
				_, err := fs.CreateVersion(ctx, tale.ID, bad, false, false)
				if bad == "" {
					// an empty name is generated, not rejected
					Expect(err).ToNot(HaveOccurred())
					continue
				}
				_, ok := err.(errtypes.IsInvalidName)
				Expect(ok).To(BeTrue(), bad)
			}
		})

		It("generates a wall-clock name when none is given", func() {
			v, err := fs.CreateVersion(ctx, tale.ID, "", false, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.Name).ToNot(BeEmpty())
		})

		It("fails with Busy while the tale is locked", func() {
			acquired, err := st.SetCriticalSection(ctx, tale.VersionsRootID, true)
			Expect(err).ToNot(HaveOccurred())
			Expect(acquired).To(BeTrue())
			defer st.SetCriticalSection(ctx, tale.VersionsRootID, false) //nolint:errcheck

			_, err = fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			_, ok := err.(errtypes.IsBusy)
			Expect(ok).To(BeTrue())
		})
	})

	Describe("renaming a version", func() {
		It("changes the name but never the directory", func() {
			v, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			renamed, err := fs.RenameVersion(ctx, v.ID, "Better Name", false)
			Expect(err).ToNot(HaveOccurred())
			Expect(renamed.Name).To(Equal("Better Name"))
			Expect(renamed.FsPath).To(Equal(v.FsPath))

			view, err := fs.RestoreView(ctx, v.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(view.Title).To(Equal("Ligo Binary Merger"))
		})
	})

	Describe("deleting a version", func() {
		It("moves the directory to trash and drops the record", func() {
			v, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			// age the directory so the deletion stamp is observable
			old := time.Now().Add(-time.Hour)
			Expect(os.Chtimes(v.FsPath, old, old)).To(Succeed())
			before := time.Now()

			Expect(fs.DeleteVersion(ctx, v.ID)).To(Succeed())
			_, err = fs.Version(ctx, v.ID)
			Expect(err).To(HaveOccurred())
			Expect(v.FsPath).ToNot(BeADirectory())

			trashed := filepath.Join(fs.Layout().VersionsTrashDir(tale.ID), v.ID)
			Expect(trashed).To(BeADirectory())
			info, err := os.Stat(trashed)
			Expect(err).ToNot(HaveOccurred())
			Expect(info.ModTime()).To(BeTemporally(">=", before.Add(-time.Second)))
		})

		It("is blocked while runs reference the version", func() {
			v, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())
			run, err := fs.CreateRun(ctx, v.ID, "r1", false)
			Expect(err).ToNot(HaveOccurred())

			v, err = fs.Version(ctx, v.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.RefCount).To(Equal(1))

			err = fs.DeleteVersion(ctx, v.ID)
			_, ok := err.(errtypes.IsInUse)
			Expect(ok).To(BeTrue())

			Expect(fs.DeleteRun(ctx, run.ID)).To(Succeed())
			v, err = fs.Version(ctx, v.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.RefCount).To(BeZero())
			Expect(fs.DeleteVersion(ctx, v.ID)).To(Succeed())
		})
	})

	Describe("restoring a version", func() {
		It("wipes the workspace and relinks the snapshot", func() {
			v1, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			Expect(os.Remove(filepath.Join(tale.WorkspacePath, "a.txt"))).To(Succeed())
			writeWorkspace("b/c.txt", "c")
			_, err = fs.CreateVersion(ctx, tale.ID, "Second Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			Expect(fs.RestoreVersion(ctx, tale.ID, v1.ID)).To(Succeed())

			Expect(filepath.Join(tale.WorkspacePath, "a.txt")).To(BeARegularFile())
			Expect(filepath.Join(tale.WorkspacePath, "b")).ToNot(BeADirectory())
			Expect(snapshot.SameFile(
				filepath.Join(tale.WorkspacePath, "a.txt"),
				filepath.Join(v1.FsPath, "workspace", "a.txt"),
			)).To(BeTrue())

			restored, err := fs.Tale(ctx, tale.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(restored.RestoredFrom).To(Equal(v1.ID))
		})

		It("round-trips: create after restore is NotModified", func() {
			v1, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			rewriteWorkspace("a.txt", "changed")
			_, err = fs.CreateVersion(ctx, tale.ID, "Second Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			Expect(fs.RestoreVersion(ctx, tale.ID, v1.ID)).To(Succeed())

			_, err = fs.CreateVersion(ctx, tale.ID, "Third Version", false, false)
			nm, ok := err.(errtypes.NotModified)
			Expect(ok).To(BeTrue())
			Expect(nm.VersionID()).To(Equal(v1.ID))
		})
	})

	Describe("runs", func() {
		var v *store.Folder

		BeforeEach(func() {
			var err error
			v, err = fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())
		})

		It("derives a run with symlink, snapshot and status file", func() {
			run, err := fs.CreateRun(ctx, v.ID, "r1", false)
			Expect(err).ToNot(HaveOccurred())
			Expect(run.RunVersionID).To(Equal(v.ID))
			Expect(run.Status).To(Equal(talefs.StatusUnknown))

			resolved, err := filepath.EvalSymlinks(filepath.Join(run.FsPath, "version"))
			Expect(err).ToNot(HaveOccurred())
			expected, err := filepath.EvalSymlinks(v.FsPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(resolved).To(Equal(expected))

			Expect(snapshot.SameFile(
				filepath.Join(v.FsPath, "workspace", "a.txt"),
				filepath.Join(run.FsPath, "workspace", "a.txt"),
			)).To(BeTrue())

			status, err := os.ReadFile(filepath.Join(run.FsPath, ".status"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(status)).To(Equal("0 UNKNOWN"))
		})

		It("tracks status in the record and the status file", func() {
			run, err := fs.CreateRun(ctx, v.ID, "r1", false)
			Expect(err).ToNot(HaveOccurred())

			code, name, err := fs.RunStatus(ctx, run.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(talefs.StatusUnknown))
			Expect(name).To(Equal("UNKNOWN"))

			Expect(fs.SetRunStatus(ctx, run.ID, talefs.StatusRunning)).To(Succeed())
			code, name, err = fs.RunStatus(ctx, run.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(talefs.StatusRunning))
			Expect(name).To(Equal("RUNNING"))

			status, err := os.ReadFile(filepath.Join(run.FsPath, ".status"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(status)).To(Equal("2 RUNNING"))

			Expect(fs.SetRunStatus(ctx, run.ID, 42)).ToNot(Succeed())
		})

		It("trashes the run directory on delete", func() {
			run, err := fs.CreateRun(ctx, v.ID, "r1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(fs.DeleteRun(ctx, run.ID)).To(Succeed())
			Expect(run.FsPath).ToNot(BeADirectory())
			Expect(filepath.Join(fs.Layout().RunsTrashDir(tale.ID), run.ID)).To(BeADirectory())
		})

		It("dispatches a recorded-run job on start", func() {
			run, err := fs.CreateRun(ctx, v.ID, "r1", false)
			Expect(err).ToNot(HaveOccurred())

			taskID, err := fs.StartRun(ctx, run.ID, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(taskID).ToNot(BeEmpty())

			jobs := queue.Dispatched()
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].Title).To(Equal(jobqueue.RecordedRunTitle))
			Expect(jobs[0].RunID).To(Equal(run.ID))
			Expect(jobs[0].Entrypoint).To(Equal("run.sh"))
			Expect(jobs[0].Credential).ToNot(BeEmpty())

			run, err = fs.Run(ctx, run.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(run.Meta["taskId"]).To(Equal(taskID))

			user, ok := tokens.Lookup(run.Meta["credential"])
			Expect(ok).To(BeTrue())
			Expect(user).To(Equal("u-alice"))
		})

		It("opens append-only log streams", func() {
			run, err := fs.CreateRun(ctx, v.ID, "r1", false)
			Expect(err).ToNot(HaveOccurred())

			w, err := fs.OpenLogStream(ctx, run.ID, "stdout")
			Expect(err).ToNot(HaveOccurred())
			_, err = w.Write([]byte("hello\n"))
			Expect(err).ToNot(HaveOccurred())
			Expect(w.Close()).To(Succeed())

			content, err := os.ReadFile(filepath.Join(run.FsPath, ".stdout"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(content)).To(Equal("hello\n"))

			_, err = fs.OpenLogStream(ctx, run.ID, "bogus")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("job status correlation", func() {
		var (
			run    *store.Folder
			cancel context.CancelFunc
		)

		BeforeEach(func() {
			v, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())
			run, err = fs.CreateRun(ctx, v.ID, "r1", false)
			Expect(err).ToNot(HaveOccurred())
			_, err = fs.StartRun(ctx, run.ID, "")
			Expect(err).ToNot(HaveOccurred())

			var watchCtx context.Context
			watchCtx, cancel = context.WithCancel(ctx)
			go fs.WatchJobEvents(watchCtx) //nolint:errcheck
		})

		AfterEach(func() {
			cancel()
		})

		status := func() int {
			code, _, err := fs.RunStatus(ctx, run.ID)
			Expect(err).ToNot(HaveOccurred())
			return code
		}

		It("maps job states to run states", func() {
			queue.Emit(jobqueue.StatusEvent{Title: jobqueue.RecordedRunTitle, RunID: run.ID, Status: jobqueue.StatusRunning})
			Eventually(status).Should(Equal(talefs.StatusRunning))

			queue.Emit(jobqueue.StatusEvent{Title: jobqueue.RecordedRunTitle, RunID: run.ID, Status: jobqueue.StatusSuccess})
			Eventually(status).Should(Equal(talefs.StatusCompleted))
		})

		It("treats terminal states as sinks", func() {
			queue.Emit(jobqueue.StatusEvent{Title: jobqueue.RecordedRunTitle, RunID: run.ID, Status: jobqueue.StatusError})
			Eventually(status).Should(Equal(talefs.StatusFailed))

			queue.Emit(jobqueue.StatusEvent{Title: jobqueue.RecordedRunTitle, RunID: run.ID, Status: jobqueue.StatusRunning})
			Consistently(status).Should(Equal(talefs.StatusFailed))
		})

		It("ignores events with a foreign title", func() {
			queue.Emit(jobqueue.StatusEvent{Title: "Build Image", RunID: run.ID, Status: jobqueue.StatusSuccess})
			Consistently(status).Should(Equal(talefs.StatusUnknown))
		})
	})

	Describe("heartbeat reaper", func() {
		var run *store.Folder

		startRunOn := func(node, container string) {
			v, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())
			run, err = fs.CreateRun(ctx, v.ID, "r1", false)
			Expect(err).ToNot(HaveOccurred())

			run, err = fs.Run(ctx, run.ID)
			Expect(err).ToNot(HaveOccurred())
			run.Meta = map[string]string{
				"node_id":        node,
				"container_name": container,
				"taskId":         "task-1",
			}
			Expect(st.SaveFolder(ctx, run)).To(Succeed())
			Expect(fs.SetRunStatus(ctx, run.ID, talefs.StatusRunning)).To(Succeed())
		}

		It("downgrades a running run when its worker queue vanished", func() {
			startRunOn("node-1", "c1")

			Expect(fs.SweepRuns(ctx)).To(Succeed())

			code, _, err := fs.RunStatus(ctx, run.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(talefs.StatusUnknown))
			Expect(queue.Cleanups()).To(BeEmpty())
		})

		It("schedules cleanup when the task is gone", func() {
			startRunOn("node-1", "c1")
			queue.SetActiveQueues("node-1")

			Expect(fs.SweepRuns(ctx)).To(Succeed())

			cleanups := queue.Cleanups()
			Expect(cleanups).To(HaveLen(1))
			Expect(cleanups[0].RunID).To(Equal(run.ID))
			Expect(cleanups[0].Queue).To(Equal("node-1"))
			Expect(cleanups[0].Credential).ToNot(BeEmpty())
		})

		It("schedules cleanup when the container stopped", func() {
			startRunOn("node-1", "c1")
			queue.SetActiveQueues("node-1")
			queue.SetActiveTasks("node-1", "task-1")
			queue.SetRunning("c1", false)

			Expect(fs.SweepRuns(ctx)).To(Succeed())
			Expect(queue.Cleanups()).To(HaveLen(1))
		})

		It("leaves a healthy run alone", func() {
			startRunOn("node-1", "c1")
			queue.SetActiveQueues("node-1")
			queue.SetActiveTasks("node-1", "task-1")
			queue.SetRunning("c1", true)

			Expect(fs.SweepRuns(ctx)).To(Succeed())
			Expect(queue.Cleanups()).To(BeEmpty())

			code, _, err := fs.RunStatus(ctx, run.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(talefs.StatusRunning))
		})
	})

	Describe("forking a tale", func() {
		var (
			v1     *store.Folder
			r1, r2 *store.Folder
		)

		BeforeEach(func() {
			var err error
			v1, err = fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())
			r1, err = fs.CreateRun(ctx, v1.ID, "failed run", false)
			Expect(err).ToNot(HaveOccurred())
			r2, err = fs.CreateRun(ctx, v1.ID, "completed run", false)
			Expect(err).ToNot(HaveOccurred())
			Expect(fs.SetRunStatus(ctx, r1.ID, talefs.StatusFailed)).To(Succeed())
			Expect(fs.SetRunStatus(ctx, r2.ID, talefs.StatusCompleted)).To(Succeed())
		})

		It("clones versions and runs and rewires the symlinks", func() {
			forked, err := fs.CopyTale(ctx, tale.ID, "", false)
			Expect(err).ToNot(HaveOccurred())

			versions, err := fs.ListVersions(ctx, forked.ID, store.ListOptions{})
			Expect(err).ToNot(HaveOccurred())
			Expect(versions).To(HaveLen(1))
			clonedV := versions[0]
			Expect(clonedV.Name).To(Equal(v1.Name))
			Expect(clonedV.ID).ToNot(Equal(v1.ID))
			Expect(clonedV.Created.Equal(v1.Created)).To(BeTrue())
			Expect(clonedV.RefCount).To(Equal(2))

			runs, err := fs.ListRuns(ctx, forked.ID, store.ListOptions{})
			Expect(err).ToNot(HaveOccurred())
			Expect(runs).To(HaveLen(2))

			statuses := map[string]int{}
			for _, run := range runs {
				statuses[run.Name] = run.Status
				Expect(run.RunVersionID).To(Equal(clonedV.ID))

				resolved, err := filepath.EvalSymlinks(filepath.Join(run.FsPath, "version"))
				Expect(err).ToNot(HaveOccurred())
				expected, err := filepath.EvalSymlinks(clonedV.FsPath)
				Expect(err).ToNot(HaveOccurred())
				Expect(resolved).To(Equal(expected))
			}
			Expect(statuses).To(Equal(map[string]int{
				"failed run":    talefs.StatusFailed,
				"completed run": talefs.StatusCompleted,
			}))

			// the clone's manifest names the cloned version
			view, err := fs.RestoreView(ctx, clonedV.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(view.Title).To(Equal(tale.Title))
		})

		It("clones only the target version on a shallow fork", func() {
			forked, err := fs.CopyTale(ctx, tale.ID, v1.ID, true)
			Expect(err).ToNot(HaveOccurred())

			versions, err := fs.ListVersions(ctx, forked.ID, store.ListOptions{})
			Expect(err).ToNot(HaveOccurred())
			Expect(versions).To(HaveLen(1))
			Expect(versions[0].RefCount).To(BeZero())

			runs, err := fs.ListRuns(ctx, forked.ID, store.ListOptions{})
			Expect(err).ToNot(HaveOccurred())
			Expect(runs).To(BeEmpty())

			// the target clone was restored into the copy's workspace
			Expect(forked.RestoredFrom).To(Equal(versions[0].ID))
			Expect(filepath.Join(forked.WorkspacePath, "a.txt")).To(BeARegularFile())
		})

		It("does nothing on a shallow fork without a target", func() {
			forked, err := fs.CopyTale(ctx, tale.ID, "", true)
			Expect(err).ToNot(HaveOccurred())

			versions, err := fs.ListVersions(ctx, forked.ID, store.ListOptions{})
			Expect(err).ToNot(HaveOccurred())
			Expect(versions).To(BeEmpty())
		})
	})

	Describe("ensure-version hook", func() {
		It("returns the given version untouched", func() {
			v, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			got, err := fs.EnsureVersion(ctx, tale.ID, v.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got.ID).To(Equal(v.ID))
		})

		It("creates a version when none is given", func() {
			v, err := fs.EnsureVersion(ctx, tale.ID, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(v.FsPath).To(BeADirectory())
		})

		It("folds NotModified into the existing version", func() {
			v1, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			got, err := fs.EnsureVersion(ctx, tale.ID, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(got.ID).To(Equal(v1.ID))
		})
	})

	Describe("tale lifecycle", func() {
		It("tears the whole tree down on removal", func() {
			v, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())
			_, err = fs.CreateRun(ctx, v.ID, "r1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(fs.RemoveTale(ctx, tale.ID)).To(Succeed())

			_, err = fs.Tale(ctx, tale.ID)
			Expect(err).To(HaveOccurred())
			Expect(fs.Layout().TaleVersionsDir(tale.ID)).ToNot(BeADirectory())
			Expect(fs.Layout().TaleRunsDir(tale.ID)).ToNot(BeADirectory())
		})

		It("clears child records but keeps directories", func() {
			v, err := fs.CreateVersion(ctx, tale.ID, "First Version", false, false)
			Expect(err).ToNot(HaveOccurred())

			Expect(fs.ClearVersions(ctx, tale.ID)).To(Succeed())

			versions, err := fs.ListVersions(ctx, tale.ID, store.ListOptions{})
			Expect(err).ToNot(HaveOccurred())
			Expect(versions).To(BeEmpty())
			Expect(v.FsPath).To(BeADirectory())
		})
	})
})
