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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/store"
)

// Meta keys a started run carries for the reaper.
const (
	MetaNodeID        = "node_id"
	MetaContainerName = "container_name"
	MetaTaskID        = "taskId"
	MetaCredential    = "credential"
)

// probeTimeout bounds the check_on_run round trip to a worker.
const probeTimeout = 60 * time.Second

// cleanupCredentialTTL is the lifetime of the short-lived credential a
// cleanup task runs with.
const cleanupCredentialTTL = 144 * time.Minute

// RunHeartbeat sweeps dead runs on the given interval until the context
// is cancelled. Sweep failures are logged, the loop keeps going.
func (fs *TaleFS) RunHeartbeat(ctx context.Context, interval time.Duration) {
	log := appctx.GetLogger(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fs.SweepRuns(ctx); err != nil {
				log.Error().Err(err).Msg("heartbeat sweep failed")
			}
		}
	}
}

// SweepRuns probes every RUNNING or UNKNOWN run that records a worker and
// container. A run whose worker queue vanished is downgraded to UNKNOWN
// and picked up again once the worker is back; a run whose task or
// container died gets a cleanup task scheduled on its worker.
func (fs *TaleFS) SweepRuns(ctx context.Context) error {
	if fs.queue == nil {
		return errtypes.InternalError("no task queue configured")
	}

	candidates, err := fs.store.FoldersByStatus(ctx, StatusRunning, StatusUnknown)
	if err != nil {
		return err
	}

	queues, err := fs.queue.ActiveQueues(ctx)
	if err != nil {
		return err
	}
	active := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		active[q] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range candidates {
		if run.Meta[MetaNodeID] == "" || run.Meta[MetaContainerName] == "" {
			continue
		}
		run := run
		g.Go(func() error {
			return fs.probeRun(gctx, run, active)
		})
	}
	return g.Wait()
}

func (fs *TaleFS) probeRun(ctx context.Context, run *store.Folder, active map[string]struct{}) error {
	log := appctx.GetLogger(ctx)
	queue := run.Meta[MetaNodeID]

	if _, ok := active[queue]; !ok {
		// the worker may only be rebooting, so don't reap yet
		if run.Status == StatusRunning {
			log.Warn().Str("run", run.ID).Str("queue", queue).Msg("worker queue gone, downgrading run")
			return fs.SetRunStatus(ctx, run.ID, StatusUnknown)
		}
		return nil
	}

	dead := false
	tasks, err := fs.queue.ActiveTasks(ctx, queue)
	if err != nil {
		return err
	}
	if !contains(tasks, run.Meta[MetaTaskID]) {
		dead = true
	} else {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		running, err := fs.queue.CheckOnRun(probeCtx, queue, run.Meta)
		cancel()
		if err != nil {
			return err
		}
		dead = !running
	}
	if !dead {
		return nil
	}

	credential := ""
	if fs.tokens != nil {
		credential = fs.tokens.Create(run.CreatorID, cleanupCredentialTTL)
	}
	log.Info().Str("run", run.ID).Str("queue", queue).Msg("scheduling cleanup for dead run")
	return fs.queue.CleanupRun(ctx, queue, run.ID, credential)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
