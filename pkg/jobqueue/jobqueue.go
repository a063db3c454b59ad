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

// Package jobqueue abstracts the external task queue that executes
// recorded runs. The engine only dispatches jobs, consumes their status
// events and interrogates worker liveness; execution itself is opaque.
// Drivers register themselves in pkg/jobqueue/registry.
package jobqueue

import "context"

// RecordedRunTitle is the job title status events are correlated by.
const RecordedRunTitle = "Recorded Run"

// Status is the job state as reported by the runner.
type Status int

// Job states, in the runner's vocabulary.
const (
	StatusQueued Status = iota
	StatusRunning
	StatusSuccess
	StatusError
)

// Job describes a recorded-run task handed to the queue.
type Job struct {
	// ID is assigned by the queue at dispatch.
	ID    string `json:"id"`
	Title string `json:"title"`

	RunID      string `json:"runId"`
	TaleID     string `json:"taleId"`
	Entrypoint string `json:"entrypoint"`

	// Queue is the worker queue the job is routed to; empty routes to
	// the default queue.
	Queue string `json:"queue,omitempty"`
	// Credential is the bearer credential the job uses to call back.
	Credential string `json:"credential,omitempty"`
}

// StatusEvent is emitted by the runner whenever a job changes state.
type StatusEvent struct {
	JobID  string `json:"jobId"`
	Title  string `json:"title"`
	RunID  string `json:"runId"`
	Status Status `json:"status"`
}

// Queue is the task queue interface.
type Queue interface {
	// Dispatch hands a job to the queue and returns its task id.
	Dispatch(ctx context.Context, job *Job) (string, error)
	// Events returns a channel of job status events. The channel is
	// closed when the context is cancelled.
	Events(ctx context.Context) (<-chan StatusEvent, error)

	// ActiveQueues lists the worker queues currently alive.
	ActiveQueues(ctx context.Context) ([]string, error)
	// ActiveTasks lists the task ids active on a worker queue.
	ActiveTasks(ctx context.Context, queue string) ([]string, error)
	// CheckOnRun asks the worker whether the run's container is still
	// executing. The call blocks up to the context deadline.
	CheckOnRun(ctx context.Context, queue string, meta map[string]string) (bool, error)
	// CleanupRun schedules a cleanup task for a dead run on its worker.
	CleanupRun(ctx context.Context, queue, runID, credential string) error

	Close() error
}
