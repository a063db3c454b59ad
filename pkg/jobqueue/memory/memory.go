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

// Package memory provides an in-process task queue for tests. Workers,
// tasks and probe answers are scripted by the test; dispatched jobs and
// cleanup requests are recorded for inspection.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/taleverse/talefs/pkg/jobqueue"
	"github.com/taleverse/talefs/pkg/jobqueue/registry"
)

func init() {
	registry.Register("memory", func(_ map[string]interface{}) (jobqueue.Queue, error) {
		return New(), nil
	})
}

// Queue is the scriptable in-process queue.
type Queue struct {
	mu sync.Mutex

	dispatched []*jobqueue.Job
	cleanups   []CleanupRequest

	queues  []string
	tasks   map[string][]string
	running map[string]bool

	events chan jobqueue.StatusEvent
}

// CleanupRequest records one CleanupRun call.
type CleanupRequest struct {
	Queue      string
	RunID      string
	Credential string
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		tasks:   map[string][]string{},
		running: map[string]bool{},
		events:  make(chan jobqueue.StatusEvent, 64),
	}
}

// Dispatch records the job and assigns it a task id.
func (q *Queue) Dispatch(_ context.Context, job *jobqueue.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	j := *job
	q.dispatched = append(q.dispatched, &j)
	return job.ID, nil
}

// Events returns the scripted event channel.
func (q *Queue) Events(ctx context.Context) (<-chan jobqueue.StatusEvent, error) {
	out := make(chan jobqueue.StatusEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-q.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Emit feeds a status event to all Events consumers.
func (q *Queue) Emit(ev jobqueue.StatusEvent) {
	q.events <- ev
}

// SetActiveQueues scripts the live worker queues.
func (q *Queue) SetActiveQueues(queues ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues = queues
}

// SetActiveTasks scripts the active task ids of a worker queue.
func (q *Queue) SetActiveTasks(queue string, tasks ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[queue] = tasks
}

// SetRunning scripts the CheckOnRun answer for a container name.
func (q *Queue) SetRunning(containerName string, running bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running[containerName] = running
}

func (q *Queue) ActiveQueues(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string{}, q.queues...), nil
}

func (q *Queue) ActiveTasks(_ context.Context, queue string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string{}, q.tasks[queue]...), nil
}

func (q *Queue) CheckOnRun(_ context.Context, _ string, meta map[string]string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running[meta["container_name"]], nil
}

func (q *Queue) CleanupRun(_ context.Context, queue, runID, credential string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleanups = append(q.cleanups, CleanupRequest{Queue: queue, RunID: runID, Credential: credential})
	return nil
}

// Dispatched returns the jobs handed to the queue so far.
func (q *Queue) Dispatched() []*jobqueue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*jobqueue.Job{}, q.dispatched...)
}

// Cleanups returns the recorded cleanup requests.
func (q *Queue) Cleanups() []CleanupRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]CleanupRequest{}, q.cleanups...)
}

// Close drops the event channel.
func (q *Queue) Close() error {
	close(q.events)
	return nil
}
