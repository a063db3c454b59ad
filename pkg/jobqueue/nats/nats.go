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

// Package nats provides the NATS-backed task queue driver. Jobs are
// published to per-worker subjects, status events arrive on a shared
// subject, and worker liveness is a request/reply to the worker's control
// subjects.
package nats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/taleverse/talefs/pkg/jobqueue"
	"github.com/taleverse/talefs/pkg/jobqueue/registry"
	"github.com/taleverse/talefs/pkg/utils/cfg"
)

func init() {
	registry.Register("nats", New)
}

type config struct {
	Address string `mapstructure:"address"`
	Prefix  string `mapstructure:"prefix"`
	// RequestTimeout bounds control-plane requests, in seconds.
	RequestTimeout int `mapstructure:"request_timeout"`
}

func (c *config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = nats.DefaultURL
	}
	if c.Prefix == "" {
		c.Prefix = "talefs"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10
	}
}

type queue struct {
	conf *config
	nc   *nats.Conn
}

// New connects to the NATS server and returns the queue driver.
func New(m map[string]interface{}) (jobqueue.Queue, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}

	nc, err := nats.Connect(c.Address,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats: error connecting to "+c.Address)
	}

	return &queue{conf: &c, nc: nc}, nil
}

func (q *queue) subject(parts ...string) string {
	s := q.conf.Prefix
	for _, p := range parts {
		s += "." + p
	}
	return s
}

func (q *queue) timeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return time.Duration(q.conf.RequestTimeout) * time.Second
}

func (q *queue) Dispatch(_ context.Context, job *jobqueue.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", errors.Wrap(err, "nats: error encoding job")
	}

	subj := q.subject("jobs")
	if job.Queue != "" {
		subj = q.subject("jobs", job.Queue)
	}
	if err := q.nc.Publish(subj, payload); err != nil {
		return "", errors.Wrap(err, "nats: error dispatching job")
	}
	return job.ID, nil
}

func (q *queue) Events(ctx context.Context) (<-chan jobqueue.StatusEvent, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := q.nc.ChanSubscribe(q.subject("jobs", "status"), msgs)
	if err != nil {
		return nil, errors.Wrap(err, "nats: error subscribing to job status")
	}

	out := make(chan jobqueue.StatusEvent)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev jobqueue.StatusEvent
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					continue
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

func (q *queue) ActiveQueues(ctx context.Context) ([]string, error) {
	msg, err := q.nc.Request(q.subject("workers", "active"), nil, q.timeout(ctx))
	if err == nats.ErrNoResponders || err == nats.ErrTimeout {
		// no control plane responding means no workers at all
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "nats: error listing active queues")
	}

	var queues []string
	if err := json.Unmarshal(msg.Data, &queues); err != nil {
		return nil, errors.Wrap(err, "nats: error decoding active queues")
	}
	return queues, nil
}

func (q *queue) ActiveTasks(ctx context.Context, workerQueue string) ([]string, error) {
	msg, err := q.nc.Request(q.subject("worker", workerQueue, "tasks"), nil, q.timeout(ctx))
	if err == nats.ErrNoResponders || err == nats.ErrTimeout {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "nats: error listing active tasks of "+workerQueue)
	}

	var tasks []string
	if err := json.Unmarshal(msg.Data, &tasks); err != nil {
		return nil, errors.Wrap(err, "nats: error decoding active tasks")
	}
	return tasks, nil
}

func (q *queue) CheckOnRun(ctx context.Context, workerQueue string, meta map[string]string) (bool, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return false, errors.Wrap(err, "nats: error encoding run meta")
	}

	msg, err := q.nc.Request(q.subject("worker", workerQueue, "check"), payload, q.timeout(ctx))
	if err != nil {
		return false, errors.Wrap(err, "nats: error probing run on "+workerQueue)
	}

	var running bool
	if err := json.Unmarshal(msg.Data, &running); err != nil {
		return false, errors.Wrap(err, "nats: error decoding probe reply")
	}
	return running, nil
}

func (q *queue) CleanupRun(_ context.Context, workerQueue, runID, credential string) error {
	payload, err := json.Marshal(map[string]string{
		"runId":      runID,
		"credential": credential,
	})
	if err != nil {
		return errors.Wrap(err, "nats: error encoding cleanup task")
	}
	return errors.Wrap(
		q.nc.Publish(q.subject("worker", workerQueue, "cleanup"), payload),
		"nats: error scheduling cleanup",
	)
}

func (q *queue) Close() error {
	q.nc.Close()
	return nil
}
