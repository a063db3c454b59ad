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

// Package run exposes the run engine over HTTP. The service also owns the
// task queue side of the engine: the job status watcher and the heartbeat
// reaper run for as long as the service is up.
package run

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taleverse/talefs/internal/http/services/reqres"
	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/jobqueue"
	jqregistry "github.com/taleverse/talefs/pkg/jobqueue/registry"
	"github.com/taleverse/talefs/pkg/rhttp/global"
	"github.com/taleverse/talefs/pkg/talefs"
	"github.com/taleverse/talefs/pkg/token"
	"github.com/taleverse/talefs/pkg/utils/cfg"
)

func init() {
	global.Register("run", New)
}

type config struct {
	Prefix string        `mapstructure:"prefix"`
	Engine talefs.Config `mapstructure:",squash"`

	QueueDriver  string                 `mapstructure:"queue_driver"`
	QueueOptions map[string]interface{} `mapstructure:"queue_options"`

	// HeartbeatInterval is the sweep period in seconds; 0 disables the
	// reaper.
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
}

func (c *config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "run"
	}
	if c.QueueDriver == "" {
		c.QueueDriver = "memory"
	}
	c.Engine.ApplyDefaults()
}

type svc struct {
	conf   *config
	fs     *talefs.TaleFS
	queue  jobqueue.Queue
	tokens *token.Manager
	router chi.Router
	cancel context.CancelFunc
}

// New returns a new run service and starts its background workers.
func New(ctx context.Context, m map[string]interface{}) (global.Service, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}

	newQueue, ok := jqregistry.NewFuncs[c.QueueDriver]
	if !ok {
		return nil, fmt.Errorf("queue driver %q not found", c.QueueDriver)
	}
	queue, err := newQueue(c.QueueOptions)
	if err != nil {
		return nil, err
	}

	tokens := token.NewManager()
	fs, err := talefs.NewFromConfig(ctx, &c.Engine,
		talefs.WithQueue(queue),
		talefs.WithTokenManager(tokens),
	)
	if err != nil {
		return nil, err
	}

	s := &svc{conf: &c, fs: fs, queue: queue, tokens: tokens}
	s.initRouter()

	bgCtx, cancel := context.WithCancel(appctx.WithLogger(context.Background(), appctx.GetLogger(ctx)))
	s.cancel = cancel
	go func() {
		if err := fs.WatchJobEvents(bgCtx); err != nil {
			appctx.GetLogger(bgCtx).Error().Err(err).Msg("job event watcher stopped")
		}
	}()
	if c.HeartbeatInterval > 0 {
		go fs.RunHeartbeat(bgCtx, time.Duration(c.HeartbeatInterval)*time.Second)
	}

	return s, nil
}

func (s *svc) Prefix() string {
	return s.conf.Prefix
}

func (s *svc) Close() error {
	s.cancel()
	s.tokens.Close()
	return s.queue.Close()
}

func (s *svc) Handler() http.Handler {
	return reqres.WithUser(s.router)
}

func (s *svc) initRouter() {
	r := chi.NewRouter()
	r.Post("/", s.create)
	r.Get("/", s.list)
	r.Get("/exists", s.exists)
	r.Get("/{id}", s.load)
	r.Put("/{id}", s.rename)
	r.Delete("/{id}", s.delete)
	r.Get("/{id}/status", s.status)
	r.Patch("/{id}/status", s.setStatus)
	r.Post("/{id}/start", s.start)
	s.router = r
}

func (s *svc) create(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	versionID := q.Get("versionId")
	if versionID == "" {
		reqres.WriteError(w, r, errtypes.BadRequest("versionId is required"))
		return
	}
	run, err := s.fs.CreateRun(r.Context(), versionID, q.Get("name"), reqres.QueryBool(q, "allowRename"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewFolderResponse(run))
}

func (s *svc) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taleID := q.Get("taleId")
	if taleID == "" {
		reqres.WriteError(w, r, errtypes.BadRequest("taleId is required"))
		return
	}
	runs, err := s.fs.ListRuns(r.Context(), taleID, reqres.QueryListOptions(q))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewFolderListResponse(runs))
}

func (s *svc) exists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taleID, name := q.Get("taleId"), q.Get("name")
	if taleID == "" || name == "" {
		reqres.WriteError(w, r, errtypes.BadRequest("taleId and name are required"))
		return
	}
	run, exists, err := s.fs.RunExists(r.Context(), taleID, name)
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewExistsResponse(run, exists))
}

func (s *svc) load(w http.ResponseWriter, r *http.Request) {
	run, err := s.fs.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewFolderResponse(run))
}

func (s *svc) rename(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	run, err := s.fs.RenameRun(r.Context(), chi.URLParam(r, "id"), q.Get("name"), reqres.QueryBool(q, "allowRename"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewFolderResponse(run))
}

func (s *svc) delete(w http.ResponseWriter, r *http.Request) {
	if err := s.fs.DeleteRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, nil)
}

func (s *svc) status(w http.ResponseWriter, r *http.Request) {
	code, name, err := s.fs.RunStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":       code,
		"statusString": name,
	})
}

func (s *svc) setStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.URL.Query().Get("status"))
	if err != nil {
		reqres.WriteError(w, r, errtypes.BadRequest("status must be an integer"))
		return
	}
	if err := s.fs.SetRunStatus(r.Context(), chi.URLParam(r, "id"), code); err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, nil)
}

func (s *svc) start(w http.ResponseWriter, r *http.Request) {
	taskID, err := s.fs.StartRun(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("entrypoint"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, map[string]string{"taskId": taskID})
}
