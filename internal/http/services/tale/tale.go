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

// Package tale exposes the tale lifecycle over HTTP: create, remove, copy
// with history, and workspace restore. The tale documents carry only the
// fields the versioning engine reads plus opaque metadata for the
// manifest producer.
package tale

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taleverse/talefs/internal/http/services/reqres"
	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/rhttp/global"
	"github.com/taleverse/talefs/pkg/store"
	"github.com/taleverse/talefs/pkg/talefs"
	"github.com/taleverse/talefs/pkg/utils/cfg"
)

func init() {
	global.Register("tale", New)
}

type config struct {
	Prefix string        `mapstructure:"prefix"`
	Engine talefs.Config `mapstructure:",squash"`
}

func (c *config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "tale"
	}
	c.Engine.ApplyDefaults()
}

type svc struct {
	conf   *config
	fs     *talefs.TaleFS
	router chi.Router
}

// New returns a new tale service.
func New(ctx context.Context, m map[string]interface{}) (global.Service, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}
	fs, err := talefs.NewFromConfig(ctx, &c.Engine)
	if err != nil {
		return nil, err
	}

	s := &svc{conf: &c, fs: fs}
	s.initRouter()
	return s, nil
}

func (s *svc) Prefix() string {
	return s.conf.Prefix
}

func (s *svc) Close() error {
	return nil
}

func (s *svc) Handler() http.Handler {
	return reqres.WithUser(s.router)
}

func (s *svc) initRouter() {
	r := chi.NewRouter()
	r.Post("/", s.create)
	r.Get("/{id}", s.load)
	r.Delete("/{id}", s.delete)
	r.Post("/{id}/copy", s.copy)
	r.Put("/{id}/restore", s.restore)
	s.router = r
}

// taleResponse is the JSON view of a tale document.
type taleResponse struct {
	ID             string                 `json:"_id"`
	Title          string                 `json:"title,omitempty"`
	WorkspacePath  string                 `json:"workspacePath"`
	VersionsRootID string                 `json:"versionsRootId"`
	RunsRootID     string                 `json:"runsRootId"`
	RestoredFrom   string                 `json:"restoredFrom,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

func newTaleResponse(t *store.Tale) *taleResponse {
	return &taleResponse{
		ID:             t.ID,
		Title:          t.Title,
		WorkspacePath:  t.WorkspacePath,
		VersionsRootID: t.VersionsRootID,
		RunsRootID:     t.RunsRootID,
		RestoredFrom:   t.RestoredFrom,
		Metadata:       t.Metadata,
	}
}

type createRequest struct {
	Title         string                 `json:"title"`
	WorkspacePath string                 `json:"workspacePath"`
	Metadata      map[string]interface{} `json:"metadata"`
}

func (s *svc) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reqres.WriteError(w, r, errtypes.BadRequest("malformed request body"))
		return
	}
	t, err := s.fs.CreateTale(r.Context(), req.Title, req.WorkspacePath, req.Metadata)
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, newTaleResponse(t))
}

func (s *svc) load(w http.ResponseWriter, r *http.Request) {
	t, err := s.fs.Tale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, newTaleResponse(t))
}

func (s *svc) delete(w http.ResponseWriter, r *http.Request) {
	if err := s.fs.RemoveTale(r.Context(), chi.URLParam(r, "id")); err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, nil)
}

func (s *svc) copy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t, err := s.fs.CopyTale(r.Context(), chi.URLParam(r, "id"),
		q.Get("versionId"), reqres.QueryBool(q, "shallow"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, newTaleResponse(t))
}

func (s *svc) restore(w http.ResponseWriter, r *http.Request) {
	versionID := r.URL.Query().Get("versionId")
	if versionID == "" {
		reqres.WriteError(w, r, errtypes.BadRequest("versionId is required"))
		return
	}
	if err := s.fs.RestoreVersion(r.Context(), chi.URLParam(r, "id"), versionID); err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, nil)
}
