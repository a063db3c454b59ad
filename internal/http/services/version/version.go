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

// Package version exposes the version engine over HTTP.
package version

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taleverse/talefs/internal/http/services/reqres"
	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/rhttp/global"
	"github.com/taleverse/talefs/pkg/talefs"
	"github.com/taleverse/talefs/pkg/utils/cfg"
)

func init() {
	global.Register("version", New)
}

type config struct {
	Prefix string        `mapstructure:"prefix"`
	Engine talefs.Config `mapstructure:",squash"`
}

func (c *config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "version"
	}
	c.Engine.ApplyDefaults()
}

type svc struct {
	conf   *config
	fs     *talefs.TaleFS
	router chi.Router
}

// New returns a new version service.
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
	r.Get("/", s.list)
	r.Get("/exists", s.exists)
	r.Get("/{id}", s.load)
	r.Put("/{id}", s.rename)
	r.Delete("/{id}", s.delete)
	r.Get("/{id}/dataSet", s.dataSet)
	r.Get("/{id}/restore", s.restoreView)
	s.router = r
}

func (s *svc) create(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taleID := q.Get("taleId")
	if taleID == "" {
		reqres.WriteError(w, r, errtypes.BadRequest("taleId is required"))
		return
	}
	v, err := s.fs.CreateVersion(r.Context(), taleID, q.Get("name"),
		reqres.QueryBool(q, "force"), reqres.QueryBool(q, "allowRename"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewFolderResponse(v))
}

func (s *svc) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taleID := q.Get("taleId")
	if taleID == "" {
		reqres.WriteError(w, r, errtypes.BadRequest("taleId is required"))
		return
	}
	versions, err := s.fs.ListVersions(r.Context(), taleID, reqres.QueryListOptions(q))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewFolderListResponse(versions))
}

func (s *svc) exists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taleID, name := q.Get("taleId"), q.Get("name")
	if taleID == "" || name == "" {
		reqres.WriteError(w, r, errtypes.BadRequest("taleId and name are required"))
		return
	}
	v, exists, err := s.fs.VersionExists(r.Context(), taleID, name)
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewExistsResponse(v, exists))
}

func (s *svc) load(w http.ResponseWriter, r *http.Request) {
	v, err := s.fs.Version(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewFolderResponse(v))
}

func (s *svc) rename(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v, err := s.fs.RenameVersion(r.Context(), chi.URLParam(r, "id"), q.Get("name"),
		reqres.QueryBool(q, "allowRename"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, reqres.NewFolderResponse(v))
}

func (s *svc) delete(w http.ResponseWriter, r *http.Request) {
	if err := s.fs.DeleteVersion(r.Context(), chi.URLParam(r, "id")); err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, nil)
}

func (s *svc) dataSet(w http.ResponseWriter, r *http.Request) {
	ds, err := s.fs.Dataset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, ds)
}

func (s *svc) restoreView(w http.ResponseWriter, r *http.Request) {
	t, err := s.fs.RestoreView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		reqres.WriteError(w, r, err)
		return
	}
	reqres.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"title":    t.Title,
		"metadata": t.Metadata,
	})
}
