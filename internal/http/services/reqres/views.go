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

package reqres

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/store"
)

// FolderResponse is the JSON view of a version or run record.
type FolderResponse struct {
	ID           string            `json:"_id"`
	Name         string            `json:"name"`
	TaleID       string            `json:"taleId,omitempty"`
	RefCount     int               `json:"refCount,omitempty"`
	RunVersionID string            `json:"runVersionId,omitempty"`
	Status       int               `json:"status,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
	Created      time.Time         `json:"created"`
	Updated      time.Time         `json:"updated"`
}

// NewFolderResponse maps a record to its JSON view.
func NewFolderResponse(f *store.Folder) *FolderResponse {
	return &FolderResponse{
		ID:           f.ID,
		Name:         f.Name,
		TaleID:       f.TaleID,
		RefCount:     f.RefCount,
		RunVersionID: f.RunVersionID,
		Status:       f.Status,
		Meta:         f.Meta,
		Created:      f.Created,
		Updated:      f.Updated,
	}
}

// NewFolderListResponse maps a listing. An empty listing serializes as []
// and not null.
func NewFolderListResponse(folders []*store.Folder) []*FolderResponse {
	out := make([]*FolderResponse, 0, len(folders))
	for _, f := range folders {
		out = append(out, NewFolderResponse(f))
	}
	return out
}

// ExistsResponse answers the exists endpoints.
type ExistsResponse struct {
	Exists bool            `json:"exists"`
	Obj    *FolderResponse `json:"obj,omitempty"`
}

// NewExistsResponse maps an optional record to the exists shape.
func NewExistsResponse(f *store.Folder, exists bool) *ExistsResponse {
	resp := &ExistsResponse{Exists: exists}
	if exists {
		resp.Obj = NewFolderResponse(f)
	}
	return resp
}

// QueryBool parses a boolean query parameter; absent or malformed means
// false.
func QueryBool(q url.Values, key string) bool {
	b, err := strconv.ParseBool(q.Get(key))
	return err == nil && b
}

// QueryListOptions parses the shared limit/offset/sort listing
// parameters.
func QueryListOptions(q url.Values) store.ListOptions {
	opts := store.ListOptions{Sort: q.Get("sort")}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		opts.Offset = n
	}
	if q.Get("sortdir") == "-1" {
		opts.Order = store.Descending
	}
	return opts
}

// WithUser lifts the authenticated user id, resolved by the enclosing
// deployment into the X-User-Id header, into the request context.
func WithUser(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get("X-User-Id"); user != "" {
			r = r.WithContext(appctx.ContextSetUser(r.Context(), user))
		}
		h.ServeHTTP(w, r)
	})
}
