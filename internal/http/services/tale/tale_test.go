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

package tale_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleverse/talefs/internal/http/services/tale"
	"github.com/taleverse/talefs/internal/http/services/version"
	_ "github.com/taleverse/talefs/pkg/store/memory"
)

func newHandlers(t *testing.T) (taleH, versionH http.Handler) {
	t.Helper()
	tmp := t.TempDir()
	conf := map[string]interface{}{
		"versions_root": filepath.Join(tmp, "versions"),
		"runs_root":     filepath.Join(tmp, "runs"),
	}
	ctx := context.Background()
	taleSvc, err := tale.New(ctx, conf)
	require.NoError(t, err)
	versionSvc, err := version.New(ctx, conf)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = taleSvc.Close()
		_ = versionSvc.Close()
	})
	return taleSvc.Handler(), versionSvc.Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("X-User-Id", "u-alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(into))
}

type taleDoc struct {
	ID             string `json:"_id"`
	Title          string `json:"title"`
	WorkspacePath  string `json:"workspacePath"`
	VersionsRootID string `json:"versionsRootId"`
	RunsRootID     string `json:"runsRootId"`
	RestoredFrom   string `json:"restoredFrom"`
}

func createTale(t *testing.T, taleH http.Handler) taleDoc {
	t.Helper()
	ws := filepath.Join(t.TempDir(), "workspace")
	require.NoError(t, os.MkdirAll(ws, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("a"), 0644))

	w := do(t, taleH, http.MethodPost, "/", map[string]interface{}{
		"title":         "Copy Tale",
		"workspacePath": ws,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var doc taleDoc
	decode(t, w, &doc)
	require.NotEmpty(t, doc.VersionsRootID)
	require.NotEmpty(t, doc.RunsRootID)
	return doc
}

func createVersion(t *testing.T, versionH http.Handler, taleID, name string) string {
	t.Helper()
	q := url.Values{"taleId": {taleID}, "name": {name}}
	w := do(t, versionH, http.MethodPost, "/?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v struct {
		ID string `json:"_id"`
	}
	decode(t, w, &v)
	return v.ID
}

func TestCreateValidation(t *testing.T) {
	taleH, _ := newHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	w := httptest.NewRecorder()
	taleH.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestore(t *testing.T) {
	taleH, versionH := newHandlers(t)
	doc := createTale(t, taleH)

	v1 := createVersion(t, versionH, doc.ID, "First Version")
	require.NoError(t, os.WriteFile(filepath.Join(doc.WorkspacePath, "b.txt"), []byte("b"), 0644))
	createVersion(t, versionH, doc.ID, "Second Version")

	w := do(t, taleH, http.MethodPut, "/"+doc.ID+"/restore?versionId="+v1, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, taleH, http.MethodGet, "/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var restored taleDoc
	decode(t, w, &restored)
	assert.Equal(t, v1, restored.RestoredFrom)
	assert.NoFileExists(t, filepath.Join(doc.WorkspacePath, "b.txt"))

	w = do(t, taleH, http.MethodPut, "/"+doc.ID+"/restore", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCopy(t *testing.T) {
	taleH, versionH := newHandlers(t)
	doc := createTale(t, taleH)

	v1 := createVersion(t, versionH, doc.ID, "First Version")
	require.NoError(t, os.WriteFile(filepath.Join(doc.WorkspacePath, "b.txt"), []byte("b"), 0644))
	createVersion(t, versionH, doc.ID, "Second Version")

	w := do(t, taleH, http.MethodPost, "/"+doc.ID+"/copy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var forked taleDoc
	decode(t, w, &forked)
	assert.NotEqual(t, doc.ID, forked.ID)
	assert.Equal(t, "Copy Tale", forked.Title)

	w = do(t, versionH, http.MethodGet, "/?taleId="+forked.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var versions []struct {
		Name string `json:"name"`
	}
	decode(t, w, &versions)
	assert.Len(t, versions, 2)

	// shallow copy keeps only the target version and restores it
	q := url.Values{"versionId": {v1}, "shallow": {"true"}}
	w = do(t, taleH, http.MethodPost, "/"+doc.ID+"/copy?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var shallow taleDoc
	decode(t, w, &shallow)
	assert.NotEmpty(t, shallow.RestoredFrom)
	assert.FileExists(t, filepath.Join(shallow.WorkspacePath, "a.txt"))
	assert.NoFileExists(t, filepath.Join(shallow.WorkspacePath, "b.txt"))
}

func TestDeleteTale(t *testing.T) {
	taleH, versionH := newHandlers(t)
	doc := createTale(t, taleH)
	createVersion(t, versionH, doc.ID, "First Version")

	w := do(t, taleH, http.MethodDelete, "/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, taleH, http.MethodGet, "/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
