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

// Package reqres provides the shared JSON request and response helpers of
// the HTTP services, including the translation of engine error kinds to
// status codes.
package reqres

import (
	"encoding/json"
	"net/http"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/errtypes"
)

// StatusVersionInUse is the non-standard code signalling that a version
// cannot be deleted while runs still reference it.
const StatusVersionInUse = 461

// ErrorResponse is the JSON body of every error response. Extra carries
// the version id on a not-modified response.
type ErrorResponse struct {
	Message string `json:"message"`
	Extra   string `json:"extra,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, r *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		appctx.GetLogger(r.Context()).Error().Err(err).Msg("error writing response")
	}
}

// WriteError translates an engine error into its HTTP shape.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case errtypes.NotModified:
		WriteJSON(w, r, http.StatusSeeOther, ErrorResponse{Message: "Not modified", Extra: e.VersionID()})
		return
	case errtypes.IsNotFound:
		WriteJSON(w, r, http.StatusNotFound, ErrorResponse{Message: err.Error()})
		return
	case errtypes.IsInvalidName:
		WriteJSON(w, r, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	case errtypes.IsBadRequest:
		WriteJSON(w, r, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	case errtypes.IsAlreadyExists:
		WriteJSON(w, r, http.StatusConflict, ErrorResponse{Message: err.Error()})
		return
	case errtypes.IsBusy:
		WriteJSON(w, r, http.StatusConflict, ErrorResponse{Message: err.Error()})
		return
	case errtypes.IsInUse:
		WriteJSON(w, r, StatusVersionInUse, ErrorResponse{Message: err.Error()})
		return
	}

	appctx.GetLogger(r.Context()).Error().Err(err).Msg("internal error")
	WriteJSON(w, r, http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
}
