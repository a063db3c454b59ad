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

// Package global holds the registry HTTP services register themselves in.
package global

import (
	"context"
	"net/http"
)

// NewService creates a service from its configuration section. The logger
// travels in the context.
type NewService func(ctx context.Context, m map[string]interface{}) (Service, error)

// Services is the global service registry, filled by init functions.
var Services = map[string]NewService{}

// Register adds a service constructor under a name. Not thread-safe,
// intended to be called from init.
func Register(name string, f NewService) {
	Services[name] = f
}

// Service is an HTTP service mounted under its prefix.
type Service interface {
	Handler() http.Handler
	Prefix() string
	Close() error
}
