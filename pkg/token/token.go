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

// Package token manages the bearer credentials handed to recorded-run
// jobs. Credentials are opaque and expire: a job gets a long-lived one at
// dispatch, the reaper mints short-lived ones for cleanup tasks, and a
// finished job's credential is cut down to one hour.
package token

import (
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v2"
)

// Manager mints and expires bearer credentials.
type Manager struct {
	cache *ttlcache.Cache
}

// NewManager returns an empty credential manager.
func NewManager() *Manager {
	c := ttlcache.NewCache()
	c.SkipTTLExtensionOnHit(true)
	return &Manager{cache: c}
}

// Create mints a credential for the given user with the given lifetime.
func (m *Manager) Create(userID string, ttl time.Duration) string {
	tok := uuid.NewString()
	_ = m.cache.SetWithTTL(tok, userID, ttl)
	return tok
}

// SetTTL rebases the remaining lifetime of an existing credential.
// Unknown credentials are ignored; they are already expired.
func (m *Manager) SetTTL(token string, ttl time.Duration) {
	v, err := m.cache.Get(token)
	if err != nil {
		return
	}
	_ = m.cache.SetWithTTL(token, v, ttl)
}

// Lookup returns the user a credential belongs to, when it is still live.
func (m *Manager) Lookup(token string) (string, bool) {
	v, err := m.cache.Get(token)
	if err != nil {
		return "", false
	}
	u, ok := v.(string)
	return u, ok
}

// Revoke drops a credential immediately.
func (m *Manager) Revoke(token string) {
	_ = m.cache.Remove(token)
}

// Close releases the cache's janitor goroutine.
func (m *Manager) Close() {
	_ = m.cache.Close()
}
