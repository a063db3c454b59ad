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

// Package cfg decodes the raw configuration maps from the config file into
// the typed config structs of the services and drivers.
package cfg

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Setter is the interface a config struct may implement to fill in
// defaults after decoding.
type Setter interface {
	ApplyDefaults()
}

// Decode decodes the given raw map into the target config struct.
// If the struct implements Setter, defaults are applied afterwards.
func Decode(input map[string]interface{}, c interface{}) error {
	if err := mapstructure.Decode(input, c); err != nil {
		return errors.Wrap(err, "cfg: error decoding configuration")
	}
	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}
	return nil
}
