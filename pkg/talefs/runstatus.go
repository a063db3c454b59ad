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

package talefs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/taleverse/talefs/pkg/errtypes"
)

// Run status codes. The run record and the .status file always carry the
// same code; the file is advisory, the record is authoritative.
const (
	StatusUnknown = iota
	StatusStarting
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

var statusNames = map[int]string{
	StatusUnknown:   "UNKNOWN",
	StatusStarting:  "STARTING",
	StatusRunning:   "RUNNING",
	StatusCompleted: "COMPLETED",
	StatusFailed:    "FAILED",
	StatusCancelled: "CANCELLED",
}

// StatusName returns the symbolic name of a run status code.
func StatusName(code int) (string, error) {
	name, ok := statusNames[code]
	if !ok {
		return "", errtypes.BadRequest("unknown run status " + strconv.Itoa(code))
	}
	return name, nil
}

// IsTerminalStatus reports whether a run status code is a sink: once a run
// reaches it through the job-event path it never leaves.
func IsTerminalStatus(code int) bool {
	return code == StatusCompleted || code == StatusFailed || code == StatusCancelled
}

// StatusLine renders the single line stored in a run's .status file.
func StatusLine(code int) (string, error) {
	name, err := StatusName(code)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %s", code, name), nil
}

// ParseStatusLine extracts the status code from a .status line.
func ParseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, errtypes.BadRequest("empty status line")
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, errtypes.BadRequest("malformed status line: " + line)
	}
	if _, err := StatusName(code); err != nil {
		return 0, err
	}
	return code, nil
}
