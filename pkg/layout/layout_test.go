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

package layout

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taleID = "5c92fbd472a9910001fbff72"

func TestSharding(t *testing.T) {
	l := New("/data/versions", "/data/runs")

	assert.Equal(t, "/data/versions/5c/"+taleID, l.TaleVersionsDir(taleID))
	assert.Equal(t, "/data/runs/5c/"+taleID, l.TaleRunsDir(taleID))
	assert.Equal(t, "/data/versions/5c/"+taleID+"/v1", l.VersionDir(taleID, "v1"))
	assert.Equal(t, "/data/runs/5c/"+taleID+"/r1", l.RunDir(taleID, "r1"))
}

func TestTrashDirs(t *testing.T) {
	l := New("/data/versions", "/data/runs")

	assert.Equal(t, "/data/versions/5c/"+taleID+"/.trash", l.VersionsTrashDir(taleID))
	assert.Equal(t, "/data/runs/5c/"+taleID+"/.trash", l.RunsTrashDir(taleID))
}

func TestRunVersionLinkTarget(t *testing.T) {
	l := New("/data/versions", "/data/runs")

	target := l.RunVersionLinkTarget(taleID, "v1")
	assert.Equal(t, "../../../../versions/5c/"+taleID+"/v1", target)

	// exactly four climbs, so a cloned tale tree stays self-contained
	assert.Equal(t, 4, strings.Count(target, ".."))

	// resolving the target from a run dir must land inside the versions tree
	resolved := filepath.Join(l.RunDir(taleID, "r1"), target)
	require.Equal(t, l.VersionDir(taleID, "v1"), filepath.Clean(resolved))
}
