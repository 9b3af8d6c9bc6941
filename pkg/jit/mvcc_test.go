// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/daviszhen/jitquery/pkg/storage"
)

// TestVisible_ThreeChunkScenario mirrors the original jit_validate_test.cpp
// fixture (own_tid=5, snapshot_cid=3) carried into spec §8 scenario 4: an
// eight-row visibility vector spanning three chunks' worth of begin/end/tid
// combinations.
func TestVisible_ThreeChunkScenario(t *testing.T) {
	const ownTid, snapshotCid = uint64(5), uint64(3)

	cases := []struct {
		name               string
		beginCid, endCid, tid uint64
		expected           bool
	}{
		{"deleted", 1, 2, 0, false},
		{"visible", 1, storage.MaxCid, 0, true},
		{"not yet committed for this snapshot", 10, storage.MaxCid, 0, false},
		{"inserted by other uncommitted txn", 4, storage.MaxCid, 4, false},
		{"inserted by own txn", 5, storage.MaxCid, 5, true},
		{"deleted by own txn", 3, 5, 5, false},
		{"deleted by not-yet-committed txn", 1, 4, 4, true},
		{"deleted by committed future txn", 1, 9, 0, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Visible(c.beginCid, c.endCid, c.tid, ownTid, snapshotCid)
			assert.Equal(t, c.expected, got)
		})
	}
}
