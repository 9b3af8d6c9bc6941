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

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/jitquery/pkg/common"
)

func intValues(vs ...int32) []common.Value {
	out := make([]common.Value, len(vs))
	for i, v := range vs {
		out[i] = common.IntValue(v)
	}
	return out
}

func TestDictionarySegment_DedupAndOrder(t *testing.T) {
	seg := NewDictionarySegment(common.Int, intValues(1, 3, 3, 5, 7, 9))
	require.Len(t, seg.Dictionary, 5)
	for i := 1; i < len(seg.Dictionary); i++ {
		assert.Less(t, common.Compare(seg.Dictionary[i-1], seg.Dictionary[i]), 0)
	}
	assert.Equal(t, seg.Codes[1], seg.Codes[2], "duplicate values 3,3 must share one code")
}

func TestDictionarySegment_LowerBound(t *testing.T) {
	seg := NewDictionarySegment(common.Int, intValues(1, 3, 3, 5, 7, 9))

	// Scenario 1: WHERE a >= 3 rewrites to a lower_bound(3) lookup.
	lb := seg.LowerBound(common.IntValue(3))
	assert.Equal(t, common.IntValue(3), seg.Dictionary[lb])

	// Scenario 2: WHERE a BETWEEN 2 AND 8 decomposes to a >= 2 AND a <= 8,
	// and a <= 8 is canonicalized to a < 9 via upper_bound(8).
	lbGe2 := seg.LowerBound(common.IntValue(2))
	assert.Equal(t, common.IntValue(3), seg.Dictionary[lbGe2])
	ub8 := seg.UpperBound(common.IntValue(8))
	assert.Equal(t, common.IntValue(9), seg.Dictionary[ub8])
}

func TestDictionarySegment_LiteralNotPresent(t *testing.T) {
	// Scenario 3: dictionary {10,20,30}, WHERE a = 15 - equality bound
	// finds lower_bound(15) == upper_bound(15), both pointing at the same
	// insertion slot, which the value-ID rewrite treats as "no match".
	seg := NewDictionarySegment(common.Int, intValues(10, 20, 30))
	lo := seg.LowerBound(common.IntValue(15))
	hi := seg.UpperBound(common.IntValue(15))
	assert.Equal(t, lo, hi)
}

func TestDictionarySegment_BoundsBeyondRange(t *testing.T) {
	seg := NewDictionarySegment(common.Int, intValues(10, 20, 30))
	assert.Equal(t, common.InvalidValueID, seg.LowerBound(common.IntValue(31)))
	assert.Equal(t, common.InvalidValueID, seg.UpperBound(common.IntValue(30)))
}
