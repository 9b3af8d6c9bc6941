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
	"math"

	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/daviszhen/jitquery/pkg/storage"
)

// NoLimit marks RuntimeContext.RemainingRows as unbounded (no LIMIT node
// in the chain).
const NoLimit = uint64(math.MaxUint64)

// RuntimeTuple is the per-execution flat array of typed slots every
// operator in a chain shares (spec §3). It is created at the start of one
// execution of the fused chain and discarded when that execution returns -
// never shared across executions. Implements jitexpr.Tuple structurally.
type RuntimeTuple struct {
	slots []common.Value
}

func NewRuntimeTuple(numSlots int) *RuntimeTuple {
	return &RuntimeTuple{slots: make([]common.Value, numSlots)}
}

func (t *RuntimeTuple) Get(slot int) common.Value   { return t.slots[slot] }
func (t *RuntimeTuple) Set(slot int, v common.Value) { t.slots[slot] = v }

// RuntimeContext bundles the runtime tuple, current chunk position, MVCC
// snapshot inputs, optional reference-chunk resolution state, the
// remaining-rows counter for limit, and per-execution metrics (spec §3
// "Runtime context").
type RuntimeContext struct {
	Tuple *RuntimeTuple

	ChunkID     int
	ChunkOffset int
	ChunkSize   int

	OwnTid      uint64
	SnapshotCid uint64

	// MVCC binding for the current chunk, set by ReadTuples.BeforeChunk
	// when the chain has a validate operator (spec §4.5). Exactly one of
	// MVCC / Ref is non-nil for a chunk with validation enabled.
	MVCC *storage.MVCCData
	Ref  *storage.ReferenceInfo
	// RowTids is the per-chunk snapshot of MVCC.Tid, materialized once
	// up front when UseLoadAtomic is false (spec §9's resolved open
	// question); nil otherwise, in which case MVCC.Row reads each row
	// under the MVCC data's read lock.
	RowTids []uint64

	RemainingRows uint64

	Params []common.Value

	Metrics Metrics

	// stopped is set by limit to signal the source to stop driving rows
	// even mid-chunk (spec §4.6: "signals the source to stop by
	// tail-not-calling and by the source checking remaining_rows").
	stopped bool
}

func (c *RuntimeContext) Stop()        { c.stopped = true }
func (c *RuntimeContext) Stopped() bool { return c.stopped || c.RemainingRows == 0 }
