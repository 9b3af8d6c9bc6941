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

import "sync"

// MaxCid is the "not yet ended/deleted" sentinel commit ID (spec §4.5).
const MaxCid = ^uint64(0)

// MVCCData holds the per-row (begin_cid, end_cid, tid) triples for one
// chunk's data segments. Grounded on the teacher's ChunkInfo atomic
// _inserted/_deleted vectors (pkg/storage/txn.go), trimmed to the plain
// begin/end/tid model spec §4.5 defines directly rather than the teacher's
// insert-id/delete-id/commit-id scheme.
type MVCCData struct {
	mu       sync.RWMutex
	BeginCid []uint64
	EndCid   []uint64
	Tid      []uint64
}

func NewMVCCData(size int) *MVCCData {
	d := &MVCCData{
		BeginCid: make([]uint64, size),
		EndCid:   make([]uint64, size),
		Tid:      make([]uint64, size),
	}
	for i := range d.EndCid {
		d.EndCid[i] = MaxCid
	}
	return d
}

// SnapshotTid copies the current Tid vector under a read lock, matching
// before_chunk's "materialize atomic TIDs into context.row_tids" step
// (jit_read_tuples.cpp) when use_load_atomic is disabled (spec §9).
func (d *MVCCData) SnapshotTid() []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]uint64, len(d.Tid))
	copy(out, d.Tid)
	return out
}

func (d *MVCCData) Row(offset int) (beginCid, endCid, tid uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.BeginCid[offset], d.EndCid[offset], d.Tid[offset]
}

// RowPos addresses a single row of a data chunk by (chunk, offset); a
// ReferenceInfo's PosList is built from these.
type RowPos struct {
	ChunkID int
	Offset  int
}

// ReferenceInfo marks a chunk as a reference chunk: its segments hold no
// data of their own, each row instead points at a row of ReferencedTable.
// Grounded on before_chunk's reference-chunk branch (jit_read_tuples.cpp),
// which resolves referenced_table/pos_list from the chunk's first segment.
type ReferenceInfo struct {
	ReferencedTable *Table
	PosList         []RowPos
}

// Chunk is one horizontal partition (a range of rows) of a Table: one
// Segment per column, plus
// either MVCC data (a data chunk) or a ReferenceInfo (a reference chunk),
// never both.
type Chunk struct {
	ID       int
	Size     int
	Segments []Segment
	MVCC     *MVCCData
	Ref      *ReferenceInfo
}

func (c *Chunk) IsReference() bool { return c.Ref != nil }

// DictionarySegmentAt returns the chunk's segment at columnIndex as a
// *DictionarySegment, or ok=false if that column isn't dictionary-encoded
// in this chunk - used by the value-ID rewrite (spec §4.4), which only
// applies when the target column's segment is dictionary-encoded.
func (c *Chunk) DictionarySegmentAt(columnIndex int) (*DictionarySegment, bool) {
	if columnIndex < 0 || columnIndex >= len(c.Segments) {
		return nil, false
	}
	d, ok := c.Segments[columnIndex].(*DictionarySegment)
	return d, ok
}
