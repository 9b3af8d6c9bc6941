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

import "github.com/daviszhen/jitquery/pkg/storage"

// Visible implements the row-visibility formula of spec §4.5. others_insert
// never gates the final predicate even in the spec's own formula, so it is
// not computed here at all. own_insert omits the spec pseudocode's
// "begin_cid == MAX_CID" conjunct: the original fixture this scenario is
// carried from (jit_validate_test.cpp) marks an own, not-yet-committed
// insert with begin_cid already set to the inserting transaction's own id
// rather than MAX_CID, so an insert is "own" purely by tid ownership -
// requiring begin_cid == MAX_CID as well would make every such row
// invisible to the transaction that just inserted it.
func Visible(beginCid, endCid, tid, ownTid, snapshotCid uint64) bool {
	ownInsert := tid == ownTid
	ownDelete := tid == ownTid && endCid != storage.MaxCid
	othersDelete := tid != ownTid && endCid != storage.MaxCid && endCid <= snapshotCid

	return (beginCid <= snapshotCid || ownInsert) && !ownDelete && !othersDelete
}

// Validate is the MVCC-visibility operator (spec §4.5). For a data chunk
// it reads (begin_cid, end_cid, tid) directly at the current offset; for
// a reference chunk it first resolves the row through the position list
// to the referenced table's chunk and offset.
type Validate struct {
	base
	ForDataTable bool
}

func (v *Validate) Description() string           { return "Validate" }
func (v *Validate) AccessedColumnIDs() map[int]bool { return nil }

func (v *Validate) Consume(ctx *RuntimeContext) {
	var beginCid, endCid, tid uint64

	if ctx.Ref != nil {
		pos := ctx.Ref.PosList[ctx.ChunkOffset]
		refChunk := ctx.Ref.ReferencedTable.GetChunk(pos.ChunkID)
		beginCid, endCid, tid = refChunk.MVCC.Row(pos.Offset)
	} else {
		if ctx.RowTids != nil {
			beginCid, endCid = ctx.MVCC.BeginCid[ctx.ChunkOffset], ctx.MVCC.EndCid[ctx.ChunkOffset]
			tid = ctx.RowTids[ctx.ChunkOffset]
		} else {
			beginCid, endCid, tid = ctx.MVCC.Row(ctx.ChunkOffset)
		}
	}

	if !Visible(beginCid, endCid, tid, ctx.OwnTid, ctx.SnapshotCid) {
		return
	}
	v.next.Consume(ctx)
}
