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

// ColumnStore is the storage-layer collaborator the jit core depends on
// through a narrow method set (spec §6: "typed iterables over value
// segments and dictionary segments... column_is_nullable... get_chunk"),
// mirroring the teacher's executor depending on storage.DataTable through
// a handful of methods rather than the whole package.
type ColumnStore interface {
	ChunkCount() int
	GetChunk(chunkID int) *storage.Chunk
	ColumnNullable(columnID int) bool
	// ColumnPosition maps a stable column ID to its index within a
	// chunk's Segments slice.
	ColumnPosition(columnID int) (int, bool)
	// ColumnDictionary reports whether columnID's schema declares
	// dictionary encoding, making it eligible for the translator's
	// value-ID pushdown rewrite (spec §4.4).
	ColumnDictionary(columnID int) bool
}

// TransactionContext is "the transaction layer" collaborator (spec §6):
// own_tid, snapshot_cid, aborted, on_operator_started/finished.
type TransactionContext interface {
	OwnTid() uint64
	SnapshotCid() uint64
	Aborted() bool
	OnOperatorStarted()
	OnOperatorFinished()
}

// CodeGenerator is the black-box specialization service (spec §1, §6):
// "given an entry function and a compile-time-constant root object, return
// an equivalent specialized function." Root is the *ReadTuples whose
// pointer is burned in as a compile-time constant in a real JIT backend;
// here it identifies the cache key (spec §9's SpecializedFunction cache).
type CodeGenerator interface {
	SpecializeFunction(entrySymbol string, root *ReadTuples, passes int) (ExecuteFunc, bool)
}

// ExecuteFunc is the shape of read_tuples.execute once specialized: it
// takes the root it was specialized against and the active context.
type ExecuteFunc func(root *ReadTuples, ctx *RuntimeContext)

// Result is what after_query hands back: the per-execution metrics only;
// the output table is returned separately by OperatorWrapper.Run
// (spec §9: "replaced by a per-execution Metrics struct returned alongside
// the output table").
type Result struct {
	Metrics Metrics
}

// Metrics replaces the teacher's global times[operator_type] counters
// (spec §9) with a plain per-execution value.
type Metrics struct {
	ChunksProcessed   int
	SpecializedChunks int
	InterpretedChunks int
	RowsIn            int
	RowsOut           int
}
