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

package jit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/daviszhen/jitquery/pkg/jit"
	"github.com/daviszhen/jitquery/pkg/lqp"
	"github.com/daviszhen/jitquery/pkg/specializer"
	"github.com/daviszhen/jitquery/pkg/storage"
)

// fakeTxn is the minimal jit.TransactionContext these tests need: a
// single, never-aborted transaction whose snapshot sees every row these
// fixtures write with begin_cid 0.
type fakeTxn struct{}

func (fakeTxn) OwnTid() uint64      { return 1 }
func (fakeTxn) SnapshotCid() uint64 { return 1000 }
func (fakeTxn) Aborted() bool       { return false }
func (fakeTxn) OnOperatorStarted()  {}
func (fakeTxn) OnOperatorFinished() {}

var _ jit.TransactionContext = fakeTxn{}

func intValues(vs ...int32) []common.Value {
	out := make([]common.Value, len(vs))
	for i, v := range vs {
		out[i] = common.IntValue(v)
	}
	return out
}

func defaultCfg() jit.ExecutionConfig {
	return jit.ExecutionConfig{Jit: true, LazyLoad: true}
}

// runOffsets translates root against store and, assuming it produces a
// WriteOffset sink, returns the surviving (chunk_id, offset) positions in
// encounter order.
func runOffsets(t *testing.T, store *storage.Table, root *lqp.Node, cfg jit.ExecutionConfig) []storage.RowPos {
	t.Helper()
	wrapper, ok, err := jit.Translate(root, cfg, store, specializer.New())
	require.NoError(t, err)
	require.True(t, ok, "expected plan to translate into a fused chain")

	_, _, err = wrapper.Run(store, fakeTxn{}, nil)
	require.NoError(t, err)

	wo, ok := wrapper.Sink.(*jit.WriteOffset)
	require.True(t, ok, "expected an all-passthrough plan to pick WriteOffset")
	return wo.Positions()
}

// TestTranslate_DictionaryFilter covers spec §8 scenario 1: WHERE a >= 3
// over a dictionary-encoded column rewrites to a value-ID lower_bound
// comparison, keeping every row whose code is >= lower_bound(3).
func TestTranslate_DictionaryFilter(t *testing.T) {
	columns := []storage.ColumnDef{{ID: 0, Name: "a", Typ: common.Int, Dictionary: true}}
	table := storage.NewTable("t", columns)
	seg := storage.NewDictionarySegment(common.Int, intValues(1, 3, 3, 5, 7, 9))
	table.AppendChunk(&storage.Chunk{Size: 6, Segments: []storage.Segment{seg}})

	aCol := lqp.Column{ID: 0, Name: "a", Typ: common.Int}
	predicate := &lqp.Node{
		Kind:     lqp.Predicate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "t"}},
		Expr:     lqp.BinaryExpr(lqp.Ge, lqp.ColumnExpr(aCol), lqp.LiteralExpr(common.IntValue(3))),
	}
	root := &lqp.Node{
		Kind:     lqp.Projection,
		Children: []*lqp.Node{predicate},
		Output:   []lqp.Column{aCol},
	}

	positions := runOffsets(t, table, root, defaultCfg())
	require.Len(t, positions, 5)
	for i, pos := range positions {
		assert.Equal(t, 0, pos.ChunkID)
		assert.Equal(t, i+1, pos.Offset, "rows at indices 1..5 (values 3,3,5,7,9) must survive in order")
	}
}

// TestTranslate_DictionaryFilter_LiteralOnLeft covers the same row set as
// TestTranslate_DictionaryFilter but with the literal written on the left
// of the comparison (WHERE 3 <= a, equivalent to a >= 3): the value-ID
// rewrite must mirror the operator to the column's side before
// canonicalizing, and must not re-flip the built expression's operand
// order afterward.
func TestTranslate_DictionaryFilter_LiteralOnLeft(t *testing.T) {
	columns := []storage.ColumnDef{{ID: 0, Name: "a", Typ: common.Int, Dictionary: true}}
	table := storage.NewTable("t", columns)
	seg := storage.NewDictionarySegment(common.Int, intValues(1, 3, 3, 5, 7, 9))
	table.AppendChunk(&storage.Chunk{Size: 6, Segments: []storage.Segment{seg}})

	aCol := lqp.Column{ID: 0, Name: "a", Typ: common.Int}
	predicate := &lqp.Node{
		Kind:     lqp.Predicate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "t"}},
		Expr:     lqp.BinaryExpr(lqp.Le, lqp.LiteralExpr(common.IntValue(3)), lqp.ColumnExpr(aCol)),
	}
	root := &lqp.Node{
		Kind:     lqp.Projection,
		Children: []*lqp.Node{predicate},
		Output:   []lqp.Column{aCol},
	}

	positions := runOffsets(t, table, root, defaultCfg())
	require.Len(t, positions, 5)
	for i, pos := range positions {
		assert.Equal(t, 0, pos.ChunkID)
		assert.Equal(t, i+1, pos.Offset, "rows at indices 1..5 (values 3,3,5,7,9) must survive in order")
	}
}

// TestTranslate_Between covers spec §8 scenario 2: a BETWEEN 2 AND 8
// decomposes into a >= 2 AND a <= 8, and a <= 8 is canonicalized to a < 9
// via upper_bound(8) over the dictionary.
func TestTranslate_Between(t *testing.T) {
	columns := []storage.ColumnDef{{ID: 0, Name: "a", Typ: common.Int, Dictionary: true}}
	table := storage.NewTable("t", columns)
	seg := storage.NewDictionarySegment(common.Int, intValues(0, 2, 4, 6, 8, 10))
	table.AppendChunk(&storage.Chunk{Size: 6, Segments: []storage.Segment{seg}})

	aCol := lqp.Column{ID: 0, Name: "a", Typ: common.Int}
	predicate := &lqp.Node{
		Kind:     lqp.Predicate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "t"}},
		Expr: lqp.BetweenExpr(lqp.ColumnExpr(aCol),
			lqp.LiteralExpr(common.IntValue(2)), lqp.LiteralExpr(common.IntValue(8))),
	}
	root := &lqp.Node{
		Kind:     lqp.Projection,
		Children: []*lqp.Node{predicate},
		Output:   []lqp.Column{aCol},
	}

	positions := runOffsets(t, table, root, defaultCfg())
	require.Len(t, positions, 4)
	wantOffsets := []int{1, 2, 3, 4}
	for i, pos := range positions {
		assert.Equal(t, 0, pos.ChunkID)
		assert.Equal(t, wantOffsets[i], pos.Offset)
	}
}

// TestTranslate_LiteralNotInDictionary covers spec §8 scenario 3: a
// literal absent from the dictionary resolves to the MaxValueID sentinel
// (storage.MaxValueID) and yields zero rows, not a translation error.
func TestTranslate_LiteralNotInDictionary(t *testing.T) {
	columns := []storage.ColumnDef{{ID: 0, Name: "a", Typ: common.Int, Dictionary: true}}
	table := storage.NewTable("t", columns)
	seg := storage.NewDictionarySegment(common.Int, intValues(10, 20, 30))
	table.AppendChunk(&storage.Chunk{Size: 3, Segments: []storage.Segment{seg}})

	aCol := lqp.Column{ID: 0, Name: "a", Typ: common.Int}
	predicate := &lqp.Node{
		Kind:     lqp.Predicate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "t"}},
		Expr:     lqp.BinaryExpr(lqp.Eq, lqp.ColumnExpr(aCol), lqp.LiteralExpr(common.IntValue(15))),
	}
	root := &lqp.Node{
		Kind:     lqp.Projection,
		Children: []*lqp.Node{predicate},
		Output:   []lqp.Column{aCol},
	}

	positions := runOffsets(t, table, root, defaultCfg())
	assert.Empty(t, positions)
}

// TestTranslate_Limit covers spec §8 scenario 5: LIMIT 3 over a
// always-true predicate truncates the output to the first 3 rows in
// (chunk_id, chunk_offset) order; the table has two chunks and the limit
// is reached inside the first.
func TestTranslate_Limit(t *testing.T) {
	columns := []storage.ColumnDef{{ID: 0, Name: "id", Typ: common.Int}}
	table := storage.NewTable("t", columns)
	table.AppendChunk(&storage.Chunk{Size: 3, Segments: []storage.Segment{storage.NewValueSegment(common.Int, []int32{10, 20, 30})}})
	table.AppendChunk(&storage.Chunk{Size: 2, Segments: []storage.Segment{storage.NewValueSegment(common.Int, []int32{40, 50})}})

	idCol := lqp.Column{ID: 0, Name: "id", Typ: common.Int}
	predicate := &lqp.Node{
		Kind:     lqp.Predicate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "t"}},
		Expr:     lqp.BinaryExpr(lqp.Gt, lqp.ColumnExpr(idCol), lqp.LiteralExpr(common.IntValue(0))),
	}
	root := &lqp.Node{
		Kind:          lqp.Limit,
		Children:      []*lqp.Node{predicate},
		LimitRowCount: lqp.LiteralExpr(common.IntValue(3)),
		Output:        []lqp.Column{idCol},
	}

	positions := runOffsets(t, table, root, defaultCfg())
	require.Len(t, positions, 3)
	assert.Equal(t, storage.RowPos{ChunkID: 0, Offset: 0}, positions[0])
	assert.Equal(t, storage.RowPos{ChunkID: 0, Offset: 1}, positions[1])
	assert.Equal(t, storage.RowPos{ChunkID: 0, Offset: 2}, positions[2])
}

// TestTranslate_Aggregate covers spec §8 scenario 6: GROUP BY k with
// SUM(v) and COUNT(*), order-irrelevant across groups.
func TestTranslate_Aggregate(t *testing.T) {
	columns := []storage.ColumnDef{
		{ID: 0, Name: "k", Typ: common.Int},
		{ID: 1, Name: "v", Typ: common.Int},
	}
	table := storage.NewTable("t", columns)
	table.AppendChunk(&storage.Chunk{
		Size: 5,
		Segments: []storage.Segment{
			storage.NewValueSegment(common.Int, []int32{1, 2, 1, 2, 3}),
			storage.NewValueSegment(common.Int, []int32{10, 5, 7, 5, 1}),
		},
	})

	kCol := lqp.Column{ID: 0, Name: "k", Typ: common.Int}
	vCol := lqp.Column{ID: 1, Name: "v", Typ: common.Int}
	root := &lqp.Node{
		Kind:     lqp.Aggregate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "t"}},
		GroupBy:  []*lqp.Expr{lqp.ColumnExpr(kCol)},
		Aggregates: []*lqp.AggregateExpr{
			{Func: lqp.Sum, Arg: lqp.ColumnExpr(vCol), Name: "sum_v"},
			{Func: lqp.CountStar, Name: "count_star"},
		},
	}

	wrapper, ok, err := jit.Translate(root, defaultCfg(), table, specializer.New())
	require.NoError(t, err)
	require.True(t, ok)

	out, _, err := wrapper.Run(table, fakeTxn{}, nil)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Len(t, out.Chunks, 1)

	chunk := out.Chunks[0]
	require.Equal(t, 3, chunk.Size)

	got := make(map[int64][2]int64) // k -> (sum_v, count_star)
	for row := 0; row < chunk.Size; row++ {
		k := chunk.Segments[0].ValueAt(row).I64
		sum := chunk.Segments[1].ValueAt(row).I64
		cnt := chunk.Segments[2].ValueAt(row).I64
		got[k] = [2]int64{sum, cnt}
	}

	assert.Equal(t, map[int64][2]int64{
		1: {17, 2},
		2: {10, 2},
		3: {1, 1},
	}, got)
}

// TestTranslate_AggregateMinMaxString covers MIN/MAX over a non-numeric
// aggregate argument: the output column must keep the argument's own
// declared type (String here) instead of being reinterpreted as Long.
func TestTranslate_AggregateMinMaxString(t *testing.T) {
	columns := []storage.ColumnDef{
		{ID: 0, Name: "k", Typ: common.Int},
		{ID: 1, Name: "name", Typ: common.String},
	}
	table := storage.NewTable("t", columns)
	table.AppendChunk(&storage.Chunk{
		Size: 4,
		Segments: []storage.Segment{
			storage.NewValueSegment(common.Int, []int32{1, 1, 2, 2}),
			storage.NewValueSegment(common.String, []string{"bob", "alice", "zeb", "amy"}),
		},
	})

	kCol := lqp.Column{ID: 0, Name: "k", Typ: common.Int}
	nameCol := lqp.Column{ID: 1, Name: "name", Typ: common.String}
	root := &lqp.Node{
		Kind:     lqp.Aggregate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "t"}},
		GroupBy:  []*lqp.Expr{lqp.ColumnExpr(kCol)},
		Aggregates: []*lqp.AggregateExpr{
			{Func: lqp.Min, Arg: lqp.ColumnExpr(nameCol), Name: "min_name"},
			{Func: lqp.Max, Arg: lqp.ColumnExpr(nameCol), Name: "max_name"},
		},
	}

	wrapper, ok, err := jit.Translate(root, defaultCfg(), table, specializer.New())
	require.NoError(t, err)
	require.True(t, ok)

	out, _, err := wrapper.Run(table, fakeTxn{}, nil)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Len(t, out.Chunks, 1)

	chunk := out.Chunks[0]
	require.Equal(t, 2, chunk.Size)

	got := make(map[int64][2]string) // k -> (min_name, max_name)
	for row := 0; row < chunk.Size; row++ {
		k := chunk.Segments[0].ValueAt(row).I64
		min := chunk.Segments[1].ValueAt(row).Str
		max := chunk.Segments[2].ValueAt(row).Str
		got[k] = [2]string{min, max}
	}

	assert.Equal(t, map[int64][2]string{
		1: {"alice", "bob"},
		2: {"amy", "zeb"},
	}, got)
}

// TestTranslate_SlotDeterminism covers spec §8's slot-determinism
// invariant: re-translating the same LQP allocates an identical set of
// slots, since ReadTuples' allocators are purely a function of the nodes
// they're invoked on, in order.
func TestTranslate_SlotDeterminism(t *testing.T) {
	columns := []storage.ColumnDef{{ID: 0, Name: "a", Typ: common.Int, Dictionary: true}}
	table := storage.NewTable("t", columns)
	seg := storage.NewDictionarySegment(common.Int, intValues(1, 3, 3, 5, 7, 9))
	table.AppendChunk(&storage.Chunk{Size: 6, Segments: []storage.Segment{seg}})

	build := func() *lqp.Node {
		aCol := lqp.Column{ID: 0, Name: "a", Typ: common.Int}
		predicate := &lqp.Node{
			Kind:     lqp.Predicate,
			Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "t"}},
			Expr:     lqp.BinaryExpr(lqp.Ge, lqp.ColumnExpr(aCol), lqp.LiteralExpr(common.IntValue(3))),
		}
		return &lqp.Node{Kind: lqp.Projection, Children: []*lqp.Node{predicate}, Output: []lqp.Column{aCol}}
	}

	w1, ok1, err1 := jit.Translate(build(), defaultCfg(), table, specializer.New())
	require.NoError(t, err1)
	require.True(t, ok1)
	w2, ok2, err2 := jit.Translate(build(), defaultCfg(), table, specializer.New())
	require.NoError(t, err2)
	require.True(t, ok2)

	assert.Equal(t, w1.Source.NumSlots(), w2.Source.NumSlots())
	assert.Equal(t, w1.Source.InputColumns, w2.Source.InputColumns)
	assert.Equal(t, w1.Source.ValueIDPredicates, w2.Source.ValueIDPredicates)
}
