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

// buildOrdersTable mirrors cmd/jitctl's demo table: id (Int), status
// (dictionary String), amount (Int), across two chunks.
func buildOrdersTable() *storage.Table {
	columns := []storage.ColumnDef{
		{ID: 0, Name: "id", Typ: common.Int},
		{ID: 1, Name: "status", Typ: common.String, Dictionary: true},
		{ID: 2, Name: "amount", Typ: common.Int},
	}
	table := storage.NewTable("orders", columns)
	table.AppendChunk(ordersChunk(
		[]int32{1, 2, 3, 4},
		[]string{"shipped", "pending", "shipped", "cancelled"},
		[]int32{120, 40, 260, 15}))
	table.AppendChunk(ordersChunk(
		[]int32{5, 6, 7},
		[]string{"shipped", "shipped", "pending"},
		[]int32{500, 80, 30}))
	return table
}

func ordersChunk(ids []int32, statuses []string, amounts []int32) *storage.Chunk {
	statusVals := make([]common.Value, len(statuses))
	for i, s := range statuses {
		statusVals[i] = common.StringValue(s)
	}
	return &storage.Chunk{
		Size: len(ids),
		Segments: []storage.Segment{
			storage.NewValueSegment(common.Int, ids),
			storage.NewDictionarySegment(common.String, statusVals),
			storage.NewValueSegment(common.Int, amounts),
		},
	}
}

// buildOrdersPlan builds SELECT id, amount FROM orders WHERE status =
// 'shipped' AND amount >= 100 - a plan whose Filter touches "amount" but
// leaves "id" and the projection's own reads as bare passthroughs. Being
// all-passthrough, it ends in a WriteOffset sink, which reads no slots, so
// "id" is never loaded and needs no ReadValue under lazy-load.
func buildOrdersPlan() *lqp.Node {
	idCol := lqp.Column{ID: 0, Name: "id", Typ: common.Int}
	statusCol := lqp.Column{ID: 1, Name: "status", Typ: common.String}
	amountCol := lqp.Column{ID: 2, Name: "amount", Typ: common.Int}

	statusEq := lqp.BinaryExpr(lqp.Eq, lqp.ColumnExpr(statusCol), lqp.LiteralExpr(common.StringValue("shipped")))
	amountGe := lqp.BinaryExpr(lqp.Ge, lqp.ColumnExpr(amountCol), lqp.LiteralExpr(common.IntValue(100)))
	predicateExpr := lqp.BinaryExpr(lqp.And, statusEq, amountGe)

	predicate := &lqp.Node{
		Kind:     lqp.Predicate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "orders"}},
		Expr:     predicateExpr,
	}
	return &lqp.Node{
		Kind:     lqp.Projection,
		Children: []*lqp.Node{predicate},
		Output:   []lqp.Column{idCol, amountCol},
	}
}

func positionValues(t *testing.T, table *storage.Table, positions []storage.RowPos, segIndex int) []int64 {
	t.Helper()
	out := make([]int64, len(positions))
	for i, pos := range positions {
		out[i] = table.GetChunk(pos.ChunkID).Segments[segIndex].ValueAt(pos.Offset).I64
	}
	return out
}

// TestLazyLoadEquivalence covers spec §8's lazy-load equivalence
// invariant: the same query over the same table produces identical output
// whether ExecutionConfig.LazyLoad is true or false.
func TestLazyLoadEquivalence(t *testing.T) {
	table := buildOrdersTable()

	eager := jit.ExecutionConfig{Jit: true, LazyLoad: false}
	lazy := jit.ExecutionConfig{Jit: true, LazyLoad: true}

	wEager, ok, err := jit.Translate(buildOrdersPlan(), eager, table, specializer.New())
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = wEager.Run(table, fakeTxn{}, nil)
	require.NoError(t, err)
	eagerPositions := wEager.Sink.(*jit.WriteOffset).Positions()

	wLazy, ok, err := jit.Translate(buildOrdersPlan(), lazy, table, specializer.New())
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = wLazy.Run(table, fakeTxn{}, nil)
	require.NoError(t, err)
	lazyPositions := wLazy.Sink.(*jit.WriteOffset).Positions()

	require.NotEmpty(t, eagerPositions, "fixture must exercise at least one surviving row")
	assert.Equal(t, eagerPositions, lazyPositions)

	eagerIDs := positionValues(t, table, eagerPositions, 0)
	lazyIDs := positionValues(t, table, lazyPositions, 0)
	assert.Equal(t, eagerIDs, lazyIDs)
	assert.Equal(t, []int64{1, 3, 5}, eagerIDs, "shipped orders with amount>=100: ids 1, 3, 5")
}

// TestSpecializationEquivalence covers spec §8's specialization-equivalence
// invariant: running with Interpret true vs false against the same
// CodeGenerator produces identical output, since this generator's
// SpecializeFunction always resolves to the interpreted closure.
func TestSpecializationEquivalence(t *testing.T) {
	table := buildOrdersTable()
	gen := specializer.New()

	interpretCfg := jit.ExecutionConfig{Jit: true, LazyLoad: true, Interpret: true}
	specializeCfg := jit.ExecutionConfig{Jit: true, LazyLoad: true, Interpret: false}

	wInterp, ok, err := jit.Translate(buildOrdersPlan(), interpretCfg, table, gen)
	require.NoError(t, err)
	require.True(t, ok)
	_, resultInterp, err := wInterp.Run(table, fakeTxn{}, nil)
	require.NoError(t, err)
	positionsInterp := wInterp.Sink.(*jit.WriteOffset).Positions()

	wSpecialized, ok, err := jit.Translate(buildOrdersPlan(), specializeCfg, table, gen)
	require.NoError(t, err)
	require.True(t, ok)
	_, resultSpecialized, err := wSpecialized.Run(table, fakeTxn{}, nil)
	require.NoError(t, err)
	positionsSpecialized := wSpecialized.Sink.(*jit.WriteOffset).Positions()

	assert.Equal(t, positionsInterp, positionsSpecialized)
	assert.Equal(t, 0, resultInterp.Metrics.SpecializedChunks, "Interpret:true must never take the specialized path")
	assert.Equal(t, resultInterp.Metrics.ChunksProcessed, resultSpecialized.Metrics.SpecializedChunks,
		"Interpret:false with a healthy code generator must specialize every chunk")
}

// buildComputedProjectionPlan builds SELECT id + 0, amount FROM orders
// WHERE id > -1 (always true): one computed output column forces
// buildChain's WriteTuples path, and "amount" rides along as a passthrough
// never touched by the predicate (which reads "id") or any Compute -
// exactly the case DESIGN.md's "lazy-load rewrite missing the sink's own
// reads" entry covers.
func buildComputedProjectionPlan() *lqp.Node {
	idCol := lqp.Column{ID: 0, Name: "id", Typ: common.Int}
	amountCol := lqp.Column{ID: 2, Name: "amount", Typ: common.Int}

	alwaysTrue := lqp.BinaryExpr(lqp.Gt, lqp.ColumnExpr(idCol), lqp.LiteralExpr(common.IntValue(-1)))
	predicate := &lqp.Node{
		Kind:     lqp.Predicate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "orders"}},
		Expr:     alwaysTrue,
	}
	return &lqp.Node{
		Kind:     lqp.Projection,
		Children: []*lqp.Node{predicate},
		Expr:     lqp.BinaryExpr(lqp.Add, lqp.ColumnExpr(idCol), lqp.LiteralExpr(common.IntValue(0))),
		Output: []lqp.Column{
			{ID: -1, Name: "id_plus", Typ: common.Long},
			amountCol,
		},
	}
}

// abortedTxn is a jit.TransactionContext that is already aborted before
// Run starts.
type abortedTxn struct{}

func (abortedTxn) OwnTid() uint64      { return 1 }
func (abortedTxn) SnapshotCid() uint64 { return 1000 }
func (abortedTxn) Aborted() bool       { return true }
func (abortedTxn) OnOperatorStarted()  {}
func (abortedTxn) OnOperatorFinished() {}

var _ jit.TransactionContext = abortedTxn{}

// TestRun_AbortedTransaction covers spec §5: an already-aborted
// transaction yields no output and no error, with zero chunks touched -
// there is no mid-query cancellation once Run has started.
func TestRun_AbortedTransaction(t *testing.T) {
	table := buildOrdersTable()

	wrapper, ok, err := jit.Translate(buildOrdersPlan(), defaultCfg(), table, specializer.New())
	require.NoError(t, err)
	require.True(t, ok)

	out, result, err := wrapper.Run(table, abortedTxn{}, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Metrics.ChunksProcessed)
	assert.Equal(t, 0, result.Metrics.RowsIn)
}

func writeTuplesRows(t *testing.T, out *storage.Table) [][2]int64 {
	t.Helper()
	var rows [][2]int64
	for _, chunk := range out.Chunks {
		for row := 0; row < chunk.Size; row++ {
			rows = append(rows, [2]int64{
				chunk.Segments[0].ValueAt(row).I64,
				chunk.Segments[1].ValueAt(row).I64,
			})
		}
	}
	return rows
}

// TestLazyLoadEquivalence_WriteTuples exercises the WriteTuples sink path
// of the lazy-load fix: "amount" is a passthrough output column that no
// Compute/Filter ever reads, so it only gets loaded via the sink-aware
// trailing ReadValue rewriteLazyLoad now inserts.
func TestLazyLoadEquivalence_WriteTuples(t *testing.T) {
	table := buildOrdersTable()

	eager := jit.ExecutionConfig{Jit: true, LazyLoad: false}
	lazy := jit.ExecutionConfig{Jit: true, LazyLoad: true}

	wEager, ok, err := jit.Translate(buildComputedProjectionPlan(), eager, table, specializer.New())
	require.NoError(t, err)
	require.True(t, ok)
	outEager, _, err := wEager.Run(table, fakeTxn{}, nil)
	require.NoError(t, err)

	wLazy, ok, err := jit.Translate(buildComputedProjectionPlan(), lazy, table, specializer.New())
	require.NoError(t, err)
	require.True(t, ok)
	outLazy, _, err := wLazy.Run(table, fakeTxn{}, nil)
	require.NoError(t, err)

	rowsEager := writeTuplesRows(t, outEager)
	rowsLazy := writeTuplesRows(t, outLazy)

	require.Len(t, rowsEager, 7)
	assert.Equal(t, rowsEager, rowsLazy)
	assert.Equal(t, [][2]int64{{1, 120}, {2, 40}, {3, 260}, {4, 15}, {5, 500}, {6, 80}, {7, 30}}, rowsLazy)
}

// TestRun_DivisionByZero covers spec §7's error-handling contract for a
// zero integer divisor: it surfaces as a returned error, not an
// unrecovered Go runtime panic, and the query produces no output table.
func TestRun_DivisionByZero(t *testing.T) {
	columns := []storage.ColumnDef{
		{ID: 0, Name: "id", Typ: common.Int},
		{ID: 1, Name: "denom", Typ: common.Int},
	}
	table := storage.NewTable("t", columns)
	table.AppendChunk(&storage.Chunk{
		Size: 3,
		Segments: []storage.Segment{
			storage.NewValueSegment(common.Int, []int32{10, 20, 30}),
			storage.NewValueSegment(common.Int, []int32{2, 0, 5}),
		},
	})

	idCol := lqp.Column{ID: 0, Name: "id", Typ: common.Int}
	denomCol := lqp.Column{ID: 1, Name: "denom", Typ: common.Int}
	alwaysTrue := lqp.BinaryExpr(lqp.Gt, lqp.ColumnExpr(idCol), lqp.LiteralExpr(common.IntValue(0)))
	predicate := &lqp.Node{
		Kind:     lqp.Predicate,
		Children: []*lqp.Node{{Kind: lqp.TableScan, TableName: "t"}},
		Expr:     alwaysTrue,
	}
	root := &lqp.Node{
		Kind:     lqp.Projection,
		Children: []*lqp.Node{predicate},
		Expr:     lqp.BinaryExpr(lqp.Div, lqp.ColumnExpr(idCol), lqp.ColumnExpr(denomCol)),
		Output:   []lqp.Column{{ID: -1, Name: "quotient", Typ: common.Long}},
	}

	wrapper, ok, err := jit.Translate(root, defaultCfg(), table, specializer.New())
	require.NoError(t, err)
	require.True(t, ok)

	out, result, err := wrapper.Run(table, fakeTxn{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, jit.ErrDivisionByZero)
	assert.Nil(t, out)
	assert.Nil(t, result)
}
