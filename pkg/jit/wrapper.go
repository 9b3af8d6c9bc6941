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
	"errors"
	"sort"
	"sync"

	"github.com/huandu/go-clone"

	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/daviszhen/jitquery/pkg/storage"
)

// OperatorWrapper drives one fused chain end-to-end: before_query, the
// per-chunk specialized-or-interpreted execute dispatch, after_chunk, and
// the final after_query (spec §4.2, §9's OperatorWrapper +
// SpecializedFunction cache design note).
type OperatorWrapper struct {
	Source *ReadTuples
	Chain  []Operator
	Sink   Sink

	cfg     ExecutionConfig
	codeGen CodeGenerator

	// cache holds the code generator's result, built once per fused chain
	// and shared across deep-copies of this wrapper (spec §9: "model this
	// as an arc-like shared container owned by all copies of the
	// wrapper") - one goroutine per copy can run the same specialized
	// chain concurrently over disjoint chunks without re-specializing.
	cache *specializeCache
}

type specializeCache struct {
	mu              sync.Mutex
	specialized     ExecuteFunc
	specializedOK   bool
	triedSpecialize bool
}

// sinkAdapter bridges the chain's last tail-call into the sink's per-row
// accumulation method. Sink deliberately has no Consume of its own (a sink
// never has a successor), so this is the one place the two meet.
type sinkAdapter struct {
	base
	sink Sink
}

func (s *sinkAdapter) Description() string             { return "Sink(" + s.sink.Description() + ")" }
func (s *sinkAdapter) AccessedColumnIDs() map[int]bool { return nil }
func (s *sinkAdapter) Consume(ctx *RuntimeContext) {
	ctx.Metrics.RowsOut++
	s.sink.consumeRow(ctx)
}

// NewOperatorWrapper assembles a chain built by the translator into a
// runnable wrapper: it performs the lazy-load rewrite (spec §4.2) when
// cfg.LazyLoad is set, otherwise falls back to eager per-row loading of
// every input column, then links Source -> chain -> sink.
func NewOperatorWrapper(source *ReadTuples, chain []Operator, sink Sink, cfg ExecutionConfig, codeGen CodeGenerator) *OperatorWrapper {
	w := &OperatorWrapper{Source: source, Sink: sink, cfg: cfg, codeGen: codeGen, cache: &specializeCache{}}
	if cfg.LazyLoad {
		w.Chain = rewriteLazyLoad(source, chain, sink)
	} else {
		source.EagerLoad = true
		w.Chain = chain
	}
	w.link()
	return w
}

// Clone deep-copies Source, Chain and Sink so the copy can run against its
// own RuntimeContext concurrently with the original (spec §4.2's per-
// execution state living in RuntimeContext, not in the operator tree
// itself, is exactly what makes this safe) - grounded on the teacher's
// pkg/compute/expr.go use of the same package to deep-copy expression
// trees. The specialize cache is shared, not cloned: both copies run the
// identical fused chain, so there is no reason to pay for specialization
// twice.
func (w *OperatorWrapper) Clone() *OperatorWrapper {
	// One Slowly call over all three parts keeps shared pointers shared
	// (a ReadValue's Source is the copy's own Source) and copes with the
	// Source -> op -> Source cycle that link() and ReadValue create.
	parts := clone.Slowly([]any{w.Source, w.Chain, w.Sink}).([]any)
	cp := &OperatorWrapper{
		Source:  parts[0].(*ReadTuples),
		Chain:   parts[1].([]Operator),
		Sink:    parts[2].(Sink),
		cfg:     w.cfg,
		codeGen: w.codeGen,
		cache:   w.cache,
	}
	cp.link()
	return cp
}

func (w *OperatorWrapper) link() {
	var prev Operator = w.Source
	for _, op := range w.Chain {
		prev.SetNext(op)
		prev = op
	}
	prev.SetNext(&sinkAdapter{sink: w.Sink})
}

// rewriteLazyLoad fuses each raw input column's single read into the first
// operator that needs it: embedded directly into a Compute/Filter when that
// operator is the column's only reader anywhere in the chain and the column
// is the operator's only still-unloaded slot, or via an inserted ReadValue
// operator at its first use otherwise (spec §4.2, §9
// lazy-load design note). Literal and parameter slots are already
// materialized before the per-row loop starts, so they never need a load
// here regardless of how many operators reference them. The sink's own
// accessed slots (a WriteTuples passthrough column, or an Aggregate
// group-by/argument column never touched by any Compute/Filter) count
// toward usage and, if still unloaded once the chain is rewritten, get a
// trailing ReadValue of their own - the sink has no Load field to embed
// into, unlike Compute/Filter.
func rewriteLazyLoad(source *ReadTuples, chain []Operator, sink Sink) []Operator {
	loaded := make(map[int]bool, len(source.Literals)+len(source.Parameters))
	for _, lit := range source.Literals {
		loaded[lit.Slot.Slot] = true
	}
	for _, p := range source.Parameters {
		loaded[p.Slot.Slot] = true
	}

	usageCount := make(map[int]int)
	for _, op := range chain {
		for slot := range op.AccessedColumnIDs() {
			if !loaded[slot] {
				usageCount[slot]++
			}
		}
	}
	for slot := range sink.AccessedColumnIDs() {
		if !loaded[slot] {
			usageCount[slot]++
		}
	}

	columnIndexForSlot := func(slot int) (int, bool) {
		for i, ic := range source.InputColumns {
			if ic.Slot.Slot == slot {
				return i, true
			}
		}
		return -1, false
	}

	out := make([]Operator, 0, len(chain)+len(source.InputColumns))
	for _, op := range chain {
		pending := make([]int, 0)
		for slot := range op.AccessedColumnIDs() {
			if !loaded[slot] {
				pending = append(pending, slot)
			}
		}
		sort.Ints(pending)

		embeddable := func() (int, bool) {
			if len(pending) != 1 {
				return 0, false
			}
			if usageCount[pending[0]] != 1 {
				return 0, false
			}
			return columnIndexForSlot(pending[0])
		}

		switch o := op.(type) {
		case *Compute:
			if ci, ok := embeddable(); ok {
				o.Load = embeddedLoad{active: true, columnIndex: ci}
				loaded[pending[0]] = true
				pending = nil
			}
		case *Filter:
			if ci, ok := embeddable(); ok {
				o.Load = embeddedLoad{active: true, columnIndex: ci}
				loaded[pending[0]] = true
				pending = nil
			}
		}

		for _, slot := range pending {
			ci, ok := columnIndexForSlot(slot)
			if !ok {
				continue
			}
			out = append(out, &ReadValue{Source: source, ColumnIndex: ci})
			loaded[slot] = true
		}
		out = append(out, op)
	}

	sinkPending := make([]int, 0)
	for slot := range sink.AccessedColumnIDs() {
		if !loaded[slot] {
			sinkPending = append(sinkPending, slot)
		}
	}
	sort.Ints(sinkPending)
	for _, slot := range sinkPending {
		ci, ok := columnIndexForSlot(slot)
		if !ok {
			continue
		}
		out = append(out, &ReadValue{Source: source, ColumnIndex: ci})
		loaded[slot] = true
	}
	return out
}

// Run executes the whole query against store: before_query, every chunk in
// order (specialized when possible, interpreted otherwise, per-chunk
// same_type gate from BeforeChunk), after_chunk, then after_query (spec
// §4.2's top-level driver). The transaction context is consulted for
// abortion exactly once, before any chunk is touched - there is no mid-
// query cancellation (spec §5); an already-aborted transaction yields no
// output and no error, mirroring the original C++ abstract_operator.cpp bare
// return on an aborted context.
func (w *OperatorWrapper) Run(store ColumnStore, txn TransactionContext, params []common.Value) (resTable *storage.Table, res *Result, resErr error) {
	ctx := &RuntimeContext{
		OwnTid:      txn.OwnTid(),
		SnapshotCid: txn.SnapshotCid(),
	}

	// A zero divisor is data-dependent, not a translation bug, and
	// jitexpr.Compute has no error return on its per-row path to report it
	// through - it panics with ErrDivisionByZero instead, recovered here
	// and turned back into the normal returned-error fatal path (spec §7).
	var chunkInFlight bool
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && errors.Is(err, ErrDivisionByZero) {
				if chunkInFlight {
					txn.OnOperatorFinished()
				}
				resTable, res, resErr = nil, nil, err
				return
			}
			panic(r)
		}
	}()

	if txn.Aborted() {
		return nil, &Result{Metrics: ctx.Metrics}, nil
	}

	if err := w.Source.BeforeQuery(store, params, ctx); err != nil {
		return nil, nil, err
	}
	if err := w.Sink.BeforeQuery(ctx); err != nil {
		return nil, nil, err
	}

	for chunkID := 0; chunkID < store.ChunkCount(); chunkID++ {
		txn.OnOperatorStarted()
		chunkInFlight = true

		sameType, err := w.Source.BeforeChunk(chunkID, ctx)
		if err != nil {
			txn.OnOperatorFinished()
			return nil, nil, err
		}
		ctx.Metrics.ChunksProcessed++
		ctx.Metrics.RowsIn += ctx.ChunkSize

		w.executeChunk(ctx, sameType)

		w.Sink.AfterChunk(ctx)
		txn.OnOperatorFinished()
		chunkInFlight = false

		if ctx.Stopped() {
			break
		}
	}

	table, result, err := w.Sink.AfterQuery(ctx)
	if err != nil {
		return nil, nil, err
	}
	result.Metrics = ctx.Metrics
	return table, result, nil
}

// executeChunk picks between the specialized and interpreted code path for
// one chunk. Specialization is only attempted when the engine is jit-
// enabled, not forced into interpret mode, and the chunk's segment layout
// matched what the source assumed (spec §1, §4.2, §4.3's same_type gate).
func (w *OperatorWrapper) executeChunk(ctx *RuntimeContext, sameType bool) {
	if w.cfg.Jit && !w.cfg.Interpret && sameType {
		if fn, ok := w.resolveSpecialized(); ok {
			fn(w.Source, ctx)
			ctx.Metrics.SpecializedChunks++
			return
		}
	}
	w.Source.Execute(ctx)
	ctx.Metrics.InterpretedChunks++
}

// resolveSpecialized asks the code generator once and caches the result,
// shared across any deep-copies of this wrapper (spec §9). Two passes are
// requested iff the sink is aggregate, matching its nested-loop evaluation
// shape (spec §4.6/§9).
func (w *OperatorWrapper) resolveSpecialized() (ExecuteFunc, bool) {
	if w.codeGen == nil {
		return nil, false
	}
	c := w.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.triedSpecialize {
		return c.specialized, c.specializedOK
	}
	passes := 1
	if _, ok := w.Sink.(*Aggregate); ok {
		passes = 2
	}
	c.specialized, c.specializedOK = w.codeGen.SpecializeFunction("read_tuples_execute", w.Source, passes)
	c.triedSpecialize = true
	return c.specialized, c.specializedOK
}
