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
	"fmt"

	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/daviszhen/jitquery/pkg/jitexpr"
	"github.com/daviszhen/jitquery/pkg/storage"
)

// InputColumn is the input column descriptor (spec §3): which stored
// column, its declared type, the slot it is materialized into, and
// whether that slot holds a ValueID instead of the natively typed value.
type InputColumn struct {
	ColumnID   int
	Typ        common.DataType
	Slot       jitexpr.TupleValue
	UseValueID bool
}

// InputLiteral is the literal descriptor (spec §3); value-ID literals are
// re-materialized per chunk from that chunk's dictionary (§4.4), so their
// Value field here only holds the native literal pending that rewrite.
type InputLiteral struct {
	Value      common.Value
	Slot       jitexpr.TupleValue
	UseValueID bool
}

type InputParameter struct {
	ParamID    int
	Typ        common.DataType
	Slot       jitexpr.TupleValue
	UseValueID bool
}

// ValueIDBoundKind selects which std::lower_bound/upper_bound-style
// lookup resolves a value-ID predicate's comparison value (spec §4.4 step
// 3). It is determined by the *original*, pre-flip comparison operator,
// which is why it is tracked separately from Op (the canonical,
// post-flip operator the rewritten expression actually evaluates).
type ValueIDBoundKind int

const (
	EqualityBound ValueIDBoundKind = iota // Equals/NotEquals: lower_bound with a not-found check
	LowerBoundKind                        // original <, ≥
	UpperBoundKind                        // original ≤, > (flipped to <, ≥ in Op)
)

// ValueIDPredicate is the value-ID predicate record (spec §3, §4.4):
// which input column, the rewritten (canonical) comparison op actually
// evaluated at runtime, which bound lookup produces the comparison value,
// and which operand (literal xor parameter) supplies it. LiteralIndex/
// ParameterIndex are -1 when not applicable.
type ValueIDPredicate struct {
	InputColumnIndex int
	Op               jitexpr.ExprKind
	Bound            ValueIDBoundKind
	LiteralIndex     int
	ParameterIndex   int
}

// ReadTuples is the chain's source operator (spec §4.3): it owns slot
// allocation, the value-ID predicate registry, and the per-row driving
// loop. Grounded on jit_read_tuples.{hpp,cpp} from original_source/ (the
// idempotency keys and the reverse-search-free design are documented in
// SPEC_FULL.md §9).
type ReadTuples struct {
	base

	Arena *jitexpr.Arena

	InputColumns      []InputColumn
	Literals          []InputLiteral
	Parameters        []InputParameter
	ValueIDPredicates []ValueIDPredicate

	numSlots int

	// UseValidate is true when the chain includes a validate operator;
	// it governs whether BeforeChunk binds MVCC context at all (spec
	// §4.5: "has_validate" gate in jit_read_tuples.cpp).
	UseValidate bool

	// RowCountNode is the arena index of the LIMIT row-count expression,
	// or -1 if the chain has no limit (spec §4.3).
	RowCountNode int

	// EagerLoad is set by the wrapper when lazy_load is disabled: every
	// input column is then loaded by the source itself before each
	// next.Consume (spec §4.3 "eager mode").
	EagerLoad bool

	cfg   ExecutionConfig
	store ColumnStore

	readers []storage.Segment // parallel to InputColumns, rebuilt per chunk
}

func NewReadTuples(cfg ExecutionConfig) *ReadTuples {
	return &ReadTuples{Arena: &jitexpr.Arena{}, RowCountNode: -1, cfg: cfg}
}

func (r *ReadTuples) Description() string { return "ReadTuples" }

func (r *ReadTuples) AccessedColumnIDs() map[int]bool { return nil }

func (r *ReadTuples) Consume(ctx *RuntimeContext) {
	panic("jit: ReadTuples.Consume must not be called directly; drive rows via Execute")
}

func (r *ReadTuples) allocSlot(typ common.DataType, nullable bool) jitexpr.TupleValue {
	tv := jitexpr.TupleValue{Slot: r.numSlots, Typ: typ, Nullable: nullable}
	r.numSlots++
	return tv
}

func (r *ReadTuples) NumSlots() int { return r.numSlots }

// AddInputColumn is idempotent on (column_id, use_value_id): a native and
// a value-ID request for the same column are never folded together (spec
// §9 supplement).
func (r *ReadTuples) AddInputColumn(columnID int, typ common.DataType, nullable, useValueID bool) jitexpr.TupleValue {
	for _, ic := range r.InputColumns {
		if ic.ColumnID == columnID && ic.UseValueID == useValueID {
			return ic.Slot
		}
	}
	slotTyp := typ
	if useValueID {
		slotTyp = common.ValueID
	}
	tv := r.allocSlot(slotTyp, nullable)
	r.InputColumns = append(r.InputColumns, InputColumn{ColumnID: columnID, Typ: typ, Slot: tv, UseValueID: useValueID})
	return tv
}

func (r *ReadTuples) columnIndex(columnID int, useValueID bool) int {
	for i, ic := range r.InputColumns {
		if ic.ColumnID == columnID && ic.UseValueID == useValueID {
			return i
		}
	}
	return -1
}

// AddLiteral is idempotent on (value, !use_value_id): only non-value-ID
// literal requests are deduplicated against each other, since a
// value-ID literal's resolved code is chunk-specific (spec §9 supplement).
func (r *ReadTuples) AddLiteral(v common.Value, useValueID bool) jitexpr.TupleValue {
	if !useValueID {
		for _, lit := range r.Literals {
			if !lit.UseValueID && common.Equal(lit.Value, v) {
				return lit.Slot
			}
		}
	}
	typ := v.Typ
	if useValueID {
		typ = common.ValueID
	}
	tv := r.allocSlot(typ, v.IsNull)
	r.Literals = append(r.Literals, InputLiteral{Value: v, Slot: tv, UseValueID: useValueID})
	return tv
}

func (r *ReadTuples) literalIndex(v common.Value, useValueID bool) int {
	for i, lit := range r.Literals {
		if lit.UseValueID == useValueID && common.Equal(lit.Value, v) {
			return i
		}
	}
	return -1
}

// AddParameter is idempotent on (parameter_id, !use_value_id), mirroring
// AddLiteral's rule.
func (r *ReadTuples) AddParameter(paramID int, typ common.DataType, nullable, useValueID bool) jitexpr.TupleValue {
	if !useValueID {
		for _, p := range r.Parameters {
			if !p.UseValueID && p.ParamID == paramID {
				return p.Slot
			}
		}
	}
	slotTyp := typ
	if useValueID {
		slotTyp = common.ValueID
	}
	tv := r.allocSlot(slotTyp, nullable)
	r.Parameters = append(r.Parameters, InputParameter{ParamID: paramID, Typ: typ, Slot: tv, UseValueID: useValueID})
	return tv
}

func (r *ReadTuples) parameterIndex(paramID int, useValueID bool) int {
	for i, p := range r.Parameters {
		if p.ParamID == paramID && p.UseValueID == useValueID {
			return i
		}
	}
	return -1
}

// AddTemporary allocates a fresh slot for a non-leaf expression's result
// (spec §4.3).
func (r *ReadTuples) AddTemporary(typ common.DataType, nullable bool) jitexpr.TupleValue {
	return r.allocSlot(typ, nullable)
}

// AddValueIDPredicate registers a value-ID predicate record. Unlike
// jit_read_tuples.cpp's add_value_id_predicate, which re-derives which
// operand is the column by searching the already-registered input
// columns/literals/parameters in reverse, this translator already knows
// that distinction while it builds the expression top-down, so the
// column/literal/parameter indices are passed in directly - a
// simplification recorded in SPEC_FULL.md §9.
func (r *ReadTuples) AddValueIDPredicate(inputColumnIndex int, op jitexpr.ExprKind, bound ValueIDBoundKind, literalIndex, parameterIndex int) int {
	r.ValueIDPredicates = append(r.ValueIDPredicates, ValueIDPredicate{
		InputColumnIndex: inputColumnIndex, Op: op, Bound: bound, LiteralIndex: literalIndex, ParameterIndex: parameterIndex,
	})
	return len(r.ValueIDPredicates) - 1
}

// BeforeQuery sizes the runtime tuple, evaluates the LIMIT row-count
// expression, and materializes every non-value-ID literal/parameter into
// the tuple (spec §4.3's before_query, original_source's
// jit_read_tuples.cpp::before_query).
func (r *ReadTuples) BeforeQuery(store ColumnStore, params []common.Value, ctx *RuntimeContext) error {
	r.store = store
	ctx.Tuple = NewRuntimeTuple(r.numSlots)
	ctx.Params = params

	for _, lit := range r.Literals {
		if !lit.UseValueID {
			ctx.Tuple.Set(lit.Slot.Slot, lit.Value)
		}
	}
	for _, p := range r.Parameters {
		if p.UseValueID {
			continue
		}
		if p.ParamID < 0 || p.ParamID >= len(params) {
			return fmt.Errorf("%w: parameter %d not bound", ErrConfiguration, p.ParamID)
		}
		ctx.Tuple.Set(p.Slot.Slot, params[p.ParamID])
	}

	// The row-count expression reads literal/parameter slots, so it is
	// evaluated only once those are materialized above.
	if r.RowCountNode >= 0 {
		jitexpr.Compute(r.Arena, r.RowCountNode, ctx.Tuple)
		v := ctx.Tuple.Get(r.Arena.Get(r.RowCountNode).Result.Slot)
		if v.IsNull {
			return fmt.Errorf("%w: LIMIT row count is null", ErrConfiguration)
		}
		if v.I64 < 0 {
			return fmt.Errorf("%w: LIMIT row count is negative", ErrConfiguration)
		}
		ctx.RemainingRows = uint64(v.I64)
	} else {
		ctx.RemainingRows = NoLimit
	}
	return nil
}

// BeforeChunk rebuilds this chunk's segment readers, binds MVCC context
// (when the chain validates), and resolves every value-ID predicate
// against this chunk's dictionaries (spec §4.2, §4.4, §4.5).
func (r *ReadTuples) BeforeChunk(chunkID int, ctx *RuntimeContext) (sameType bool, err error) {
	chunk := r.store.GetChunk(chunkID)
	ctx.ChunkID = chunkID
	ctx.ChunkOffset = 0
	ctx.ChunkSize = chunk.Size

	if r.UseValidate {
		if chunk.IsReference() {
			if chunk.Ref.ReferencedTable == nil {
				return false, fmt.Errorf("%w: reference chunk has no referenced table", ErrMVCCStructural)
			}
			ctx.Ref = chunk.Ref
			ctx.MVCC = nil
			ctx.RowTids = nil
		} else {
			if chunk.MVCC == nil {
				return false, fmt.Errorf("%w: data chunk has no MVCC data", ErrMVCCStructural)
			}
			ctx.MVCC = chunk.MVCC
			ctx.Ref = nil
			if !r.cfg.UseLoadAtomic {
				ctx.RowTids = chunk.MVCC.SnapshotTid()
			} else {
				ctx.RowTids = nil
			}
		}
	}

	r.readers = make([]storage.Segment, len(r.InputColumns))
	sameType = true
	for i, ic := range r.InputColumns {
		pos, ok := r.store.ColumnPosition(ic.ColumnID)
		if !ok {
			return false, fmt.Errorf("%w: column %d not found in chunk", ErrTranslationInvariant, ic.ColumnID)
		}
		seg := chunk.Segments[pos]
		r.readers[i] = seg
		if ic.UseValueID {
			if _, ok := seg.(*storage.DictionarySegment); !ok {
				// A chunk whose segment type mismatches what the
				// specialized function assumed. sameType is reported
				// false, but resolveValueIDPredicates below then rejects
				// the non-dictionary segment with an error, so such a
				// chunk fails the query; it is not run interpreted.
				sameType = false
			}
		}
	}

	if err := r.resolveValueIDPredicates(chunk, ctx); err != nil {
		return false, err
	}
	return sameType, nil
}

// resolveValueIDPredicates implements spec §4.4 exactly.
func (r *ReadTuples) resolveValueIDPredicates(chunk *storage.Chunk, ctx *RuntimeContext) error {
	for _, p := range r.ValueIDPredicates {
		ic := r.InputColumns[p.InputColumnIndex]
		pos, ok := r.store.ColumnPosition(ic.ColumnID)
		if !ok {
			return fmt.Errorf("%w: column %d not found", ErrTranslationInvariant, ic.ColumnID)
		}
		dict, ok := chunk.DictionarySegmentAt(pos)
		if !ok {
			return fmt.Errorf("%w: value-ID predicate column %d is not dictionary-encoded in chunk %d", ErrMVCCStructural, ic.ColumnID, chunk.ID)
		}

		var raw common.Value
		var destSlot int
		switch {
		case p.LiteralIndex >= 0:
			raw = r.Literals[p.LiteralIndex].Value
			destSlot = r.Literals[p.LiteralIndex].Slot.Slot
		case p.ParameterIndex >= 0:
			raw = ctx.Params[r.Parameters[p.ParameterIndex].ParamID]
			destSlot = r.Parameters[p.ParameterIndex].Slot.Slot
		default:
			return fmt.Errorf("%w: value-ID predicate has neither literal nor parameter operand", ErrTranslationInvariant)
		}

		v := raw.CastTo(ic.Typ)
		id := resolveValueID(dict, v, p.Bound)
		if id == common.InvalidValueID {
			// No dictionary entry can ever carry this code (codes only
			// range over [0, dict size)), so using it as the literal's
			// resolved ValueID makes every row-vs-literal comparison miss,
			// which is exactly "0 rows, no fallback" (spec §4.4 scenario 3).
			id = storage.MaxValueID
		} else if id >= storage.MaxValueID {
			return fmt.Errorf("%w: dictionary for column %d exceeds ValueID domain", ErrValueIDOverflow, ic.ColumnID)
		}
		ctx.Tuple.Set(destSlot, common.ValueIDValue(id))
	}
	return nil
}

// resolveValueID implements the bound-specific lookup (spec §4.4 step 3).
func resolveValueID(dict *storage.DictionarySegment, v common.Value, bound ValueIDBoundKind) common.ValueIDType {
	switch bound {
	case EqualityBound:
		lo := dict.LowerBound(v)
		hi := dict.UpperBound(v)
		if lo == hi {
			return common.InvalidValueID
		}
		return lo
	case LowerBoundKind:
		return dict.LowerBound(v)
	default: // UpperBoundKind
		return dict.UpperBound(v)
	}
}

// loadColumn materializes one input column's current-row value into its
// slot, reading the ValueID code directly when the column was rewritten
// for value-ID pushdown.
func (r *ReadTuples) loadColumn(ctx *RuntimeContext, columnIndex int) {
	ic := r.InputColumns[columnIndex]
	seg := r.readers[columnIndex]
	if ic.UseValueID {
		ds := seg.(*storage.DictionarySegment)
		if !ds.Validity.RowIsValid(uint64(ctx.ChunkOffset)) {
			ctx.Tuple.Set(ic.Slot.Slot, common.NullValue(common.ValueID))
			return
		}
		ctx.Tuple.Set(ic.Slot.Slot, common.ValueIDValue(ds.CodeAt(ctx.ChunkOffset)))
		return
	}
	ctx.Tuple.Set(ic.Slot.Slot, seg.ValueAt(ctx.ChunkOffset))
}

// Execute drives the per-row loop over the current chunk (spec §4.3).
func (r *ReadTuples) Execute(ctx *RuntimeContext) {
	for ctx.ChunkOffset = 0; ctx.ChunkOffset < ctx.ChunkSize; ctx.ChunkOffset++ {
		if ctx.Stopped() {
			return
		}
		if r.EagerLoad {
			for i := range r.InputColumns {
				r.loadColumn(ctx, i)
			}
		}
		r.next.Consume(ctx)
	}
}
