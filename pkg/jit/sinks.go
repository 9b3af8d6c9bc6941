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
	"strings"

	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/daviszhen/jitquery/pkg/storage"
)

// Sink is the terminal operator of a chain: it never has a successor and
// owns the per-query/per-chunk/after-query protocol (spec §4.2, §4.6).
type Sink interface {
	Operator
	BeforeQuery(ctx *RuntimeContext) error
	AfterChunk(ctx *RuntimeContext)
	AfterQuery(ctx *RuntimeContext) (*storage.Table, *Result, error)

	// consumeRow accumulates one surviving row. Unexported since it is
	// only ever called by sinkAdapter (wrapper.go) from within this
	// package, never as part of the public chain-building API.
	consumeRow(ctx *RuntimeContext)
}

// OutputColumn names one output column and the slot its value lives in
// at the point the sink consumes a row - whether that slot was written by
// a compute or is simply a passthrough input-column slot makes no
// difference to the sink (spec §3 "Output columns").
type OutputColumn struct {
	Name string
	Typ  common.DataType
	Slot int
}

// WriteTuples materializes every surviving row's output columns into a
// fresh output table, one chunk at a time, flushing at MaxChunkSize (spec
// §4.6).
type WriteTuples struct {
	base
	Columns      []OutputColumn
	MaxChunkSize int

	out     *storage.Table
	pending [][]common.Value // per-column accumulation for the in-progress chunk
	rowsIn  int
}

func NewWriteTuples(columns []OutputColumn, maxChunkSize int) *WriteTuples {
	return &WriteTuples{Columns: columns, MaxChunkSize: maxChunkSize}
}

func (w *WriteTuples) Description() string { return "WriteTuples" }

// AccessedColumnIDs reports every output column's slot, so the lazy-load
// rewrite knows a passthrough column untouched by any Compute/Filter still
// needs a load of its own (spec §4.2, §4.6).
func (w *WriteTuples) AccessedColumnIDs() map[int]bool {
	out := make(map[int]bool, len(w.Columns))
	for _, c := range w.Columns {
		out[c.Slot] = true
	}
	return out
}
func (w *WriteTuples) Consume(ctx *RuntimeContext)      { panic("jit: WriteTuples is a sink; use the protocol methods") }

func (w *WriteTuples) BeforeQuery(ctx *RuntimeContext) error {
	cols := make([]storage.ColumnDef, len(w.Columns))
	for i, c := range w.Columns {
		cols[i] = storage.ColumnDef{ID: i, Name: c.Name, Typ: c.Typ}
	}
	w.out = storage.NewTable("", cols)
	w.resetPending()
	return nil
}

func (w *WriteTuples) resetPending() {
	w.pending = make([][]common.Value, len(w.Columns))
	w.rowsIn = 0
}

// consumeRow is called by the chain's last non-sink operator via a thin
// adapter (see wrapper.go's sinkAdapter), since Sink does not implement
// Consume directly.
func (w *WriteTuples) consumeRow(ctx *RuntimeContext) {
	for i, c := range w.Columns {
		w.pending[i] = append(w.pending[i], ctx.Tuple.Get(c.Slot))
	}
	w.rowsIn++
	if w.rowsIn >= w.MaxChunkSize {
		w.flush()
	}
}

func (w *WriteTuples) flush() {
	if w.rowsIn == 0 {
		return
	}
	segs := make([]storage.Segment, len(w.Columns))
	for i, c := range w.Columns {
		segs[i] = buildSegment(c.Typ, w.pending[i])
	}
	w.out.AppendChunk(&storage.Chunk{Size: w.rowsIn, Segments: segs})
	w.resetPending()
}

func (w *WriteTuples) AfterChunk(ctx *RuntimeContext) {}

func (w *WriteTuples) AfterQuery(ctx *RuntimeContext) (*storage.Table, *Result, error) {
	w.flush()
	return w.out, &Result{Metrics: ctx.Metrics}, nil
}

// buildSegment converts boxed common.Values into the closed set's native
// Go representation, one ValueSegment[T] per DataType family.
func buildSegment(typ common.DataType, values []common.Value) storage.Segment {
	switch typ {
	case common.Int:
		out := make([]int32, len(values))
		seg := storage.NewValueSegment(typ, out)
		for i, v := range values {
			if v.IsNull {
				seg.SetNull(i)
			} else {
				out[i] = int32(v.I64)
			}
		}
		return seg
	case common.Long, common.ValueID:
		out := make([]int64, len(values))
		seg := storage.NewValueSegment(common.Long, out)
		for i, v := range values {
			if v.IsNull {
				seg.SetNull(i)
			} else {
				out[i] = valueAsInt64(v)
			}
		}
		return seg
	case common.Float:
		out := make([]float32, len(values))
		seg := storage.NewValueSegment(typ, out)
		for i, v := range values {
			if v.IsNull {
				seg.SetNull(i)
			} else {
				out[i] = float32(v.F64)
			}
		}
		return seg
	case common.Double:
		out := make([]float64, len(values))
		seg := storage.NewValueSegment(typ, out)
		for i, v := range values {
			if v.IsNull {
				seg.SetNull(i)
			} else {
				out[i] = v.F64
			}
		}
		return seg
	case common.String:
		out := make([]string, len(values))
		seg := storage.NewValueSegment(typ, out)
		for i, v := range values {
			if v.IsNull {
				seg.SetNull(i)
			} else {
				out[i] = v.Str
			}
		}
		return seg
	case common.Bool:
		out := make([]bool, len(values))
		seg := storage.NewValueSegment(typ, out)
		for i, v := range values {
			if v.IsNull {
				seg.SetNull(i)
			} else {
				out[i] = v.B
			}
		}
		return seg
	default:
		panic(fmt.Sprintf("jit: usp output column type %v", typ))
	}
}

// WriteOffset records (chunk_id, chunk_offset) for every surviving row
// instead of copying data - cheaper when every output column is a
// passthrough of an input column (spec §4.6).
type WriteOffset struct {
	base
	positions []storage.RowPos
}

func NewWriteOffset() *WriteOffset { return &WriteOffset{} }

func (w *WriteOffset) Description() string             { return "WriteOffset" }
func (w *WriteOffset) AccessedColumnIDs() map[int]bool { return nil }
func (w *WriteOffset) Consume(ctx *RuntimeContext)      { panic("jit: WriteOffset is a sink; use the protocol methods") }

func (w *WriteOffset) BeforeQuery(ctx *RuntimeContext) error {
	w.positions = nil
	return nil
}

func (w *WriteOffset) consumeRow(ctx *RuntimeContext) {
	w.positions = append(w.positions, storage.RowPos{ChunkID: ctx.ChunkID, Offset: ctx.ChunkOffset})
}

func (w *WriteOffset) AfterChunk(ctx *RuntimeContext) {}

func (w *WriteOffset) AfterQuery(ctx *RuntimeContext) (*storage.Table, *Result, error) {
	return nil, &Result{Metrics: ctx.Metrics}, nil
}

func (w *WriteOffset) Positions() []storage.RowPos { return w.positions }

// AggFunc is the closed set of aggregate functions (spec §4.6).
// CountDistinct is deliberately absent: the translator's is_jittable rule
// rejects it before a chain is ever built (spec §4.1), so the runtime
// aggregate state never needs to represent it.
type AggFunc int

const (
	AggSum AggFunc = iota
	AggCount
	AggCountStar
	AggMin
	AggMax
	AggAvg
)

type AggregateSpec struct {
	Func    AggFunc
	ArgSlot int // unused (-1) for AggCountStar
	ArgType common.DataType // unused (common.Invalid) for AggCountStar
	Name    string
}

type aggState struct {
	sum        common.Value
	count      int64
	min, max   common.Value
	haveMinMax bool
}

// Aggregate is the hash-aggregate sink (spec §4.6): grouped by the
// concatenation of group-by slot values, one aggState per AggregateSpec
// per group. Grounded on the teacher's hash-aggregate state shapes
// (pkg/compute/executor_aggr.go: sum/count/min/max/avg accumulators).
type Aggregate struct {
	base
	GroupBy []int
	Specs   []AggregateSpec

	order []string
	keys  map[string][]common.Value
	state map[string][]aggState
}

func NewAggregate(groupBy []int, specs []AggregateSpec) *Aggregate {
	return &Aggregate{GroupBy: groupBy, Specs: specs}
}

func (a *Aggregate) Description() string { return "Aggregate" }

// AccessedColumnIDs reports the group-by and aggregate-argument slots, so
// the lazy-load rewrite loads a bare column reference the translator left
// unwrapped by any Compute (spec §4.1's buildAggregateChain skips adding a
// Compute for a plain ColumnRef group/argument).
func (a *Aggregate) AccessedColumnIDs() map[int]bool {
	out := make(map[int]bool, len(a.GroupBy)+len(a.Specs))
	for _, slot := range a.GroupBy {
		out[slot] = true
	}
	for _, spec := range a.Specs {
		if spec.ArgSlot >= 0 {
			out[spec.ArgSlot] = true
		}
	}
	return out
}
func (a *Aggregate) Consume(ctx *RuntimeContext)      { panic("jit: Aggregate is a sink; use the protocol methods") }

func (a *Aggregate) BeforeQuery(ctx *RuntimeContext) error {
	a.keys = make(map[string][]common.Value)
	a.state = make(map[string][]aggState)
	a.order = nil
	return nil
}

func groupKey(values []common.Value) string {
	var b strings.Builder
	for _, v := range values {
		if v.IsNull {
			b.WriteString("N|")
			continue
		}
		switch v.Typ {
		case common.String:
			fmt.Fprintf(&b, "S%q|", v.Str)
		case common.Float, common.Double:
			fmt.Fprintf(&b, "F%v|", v.F64)
		case common.Bool:
			fmt.Fprintf(&b, "B%v|", v.B)
		default:
			fmt.Fprintf(&b, "I%v|", valueAsInt64(v))
		}
	}
	return b.String()
}

func (a *Aggregate) consumeRow(ctx *RuntimeContext) {
	keyValues := make([]common.Value, len(a.GroupBy))
	for i, slot := range a.GroupBy {
		keyValues[i] = ctx.Tuple.Get(slot)
	}
	key := groupKey(keyValues)

	states, ok := a.state[key]
	if !ok {
		states = make([]aggState, len(a.Specs))
		a.keys[key] = keyValues
		a.order = append(a.order, key)
	}

	for i, spec := range a.Specs {
		st := &states[i]
		if spec.Func == AggCountStar {
			st.count++
			continue
		}
		v := ctx.Tuple.Get(spec.ArgSlot)
		if v.IsNull {
			continue
		}
		switch spec.Func {
		case AggCount:
			st.count++
		case AggSum, AggAvg:
			st.sum = addValue(st.sum, v)
			st.count++
		case AggMin:
			if !st.haveMinMax || common.Compare(v, st.min) < 0 {
				st.min = v
				st.haveMinMax = true
			}
		case AggMax:
			if !st.haveMinMax || common.Compare(v, st.max) > 0 {
				st.max = v
				st.haveMinMax = true
			}
		}
	}
	a.state[key] = states
}

// addValue accumulates v into running sum acc; an Int argument is summed
// as Long from its first value on, so the sum cannot overflow Int (spec
// §4.6).
func addValue(acc, v common.Value) common.Value {
	if acc.Typ == common.Invalid {
		if v.Typ == common.Int {
			return common.LongValue(v.I64)
		}
		return v
	}
	switch acc.Typ {
	case common.Long:
		sum := acc.I64 + v.I64
		return common.LongValue(sum)
	case common.Double, common.Float:
		return common.DoubleValue(acc.F64 + v.F64)
	default:
		return common.LongValue(acc.I64 + v.I64)
	}
}

func (a *Aggregate) AfterChunk(ctx *RuntimeContext) {}

func (a *Aggregate) AfterQuery(ctx *RuntimeContext) (*storage.Table, *Result, error) {
	groupCols := make([]storage.ColumnDef, 0, len(a.GroupBy)+len(a.Specs))
	for i := range a.GroupBy {
		groupCols = append(groupCols, storage.ColumnDef{ID: i, Name: fmt.Sprintf("group_%d", i)})
	}
	for i, spec := range a.Specs {
		var typ common.DataType
		switch spec.Func {
		case AggCount, AggCountStar:
			typ = common.Long
		case AggAvg:
			typ = common.Double
		case AggMin, AggMax:
			// min/max pass the matching row's value through unchanged, so
			// the output column keeps the aggregated argument's own type
			// (string min/max, float min/max, etc.) rather than Long.
			typ = spec.ArgType
		case AggSum:
			if spec.ArgType == common.Double || spec.ArgType == common.Float {
				typ = common.Double
			} else {
				typ = common.Long
			}
		}
		groupCols = append(groupCols, storage.ColumnDef{ID: len(a.GroupBy) + i, Name: spec.Name, Typ: typ})
	}
	out := storage.NewTable("", groupCols)

	columns := make([][]common.Value, len(groupCols))
	for _, key := range a.order {
		keyValues := a.keys[key]
		states := a.state[key]
		for i, v := range keyValues {
			columns[i] = append(columns[i], v)
		}
		for i, spec := range a.Specs {
			st := states[i]
			col := len(a.GroupBy) + i
			switch spec.Func {
			case AggCount, AggCountStar:
				columns[col] = append(columns[col], common.LongValue(st.count))
			case AggSum:
				if st.count == 0 {
					columns[col] = append(columns[col], common.NullValue(common.Long))
				} else {
					columns[col] = append(columns[col], st.sum)
				}
			case AggMin:
				columns[col] = append(columns[col], st.min)
			case AggMax:
				columns[col] = append(columns[col], st.max)
			case AggAvg:
				if st.count == 0 {
					columns[col] = append(columns[col], common.NullValue(common.Double))
				} else {
					columns[col] = append(columns[col], common.DoubleValue(asFloat64(st.sum)/float64(st.count)))
				}
			}
		}
	}

	if len(a.order) > 0 {
		segs := make([]storage.Segment, len(groupCols))
		for i, c := range groupCols {
			typ := c.Typ
			if typ == common.Invalid {
				typ = common.Long
			}
			segs[i] = buildSegment(typ, columns[i])
		}
		out.AppendChunk(&storage.Chunk{Size: len(a.order), Segments: segs})
	}
	return out, &Result{Metrics: ctx.Metrics}, nil
}

func asFloat64(v common.Value) float64 {
	if v.Typ == common.Double || v.Typ == common.Float {
		return v.F64
	}
	return float64(v.I64)
}

// valueAsInt64 reads the integral representation of an Int/Long/ValueID
// value. common.Value keeps this conversion unexported (asInt64) since it
// is an internal detail of Compare; sinks need their own copy to flatten
// output columns into native Go slices.
func valueAsInt64(v common.Value) int64 {
	if v.Typ == common.ValueID {
		return int64(v.VID)
	}
	return v.I64
}
