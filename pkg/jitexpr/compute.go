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

package jitexpr

import (
	"errors"
	"fmt"

	"github.com/daviszhen/jitquery/pkg/common"
)

// ErrDivisionByZero fires when a row's integer division has a zero right
// operand. Compute has no error return on its per-row path, so this
// surfaces as a panic the caller is expected to recover at the chain's
// execution boundary, not handle inline.
var ErrDivisionByZero = errors.New("jitexpr: integer division by zero")

// Tuple is the minimal runtime-tuple access Compute needs: get/set a slot's
// value by index. pkg/jit's RuntimeTuple implements this; keeping the
// interface here (rather than importing pkg/jit's concrete type) avoids a
// jitexpr -> jit -> jitexpr import cycle, since pkg/jit depends on
// jitexpr, not the other way around.
type Tuple interface {
	Get(slot int) common.Value
	Set(slot int, v common.Value)
}

// Compute recursively evaluates the node at idx into its own Result slot.
// Leaves are not recomputed: a ColumnRef/LiteralRef/ParameterRef's value is
// materialized into its Result slot by read_tuples/read_value before
// Compute ever sees it (spec §4.3); Compute only walks non-leaf nodes.
func Compute(a *Arena, idx int, t Tuple) {
	n := a.Get(idx)
	if n.Kind.IsLeaf() {
		return
	}
	switch n.Kind {
	case Add, Sub, Mul, Div:
		computeArithmetic(a, n, t)
	case Eq, Ne, Lt, Le, Gt, Ge:
		computeComparison(a, n, t)
	case And, Or:
		computeLogical(a, n, t)
	case Not:
		computeNot(a, n, t)
	case Between:
		computeBetween(a, n, t)
	case IsNull, IsNotNull:
		computeNullCheck(a, n, t)
	case Like:
		panic("jitexpr: Like reached Compute; the translator must never emit a jittable Like node")
	default:
		panic(fmt.Sprintf("jitexpr: usp expression kind %d", n.Kind))
	}
}

func computeArithmetic(a *Arena, n *Expression, t Tuple) {
	Compute(a, n.Left, t)
	Compute(a, n.Right, t)
	left := t.Get(a.Get(n.Left).Result.Slot)
	right := t.Get(a.Get(n.Right).Result.Slot)
	if left.IsNull || right.IsNull {
		t.Set(n.Result.Slot, common.NullValue(n.Result.Typ))
		return
	}
	if n.Result.Typ == common.Float || n.Result.Typ == common.Double {
		lf, rf := asFloat(left), asFloat(right)
		var out float64
		switch n.Kind {
		case Add:
			out = lf + rf
		case Sub:
			out = lf - rf
		case Mul:
			out = lf * rf
		case Div:
			out = lf / rf
		}
		t.Set(n.Result.Slot, common.DoubleValue(out))
		return
	}
	li, ri := asInt(left), asInt(right)
	var out int64
	switch n.Kind {
	case Add:
		out = li + ri
	case Sub:
		out = li - ri
	case Mul:
		out = li * ri
	case Div:
		if ri == 0 {
			panic(ErrDivisionByZero)
		}
		out = li / ri
	}
	t.Set(n.Result.Slot, common.LongValue(out))
}

func computeComparison(a *Arena, n *Expression, t Tuple) {
	Compute(a, n.Left, t)
	Compute(a, n.Right, t)
	left := t.Get(a.Get(n.Left).Result.Slot)
	right := t.Get(a.Get(n.Right).Result.Slot)
	if left.IsNull || right.IsNull {
		t.Set(n.Result.Slot, common.NullValue(common.Bool))
		return
	}
	cmp := common.Compare(left, right)
	var result bool
	switch n.Kind {
	case Eq:
		result = cmp == 0
	case Ne:
		result = cmp != 0
	case Lt:
		result = cmp < 0
	case Le:
		result = cmp <= 0
	case Gt:
		result = cmp > 0
	case Ge:
		result = cmp >= 0
	}
	t.Set(n.Result.Slot, common.BoolValue(result))
}

// computeLogical implements three-valued SQL logic: unknown (NULL)
// propagates except where a short-circuiting value on the other side
// already determines the outcome (true OR x, false AND x). The spec is
// silent on null handling for And/Or; this follows ANSI SQL semantics,
// the same rule the teacher's expression evaluator applies
// (pkg/plan/binary.go's null-aware wrappers).
func computeLogical(a *Arena, n *Expression, t Tuple) {
	Compute(a, n.Left, t)
	left := t.Get(a.Get(n.Left).Result.Slot)

	if n.Kind == Or && !left.IsNull && left.B {
		t.Set(n.Result.Slot, common.BoolValue(true))
		return
	}
	if n.Kind == And && !left.IsNull && !left.B {
		t.Set(n.Result.Slot, common.BoolValue(false))
		return
	}

	Compute(a, n.Right, t)
	right := t.Get(a.Get(n.Right).Result.Slot)

	if n.Kind == Or && !right.IsNull && right.B {
		t.Set(n.Result.Slot, common.BoolValue(true))
		return
	}
	if n.Kind == And && !right.IsNull && !right.B {
		t.Set(n.Result.Slot, common.BoolValue(false))
		return
	}
	if left.IsNull || right.IsNull {
		t.Set(n.Result.Slot, common.NullValue(common.Bool))
		return
	}
	if n.Kind == And {
		t.Set(n.Result.Slot, common.BoolValue(left.B && right.B))
	} else {
		t.Set(n.Result.Slot, common.BoolValue(left.B || right.B))
	}
}

func computeNot(a *Arena, n *Expression, t Tuple) {
	Compute(a, n.Left, t)
	v := t.Get(a.Get(n.Left).Result.Slot)
	if v.IsNull {
		t.Set(n.Result.Slot, common.NullValue(common.Bool))
		return
	}
	t.Set(n.Result.Slot, common.BoolValue(!v.B))
}

// computeBetween evaluates the original three-child form; the translator
// normally decomposes BETWEEN into `a >= lo AND a <= hi` at translation
// time (spec §4.1), so this only matters for a Between node built directly
// by a test fixture.
func computeBetween(a *Arena, n *Expression, t Tuple) {
	Compute(a, n.Left, t)
	Compute(a, n.Right, t)
	Compute(a, n.Third, t)
	v := t.Get(a.Get(n.Left).Result.Slot)
	lo := t.Get(a.Get(n.Right).Result.Slot)
	hi := t.Get(a.Get(n.Third).Result.Slot)
	if v.IsNull || lo.IsNull || hi.IsNull {
		t.Set(n.Result.Slot, common.NullValue(common.Bool))
		return
	}
	result := common.Compare(v, lo) >= 0 && common.Compare(v, hi) <= 0
	t.Set(n.Result.Slot, common.BoolValue(result))
}

func computeNullCheck(a *Arena, n *Expression, t Tuple) {
	Compute(a, n.Left, t)
	v := t.Get(a.Get(n.Left).Result.Slot)
	if n.Kind == IsNull {
		t.Set(n.Result.Slot, common.BoolValue(v.IsNull))
	} else {
		t.Set(n.Result.Slot, common.BoolValue(!v.IsNull))
	}
}

func asFloat(v common.Value) float64 {
	if v.Typ == common.Float || v.Typ == common.Double {
		return v.F64
	}
	return float64(v.I64)
}

func asInt(v common.Value) int64 {
	if v.Typ == common.ValueID {
		return int64(v.VID)
	}
	return v.I64
}

// AccessedSlots walks the subtree rooted at idx and appends the slot index
// of every leaf (ColumnRef/LiteralRef/ParameterRef) it finds, used by the
// wrapper's accessed_column_ids() (spec §4.2).
func AccessedSlots(a *Arena, idx int, out []int) []int {
	n := a.Get(idx)
	switch n.Kind {
	case ColumnRef, LiteralRef, ParameterRef:
		return append(out, n.Result.Slot)
	case Not, IsNull, IsNotNull:
		return AccessedSlots(a, n.Left, out)
	case Between:
		out = AccessedSlots(a, n.Left, out)
		out = AccessedSlots(a, n.Right, out)
		return AccessedSlots(a, n.Third, out)
	default:
		out = AccessedSlots(a, n.Left, out)
		return AccessedSlots(a, n.Right, out)
	}
}
