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

// Package jitexpr is the JIT expression tree: sum-typed nodes over column/
// literal/parameter references, arithmetic, comparison, logical, between
// and null-check kinds, held in a flat arena and indexed by int rather than
// by pointer (spec §9 design note: "implement as arena+index"). Grounded
// on the teacher's typed-operator-wrapper style (pkg/plan/binary.go: an
// operation kind dispatches to a typed Go function per type pair) adapted
// from a binary-op-only tree to the full JIT expression sum type.
package jitexpr

import "github.com/daviszhen/jitquery/pkg/common"

// ExprKind is the closed set of JIT expression node kinds (spec §3). Like
// is part of the variant enumeration the data model names, but the
// translator (spec §4.1) never constructs one: LIKE/NOT LIKE predicates
// are excluded from jittability, so a Like node reaching Compute indicates
// a translator bug, not a runtime case to handle gracefully.
type ExprKind int

const (
	ColumnRef ExprKind = iota
	LiteralRef
	ParameterRef
	Add
	Sub
	Mul
	Div
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	And
	Or
	Not
	Between
	IsNull
	IsNotNull
	Like
)

func (k ExprKind) IsLeaf() bool {
	return k == ColumnRef || k == LiteralRef || k == ParameterRef
}

func (k ExprKind) IsComparison() bool {
	switch k {
	case Eq, Ne, Lt, Le, Gt, Ge:
		return true
	default:
		return false
	}
}

// TupleValue is the design-level slot handle (spec §3): it names a
// position in the runtime tuple, it does not own storage. Two handles
// with the same Slot alias the same storage.
type TupleValue struct {
	Slot     int
	Typ      common.DataType
	Nullable bool
}

// Expression is one arena-indexed JIT expression node. Left/Right/Third are
// arena indices into the owning Arena, -1 when unused; for a leaf
// (ColumnRef/LiteralRef/ParameterRef) Result names the slot the source
// operator materializes the value into directly - Compute does not
// recompute leaves, it only evaluates non-leaf nodes into their own
// Result slot.
type Expression struct {
	Kind   ExprKind
	Result TupleValue
	Left   int
	Right  int
	Third  int

	// UseValueID is set on a ColumnRef/LiteralRef/ParameterRef leaf that
	// the translator rewrote to compare dictionary codes instead of
	// native values (spec §4.4). It is meaningless on non-leaf kinds.
	UseValueID bool
}

// Arena owns every Expression node built for one chain. Grounded on spec
// §9: "source owns a vector of expression nodes; expressions reference
// children by node index and slots by slot index."
type Arena struct {
	Nodes []Expression
}

func (a *Arena) Add(e Expression) int {
	a.Nodes = append(a.Nodes, e)
	return len(a.Nodes) - 1
}

func (a *Arena) Get(idx int) *Expression { return &a.Nodes[idx] }

const NoChild = -1
