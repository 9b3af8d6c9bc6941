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

	"github.com/daviszhen/jitquery/pkg/jitexpr"
)

// Operator is the contract every chain member satisfies (spec §4.2):
// description for logging, the set of input-column slots it touches (used
// by rewriteLazyLoad to decide what still needs a load), and consume,
// which may tail-call its successor zero or more times. Modeled as a Go
// interface with a boxed successor rather than a closure chain, per spec
// §9's "enum of operator nodes holding a boxed successor."
type Operator interface {
	Description() string
	AccessedColumnIDs() map[int]bool
	Consume(ctx *RuntimeContext)
	SetNext(next Operator)
	Next() Operator
}

type base struct {
	next Operator
}

func (b *base) SetNext(n Operator)  { b.next = n }
func (b *base) Next() Operator      { return b.next }

// Compute evaluates one jitexpr subtree into its result slot, optionally
// pulling an embedded column load first when the wrapper's lazy-load pass
// fused a single-use load into this operator (spec §4.2).
type Compute struct {
	base
	Arena  *jitexpr.Arena
	Node   int
	Source *ReadTuples
	Load   embeddedLoad
}

func (c *Compute) Description() string {
	return fmt.Sprintf("Compute(node=%d)", c.Node)
}

func (c *Compute) AccessedColumnIDs() map[int]bool {
	slots := jitexpr.AccessedSlots(c.Arena, c.Node, nil)
	out := make(map[int]bool, len(slots))
	for _, s := range slots {
		out[s] = true
	}
	return out
}

func (c *Compute) Consume(ctx *RuntimeContext) {
	if c.Load.active {
		c.Source.loadColumn(ctx, c.Load.columnIndex)
	}
	jitexpr.Compute(c.Arena, c.Node, ctx.Tuple)
	c.next.Consume(ctx)
}

// Filter evaluates a boolean jitexpr subtree and only forwards the row
// when it evaluates true (NULL and false both stop the chain - SQL
// WHERE semantics). May also embed a single-use column load, same as
// Compute (spec §9 supplement: original_source treats JitCompute and
// JitFilter identically for embed-load purposes).
type Filter struct {
	base
	Arena  *jitexpr.Arena
	Node   int
	Source *ReadTuples
	Load   embeddedLoad
}

func (f *Filter) Description() string {
	return fmt.Sprintf("Filter(node=%d)", f.Node)
}

func (f *Filter) AccessedColumnIDs() map[int]bool {
	slots := jitexpr.AccessedSlots(f.Arena, f.Node, nil)
	out := make(map[int]bool, len(slots))
	for _, s := range slots {
		out[s] = true
	}
	return out
}

func (f *Filter) Consume(ctx *RuntimeContext) {
	if f.Load.active {
		f.Source.loadColumn(ctx, f.Load.columnIndex)
	}
	jitexpr.Compute(f.Arena, f.Node, ctx.Tuple)
	result := ctx.Tuple.Get(f.Arena.Get(f.Node).Result.Slot)
	if result.IsNull || !result.B {
		return
	}
	f.next.Consume(ctx)
}

// Limit decrements ctx.RemainingRows on each surviving row and signals the
// source to stop once it reaches zero (spec §4.6).
type Limit struct {
	base
}

func (l *Limit) Description() string           { return "Limit" }
func (l *Limit) AccessedColumnIDs() map[int]bool { return nil }

func (l *Limit) Consume(ctx *RuntimeContext) {
	if ctx.RemainingRows == 0 {
		ctx.Stop()
		return
	}
	l.next.Consume(ctx)
	ctx.RemainingRows--
	if ctx.RemainingRows == 0 {
		ctx.Stop()
	}
}

// ReadValue is the explicit lazy-load operator the wrapper inserts before
// the first reader of a column slot whose load cannot be embedded into
// that reader: a slot read more than once, a slot read only by the sink,
// or one of several unloaded slots of the same operator (spec §4.2).
type ReadValue struct {
	base
	Source      *ReadTuples
	ColumnIndex int
}

func (r *ReadValue) Description() string {
	return fmt.Sprintf("ReadValue(column=%d)", r.ColumnIndex)
}

func (r *ReadValue) AccessedColumnIDs() map[int]bool {
	return map[int]bool{r.Source.InputColumns[r.ColumnIndex].Slot.Slot: true}
}

func (r *ReadValue) Consume(ctx *RuntimeContext) {
	r.Source.loadColumn(ctx, r.ColumnIndex)
	r.next.Consume(ctx)
}

// embeddedLoad marks that an operator (Compute/Filter) was chosen by the
// wrapper's lazy-load pass to pull a specific input column's value itself,
// immediately before it is first touched (spec §4.2: "embed the load
// inside it").
type embeddedLoad struct {
	active      bool
	columnIndex int
}
