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

// Package lqp is the external logical-query-plan surface the jit
// translator consumes. SQL parsing, plan construction and the optimizer
// are explicitly out of scope (spec §1): this package defines just enough
// of a node/expression tree for the translator to walk and for tests to
// hand-build fixtures directly.
package lqp

import (
	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/xlab/treeprint"
)

// NodeKind is the closed set of logical-plan node kinds the translator's
// jittability rule (spec §4.1) dispatches on. Other is a catch-all for
// every relational-algebra node kind this package doesn't model explicitly
// (e.g. a real optimizer's window/set-operation nodes) - it is never
// jittable.
type NodeKind int

const (
	TableScan NodeKind = iota
	Predicate
	Projection
	Aggregate
	Limit
	Validate
	Union
	Join
	Sort
	Other
)

func (k NodeKind) String() string {
	switch k {
	case TableScan:
		return "TableScan"
	case Predicate:
		return "Predicate"
	case Projection:
		return "Projection"
	case Aggregate:
		return "Aggregate"
	case Limit:
		return "Limit"
	case Validate:
		return "Validate"
	case Union:
		return "Union"
	case Join:
		return "Join"
	case Sort:
		return "Sort"
	default:
		return "Other"
	}
}

// Column is an output column descriptor: a stored-table column reference
// carried through the plan tree and into translated input-column
// descriptors (spec §3 "Input column descriptor").
type Column struct {
	ID         int
	Name       string
	Typ        common.DataType
	Nullable   bool
	UseValueID bool
}

// Node is one logical-plan node. Not every field is meaningful for every
// Kind: TableName is only set on TableScan, Expr only on
// Predicate/Projection/Aggregate, GroupBy/Aggregates only on Aggregate,
// LimitRowCount only on Limit.
type Node struct {
	Kind     NodeKind
	Children []*Node
	Output   []Column

	TableName string

	Expr *Expr // Predicate condition, or the single Projection/Aggregate expression root

	GroupBy    []*Expr
	Aggregates []*AggregateExpr

	LimitRowCount *Expr // row-count expression (spec §4.3 "row-count expression")

	// ValidateForDataTable distinguishes a data-table Validate (MVCC lock
	// per chunk) from a reference-table Validate (resolve through a pos
	// list) - spec §4.5.
	ValidateForDataTable bool
}

// AggregateFunc is the closed set of aggregate functions spec §4.6 names.
type AggregateFunc int

const (
	Sum AggregateFunc = iota
	Count
	CountStar
	Min
	Max
	Avg
	CountDistinct // not jittable; present so is_jittable has something to reject
)

type AggregateExpr struct {
	Func AggregateFunc
	Arg  *Expr // nil for CountStar
	Name string
}

func (n *Node) String() string {
	tree := treeprint.New()
	n.addTo(tree)
	return tree.String()
}

func (n *Node) addTo(tree treeprint.Tree) {
	branch := tree.AddBranch(n.Kind.String())
	if n.TableName != "" {
		branch.AddNode("table=" + n.TableName)
	}
	if n.Expr != nil {
		branch.AddNode("expr=" + n.Expr.String())
	}
	for _, c := range n.Children {
		c.addTo(branch)
	}
}
