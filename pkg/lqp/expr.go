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

package lqp

import (
	"fmt"

	"github.com/daviszhen/jitquery/pkg/common"
)

// ExprKind is a superset of jitexpr.ExprKind: every jittable kind plus the
// non-jittable kinds spec §4.1 explicitly names (Case, Cast, Extract,
// Function, Exists, Subquery, UnaryMinus, In, Like, NotLike) so
// is_jittable has something real to reject rather than an empty set.
// Grounded on the teacher's builder_logical_operator.go expression-kind
// enum, which mixes jittable and non-jittable kinds the same way.
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

	// Non-jittable kinds (spec §4.1).
	Case
	Cast
	Extract
	Function
	Exists
	Subquery
	UnaryMinus
	In
	Like
	NotLike
)

var exprKindNames = map[ExprKind]string{
	ColumnRef: "Column", LiteralRef: "Literal", ParameterRef: "Parameter",
	Add: "+", Sub: "-", Mul: "*", Div: "/",
	Eq: "=", Ne: "!=", Lt: "<", Le: "<=", Gt: ">", Ge: ">=",
	And: "AND", Or: "OR", Not: "NOT", Between: "BETWEEN",
	IsNull: "IS NULL", IsNotNull: "IS NOT NULL",
	Case: "CASE", Cast: "CAST", Extract: "EXTRACT", Function: "FUNC",
	Exists: "EXISTS", Subquery: "SUBQUERY", UnaryMinus: "-(unary)",
	In: "IN", Like: "LIKE", NotLike: "NOT LIKE",
}

func (k ExprKind) String() string {
	if s, ok := exprKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ExprKind(%d)", k)
}

// NotJittableKinds names the expression kinds spec §4.1 excludes from
// is_jittable outright, regardless of their children.
var NotJittableKinds = map[ExprKind]bool{
	Case: true, Cast: true, Extract: true, Function: true,
	Exists: true, Subquery: true, UnaryMinus: true,
	In: true, Like: true, NotLike: true,
}

// Expr is a plain child-slice tree (not an arena): LQP construction is out
// of scope (spec §1) and this type only exists for the translator to walk
// once and for tests to build fixtures by hand, so there is no
// performance reason to index by int the way jitexpr.Expression does.
type Expr struct {
	Kind     ExprKind
	Children []*Expr

	Column    Column      // valid when Kind == ColumnRef
	Literal   common.Value // valid when Kind == LiteralRef
	ParamID   int         // valid when Kind == ParameterRef
	ParamType common.DataType

	FuncName string // valid when Kind == Function
}

func (e *Expr) String() string {
	switch e.Kind {
	case ColumnRef:
		return e.Column.Name
	case LiteralRef:
		return e.Literal.String()
	case ParameterRef:
		return fmt.Sprintf("$%d", e.ParamID)
	}
	s := e.Kind.String()
	for i, c := range e.Children {
		if i > 0 {
			s += ","
		}
		s += " " + c.String()
	}
	return "(" + s + ")"
}

func ColumnExpr(c Column) *Expr { return &Expr{Kind: ColumnRef, Column: c} }

func LiteralExpr(v common.Value) *Expr { return &Expr{Kind: LiteralRef, Literal: v} }

func ParameterExpr(id int, typ common.DataType) *Expr {
	return &Expr{Kind: ParameterRef, ParamID: id, ParamType: typ}
}

func BinaryExpr(kind ExprKind, left, right *Expr) *Expr {
	return &Expr{Kind: kind, Children: []*Expr{left, right}}
}

func BetweenExpr(v, lo, hi *Expr) *Expr {
	return &Expr{Kind: Between, Children: []*Expr{v, lo, hi}}
}
