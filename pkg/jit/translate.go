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

	"go.uber.org/zap"

	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/daviszhen/jitquery/pkg/jitexpr"
	"github.com/daviszhen/jitquery/pkg/lqp"
	"github.com/daviszhen/jitquery/pkg/util"
)

// Translate attempts to fuse root's jittable subtree into a runnable
// OperatorWrapper (spec §4.1, §6 "translate_node"). ok is false when root
// is not a fusion candidate at all - not an error (spec §7 "not jittable"
// causes fallback to the non-JIT translator, which is out of scope here).
func Translate(root *lqp.Node, cfg ExecutionConfig, store ColumnStore, codeGen CodeGenerator) (*OperatorWrapper, bool, error) {
	tr := &translator{cfg: cfg, store: store}

	accepted, input, ok := tr.selectSubtree(root)
	if !ok {
		util.Debug("jit: no jittable subtree", zap.String("root", root.Kind.String()))
		return nil, false, nil
	}
	if len(accepted) == 1 {
		switch root.Kind {
		case lqp.Projection, lqp.Validate, lqp.Limit, lqp.Predicate:
			util.Debug("jit: single-node subtree rejected", zap.String("root", root.Kind.String()))
			return nil, false, nil
		}
	}
	if len(accepted) == 2 && root.Kind == lqp.Validate {
		util.Debug("jit: two-node Validate-rooted subtree rejected", zap.String("root", root.Kind.String()))
		return nil, false, nil
	}
	if input.Kind != lqp.TableScan {
		return nil, false, fmt.Errorf("%w: jit input node must resolve to a table scan", ErrTranslationInvariant)
	}

	source := NewReadTuples(cfg)
	chain, sink, err := tr.buildChain(source, root, accepted)
	if err != nil {
		return nil, false, err
	}
	if sink == nil {
		util.Debug("jit: chain construction declined the subtree", zap.String("root", root.Kind.String()))
		return nil, false, nil
	}
	util.Debug("jit: translated fused chain",
		zap.String("root", root.Kind.String()),
		zap.Int("accepted_nodes", len(accepted)),
		zap.Int("chain_ops", len(chain)),
		zap.String("sink", sink.Description()))
	return NewOperatorWrapper(source, chain, sink, cfg, codeGen), true, nil
}

type translator struct {
	cfg   ExecutionConfig
	store ColumnStore
}

// isJittable implements the per-kind rule of spec §4.1.
func (tr *translator) isJittable(n *lqp.Node, allowAggregate, isRoot bool) bool {
	switch n.Kind {
	case lqp.Aggregate:
		if !allowAggregate {
			return false
		}
		for _, a := range n.Aggregates {
			if a.Func == lqp.CountDistinct {
				return false
			}
		}
		return true
	case lqp.Predicate:
		if len(n.Children) != 1 || n.Children[0].Kind != lqp.TableScan {
			return false
		}
		return isExprJittable(n.Expr)
	case lqp.Validate:
		return tr.cfg.JitValidate
	case lqp.Limit:
		return isRoot
	case lqp.Projection:
		return isExprJittable(n.Expr)
	case lqp.Union:
		return tr.cfg.JitPredicate
	default:
		return false
	}
}

func isExprJittable(e *lqp.Expr) bool {
	if e == nil {
		return true
	}
	if lqp.NotJittableKinds[e.Kind] {
		return false
	}
	for _, c := range e.Children {
		if !isExprJittable(c) {
			return false
		}
	}
	return true
}

// selectSubtree walks root top-down, applying is_jittable at each node
// (spec §4.1 "subtree selection"). allow_aggregate is true only for root
// and for a node immediately below a Limit. Nodes that fail is_jittable
// become input nodes and their own children are never visited.
func (tr *translator) selectSubtree(root *lqp.Node) (accepted []*lqp.Node, input *lqp.Node, ok bool) {
	var inputs []*lqp.Node
	var walk func(n *lqp.Node, isRoot, allowAggregate bool)
	walk = func(n *lqp.Node, isRoot, allowAggregate bool) {
		if !tr.isJittable(n, allowAggregate, isRoot) {
			inputs = append(inputs, n)
			return
		}
		accepted = append(accepted, n)
		childAllowAggregate := n.Kind == lqp.Limit
		for _, c := range n.Children {
			walk(c, false, childAllowAggregate)
		}
	}
	walk(root, true, true)
	if len(inputs) != 1 || len(accepted) == 0 {
		return nil, nil, false
	}
	return accepted, inputs[0], true
}

// buildChain implements the ordered chain-construction recipe of spec
// §4.1. Every accepted table-scan-adjacent column becomes an input column
// lazily, on first reference, via the source's idempotent allocators.
func (tr *translator) buildChain(source *ReadTuples, root *lqp.Node, accepted []*lqp.Node) ([]Operator, Sink, error) {
	var chain []Operator

	var validateNode *lqp.Node
	for _, n := range accepted {
		if n.Kind == lqp.Validate {
			validateNode = n
			break
		}
	}
	source.UseValidate = validateNode != nil
	if validateNode != nil {
		chain = append(chain, &Validate{ForDataTable: validateNode.ValidateForDataTable})
	}

	if predRoot := findPredicateRoot(accepted); predRoot != nil {
		expr := collapsePredicates(predRoot)
		idx, ok := tr.translateExpr(source, expr)
		if !ok {
			return nil, nil, nil
		}
		chain = append(chain, &Compute{Arena: source.Arena, Node: idx, Source: source})
		chain = append(chain, &Filter{Arena: source.Arena, Node: idx, Source: source})
	}

	for _, n := range accepted {
		if n.Kind != lqp.Aggregate {
			continue
		}
		return tr.buildAggregateChain(source, chain, n)
	}

	if root.Kind == lqp.Limit {
		if root.LimitRowCount == nil {
			return nil, nil, fmt.Errorf("%w: limit node missing row-count expression", ErrTranslationInvariant)
		}
		idx, ok := tr.translateExpr(source, root.LimitRowCount)
		if !ok {
			return nil, nil, nil
		}
		source.RowCountNode = idx
		chain = append(chain, &Limit{})
	}

	var computeOps []Operator
	outputCols := make([]OutputColumn, 0, len(root.Output))
	allPassthrough := true
	for _, c := range root.Output {
		if c.ID < 0 {
			// The lqp model carries at most one computed expression per
			// node (root.Expr); a Column with no stored ID stands for
			// that computed value (see lqp.Node.Expr's doc comment).
			allPassthrough = false
			idx, ok := tr.translateExpr(source, root.Expr)
			if !ok {
				return nil, nil, nil
			}
			computeOps = append(computeOps, &Compute{Arena: source.Arena, Node: idx, Source: source})
			outputCols = append(outputCols, OutputColumn{Name: c.Name, Typ: c.Typ, Slot: source.Arena.Get(idx).Result.Slot})
			continue
		}
		tv := source.AddInputColumn(c.ID, c.Typ, c.Nullable, false)
		outputCols = append(outputCols, OutputColumn{Name: c.Name, Typ: c.Typ, Slot: tv.Slot})
	}
	chain = append(chain, computeOps...)

	if allPassthrough {
		return chain, NewWriteOffset(), nil
	}
	return chain, NewWriteTuples(outputCols, util.DefaultVectorSize), nil
}

// buildAggregateChain implements step 4 of spec §4.1's chain-construction
// recipe: computes for non-trivial group-by/aggregate-argument expressions,
// then an aggregate sink with no operator allowed after it.
func (tr *translator) buildAggregateChain(source *ReadTuples, chain []Operator, n *lqp.Node) ([]Operator, Sink, error) {
	groupSlots := make([]int, len(n.GroupBy))
	for i, e := range n.GroupBy {
		idx, ok := tr.translateExpr(source, e)
		if !ok {
			return nil, nil, nil
		}
		if e.Kind != lqp.ColumnRef {
			chain = append(chain, &Compute{Arena: source.Arena, Node: idx, Source: source})
		}
		groupSlots[i] = source.Arena.Get(idx).Result.Slot
	}

	specs := make([]AggregateSpec, len(n.Aggregates))
	for i, a := range n.Aggregates {
		spec := AggregateSpec{Name: a.Name, ArgSlot: -1}
		switch a.Func {
		case lqp.Sum:
			spec.Func = AggSum
		case lqp.Count:
			spec.Func = AggCount
		case lqp.CountStar:
			spec.Func = AggCountStar
		case lqp.Min:
			spec.Func = AggMin
		case lqp.Max:
			spec.Func = AggMax
		case lqp.Avg:
			spec.Func = AggAvg
		default:
			return nil, nil, fmt.Errorf("%w: CountDistinct is not jittable", ErrConfiguration)
		}
		if a.Arg != nil {
			idx, ok := tr.translateExpr(source, a.Arg)
			if !ok {
				return nil, nil, nil
			}
			if a.Arg.Kind != lqp.ColumnRef {
				chain = append(chain, &Compute{Arena: source.Arena, Node: idx, Source: source})
			}
			result := source.Arena.Get(idx).Result
			spec.ArgSlot = result.Slot
			spec.ArgType = result.Typ
		}
		specs[i] = spec
	}

	return chain, NewAggregate(groupSlots, specs), nil
}

// findPredicateRoot returns the topmost Predicate/Union node in accepted
// (there is at most one such chain since joins are never fused).
func findPredicateRoot(accepted []*lqp.Node) *lqp.Node {
	for _, n := range accepted {
		if n.Kind == lqp.Predicate || n.Kind == lqp.Union {
			return n
		}
	}
	return nil
}

// collapsePredicates implements spec §4.1 step 3: AND together a chain of
// Predicate nodes, OR together a Union's fan-in branches.
func collapsePredicates(n *lqp.Node) *lqp.Expr {
	switch n.Kind {
	case lqp.Predicate:
		expr := n.Expr
		if len(n.Children) == 1 {
			if child := n.Children[0]; child.Kind == lqp.Predicate || child.Kind == lqp.Union {
				if rest := collapsePredicates(child); rest != nil {
					expr = lqp.BinaryExpr(lqp.And, expr, rest)
				}
			}
		}
		return expr
	case lqp.Union:
		var combined *lqp.Expr
		for _, c := range n.Children {
			e := collapsePredicates(c)
			if e == nil {
				continue
			}
			if combined == nil {
				combined = e
			} else {
				combined = lqp.BinaryExpr(lqp.Or, combined, e)
			}
		}
		return combined
	default:
		return nil
	}
}

// translateExpr recursively lowers an lqp.Expr into the source's jitexpr
// arena (spec §4.1 "expression translation"). ok is false on any
// non-jittable construct reached at runtime (should not happen given
// is_jittable already screened the tree, but string/non-string mismatches
// and value-ID eligibility are only decided here) or on a genuine
// translation failure.
func (tr *translator) translateExpr(source *ReadTuples, e *lqp.Expr) (int, bool) {
	switch e.Kind {
	case lqp.ColumnRef:
		tv := source.AddInputColumn(e.Column.ID, e.Column.Typ, e.Column.Nullable, false)
		return source.Arena.Add(jitexpr.Expression{Kind: jitexpr.ColumnRef, Result: tv, Left: jitexpr.NoChild, Right: jitexpr.NoChild, Third: jitexpr.NoChild}), true
	case lqp.LiteralRef:
		tv := source.AddLiteral(e.Literal, false)
		return source.Arena.Add(jitexpr.Expression{Kind: jitexpr.LiteralRef, Result: tv, Left: jitexpr.NoChild, Right: jitexpr.NoChild, Third: jitexpr.NoChild}), true
	case lqp.ParameterRef:
		tv := source.AddParameter(e.ParamID, e.ParamType, true, false)
		return source.Arena.Add(jitexpr.Expression{Kind: jitexpr.ParameterRef, Result: tv, Left: jitexpr.NoChild, Right: jitexpr.NoChild, Third: jitexpr.NoChild}), true
	case lqp.Eq, lqp.Ne, lqp.Lt, lqp.Le, lqp.Gt, lqp.Ge:
		return tr.translateComparison(source, e)
	case lqp.Add, lqp.Sub, lqp.Mul, lqp.Div:
		return tr.translateArithmetic(source, e)
	case lqp.And, lqp.Or:
		return tr.translateLogical(source, e)
	case lqp.Not:
		return tr.translateNot(source, e)
	case lqp.Between:
		return tr.translateBetween(source, e)
	case lqp.IsNull, lqp.IsNotNull:
		return tr.translateNullCheck(source, e)
	default:
		return 0, false
	}
}

func isZeroLiteral(v common.Value) bool {
	if v.IsNull {
		return false
	}
	switch v.Typ {
	case common.Int, common.Long:
		return v.I64 == 0
	case common.Float, common.Double:
		return v.F64 == 0
	default:
		return false
	}
}

func isBooleanKind(k lqp.ExprKind) bool {
	switch k {
	case lqp.Eq, lqp.Ne, lqp.Lt, lqp.Le, lqp.Gt, lqp.Ge, lqp.And, lqp.Or, lqp.Not, lqp.Between, lqp.IsNull, lqp.IsNotNull:
		return true
	default:
		return false
	}
}

func exprDataType(e *lqp.Expr) common.DataType {
	switch e.Kind {
	case lqp.ColumnRef:
		return e.Column.Typ
	case lqp.LiteralRef:
		return e.Literal.Typ
	case lqp.ParameterRef:
		return e.ParamType
	default:
		return common.Invalid
	}
}

func (tr *translator) translateArithmetic(source *ReadTuples, e *lqp.Expr) (int, bool) {
	li, ok := tr.translateExpr(source, e.Children[0])
	if !ok {
		return 0, false
	}
	ri, ok := tr.translateExpr(source, e.Children[1])
	if !ok {
		return 0, false
	}
	lt := source.Arena.Get(li).Result.Typ
	rt := source.Arena.Get(ri).Result.Typ
	resultTyp := common.Long
	if lt == common.Float || lt == common.Double || rt == common.Float || rt == common.Double {
		resultTyp = common.Double
	}
	nullable := source.Arena.Get(li).Result.Nullable || source.Arena.Get(ri).Result.Nullable
	tv := source.AddTemporary(resultTyp, nullable)
	return source.Arena.Add(jitexpr.Expression{Kind: toJitKind(e.Kind), Result: tv, Left: li, Right: ri, Third: jitexpr.NoChild}), true
}

// translateComparison implements the "x != 0 elision" rule, the string/
// non-string incomparability check, and value-ID rewrite detection (spec
// §4.1 "expression translation").
func (tr *translator) translateComparison(source *ReadTuples, e *lqp.Expr) (int, bool) {
	left, right := e.Children[0], e.Children[1]

	if e.Kind == lqp.Ne && right.Kind == lqp.LiteralRef && isZeroLiteral(right.Literal) && isBooleanKind(left.Kind) {
		// A redundant `x != 0` the SQL translator renders over a bare
		// boolean sub-expression is elided; x is returned directly,
		// already tagged boolean by its own kind.
		return tr.translateExpr(source, left)
	}

	lt, rt := exprDataType(left), exprDataType(right)
	if lt != common.Invalid && rt != common.Invalid && !common.Comparable(lt, rt) {
		return 0, false
	}

	if idx, ok := tr.tryValueIDRewrite(source, e.Kind, left, right); ok {
		return idx, true
	}

	li, ok := tr.translateExpr(source, left)
	if !ok {
		return 0, false
	}
	ri, ok := tr.translateExpr(source, right)
	if !ok {
		return 0, false
	}
	tv := source.AddTemporary(common.Bool, source.Arena.Get(li).Result.Nullable || source.Arena.Get(ri).Result.Nullable)
	return source.Arena.Add(jitexpr.Expression{Kind: toJitKind(e.Kind), Result: tv, Left: li, Right: ri, Third: jitexpr.NoChild}), true
}

// tryValueIDRewrite detects "dictionary-encoded column compared against a
// literal/parameter" and, if eligible, translates both operands as ValueID
// slots and registers a value-ID predicate record (spec §4.1, §4.4).
func (tr *translator) tryValueIDRewrite(source *ReadTuples, op lqp.ExprKind, left, right *lqp.Expr) (int, bool) {
	colExpr, otherExpr, flipped := left, right, false
	if left.Kind != lqp.ColumnRef || !tr.store.ColumnDictionary(left.Column.ID) {
		if right.Kind == lqp.ColumnRef && tr.store.ColumnDictionary(right.Column.ID) {
			colExpr, otherExpr, flipped = right, left, true
		} else {
			return 0, false
		}
	}
	if otherExpr.Kind != lqp.LiteralRef && otherExpr.Kind != lqp.ParameterRef {
		return 0, false
	}

	originalOp := op
	if flipped {
		originalOp = mirrorOp(op)
	}
	canonicalOp, bound := canonicalizeValueIDOp(originalOp)

	colSlot := source.AddInputColumn(colExpr.Column.ID, colExpr.Column.Typ, colExpr.Column.Nullable, true)
	colIdx := source.Arena.Add(jitexpr.Expression{Kind: jitexpr.ColumnRef, Result: colSlot, Left: jitexpr.NoChild, Right: jitexpr.NoChild, Third: jitexpr.NoChild, UseValueID: true})

	inputColumnIndex := -1
	for i, ic := range source.InputColumns {
		if ic.ColumnID == colExpr.Column.ID && ic.UseValueID {
			inputColumnIndex = i
			break
		}
	}

	var otherIdx int
	literalIndex, parameterIndex := -1, -1
	if otherExpr.Kind == lqp.LiteralRef {
		slot := source.AddLiteral(otherExpr.Literal, true)
		otherIdx = source.Arena.Add(jitexpr.Expression{Kind: jitexpr.LiteralRef, Result: slot, Left: jitexpr.NoChild, Right: jitexpr.NoChild, Third: jitexpr.NoChild, UseValueID: true})
		for i, lit := range source.Literals {
			if lit.UseValueID && lit.Slot.Slot == slot.Slot {
				literalIndex = i
				break
			}
		}
	} else {
		slot := source.AddParameter(otherExpr.ParamID, otherExpr.ParamType, true, true)
		otherIdx = source.Arena.Add(jitexpr.Expression{Kind: jitexpr.ParameterRef, Result: slot, Left: jitexpr.NoChild, Right: jitexpr.NoChild, Third: jitexpr.NoChild, UseValueID: true})
		for i, p := range source.Parameters {
			if p.UseValueID && p.ParamID == otherExpr.ParamID {
				parameterIndex = i
				break
			}
		}
	}

	source.AddValueIDPredicate(inputColumnIndex, toJitKind(canonicalOp), bound, literalIndex, parameterIndex)

	// mirrorOp already re-normalized originalOp (and thus canonicalOp) to
	// read "col op other" regardless of the operands' original source
	// order, so the built expression's operands follow that same
	// column-first order unconditionally - re-swapping them here on
	// flipped would invert the relation back.
	tv := source.AddTemporary(common.Bool, colExpr.Column.Nullable)
	return source.Arena.Add(jitexpr.Expression{Kind: toJitKind(canonicalOp), Result: tv, Left: colIdx, Right: otherIdx, Third: jitexpr.NoChild}), true
}

// mirrorOp flips a comparison so "a op b" reads as "b mirror(op) a".
func mirrorOp(op lqp.ExprKind) lqp.ExprKind {
	switch op {
	case lqp.Lt:
		return lqp.Gt
	case lqp.Gt:
		return lqp.Lt
	case lqp.Le:
		return lqp.Ge
	case lqp.Ge:
		return lqp.Le
	default:
		return op
	}
}

// canonicalizeValueIDOp implements spec §4.4's op-normalization table:
// Equals/NotEquals keep their op with an equality bound lookup; LessThan/
// GreaterThanEquals keep their op with a lower_bound lookup; LessThanEquals/
// GreaterThan are rewritten to LessThan/GreaterThanEquals respectively with
// an upper_bound lookup.
func canonicalizeValueIDOp(op lqp.ExprKind) (lqp.ExprKind, ValueIDBoundKind) {
	switch op {
	case lqp.Eq, lqp.Ne:
		return op, EqualityBound
	case lqp.Lt, lqp.Ge:
		return op, LowerBoundKind
	case lqp.Le:
		return lqp.Lt, UpperBoundKind
	case lqp.Gt:
		return lqp.Ge, UpperBoundKind
	default:
		return op, EqualityBound
	}
}

func (tr *translator) translateLogical(source *ReadTuples, e *lqp.Expr) (int, bool) {
	li, ok := tr.translateExpr(source, e.Children[0])
	if !ok {
		return 0, false
	}
	ri, ok := tr.translateExpr(source, e.Children[1])
	if !ok {
		return 0, false
	}
	tv := source.AddTemporary(common.Bool, true)
	return source.Arena.Add(jitexpr.Expression{Kind: toJitKind(e.Kind), Result: tv, Left: li, Right: ri, Third: jitexpr.NoChild}), true
}

func (tr *translator) translateNot(source *ReadTuples, e *lqp.Expr) (int, bool) {
	li, ok := tr.translateExpr(source, e.Children[0])
	if !ok {
		return 0, false
	}
	tv := source.AddTemporary(common.Bool, source.Arena.Get(li).Result.Nullable)
	return source.Arena.Add(jitexpr.Expression{Kind: jitexpr.Not, Result: tv, Left: li, Right: jitexpr.NoChild, Third: jitexpr.NoChild}), true
}

// translateBetween decomposes between(a, lo, hi) into `a >= lo AND a <= hi`
// (spec §4.1); each half independently goes through comparison translation
// so either can pick up a value-ID rewrite.
func (tr *translator) translateBetween(source *ReadTuples, e *lqp.Expr) (int, bool) {
	v, lo, hi := e.Children[0], e.Children[1], e.Children[2]
	geExpr := lqp.BinaryExpr(lqp.Ge, v, lo)
	leExpr := lqp.BinaryExpr(lqp.Le, v, hi)
	andExpr := lqp.BinaryExpr(lqp.And, geExpr, leExpr)
	return tr.translateExpr(source, andExpr)
}

func (tr *translator) translateNullCheck(source *ReadTuples, e *lqp.Expr) (int, bool) {
	li, ok := tr.translateExpr(source, e.Children[0])
	if !ok {
		return 0, false
	}
	tv := source.AddTemporary(common.Bool, false)
	return source.Arena.Add(jitexpr.Expression{Kind: toJitKind(e.Kind), Result: tv, Left: li, Right: jitexpr.NoChild, Third: jitexpr.NoChild}), true
}

func toJitKind(k lqp.ExprKind) jitexpr.ExprKind {
	switch k {
	case lqp.ColumnRef:
		return jitexpr.ColumnRef
	case lqp.LiteralRef:
		return jitexpr.LiteralRef
	case lqp.ParameterRef:
		return jitexpr.ParameterRef
	case lqp.Add:
		return jitexpr.Add
	case lqp.Sub:
		return jitexpr.Sub
	case lqp.Mul:
		return jitexpr.Mul
	case lqp.Div:
		return jitexpr.Div
	case lqp.Eq:
		return jitexpr.Eq
	case lqp.Ne:
		return jitexpr.Ne
	case lqp.Lt:
		return jitexpr.Lt
	case lqp.Le:
		return jitexpr.Le
	case lqp.Gt:
		return jitexpr.Gt
	case lqp.Ge:
		return jitexpr.Ge
	case lqp.And:
		return jitexpr.And
	case lqp.Or:
		return jitexpr.Or
	case lqp.Not:
		return jitexpr.Not
	case lqp.Between:
		return jitexpr.Between
	case lqp.IsNull:
		return jitexpr.IsNull
	case lqp.IsNotNull:
		return jitexpr.IsNotNull
	default:
		panic(fmt.Sprintf("jit: %v has no jitexpr equivalent", k))
	}
}
