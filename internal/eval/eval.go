// Package eval implements `eval(expr, row, ctx) -> Value`, the scalar
// expression evaluator every DML/query executor calls per row.
//
// There is no teacher analogue for a SQL expression interpreter; the shape
// here — a small sealed Expr interface with one Eval method per node kind,
// dispatched by type switch rather than by an inheritance hierarchy — is
// grounded on the teacher's internal/core AST (core.Node variants walked by
// internal/diff's type-switch visitors), generalized from "walk a schema
// diff tree" to "walk and reduce a scalar expression tree".
package eval

import (
	"context"

	"pgkv/internal/errs"
	"pgkv/internal/value"
)

// Row is the evaluation-time tuple: resolved columns in table-schema order.
type Row []value.Value

// RowContext resolves column references by (table alias, column name),
// disambiguating joined sources. An empty alias matches any source as long
// as the name is unambiguous. Outer returns the enclosing correlated row's
// context for a scalar/EXISTS subquery, or nil at the top level.
type RowContext interface {
	Column(alias, name string) (value.Value, error)
	Outer() RowContext
}

// Expr is one node of a compiled scalar expression tree.
type Expr interface {
	Eval(ctx context.Context, rc RowContext) (value.Value, error)
}

// Lit is a constant.
type Lit struct{ Value value.Value }

func (l Lit) Eval(ctx context.Context, rc RowContext) (value.Value, error) { return l.Value, nil }

// Column references a resolved column by alias/name.
type Column struct {
	Alias string
	Name  string
}

func (c Column) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	return rc.Column(c.Alias, c.Name)
}

// OuterColumn reaches into the enclosing query's current row, for
// correlated subqueries.
type OuterColumn struct {
	Alias string
	Name  string
}

func (c OuterColumn) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	outer := rc.Outer()
	if outer == nil {
		return value.Value{}, errs.New(errs.UndefinedColumn, "no outer query for correlated reference %q", c.Name)
	}
	return outer.Column(c.Alias, c.Name)
}

// Unary covers NOT, IS NULL, IS NOT NULL, and arithmetic negation.
type Unary struct {
	Op   string // "NOT", "ISNULL", "ISNOTNULL", "-", "+"
	Expr Expr
}

func (u Unary) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	v, err := u.Expr.Eval(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	switch u.Op {
	case "ISNULL":
		return value.Bool(v.IsNull()), nil
	case "ISNOTNULL":
		return value.Bool(!v.IsNull()), nil
	case "NOT":
		if v.IsNull() {
			return value.Null(), nil
		}
		return value.Bool(!v.Bool), nil
	case "-":
		if v.IsNull() {
			return value.Null(), nil
		}
		return negate(v)
	case "+":
		return v, nil
	default:
		return value.Value{}, errs.New(errs.Internal, "unknown unary operator %q", u.Op)
	}
}

func negate(v value.Value) (value.Value, error) {
	switch v.Kind {
	case value.KindInt:
		return value.Int(-v.Int), nil
	case value.KindFloat:
		return value.Float(-v.Float), nil
	case value.KindNumeric:
		n := v.Numeric
		n.Unscaled = -n.Unscaled
		return value.NumericVal(n), nil
	default:
		return value.Value{}, errs.New(errs.TypeError, "cannot negate %s", v.Kind)
	}
}

// Binary covers comparisons, AND/OR, arithmetic, concatenation, and the
// JSON/containment operators (spec §4.4).
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

var comparisonOps = map[string]bool{"=": true, "<>": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (b Binary) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	// AND/OR short-circuit per spec §4.4 before evaluating the right side.
	if b.Op == "AND" || b.Op == "OR" {
		lv, err := b.Left.Eval(ctx, rc)
		if err != nil {
			return value.Value{}, err
		}
		lt := triOf(lv)
		if b.Op == "AND" && lt == value.False {
			return value.Bool(false), nil
		}
		if b.Op == "OR" && lt == value.True {
			return value.Bool(true), nil
		}
		rv, err := b.Right.Eval(ctx, rc)
		if err != nil {
			return value.Value{}, err
		}
		rt := triOf(rv)
		var out value.TriBool
		if b.Op == "AND" {
			out = lt.And(rt)
		} else {
			out = lt.Or(rt)
		}
		return out.AsValue(), nil
	}

	lv, err := b.Left.Eval(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	rv, err := b.Right.Eval(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}

	if comparisonOps[b.Op] {
		return evalComparison(lv, rv, b.Op)
	}
	switch b.Op {
	case "+", "-", "*", "/", "%":
		if lv.IsNull() || rv.IsNull() {
			return value.Null(), nil
		}
		return arith(lv, rv, b.Op)
	case "||":
		if lv.IsNull() || rv.IsNull() {
			return value.Null(), nil
		}
		return value.Text(value.ToText(lv) + value.ToText(rv)), nil
	case "@>":
		return jsonbContains(lv, rv)
	case "<@":
		return jsonbContains(rv, lv)
	case "->":
		return jsonExtract(lv, rv, false)
	case "->>":
		return jsonExtract(lv, rv, true)
	case "LIKE":
		return evalLike(lv, rv, false, false)
	case "ILIKE":
		return evalLike(lv, rv, true, false)
	case "NOT LIKE":
		return evalLike(lv, rv, false, true)
	case "NOT ILIKE":
		return evalLike(lv, rv, true, true)
	default:
		return value.Value{}, errs.New(errs.Internal, "unknown binary operator %q", b.Op)
	}
}

func triOf(v value.Value) value.TriBool {
	if v.IsNull() {
		return value.Unknown
	}
	return value.BoolOf(v.Bool)
}

func evalComparison(lv, rv value.Value, op string) (value.Value, error) {
	// Jsonb rejects ordering comparisons outright, per spec §4.4.
	if (lv.Kind == value.KindJSONB || rv.Kind == value.KindJSONB) && op != "=" && op != "<>" && op != "!=" {
		return value.Value{}, errs.New(errs.TypeError, "operator %s is not defined for jsonb", op)
	}
	tb, err := value.CompareSQL(lv, rv, op)
	if err != nil {
		return value.Value{}, errs.Wrap(errs.TypeError, err, "comparison %s", op)
	}
	return tb.AsValue(), nil
}

func arith(lv, rv value.Value, op string) (value.Value, error) {
	if lv.Kind == value.KindInt && rv.Kind == value.KindInt && op != "/" {
		switch op {
		case "+":
			return value.Int(lv.Int + rv.Int), nil
		case "-":
			return value.Int(lv.Int - rv.Int), nil
		case "*":
			return value.Int(lv.Int * rv.Int), nil
		case "%":
			if rv.Int == 0 {
				return value.Value{}, errs.New(errs.TypeError, "division by zero")
			}
			return value.Int(lv.Int % rv.Int), nil
		}
	}
	lf, err := toFloat(lv)
	if err != nil {
		return value.Value{}, err
	}
	rf, err := toFloat(rv)
	if err != nil {
		return value.Value{}, err
	}
	switch op {
	case "+":
		return value.Float(lf + rf), nil
	case "-":
		return value.Float(lf - rf), nil
	case "*":
		return value.Float(lf * rf), nil
	case "/":
		if rf == 0 {
			return value.Value{}, errs.New(errs.TypeError, "division by zero")
		}
		if lv.Kind == value.KindInt && rv.Kind == value.KindInt {
			return value.Int(int64(lf) / int64(rf)), nil
		}
		return value.Float(lf / rf), nil
	case "%":
		if rf == 0 {
			return value.Value{}, errs.New(errs.TypeError, "division by zero")
		}
		return value.Float(mod(lf, rf)), nil
	default:
		return value.Value{}, errs.New(errs.Internal, "unknown arithmetic operator %q", op)
	}
}

func mod(a, b float64) float64 {
	q := int64(a / b)
	return a - float64(q)*b
}

func toFloat(v value.Value) (float64, error) {
	switch v.Kind {
	case value.KindInt:
		return float64(v.Int), nil
	case value.KindFloat:
		return v.Float, nil
	case value.KindNumeric:
		return v.Numeric.Float64(), nil
	default:
		return 0, errs.New(errs.TypeError, "%s is not numeric", v.Kind)
	}
}

// Cast applies an explicit CAST/`::`.
type Cast struct {
	Expr   Expr
	Target value.TypeName
}

func (c Cast) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	v, err := c.Expr.Eval(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	return value.Cast(v, c.Target)
}

// CaseExpr implements `CASE WHEN … THEN … ELSE … END`.
type CaseExpr struct {
	Whens []WhenClause
	Else  Expr // nil means implicit NULL
}

type WhenClause struct {
	Cond Expr
	Then Expr
}

func (c CaseExpr) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	for _, w := range c.Whens {
		cv, err := w.Cond.Eval(ctx, rc)
		if err != nil {
			return value.Value{}, err
		}
		if triOf(cv) == value.True {
			return w.Then.Eval(ctx, rc)
		}
	}
	if c.Else != nil {
		return c.Else.Eval(ctx, rc)
	}
	return value.Null(), nil
}

// InList implements `expr IN (v1, v2, …)` with three-valued semantics: NULL
// on the left, or a NULL member with no match, yields Unknown rather than
// False.
type InList struct {
	Expr Expr
	List []Expr
	Not  bool
}

func (in InList) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	lv, err := in.Expr.Eval(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	result := value.False
	sawNull := lv.IsNull()
	for _, item := range in.List {
		rv, err := item.Eval(ctx, rc)
		if err != nil {
			return value.Value{}, err
		}
		if rv.IsNull() {
			sawNull = true
			continue
		}
		if lv.IsNull() {
			continue
		}
		tb, err := value.CompareSQL(lv, rv, "=")
		if err != nil {
			return value.Value{}, err
		}
		if tb == value.True {
			result = value.True
			break
		}
	}
	if result != value.True && sawNull {
		result = value.Unknown
	}
	if in.Not {
		result = result.Not()
	}
	return result.AsValue(), nil
}

// FuncCall applies a built-in scalar function (glossary list, spec §4.4).
type FuncCall struct {
	Name string
	Args []Expr
}

func (f FuncCall) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	fn, ok := Builtins[normalizeFuncName(f.Name)]
	if !ok {
		return value.Value{}, errs.New(errs.UndefinedFunction, "function %s does not exist", f.Name)
	}
	args := make([]value.Value, len(f.Args))
	for i, a := range f.Args {
		v, err := a.Eval(ctx, rc)
		if err != nil {
			return value.Value{}, err
		}
		args[i] = v
	}
	return fn(args)
}
