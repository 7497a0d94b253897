package frontend

import (
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	driver "github.com/pingcap/tidb/pkg/parser/test_driver"

	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/value"
)

// binaryOpText maps opcode.Op to the operator strings internal/eval.Binary
// switches on. opcode.Op.String() returns the operator's short name ("eq",
// "plus", "and", ...), not its SQL symbol, so each name internal/eval has a
// spelling for is translated here; anything else passes through unchanged.
func binaryOpText(op opcode.Op) string {
	switch s := op.String(); s {
	case "and", "&&":
		return "AND"
	case "or", "||":
		return "OR"
	case "xor":
		return "XOR"
	default:
		if sym, ok := map[string]string{
			"eq": "=", "ne": "<>", "lt": "<", "le": "<=", "gt": ">", "ge": ">=",
			"plus": "+", "minus": "-", "mul": "*", "div": "/", "mod": "%",
		}[s]; ok {
			return sym
		}
		return s
	}
}

// CompileExpr turns one TiDB expression AST node into an internal
// eval.Expr. subq, when non-nil, is invoked for EXISTS/IN/scalar
// subqueries so the caller's statement compiler can plan the inner SELECT
// (CompileExpr itself only knows about scalar expressions).
func CompileExpr(node ast.ExprNode, subq SubqueryCompiler) (eval.Expr, error) {
	switch n := node.(type) {
	case *driver.ValueExpr:
		return eval.Lit{Value: datumToValue(n)}, nil

	case *ast.ColumnNameExpr:
		return eval.Column{Alias: n.Name.Table.O, Name: n.Name.Name.O}, nil

	case *ast.ParenthesesExpr:
		return CompileExpr(n.Expr, subq)

	case *ast.BinaryOperationExpr:
		l, err := CompileExpr(n.L, subq)
		if err != nil {
			return nil, err
		}
		r, err := CompileExpr(n.R, subq)
		if err != nil {
			return nil, err
		}
		return eval.Binary{Op: binaryOpText(n.Op), Left: l, Right: r}, nil

	case *ast.UnaryOperationExpr:
		v, err := CompileExpr(n.V, subq)
		if err != nil {
			return nil, err
		}
		op := "-"
		switch n.Op.String() {
		case "!", "not":
			op = "NOT"
		case "+", "plus":
			op = "+"
		case "-", "minus":
			op = "-"
		}
		return eval.Unary{Op: op, Expr: v}, nil

	case *ast.IsNullExpr:
		v, err := CompileExpr(n.Expr, subq)
		if err != nil {
			return nil, err
		}
		op := "ISNULL"
		if n.Not {
			op = "ISNOTNULL"
		}
		return eval.Unary{Op: op, Expr: v}, nil

	case *ast.BetweenExpr:
		v, err := CompileExpr(n.Expr, subq)
		if err != nil {
			return nil, err
		}
		lo, err := CompileExpr(n.Left, subq)
		if err != nil {
			return nil, err
		}
		hi, err := CompileExpr(n.Right, subq)
		if err != nil {
			return nil, err
		}
		between := eval.Binary{
			Op:    "AND",
			Left:  eval.Binary{Op: ">=", Left: v, Right: lo},
			Right: eval.Binary{Op: "<=", Left: v, Right: hi},
		}
		if n.Not {
			return eval.Unary{Op: "NOT", Expr: between}, nil
		}
		return between, nil

	case *ast.PatternInExpr:
		v, err := CompileExpr(n.Expr, subq)
		if err != nil {
			return nil, err
		}
		if n.Sel != nil {
			if subq == nil {
				return nil, unsupported(node)
			}
			return subq.In(n.Sel, v, n.Not)
		}
		items := make([]eval.Expr, len(n.List))
		for i, it := range n.List {
			items[i], err = CompileExpr(it, subq)
			if err != nil {
				return nil, err
			}
		}
		return eval.InList{Expr: v, List: items, Not: n.Not}, nil

	case *ast.PatternLikeOrIlikeExpr:
		v, err := CompileExpr(n.Expr, subq)
		if err != nil {
			return nil, err
		}
		pat, err := CompileExpr(n.Pattern, subq)
		if err != nil {
			return nil, err
		}
		like := eval.Binary{Op: "LIKE", Left: v, Right: pat}
		if n.Not {
			return eval.Unary{Op: "NOT", Expr: like}, nil
		}
		return like, nil

	case *ast.CaseExpr:
		var caseValue eval.Expr
		if n.Value != nil {
			var err error
			caseValue, err = CompileExpr(n.Value, subq)
			if err != nil {
				return nil, err
			}
		}
		whens := make([]eval.WhenClause, len(n.WhenClauses))
		for i, w := range n.WhenClauses {
			cond, err := CompileExpr(w.Expr, subq)
			if err != nil {
				return nil, err
			}
			if caseValue != nil {
				cond = eval.Binary{Op: "=", Left: caseValue, Right: cond}
			}
			res, err := CompileExpr(w.Result, subq)
			if err != nil {
				return nil, err
			}
			whens[i] = eval.WhenClause{Cond: cond, Then: res}
		}
		var elseExpr eval.Expr
		if n.ElseClause != nil {
			var err error
			elseExpr, err = CompileExpr(n.ElseClause, subq)
			if err != nil {
				return nil, err
			}
		}
		return eval.CaseExpr{Whens: whens, Else: elseExpr}, nil

	case *ast.AggregateFuncExpr:
		return nil, errs.New(errs.SyntaxError, "aggregate %s may only appear in a SELECT list or HAVING clause", n.F)

	case *ast.FuncCallExpr:
		args := make([]eval.Expr, len(n.Args))
		for i, a := range n.Args {
			v, err := CompileExpr(a, subq)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return eval.FuncCall{Name: strings.ToLower(n.FnName.O), Args: args}, nil

	case *ast.SubqueryExpr:
		if subq == nil {
			return nil, unsupported(node)
		}
		return subq.Scalar(n)

	case *ast.ExistsSubqueryExpr:
		if subq == nil {
			return nil, unsupported(node)
		}
		inner, ok := n.Sel.(*ast.SubqueryExpr)
		if !ok {
			return nil, unsupported(node)
		}
		return subq.Exists(inner, n.Not)

	default:
		return nil, unsupported(node)
	}
}

// SubqueryCompiler plans a correlated subquery in AST form into an
// eval.Expr that wraps eval.SubqueryExecutor, keeping CompileExpr itself
// free of any dependency on queryexec/planner (the same separation
// internal/eval.SubqueryExecutor already draws between expression
// evaluation and query planning).
type SubqueryCompiler interface {
	Scalar(sel *ast.SubqueryExpr) (eval.Expr, error)
	Exists(sel *ast.SubqueryExpr, not bool) (eval.Expr, error)
	In(sel *ast.SubqueryExpr, lhs eval.Expr, not bool) (eval.Expr, error)
}

func datumToValue(v *driver.ValueExpr) value.Value {
	if v.Datum.IsNull() {
		return value.Null()
	}
	switch v.Datum.Kind() {
	case driver.KindInt64:
		return value.Int(v.Datum.GetInt64())
	case driver.KindUint64:
		return value.Int(int64(v.Datum.GetUint64()))
	case driver.KindFloat32:
		return value.Float(float64(v.Datum.GetFloat32()))
	case driver.KindFloat64:
		return value.Float(v.Datum.GetFloat64())
	case driver.KindString, driver.KindBytes:
		return value.Text(v.Datum.GetString())
	default:
		return value.Text(v.Datum.GetString())
	}
}
