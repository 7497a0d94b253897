package eval

import (
	"context"

	"pgkv/internal/errs"
	"pgkv/internal/value"
)

// SubqueryExecutor is the "handle to open a sub-executor" spec §4.4 grants
// the evaluator's ctx. The query executor compiles a correlated subquery
// plan once and hands eval a closure over it; eval itself never touches
// plans, joins, or storage.
type SubqueryExecutor interface {
	// Run executes the subquery for the given correlated outer row and
	// returns its result rows (each a Row of one or more columns).
	Run(ctx context.Context, outer RowContext) ([]Row, error)
}

// ScalarSubquery evaluates to the subquery's single row/column, or NULL for
// zero rows; more than one row or more than one column is a CardinalityError
// (spec §4.4).
type ScalarSubquery struct {
	Sub SubqueryExecutor
}

func (s ScalarSubquery) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	rows, err := s.Sub.Run(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	if len(rows) == 0 {
		return value.Null(), nil
	}
	if len(rows) > 1 {
		return value.Value{}, errs.New(errs.CardinalityError, "more than one row returned by a subquery used as an expression")
	}
	if len(rows[0]) != 1 {
		return value.Value{}, errs.New(errs.CardinalityError, "subquery must return only one column")
	}
	return rows[0][0], nil
}

// ExistsExpr halts the subquery at its first row (spec §4.4).
type ExistsExpr struct {
	Sub SubqueryExecutor
	Not bool
}

func (e ExistsExpr) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	rows, err := e.Sub.Run(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	exists := len(rows) > 0
	if e.Not {
		exists = !exists
	}
	return value.Bool(exists), nil
}

// InSubquery materializes the inner column into a set before comparing
// (spec §4.4), with the same three-valued NULL handling as InList.
type InSubquery struct {
	Expr Expr
	Sub  SubqueryExecutor
	Not  bool
}

func (in InSubquery) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	lv, err := in.Expr.Eval(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	rows, err := in.Sub.Run(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	literal := make([]Expr, 0, len(rows))
	for _, r := range rows {
		if len(r) != 1 {
			return value.Value{}, errs.New(errs.CardinalityError, "subquery must return only one column")
		}
		literal = append(literal, Lit{Value: r[0]})
	}
	return InList{Expr: Lit{Value: lv}, List: literal, Not: in.Not}.Eval(ctx, rc)
}
