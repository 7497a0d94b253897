// Package queryexec implements the SELECT pipeline (spec §4.9): source
// resolution (base table / view / materialized view / derived subquery /
// CTE), joins, filtering/projection, GROUP BY/HAVING, window functions,
// DISTINCT/set operations, ORDER BY/LIMIT/OFFSET, and CTEs — composed as a
// tree of Node values the caller (the statement planner/frontend) builds
// directly, the way internal/planner hands its caller a chosen scan kind
// rather than executing it itself.
//
// There is no teacher analogue for a query execution engine (the teacher
// only diffs and migrates schemas); the Node-tree shape is grounded on the
// same type-switch-over-a-sealed-interface discipline internal/eval and
// internal/planner already established for this codebase, extended here
// from "reduce one expression" / "plan one table's access" to "produce a
// stream of rows".
package queryexec

import (
	"context"

	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/value"
)

// ColumnRef names one output column of a Node: the table alias it came
// from (empty for a computed/aggregate column) and its name.
type ColumnRef struct {
	Alias string
	Name  string
}

// Schema is the ordered output column list of a Node.
type Schema []ColumnRef

// Node is one operator of a compiled query plan.
type Node interface {
	Schema() Schema
	Exec(ctx context.Context) ([]eval.Row, error)
}

// rowRC adapts one row plus its producing Schema into eval.RowContext, so
// expression trees can resolve `alias.column` / bare `column` references.
// outer chains to an enclosing correlated query's current row.
type rowRC struct {
	schema Schema
	row    eval.Row
	outer  eval.RowContext
}

func newRowRC(schema Schema, row eval.Row, outer eval.RowContext) *rowRC {
	return &rowRC{schema: schema, row: row, outer: outer}
}

func (r *rowRC) Column(alias, name string) (value.Value, error) {
	match := -1
	for i, c := range r.schema {
		if c.Name != name {
			continue
		}
		if alias != "" && c.Alias != alias {
			continue
		}
		if match >= 0 {
			return value.Value{}, errs.New(errs.Internal, "column reference %q is ambiguous", name)
		}
		match = i
	}
	if match < 0 {
		return value.Value{}, errs.New(errs.UndefinedColumn, "column %q does not exist", name)
	}
	return r.row[match], nil
}

func (r *rowRC) Outer() eval.RowContext { return r.outer }

// rcFactory binds a Schema to the func(Row) RowContext shape internal/agg's
// GroupRows/EvalGroupAggregates/window.Evaluate expect.
func rcFactory(schema Schema, outer eval.RowContext) func(eval.Row) eval.RowContext {
	return func(row eval.Row) eval.RowContext { return newRowRC(schema, row, outer) }
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
