package queryexec

import (
	"context"

	"pgkv/internal/errs"
	"pgkv/internal/eval"
)

// RecursionRowCap bounds a recursive CTE's accumulated row count (spec §8
// "a recursive CTE that never terminates must raise an error rather than
// run forever").
const RecursionRowCap = 100_000

// RecursiveCTE evaluates `WITH RECURSIVE name AS (Base UNION [ALL] Step)`
// by the standard iterative fixpoint: seed the working set from Base, then
// repeatedly compile Step against the PREVIOUS iteration's new rows only
// (not the whole accumulated set) until an iteration adds nothing.
//
// BuildStep receives a Node standing in for a reference to name inside the
// recursive term and must return the compiled plan for Step with that
// reference spliced in; it is called once per iteration since each
// iteration's working set is a different MaterializedNode.
type RecursiveCTE struct {
	Base      Node
	BuildStep func(working Node) Node
	UnionAll  bool
	RowCap    int
}

func (r *RecursiveCTE) Schema() Schema { return r.Base.Schema() }

func (r *RecursiveCTE) Exec(ctx context.Context) ([]eval.Row, error) {
	cap := r.RowCap
	if cap <= 0 {
		cap = RecursionRowCap
	}
	schema := r.Base.Schema()
	cols := allColumns(len(schema))

	baseRows, err := r.Base.Exec(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var accumulated []eval.Row
	addNew := func(rows []eval.Row) []eval.Row {
		var fresh []eval.Row
		for _, row := range rows {
			if !r.UnionAll {
				sig := string(rowSignature(row, cols))
				if seen[sig] {
					continue
				}
				seen[sig] = true
			}
			fresh = append(fresh, row)
		}
		return fresh
	}

	working := addNew(baseRows)
	accumulated = append(accumulated, working...)

	for len(working) > 0 {
		if len(accumulated) > cap {
			return nil, errs.New(errs.RecursionLimit, "recursive query exceeded %d rows", cap)
		}
		stepNode := r.BuildStep(&MaterializedNode{SchemaRef: schema, Rows: working})
		stepRows, err := stepNode.Exec(ctx)
		if err != nil {
			return nil, err
		}
		fresh := addNew(stepRows)
		if len(fresh) == 0 {
			break
		}
		accumulated = append(accumulated, fresh...)
		working = fresh
	}
	return accumulated, nil
}
