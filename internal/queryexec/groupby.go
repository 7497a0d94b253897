package queryexec

import (
	"context"

	"pgkv/internal/agg"
	"pgkv/internal/eval"
	"pgkv/internal/value"
)

// GroupBy implements spec §4.9 step 3's GROUP BY / HAVING / aggregate
// projection pass. GroupExprs is empty when the query has no GROUP BY but
// does have aggregates, in which case the whole input is a single implicit
// group — including the empty-input case, which must still produce one
// result row (spec §4.5 "COUNT(*) over zero rows is 0, not no rows").
//
// Having, when non-nil, is compiled against this node's OWN output Schema
// (group-by columns followed by aggregate columns) and is evaluated from
// the same per-group Aggs pass EvalGroupAggregates already computed —
// never a second, separately-seeded aggregate pass — satisfying spec
// §4.5's HAVING/projection consistency rule.
type GroupBy struct {
	Child      Node
	GroupExprs []eval.Expr
	GroupNames []ColumnRef
	Aggs       []agg.AggSpec
	AggNames   []ColumnRef
	Having     eval.Expr
	Outer      eval.RowContext
}

func (g *GroupBy) Schema() Schema {
	out := make(Schema, 0, len(g.GroupNames)+len(g.AggNames))
	out = append(out, g.GroupNames...)
	out = append(out, g.AggNames...)
	return out
}

func (g *GroupBy) Exec(ctx context.Context) ([]eval.Row, error) {
	rows, err := g.Child.Exec(ctx)
	if err != nil {
		return nil, err
	}
	childSchema := g.Child.Schema()
	childRC := rcFactory(childSchema, g.Outer)

	var groups []*agg.Group
	if len(g.GroupExprs) == 0 {
		groups = []*agg.Group{{Rows: rows}}
	} else {
		groups, err = agg.GroupRows(rows, func(row eval.Row) ([]value.Value, error) {
			rc := childRC(row)
			key := make([]value.Value, len(g.GroupExprs))
			for i, expr := range g.GroupExprs {
				v, err := expr.Eval(ctx, rc)
				if err != nil {
					return nil, err
				}
				key[i] = v
			}
			return key, nil
		})
		if err != nil {
			return nil, err
		}
	}

	outSchema := g.Schema()
	out := make([]eval.Row, 0, len(groups))
	for _, grp := range groups {
		aggVals, err := agg.EvalGroupAggregates(ctx, grp, g.Aggs, childRC)
		if err != nil {
			return nil, err
		}
		row := make(eval.Row, 0, len(grp.Key)+len(aggVals))
		row = append(row, grp.Key...)
		row = append(row, aggVals...)

		if g.Having != nil {
			rc := newRowRC(outSchema, row, g.Outer)
			v, err := g.Having.Eval(ctx, rc)
			if err != nil {
				return nil, err
			}
			if v.Kind != value.KindBool || !v.Bool {
				continue
			}
		}
		out = append(out, row)
	}
	return out, nil
}
