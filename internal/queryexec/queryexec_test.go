package queryexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pgkv/internal/agg"
	"pgkv/internal/eval"
	"pgkv/internal/value"
)

// fixedNode is a trivial Node for tests: it hands back a fixed schema and
// row set, standing in for whatever upstream node would normally produce
// them.
type fixedNode struct {
	schema Schema
	rows   []eval.Row
}

func (f *fixedNode) Schema() Schema                            { return f.schema }
func (f *fixedNode) Exec(ctx context.Context) ([]eval.Row, error) { return f.rows, nil }

func col(alias, name string) Schema { return Schema{{Alias: alias, Name: name}} }

func TestFilterExcludesNullAndFalse(t *testing.T) {
	child := &fixedNode{
		schema: Schema{{Name: "x"}},
		rows: []eval.Row{
			{value.Int(1)},
			{value.Int(2)},
			{value.Null()},
		},
	}
	f := &Filter{
		Child: child,
		Pred:  eval.Binary{Op: ">", Left: eval.Column{Name: "x"}, Right: eval.Lit{Value: value.Int(1)}},
	}
	rows, err := f.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, value.Int(2), rows[0][0])
}

func TestProjectEvaluatesExpressions(t *testing.T) {
	child := &fixedNode{
		schema: Schema{{Name: "x"}},
		rows:   []eval.Row{{value.Int(3)}},
	}
	p := &Project{
		Child: child,
		Items: []ProjectItem{
			{Expr: eval.Binary{Op: "+", Left: eval.Column{Name: "x"}, Right: eval.Lit{Value: value.Int(1)}}, Name: "x_plus_1"},
		},
	}
	rows, err := p.Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.Int(4), rows[0][0])
	require.Equal(t, "x_plus_1", p.Schema()[0].Name)
}

func TestJoinInner(t *testing.T) {
	left := &fixedNode{schema: col("l", "id"), rows: []eval.Row{{value.Int(1)}, {value.Int(2)}}}
	right := &fixedNode{schema: col("r", "id"), rows: []eval.Row{{value.Int(2)}, {value.Int(3)}}}
	j := &Join{
		Left: left, Right: right, Kind: InnerJoin,
		On: eval.Binary{Op: "=", Left: eval.Column{Alias: "l", Name: "id"}, Right: eval.Column{Alias: "r", Name: "id"}},
	}
	rows, err := j.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, eval.Row{value.Int(2), value.Int(2)}, rows[0])
}

func TestJoinLeftExtendsWithNull(t *testing.T) {
	left := &fixedNode{schema: col("l", "id"), rows: []eval.Row{{value.Int(1)}, {value.Int(2)}}}
	right := &fixedNode{schema: col("r", "id"), rows: []eval.Row{{value.Int(2)}}}
	j := &Join{
		Left: left, Right: right, Kind: LeftJoin,
		On: eval.Binary{Op: "=", Left: eval.Column{Alias: "l", Name: "id"}, Right: eval.Column{Alias: "r", Name: "id"}},
	}
	rows, err := j.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var sawNull bool
	for _, r := range rows {
		if r[1].IsNull() {
			sawNull = true
		}
	}
	require.True(t, sawNull)
}

func TestJoinNaturalDedupesCommonColumn(t *testing.T) {
	left := &fixedNode{schema: Schema{{Alias: "l", Name: "id"}, {Alias: "l", Name: "a"}}, rows: []eval.Row{{value.Int(1), value.Text("x")}}}
	right := &fixedNode{schema: Schema{{Alias: "r", Name: "id"}, {Alias: "r", Name: "b"}}, rows: []eval.Row{{value.Int(1), value.Text("y")}}}
	j := &Join{Left: left, Right: right, Kind: InnerJoin, Natural: true}
	schema := j.Schema()
	require.Len(t, schema, 3)
	require.Equal(t, "id", schema[0].Name)
	rows, err := j.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, eval.Row{value.Int(1), value.Text("x"), value.Text("y")}, rows[0])
}

func TestDistinctRemovesDuplicateRows(t *testing.T) {
	child := &fixedNode{
		schema: Schema{{Name: "x"}},
		rows:   []eval.Row{{value.Int(1)}, {value.Int(1)}, {value.Int(2)}},
	}
	d := &Distinct{Child: child}
	rows, err := d.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestSetOpUnionDedupesExceptAll(t *testing.T) {
	left := &fixedNode{schema: Schema{{Name: "x"}}, rows: []eval.Row{{value.Int(1)}, {value.Int(2)}}}
	right := &fixedNode{schema: Schema{{Name: "x"}}, rows: []eval.Row{{value.Int(2)}, {value.Int(3)}}}

	union := &SetOp{Left: left, Right: right, Op: Union}
	rows, err := union.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	unionAll := &SetOp{Left: left, Right: right, Op: Union, All: true}
	rows, err = unionAll.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 4)
}

func TestSetOpIntersectAndExcept(t *testing.T) {
	left := &fixedNode{schema: Schema{{Name: "x"}}, rows: []eval.Row{{value.Int(1)}, {value.Int(2)}, {value.Int(2)}}}
	right := &fixedNode{schema: Schema{{Name: "x"}}, rows: []eval.Row{{value.Int(2)}}}

	intersect := &SetOp{Left: left, Right: right, Op: Intersect}
	rows, err := intersect.Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, []eval.Row{{value.Int(2)}}, rows)

	intersectAll := &SetOp{Left: left, Right: right, Op: Intersect, All: true}
	rows, err = intersectAll.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	except := &SetOp{Left: left, Right: right, Op: Except}
	rows, err = except.Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, []eval.Row{{value.Int(1)}}, rows)
}

func TestSortOrdersAscAndDesc(t *testing.T) {
	child := &fixedNode{schema: Schema{{Name: "x"}}, rows: []eval.Row{{value.Int(3)}, {value.Int(1)}, {value.Int(2)}}}
	asc := &Sort{Child: child, Keys: []OrderKey{{Expr: eval.Column{Name: "x"}}}}
	rows, err := asc.Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, []eval.Row{{value.Int(1)}, {value.Int(2)}, {value.Int(3)}}, rows)

	desc := &Sort{Child: child, Keys: []OrderKey{{Expr: eval.Column{Name: "x"}, Desc: true}}}
	rows, err = desc.Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, []eval.Row{{value.Int(3)}, {value.Int(2)}, {value.Int(1)}}, rows)
}

func TestLimitOffset(t *testing.T) {
	child := &fixedNode{schema: Schema{{Name: "x"}}, rows: []eval.Row{{value.Int(1)}, {value.Int(2)}, {value.Int(3)}}}
	l := &Limit{Child: child, Offset: 1, Count: 1, HasLimit: true}
	rows, err := l.Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, []eval.Row{{value.Int(2)}}, rows)
}

func TestGroupBySumWithHavingSharesAggregatePass(t *testing.T) {
	child := &fixedNode{
		schema: Schema{{Name: "g"}, {Name: "v"}},
		rows: []eval.Row{
			{value.Text("a"), value.Int(1)},
			{value.Text("a"), value.Int(2)},
			{value.Text("b"), value.Int(10)},
		},
	}
	g := &GroupBy{
		Child:      child,
		GroupExprs: []eval.Expr{eval.Column{Name: "g"}},
		GroupNames: Schema{{Name: "g"}},
		Aggs:       []agg.AggSpec{{Kind: agg.Sum, Arg: eval.Column{Name: "v"}}},
		AggNames:   Schema{{Name: "total"}},
		Having:     eval.Binary{Op: ">", Left: eval.Column{Name: "total"}, Right: eval.Lit{Value: value.Int(5)}},
	}
	rows, err := g.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, value.Text("b"), rows[0][0])
	require.Equal(t, value.Int(10), rows[0][1])
}

func TestGroupByWithNoGroupExprsIsOneImplicitGroup(t *testing.T) {
	child := &fixedNode{schema: Schema{{Name: "v"}}, rows: nil}
	g := &GroupBy{
		Child:    child,
		Aggs:     []agg.AggSpec{{Kind: agg.Count, Star: true}},
		AggNames: Schema{{Name: "n"}},
	}
	rows, err := g.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, value.Int(0), rows[0][0])
}

func TestWindowRowNumberAppendsColumn(t *testing.T) {
	child := &fixedNode{schema: Schema{{Name: "x"}}, rows: []eval.Row{{value.Int(10)}, {value.Int(20)}}}
	w := &Window{
		Child: child,
		Specs: []agg.WindowSpec{{Kind: agg.RowNumber}},
		Names: Schema{{Name: "rn"}},
	}
	rows, err := w.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, rows[0], 2)
}

func TestMaterializeCachesResult(t *testing.T) {
	calls := 0
	child := &countingNode{
		schema: Schema{{Name: "x"}},
		rows:   []eval.Row{{value.Int(1)}},
		calls:  &calls,
	}
	m := &Materialize{Child: child}
	_, err := m.Exec(context.Background())
	require.NoError(t, err)
	_, err = m.Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

type countingNode struct {
	schema Schema
	rows   []eval.Row
	calls  *int
}

func (c *countingNode) Schema() Schema { return c.schema }
func (c *countingNode) Exec(ctx context.Context) ([]eval.Row, error) {
	*c.calls++
	return c.rows, nil
}

func TestRecursiveCTECountsToN(t *testing.T) {
	schema := Schema{{Name: "n"}}
	base := &fixedNode{schema: schema, rows: []eval.Row{{value.Int(1)}}}
	rc := &RecursiveCTE{
		Base: base,
		BuildStep: func(working Node) Node {
			return &Filter{
				Child: &Project{
					Child: working,
					Items: []ProjectItem{{
						Expr: eval.Binary{Op: "+", Left: eval.Column{Name: "n"}, Right: eval.Lit{Value: value.Int(1)}},
						Name: "n",
					}},
				},
				Pred: eval.Binary{Op: "<=", Left: eval.Column{Name: "n"}, Right: eval.Lit{Value: value.Int(5)}},
			}
		},
	}
	rows, err := rc.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 5)
}

func TestRecursiveCTERowCapRaisesError(t *testing.T) {
	schema := Schema{{Name: "n"}}
	base := &fixedNode{schema: schema, rows: []eval.Row{{value.Int(1)}}}
	rc := &RecursiveCTE{
		Base:   base,
		RowCap: 3,
		BuildStep: func(working Node) Node {
			return &Project{
				Child: working,
				Items: []ProjectItem{{
					Expr: eval.Binary{Op: "+", Left: eval.Column{Name: "n"}, Right: eval.Lit{Value: value.Int(1)}},
					Name: "n",
				}},
			}
		},
	}
	_, err := rc.Exec(context.Background())
	require.Error(t, err)
}
