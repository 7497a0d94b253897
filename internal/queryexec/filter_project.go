package queryexec

import (
	"context"

	"pgkv/internal/eval"
	"pgkv/internal/value"
)

// Filter evaluates Pred against each row of Child and keeps only the rows
// where it is true; NULL/false are both excluded (spec §4.9 step 3, spec §8
// "WHERE NULL excludes the row").
type Filter struct {
	Child Node
	Pred  eval.Expr
	Outer eval.RowContext
}

func (f *Filter) Schema() Schema { return f.Child.Schema() }

func (f *Filter) Exec(ctx context.Context) ([]eval.Row, error) {
	rows, err := f.Child.Exec(ctx)
	if err != nil {
		return nil, err
	}
	schema := f.Child.Schema()
	out := make([]eval.Row, 0, len(rows))
	for _, row := range rows {
		v, err := f.Pred.Eval(ctx, newRowRC(schema, row, f.Outer))
		if err != nil {
			return nil, err
		}
		if v.Kind == value.KindBool && v.Bool {
			out = append(out, row)
		}
	}
	return out, nil
}

// ProjectItem is one output column of a Project node.
type ProjectItem struct {
	Expr  eval.Expr
	Alias string
	Name  string
}

// Project computes the projection list, including window-function
// placeholders the caller has already lowered to plain column references
// over a preceding Window node (spec §4.9 step 3).
type Project struct {
	Child Node
	Items []ProjectItem
	Outer eval.RowContext
}

func (p *Project) Schema() Schema {
	out := make(Schema, len(p.Items))
	for i, it := range p.Items {
		out[i] = ColumnRef{Alias: it.Alias, Name: it.Name}
	}
	return out
}

func (p *Project) Exec(ctx context.Context) ([]eval.Row, error) {
	rows, err := p.Child.Exec(ctx)
	if err != nil {
		return nil, err
	}
	schema := p.Child.Schema()
	out := make([]eval.Row, len(rows))
	for ri, row := range rows {
		rc := newRowRC(schema, row, p.Outer)
		vals := make(eval.Row, len(p.Items))
		for i, it := range p.Items {
			v, err := it.Expr.Eval(ctx, rc)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out[ri] = vals
	}
	return out, nil
}
