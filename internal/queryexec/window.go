package queryexec

import (
	"context"

	"pgkv/internal/agg"
	"pgkv/internal/eval"
	"pgkv/internal/value"
)

// Window appends one result column per WindowSpec to every row of Child,
// without reordering or collapsing rows (spec §4.9 step 4 runs after
// GROUP BY/HAVING and before ORDER BY/LIMIT). Each spec is evaluated
// independently since two OVER clauses in the same SELECT may partition
// and order differently.
type Window struct {
	Child Node
	Specs []agg.WindowSpec
	Names []ColumnRef
	Outer eval.RowContext
}

func (w *Window) Schema() Schema {
	return append(append(Schema{}, w.Child.Schema()...), w.Names...)
}

func (w *Window) Exec(ctx context.Context) ([]eval.Row, error) {
	rows, err := w.Child.Exec(ctx)
	if err != nil {
		return nil, err
	}
	childSchema := w.Child.Schema()
	rc := rcFactory(childSchema, w.Outer)

	colValues := make([][]value.Value, len(w.Specs))
	for i, spec := range w.Specs {
		vals, err := agg.Evaluate(ctx, rows, spec, rc)
		if err != nil {
			return nil, err
		}
		colValues[i] = vals
	}

	out := make([]eval.Row, len(rows))
	for ri, row := range rows {
		newRow := make(eval.Row, 0, len(row)+len(w.Specs))
		newRow = append(newRow, row...)
		for i := range w.Specs {
			newRow = append(newRow, colValues[i][ri])
		}
		out[ri] = newRow
	}
	return out, nil
}
