package queryexec

import (
	"context"

	"pgkv/internal/eval"
)

// Alias rebinds a child node's output schema to a new table alias,
// letting a derived table (a view body, or a subquery used as a FROM
// item) be referenced as alias.column by the enclosing query.
type Alias struct {
	Child Node
	Name  string
}

func (a *Alias) Schema() Schema {
	child := a.Child.Schema()
	out := make(Schema, len(child))
	for i, c := range child {
		out[i] = ColumnRef{Alias: a.Name, Name: c.Name}
	}
	return out
}

func (a *Alias) Exec(ctx context.Context) ([]eval.Row, error) {
	return a.Child.Exec(ctx)
}
