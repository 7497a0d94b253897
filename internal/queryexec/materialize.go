package queryexec

import (
	"context"

	"pgkv/internal/eval"
)

// Materialize runs Child once and caches the result, so a CTE referenced
// more than once in the same statement is evaluated once and shared (spec
// §4.9's "a CTE is evaluated once and its result set is visible to every
// later reference").
type Materialize struct {
	Child  Node
	cached []eval.Row
	done   bool
}

func (m *Materialize) Schema() Schema { return m.Child.Schema() }

func (m *Materialize) Exec(ctx context.Context) ([]eval.Row, error) {
	if m.done {
		return m.cached, nil
	}
	rows, err := m.Child.Exec(ctx)
	if err != nil {
		return nil, err
	}
	m.cached = rows
	m.done = true
	return rows, nil
}

// MaterializedNode wraps a fixed, already-computed row set as a Node, used
// to splice a recursive CTE's current working set into the next
// iteration's compiled plan (see RecursiveCTE).
type MaterializedNode struct {
	SchemaRef Schema
	Rows      []eval.Row
}

func (m *MaterializedNode) Schema() Schema { return m.SchemaRef }

func (m *MaterializedNode) Exec(ctx context.Context) ([]eval.Row, error) {
	return m.Rows, nil
}
