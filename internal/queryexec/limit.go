package queryexec

import (
	"context"

	"pgkv/internal/eval"
)

// Limit applies OFFSET then LIMIT to Child's rows (spec §4.9 step 6).
// HasLimit distinguishes "LIMIT 0" (zero rows) from "no LIMIT clause"
// (every remaining row after OFFSET).
type Limit struct {
	Child    Node
	Offset   int64
	Count    int64
	HasLimit bool
}

func (l *Limit) Schema() Schema { return l.Child.Schema() }

func (l *Limit) Exec(ctx context.Context) ([]eval.Row, error) {
	rows, err := l.Child.Exec(ctx)
	if err != nil {
		return nil, err
	}
	start := l.Offset
	if start < 0 {
		start = 0
	}
	if start >= int64(len(rows)) {
		return nil, nil
	}
	rows = rows[start:]
	if !l.HasLimit {
		return rows, nil
	}
	if l.Count < 0 {
		l.Count = 0
	}
	if l.Count >= int64(len(rows)) {
		return rows, nil
	}
	return rows[:l.Count], nil
}
