package queryexec

import (
	"bytes"
	"context"

	"pgkv/internal/eval"
)

// rowSignature builds a byte signature of a row's chosen columns using
// value.Value.SortKey(), the same encoding internal/agg's grouping pass
// relies on to compare values structurally rather than by Go equality.
func rowSignature(row eval.Row, cols []int) []byte {
	var buf bytes.Buffer
	for _, c := range cols {
		buf.Write(row[c].SortKey())
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func allColumns(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Distinct removes duplicate rows, comparing every output column (spec
// §4.9's plain DISTINCT).
type Distinct struct {
	Child Node
}

func (d *Distinct) Schema() Schema { return d.Child.Schema() }

func (d *Distinct) Exec(ctx context.Context) ([]eval.Row, error) {
	rows, err := d.Child.Exec(ctx)
	if err != nil {
		return nil, err
	}
	cols := allColumns(len(d.Child.Schema()))
	seen := map[string]bool{}
	out := make([]eval.Row, 0, len(rows))
	for _, row := range rows {
		sig := string(rowSignature(row, cols))
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, row)
	}
	return out, nil
}

// DistinctOn keeps the first row for each distinct value of the DISTINCT ON
// columns. It assumes Child is already sorted so that rows sharing a key
// are adjacent and the first one seen is the one ORDER BY would prefer
// (spec §4.9 "DISTINCT ON keeps the first row per key in sorted order").
type DistinctOn struct {
	Child Node
	Cols  []int
}

func (d *DistinctOn) Schema() Schema { return d.Child.Schema() }

func (d *DistinctOn) Exec(ctx context.Context) ([]eval.Row, error) {
	rows, err := d.Child.Exec(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := make([]eval.Row, 0, len(rows))
	for _, row := range rows {
		sig := string(rowSignature(row, d.Cols))
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, row)
	}
	return out, nil
}
