package queryexec

import (
	"context"
	"sort"

	"pgkv/internal/eval"
)

// OrderKey is one ORDER BY term.
type OrderKey struct {
	Expr eval.Expr
	Desc bool
}

// Sort orders Child's rows by Keys, stably, comparing the byte-comparable
// encoding value.Value.SortKey() produces (spec §4.9 step 5); that encoding
// is separate from the one internal/keycodec uses for stored keys.
type Sort struct {
	Child Node
	Keys  []OrderKey
	Outer eval.RowContext
}

func (s *Sort) Schema() Schema { return s.Child.Schema() }

func (s *Sort) Exec(ctx context.Context) ([]eval.Row, error) {
	rows, err := s.Child.Exec(ctx)
	if err != nil {
		return nil, err
	}
	schema := s.Child.Schema()
	keys := make([][]byte, len(rows))
	for i, row := range rows {
		rc := newRowRC(schema, row, s.Outer)
		k, err := sortKeyFor(ctx, s.Keys, rc)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return bytesLess(keys[idx[a]], keys[idx[b]])
	})
	out := make([]eval.Row, len(rows))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out, nil
}

func sortKeyFor(ctx context.Context, keys []OrderKey, rc eval.RowContext) ([]byte, error) {
	var out []byte
	for _, k := range keys {
		v, err := k.Expr.Eval(ctx, rc)
		if err != nil {
			return nil, err
		}
		sk := v.SortKey()
		if k.Desc {
			inverted := make([]byte, len(sk))
			for i, b := range sk {
				inverted[i] = ^b
			}
			sk = inverted
		}
		out = append(out, sk...)
		out = append(out, 0)
	}
	return out, nil
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
