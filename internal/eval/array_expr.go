package eval

import (
	"context"

	"pgkv/internal/value"
)

// Subscript implements 1-indexed `arr[i]` access (spec §4.4).
type Subscript struct {
	Array Expr
	Index Expr
}

func (s Subscript) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	av, err := s.Array.Eval(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	iv, err := s.Index.Eval(ctx, rc)
	if err != nil {
		return value.Value{}, err
	}
	if iv.IsNull() {
		return value.Null(), nil
	}
	idx, err := toFloat(iv)
	if err != nil {
		return value.Value{}, err
	}
	return arraySubscript(av, int64(idx))
}

// ArrayLit builds an array value from element expressions, inferring the
// element kind from the first non-NULL element.
type ArrayLit struct {
	Elems []Expr
}

func (a ArrayLit) Eval(ctx context.Context, rc RowContext) (value.Value, error) {
	vals := make([]value.Value, len(a.Elems))
	elemKind := value.KindNull
	for i, e := range a.Elems {
		v, err := e.Eval(ctx, rc)
		if err != nil {
			return value.Value{}, err
		}
		vals[i] = v
		if elemKind == value.KindNull && !v.IsNull() {
			elemKind = v.Kind
		}
	}
	return value.ArrayVal(elemKind, vals), nil
}
