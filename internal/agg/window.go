package agg

import (
	"context"
	"sort"

	"pgkv/internal/eval"
	"pgkv/internal/value"
)

// WindowKind enumerates the window function families spec §4.5 names.
type WindowKind string

const (
	RowNumber  WindowKind = "ROW_NUMBER"
	Rank       WindowKind = "RANK"
	DenseRank  WindowKind = "DENSE_RANK"
	Lead       WindowKind = "LEAD"
	Lag        WindowKind = "LAG"
	WinCount   WindowKind = "COUNT"
	WinSum     WindowKind = "SUM"
	WinAvg     WindowKind = "AVG"
	WinMin     WindowKind = "MIN"
	WinMax     WindowKind = "MAX"
)

// OrderKey is one ORDER BY term of an OVER clause.
type OrderKey struct {
	Expr eval.Expr
	Desc bool
}

// WindowSpec is one `func(...) OVER (PARTITION BY ... ORDER BY ...)` call
// site. HasOrderBy distinguishes the partition-total/running-aggregate
// cases spec §4.5 requires.
type WindowSpec struct {
	Kind        WindowKind
	Arg         eval.Expr // nil for ROW_NUMBER/RANK/DENSE_RANK
	Offset      int64     // LEAD/LAG
	Default     eval.Expr // LEAD/LAG
	PartitionBy []eval.Expr
	OrderBy     []OrderKey
	HasOrderBy  bool
}

// Evaluate computes spec's window value for every row of rows, under the
// row-context factory rc, and returns one Value per input row in the same
// order rows was given in (not partition/sort order).
func Evaluate(ctx context.Context, rows []eval.Row, spec WindowSpec, rc func(eval.Row) eval.RowContext) ([]value.Value, error) {
	type indexed = struct {
		row eval.Row
		idx int
	}
	partitions := map[string][]indexed{}
	var partOrder []string
	for i, row := range rows {
		key, err := partitionKey(ctx, row, spec.PartitionBy, rc)
		if err != nil {
			return nil, err
		}
		if _, ok := partitions[key]; !ok {
			partOrder = append(partOrder, key)
		}
		partitions[key] = append(partitions[key], indexed{row, i})
	}

	out := make([]value.Value, len(rows))
	for _, pk := range partOrder {
		members := partitions[pk]
		sortKeys := make([][]byte, len(members))
		for i, m := range members {
			k, err := sortKeyOf(ctx, m.row, spec.OrderBy, rc)
			if err != nil {
				return nil, err
			}
			sortKeys[i] = k
		}
		order := make([]int, len(members))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return string(sortKeys[order[a]]) < string(sortKeys[order[b]])
		})

		vals, err := evalPartition(ctx, members, order, sortKeys, spec, rc)
		if err != nil {
			return nil, err
		}
		for pos, m := range members {
			out[m.idx] = vals[pos]
		}
	}
	return out, nil
}

func partitionKey(ctx context.Context, row eval.Row, exprs []eval.Expr, rc func(eval.Row) eval.RowContext) (string, error) {
	var buf []byte
	for _, e := range exprs {
		v, err := e.Eval(ctx, rc(row))
		if err != nil {
			return "", err
		}
		buf = append(buf, v.SortKey()...)
		buf = append(buf, 0)
	}
	return string(buf), nil
}

func sortKeyOf(ctx context.Context, row eval.Row, order []OrderKey, rc func(eval.Row) eval.RowContext) ([]byte, error) {
	var buf []byte
	for _, o := range order {
		v, err := o.Expr.Eval(ctx, rc(row))
		if err != nil {
			return nil, err
		}
		k := v.SortKey()
		if o.Desc {
			inv := make([]byte, len(k))
			for i, b := range k {
				inv[i] = ^b
			}
			k = inv
		}
		buf = append(buf, k...)
		buf = append(buf, 0)
	}
	return buf, nil
}

// evalPartition computes spec's window value for each member of one
// partition, returning results indexed by position in members (i.e.
// result[i] is the value for members[i]; values computed in `order`
// sequence are mapped back through unorder).
func evalPartition(ctx context.Context, members []struct {
	row eval.Row
	idx int
}, order []int, sortKeys [][]byte, spec WindowSpec, rc func(eval.Row) eval.RowContext) ([]value.Value, error) {
	n := len(order)
	result := make([]value.Value, n)

	switch spec.Kind {
	case RowNumber:
		for p := 0; p < n; p++ {
			result[p] = value.Int(int64(p + 1))
		}
		return unorder(result, order), nil
	case Rank, DenseRank:
		rank := int64(1)
		dense := int64(1)
		for p := 0; p < n; p++ {
			if p > 0 && string(sortKeys[order[p]]) != string(sortKeys[order[p-1]]) {
				rank = int64(p + 1)
				dense++
			}
			if spec.Kind == Rank {
				result[p] = value.Int(rank)
			} else {
				result[p] = value.Int(dense)
			}
		}
		return unorder(result, order), nil
	case Lead, Lag:
		for p := 0; p < n; p++ {
			var srcPos int
			if spec.Kind == Lead {
				srcPos = p + int(spec.Offset)
			} else {
				srcPos = p - int(spec.Offset)
			}
			if srcPos < 0 || srcPos >= n {
				if spec.Default != nil {
					v, err := spec.Default.Eval(ctx, rc(members[order[p]].row))
					if err != nil {
						return nil, err
					}
					result[p] = v
				} else {
					result[p] = value.Null()
				}
				continue
			}
			v, err := spec.Arg.Eval(ctx, rc(members[order[srcPos]].row))
			if err != nil {
				return nil, err
			}
			result[p] = v
		}
		return unorder(result, order), nil
	default:
		return evalAggregateWindow(ctx, members, order, sortKeys, spec, rc)
	}
}

// evalAggregateWindow implements spec §4.5's critical rule: no ORDER BY in
// OVER means every row in the partition gets the partition total; an
// ORDER BY means each row gets the running aggregate over all prior rows
// plus its own peer group (rows tied on the ORDER BY key).
func evalAggregateWindow(ctx context.Context, members []struct {
	row eval.Row
	idx int
}, order []int, sortKeys [][]byte, spec WindowSpec, rc func(eval.Row) eval.RowContext) ([]value.Value, error) {
	n := len(order)
	result := make([]value.Value, n)
	kind := Kind(spec.Kind)

	if !spec.HasOrderBy {
		acc := NewAccumulator(kind, spec.Arg == nil)
		for p := 0; p < n; p++ {
			v, err := windowArg(ctx, spec, members[order[p]].row, rc)
			if err != nil {
				return nil, err
			}
			if err := acc.Update(v); err != nil {
				return nil, err
			}
		}
		total := acc.Result()
		for p := range result {
			result[p] = total
		}
		return unorder(result, order), nil
	}

	acc := NewAccumulator(kind, spec.Arg == nil)
	p := 0
	for p < n {
		peerEnd := p + 1
		for peerEnd < n && string(sortKeys[order[peerEnd]]) == string(sortKeys[order[p]]) {
			peerEnd++
		}
		for q := p; q < peerEnd; q++ {
			v, err := windowArg(ctx, spec, members[order[q]].row, rc)
			if err != nil {
				return nil, err
			}
			if err := acc.Update(v); err != nil {
				return nil, err
			}
		}
		running := acc.Result()
		for q := p; q < peerEnd; q++ {
			result[q] = running
		}
		p = peerEnd
	}
	return unorder(result, order), nil
}

func windowArg(ctx context.Context, spec WindowSpec, row eval.Row, rc func(eval.Row) eval.RowContext) (value.Value, error) {
	if spec.Arg == nil {
		return value.Int(0), nil
	}
	return spec.Arg.Eval(ctx, rc(row))
}

// unorder maps result (indexed by sorted position) back to the partition's
// original member order.
func unorder(result []value.Value, order []int) []value.Value {
	out := make([]value.Value, len(result))
	for pos, origIdx := range order {
		out[origIdx] = result[pos]
	}
	return out
}
