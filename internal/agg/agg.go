// Package agg implements the incremental aggregate functions and the
// GROUP BY / HAVING grouping pass of spec §4.5.
//
// There is no teacher analogue for SQL aggregation; the incremental
// `(state, value) -> state` accumulator shape mirrors the fold-style
// reducers the teacher uses in internal/diff to accumulate a schema diff
// across many per-table comparisons (one mutable accumulator walked once
// over an ordered input), generalized here from diff entries to column
// values.
package agg

import (
	"context"

	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/value"
)

// Kind is one of the five aggregates spec §4.5 names.
type Kind string

const (
	Count Kind = "COUNT"
	Sum   Kind = "SUM"
	Avg   Kind = "AVG"
	Min   Kind = "MIN"
	Max   Kind = "MAX"
)

// Accumulator folds one column's values across a group. NULLs are skipped
// by every aggregate except COUNT(*) (Star=true), matching PostgreSQL.
type Accumulator struct {
	Kind Kind
	Star bool

	count    int64
	sumInt   int64
	sumFloat float64
	sumIsInt bool
	haveSum  bool
	min, max value.Value
	haveExt  bool
}

func NewAccumulator(kind Kind, star bool) *Accumulator {
	return &Accumulator{Kind: kind, Star: star, sumIsInt: true}
}

// Update folds one row's argument value into the accumulator's state.
func (a *Accumulator) Update(v value.Value) error {
	if a.Star {
		a.count++
		return nil
	}
	if v.IsNull() {
		return nil
	}
	a.count++
	switch a.Kind {
	case Sum, Avg:
		if v.Kind == value.KindInt && a.sumIsInt {
			a.sumInt += v.Int
		} else {
			f, err := numericOf(v)
			if err != nil {
				return err
			}
			if a.sumIsInt {
				a.sumFloat = float64(a.sumInt)
				a.sumIsInt = false
			}
			a.sumFloat += f
		}
		a.haveSum = true
	case Min:
		if !a.haveExt || v.Compare(a.min) < 0 {
			a.min = v
		}
		a.haveExt = true
	case Max:
		if !a.haveExt || v.Compare(a.max) > 0 {
			a.max = v
		}
		a.haveExt = true
	}
	return nil
}

// Result returns the accumulator's current value; callers may call this
// mid-stream (for a running-aggregate window pass) or once at the end (for
// GROUP BY).
func (a *Accumulator) Result() value.Value {
	switch a.Kind {
	case Count:
		return value.Int(a.count)
	case Sum:
		if a.count == 0 {
			return value.Null()
		}
		if a.sumIsInt {
			return value.Int(a.sumInt)
		}
		return value.Float(a.sumFloat)
	case Avg:
		if a.count == 0 {
			return value.Null()
		}
		if a.sumIsInt {
			return value.Float(float64(a.sumInt) / float64(a.count))
		}
		return value.Float(a.sumFloat / float64(a.count))
	case Min:
		if !a.haveExt {
			return value.Null()
		}
		return a.min
	case Max:
		if !a.haveExt {
			return value.Null()
		}
		return a.max
	default:
		return value.Null()
	}
}

// Clone returns a fresh accumulator of the same kind, for a new group or a
// new running-aggregate pass over a partition.
func (a *Accumulator) Clone() *Accumulator {
	return NewAccumulator(a.Kind, a.Star)
}

func numericOf(v value.Value) (float64, error) {
	switch v.Kind {
	case value.KindInt:
		return float64(v.Int), nil
	case value.KindFloat:
		return v.Float, nil
	case value.KindNumeric:
		return v.Numeric.Float64(), nil
	default:
		return 0, errs.New(errs.TypeError, "aggregate argument must be numeric, got %s", v.Kind)
	}
}

// Group is one GROUP BY bucket: the grouping key values and the rows that
// hashed to it, in first-seen order.
type Group struct {
	Key  []value.Value
	Rows []eval.Row
}

// GroupRows partitions rows by the tuple keyFn returns, preserving the
// order groups are first seen (spec is silent on output order here; stable
// first-seen order keeps EXPLAIN and test output deterministic).
func GroupRows(rows []eval.Row, keyFn func(eval.Row) ([]value.Value, error)) ([]*Group, error) {
	index := map[string]int{}
	var groups []*Group
	for _, row := range rows {
		key, err := keyFn(row)
		if err != nil {
			return nil, err
		}
		k := keySignature(key)
		if i, ok := index[k]; ok {
			groups[i].Rows = append(groups[i].Rows, row)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, &Group{Key: key, Rows: []eval.Row{row}})
	}
	return groups, nil
}

func keySignature(key []value.Value) string {
	var buf []byte
	for _, v := range key {
		buf = append(buf, v.SortKey()...)
		buf = append(buf, 0)
	}
	return string(buf)
}

// AggSpec binds one aggregate call site (e.g. `SUM(amount)`) to the
// expression computing its argument.
type AggSpec struct {
	Kind Kind
	Star bool
	Arg  eval.Expr
}

// EvalGroupAggregates runs every AggSpec over a group's rows under rc,
// returning one result Value per spec, in order. Per spec §4.5, every
// aggregate referenced by the projection AND by HAVING must be included
// here and evaluated together over the grouping pass — evaluating HAVING
// against a separately re-seeded accumulator set is the correctness bug
// this function exists to avoid.
func EvalGroupAggregates(ctx context.Context, g *Group, specs []AggSpec, rc func(row eval.Row) eval.RowContext) ([]value.Value, error) {
	accs := make([]*Accumulator, len(specs))
	for i, s := range specs {
		accs[i] = NewAccumulator(s.Kind, s.Star)
	}
	for _, row := range g.Rows {
		rowCtx := rc(row)
		for i, s := range specs {
			if s.Star {
				if err := accs[i].Update(value.Int(0)); err != nil {
					return nil, err
				}
				continue
			}
			v, err := s.Arg.Eval(ctx, rowCtx)
			if err != nil {
				return nil, err
			}
			if err := accs[i].Update(v); err != nil {
				return nil, err
			}
		}
	}
	out := make([]value.Value, len(specs))
	for i, a := range accs {
		out[i] = a.Result()
	}
	return out, nil
}
