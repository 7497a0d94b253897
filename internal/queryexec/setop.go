package queryexec

import (
	"context"

	"pgkv/internal/errs"
	"pgkv/internal/eval"
)

// SetOpKind is one of the three relational set operations spec §4.9 names.
type SetOpKind string

const (
	Union     SetOpKind = "UNION"
	Intersect SetOpKind = "INTERSECT"
	Except    SetOpKind = "EXCEPT"
)

// SetOp combines Left and Right, which must already agree on column count
// and comparable type (the caller, not this node, is responsible for the
// cast/coercion spec §4.9 requires before the two sides reach here). All
// selects the ALL variant, which uses multiset counting instead of set
// dedup.
type SetOp struct {
	Left, Right Node
	Op          SetOpKind
	All         bool
}

func (s *SetOp) Schema() Schema { return s.Left.Schema() }

func (s *SetOp) Exec(ctx context.Context) ([]eval.Row, error) {
	leftRows, err := s.Left.Exec(ctx)
	if err != nil {
		return nil, err
	}
	rightRows, err := s.Right.Exec(ctx)
	if err != nil {
		return nil, err
	}
	cols := allColumns(len(s.Left.Schema()))

	switch s.Op {
	case Union:
		if s.All {
			return append(leftRows, rightRows...), nil
		}
		return dedupeRows(append(append([]eval.Row{}, leftRows...), rightRows...), cols), nil
	case Intersect:
		return intersectRows(leftRows, rightRows, cols, s.All), nil
	case Except:
		return exceptRows(leftRows, rightRows, cols, s.All), nil
	default:
		return nil, errs.New(errs.Internal, "unknown set operation %q", s.Op)
	}
}

func dedupeRows(rows []eval.Row, cols []int) []eval.Row {
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
	return out
}

func countBySignature(rows []eval.Row, cols []int) map[string]int {
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[string(rowSignature(row, cols))]++
	}
	return counts
}

func intersectRows(left, right []eval.Row, cols []int, all bool) []eval.Row {
	rightCounts := countBySignature(right, cols)
	var out []eval.Row
	if !all {
		seen := map[string]bool{}
		for _, row := range left {
			sig := string(rowSignature(row, cols))
			if rightCounts[sig] > 0 && !seen[sig] {
				seen[sig] = true
				out = append(out, row)
			}
		}
		return out
	}
	remaining := map[string]int{}
	for k, v := range rightCounts {
		remaining[k] = v
	}
	for _, row := range left {
		sig := string(rowSignature(row, cols))
		if remaining[sig] > 0 {
			remaining[sig]--
			out = append(out, row)
		}
	}
	return out
}

func exceptRows(left, right []eval.Row, cols []int, all bool) []eval.Row {
	rightCounts := countBySignature(right, cols)
	var out []eval.Row
	if !all {
		seen := map[string]bool{}
		for _, row := range left {
			sig := string(rowSignature(row, cols))
			if rightCounts[sig] == 0 && !seen[sig] {
				seen[sig] = true
				out = append(out, row)
			}
		}
		return out
	}
	remaining := map[string]int{}
	for k, v := range rightCounts {
		remaining[k] = v
	}
	for _, row := range left {
		sig := string(rowSignature(row, cols))
		if remaining[sig] > 0 {
			remaining[sig]--
			continue
		}
		out = append(out, row)
	}
	return out
}
