package queryexec

import (
	"context"

	"pgkv/internal/eval"
	"pgkv/internal/value"
)

// JoinKind is one of the join types spec §4.9 step 2 requires.
type JoinKind string

const (
	InnerJoin JoinKind = "INNER"
	LeftJoin  JoinKind = "LEFT"
	RightJoin JoinKind = "RIGHT"
	FullJoin  JoinKind = "FULL"
	CrossJoin JoinKind = "CROSS"
)

// Join combines Left and Right per Kind. On is the join predicate (nil for
// CROSS and for NATURAL joins, which compare common columns structurally
// instead). Natural triggers spec §4.9's "output common columns once,
// unprefixed" rule in Schema() and the equality-on-common-columns rule in
// Exec().
type Join struct {
	Left, Right Node
	Kind        JoinKind
	On          eval.Expr
	Natural     bool
	Outer       eval.RowContext
}

type commonPair struct{ L, R int }

// joinShape computes the output schema and the column bookkeeping Exec
// needs, shared between Schema() and Exec() so they never disagree.
func (j *Join) joinShape() (out Schema, common []commonPair, leftOnly, rightOnly []int) {
	l, r := j.Left.Schema(), j.Right.Schema()
	if !j.Natural {
		out = append(append(Schema{}, l...), r...)
		for i := range l {
			leftOnly = append(leftOnly, i)
		}
		for i := range r {
			rightOnly = append(rightOnly, i)
		}
		return
	}
	commonNames := map[string]bool{}
	for _, lc := range l {
		for _, rc := range r {
			if lc.Name == rc.Name {
				commonNames[lc.Name] = true
			}
		}
	}
	seen := map[string]bool{}
	for li, lc := range l {
		if !commonNames[lc.Name] || seen[lc.Name] {
			continue
		}
		seen[lc.Name] = true
		ri := -1
		for rj, rc := range r {
			if rc.Name == lc.Name {
				ri = rj
				break
			}
		}
		common = append(common, commonPair{L: li, R: ri})
		out = append(out, ColumnRef{Name: lc.Name})
	}
	for li, lc := range l {
		if commonNames[lc.Name] {
			continue
		}
		leftOnly = append(leftOnly, li)
		out = append(out, ColumnRef{Name: lc.Name})
	}
	for ri, rc := range r {
		if commonNames[rc.Name] {
			continue
		}
		rightOnly = append(rightOnly, ri)
		out = append(out, ColumnRef{Name: rc.Name})
	}
	return
}

func (j *Join) Schema() Schema {
	out, _, _, _ := j.joinShape()
	return out
}

func nullRow(n int) eval.Row {
	row := make(eval.Row, n)
	for i := range row {
		row[i] = value.Null()
	}
	return row
}

// combinedRow concatenates left/right in full (non-natural) order, which is
// what On predicates are compiled against regardless of how Natural later
// reshapes the externally visible Schema().
func combinedRow(left, right eval.Row) eval.Row {
	return append(append(eval.Row{}, left...), right...)
}

func combinedSchema(l, r Schema) Schema {
	return append(append(Schema{}, l...), r...)
}

func (j *Join) naturalRow(left, right eval.Row, common []commonPair, leftOnly, rightOnly []int) eval.Row {
	out := make(eval.Row, 0, len(common)+len(leftOnly)+len(rightOnly))
	for _, c := range common {
		v := left[c.L]
		if v.IsNull() {
			v = right[c.R]
		}
		out = append(out, v)
	}
	for _, li := range leftOnly {
		out = append(out, left[li])
	}
	for _, ri := range rightOnly {
		out = append(out, right[ri])
	}
	return out
}

func (j *Join) naturalMatch(left, right eval.Row, common []commonPair) bool {
	for _, c := range common {
		lv, rv := left[c.L], right[c.R]
		if lv.IsNull() || rv.IsNull() {
			return false
		}
		if lv.Compare(rv) != 0 {
			return false
		}
	}
	return true
}

func (j *Join) matches(ctx context.Context, leftSchema, rightSchema Schema, left, right eval.Row) (bool, error) {
	if j.Kind == CrossJoin && !j.Natural {
		return true, nil
	}
	if j.Natural {
		_, common, _, _ := j.joinShape()
		return j.naturalMatch(left, right, common), nil
	}
	if j.On == nil {
		return true, nil
	}
	rc := newRowRC(combinedSchema(leftSchema, rightSchema), combinedRow(left, right), j.Outer)
	v, err := j.On.Eval(ctx, rc)
	if err != nil {
		return false, err
	}
	return v.Kind == value.KindBool && v.Bool, nil
}

func (j *Join) emit(left, right eval.Row, common []commonPair, leftOnly, rightOnly []int) eval.Row {
	if j.Natural {
		return j.naturalRow(left, right, common, leftOnly, rightOnly)
	}
	return combinedRow(left, right)
}

// Exec implements a general nested-loop join: simple, and correct for every
// join kind spec §4.9 names. Predicate pushdown (internal/planner) is what
// keeps this affordable in practice by filtering each side before it
// reaches the join.
func (j *Join) Exec(ctx context.Context) ([]eval.Row, error) {
	leftRows, err := j.Left.Exec(ctx)
	if err != nil {
		return nil, err
	}
	rightRows, err := j.Right.Exec(ctx)
	if err != nil {
		return nil, err
	}
	leftSchema, rightSchema := j.Left.Schema(), j.Right.Schema()
	_, common, leftOnly, rightOnly := j.joinShape()

	leftMatched := make([]bool, len(leftRows))
	rightMatched := make([]bool, len(rightRows))
	var out []eval.Row
	for li, lrow := range leftRows {
		for ri, rrow := range rightRows {
			ok, err := j.matches(ctx, leftSchema, rightSchema, lrow, rrow)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			leftMatched[li] = true
			rightMatched[ri] = true
			out = append(out, j.emit(lrow, rrow, common, leftOnly, rightOnly))
		}
	}
	if j.Kind == LeftJoin || j.Kind == FullJoin {
		rNull := nullRow(len(rightSchema))
		for li, lrow := range leftRows {
			if !leftMatched[li] {
				out = append(out, j.emit(lrow, rNull, common, leftOnly, rightOnly))
			}
		}
	}
	if j.Kind == RightJoin || j.Kind == FullJoin {
		lNull := nullRow(len(leftSchema))
		for ri, rrow := range rightRows {
			if !rightMatched[ri] {
				out = append(out, j.emit(lNull, rrow, common, leftOnly, rightOnly))
			}
		}
	}
	return out, nil
}
