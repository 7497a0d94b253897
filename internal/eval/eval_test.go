package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pgkv/internal/errs"
	"pgkv/internal/value"
)

// rowCtx is a minimal RowContext over a name-indexed map, for tests.
type rowCtx struct {
	cols  map[string]value.Value
	outer RowContext
}

func (r *rowCtx) Column(alias, name string) (value.Value, error) {
	if v, ok := r.cols[name]; ok {
		return v, nil
	}
	return value.Value{}, errs.New(errs.UndefinedColumn, "column %q does not exist", name)
}

func (r *rowCtx) Outer() RowContext { return r.outer }

func TestThreeValuedAndOr(t *testing.T) {
	ctx := context.Background()
	rc := &rowCtx{}
	// NULL AND false = false
	v, err := Binary{Op: "AND", Left: Lit{value.Null()}, Right: Lit{value.Bool(false)}}.Eval(ctx, rc)
	require.NoError(t, err)
	require.Equal(t, value.Bool(false), v)

	// NULL AND true = NULL
	v, err = Binary{Op: "AND", Left: Lit{value.Null()}, Right: Lit{value.Bool(true)}}.Eval(ctx, rc)
	require.NoError(t, err)
	require.True(t, v.IsNull())

	// NULL OR true = true
	v, err = Binary{Op: "OR", Left: Lit{value.Null()}, Right: Lit{value.Bool(true)}}.Eval(ctx, rc)
	require.NoError(t, err)
	require.Equal(t, value.Bool(true), v)

	// NULL OR false = NULL
	v, err = Binary{Op: "OR", Left: Lit{value.Null()}, Right: Lit{value.Bool(false)}}.Eval(ctx, rc)
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestComparisonWithNullYieldsNull(t *testing.T) {
	ctx := context.Background()
	v, err := Binary{Op: "=", Left: Lit{value.Null()}, Right: Lit{value.Int(1)}}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestIsNullNeverNull(t *testing.T) {
	ctx := context.Background()
	v, err := Unary{Op: "ISNULL", Expr: Lit{value.Null()}}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.Bool(true), v)
}

func TestArithmeticIntWidening(t *testing.T) {
	ctx := context.Background()
	v, err := Binary{Op: "+", Left: Lit{value.Int(1)}, Right: Lit{value.Float(1.5)}}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.Float(2.5), v)
}

func TestLikeWildcards(t *testing.T) {
	ctx := context.Background()
	v, err := Binary{Op: "LIKE", Left: Lit{value.Text("hello world")}, Right: Lit{value.Text("h_l%rld")}}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.Bool(true), v)
}

func TestILikeFoldsCase(t *testing.T) {
	ctx := context.Background()
	v, err := Binary{Op: "ILIKE", Left: Lit{value.Text("HELLO")}, Right: Lit{value.Text("hel%")}}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.Bool(true), v)
}

func TestInListWithNullMemberNoMatchIsUnknown(t *testing.T) {
	ctx := context.Background()
	v, err := InList{
		Expr: Lit{value.Int(5)},
		List: []Expr{Lit{value.Int(1)}, Lit{value.Null()}},
	}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestInListMatchIgnoresNullMembers(t *testing.T) {
	ctx := context.Background()
	v, err := InList{
		Expr: Lit{value.Int(1)},
		List: []Expr{Lit{value.Int(1)}, Lit{value.Null()}},
	}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.Bool(true), v)
}

func TestCaseExprFallsThroughToElse(t *testing.T) {
	ctx := context.Background()
	c := CaseExpr{
		Whens: []WhenClause{{Cond: Lit{value.Bool(false)}, Then: Lit{value.Text("a")}}},
		Else:  Lit{value.Text("b")},
	}
	v, err := c.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.Text("b"), v)
}

func TestCoalesceSkipsNulls(t *testing.T) {
	v, err := coalesceFn([]value.Value{value.Null(), value.Null(), value.Int(7)})
	require.NoError(t, err)
	require.Equal(t, value.Int(7), v)
}

func TestNullifReturnsNullWhenEqual(t *testing.T) {
	v, err := nullifFn([]value.Value{value.Int(1), value.Int(1)})
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestGreatestLeast(t *testing.T) {
	v, err := greatestFn([]value.Value{value.Int(3), value.Int(9), value.Null(), value.Int(5)})
	require.NoError(t, err)
	require.Equal(t, value.Int(9), v)

	v, err = leastFn([]value.Value{value.Int(3), value.Int(9), value.Null(), value.Int(5)})
	require.NoError(t, err)
	require.Equal(t, value.Int(3), v)
}

func TestArrayFunctions(t *testing.T) {
	arr := value.ArrayVal(value.KindInt, []value.Value{value.Int(1), value.Int(2), value.Int(3)})
	v, err := arrayLength([]value.Value{arr})
	require.NoError(t, err)
	require.Equal(t, value.Int(3), v)

	v, err = arrayPosition([]value.Value{arr, value.Int(2)})
	require.NoError(t, err)
	require.Equal(t, value.Int(2), v)

	v, err = arrayAppend([]value.Value{arr, value.Int(4)})
	require.NoError(t, err)
	require.Len(t, v.Array, 4)

	v, err = arrayRemove([]value.Value{arr, value.Int(2)})
	require.NoError(t, err)
	require.Len(t, v.Array, 2)
}

func TestSubscriptIsOneIndexed(t *testing.T) {
	ctx := context.Background()
	arr := value.ArrayVal(value.KindInt, []value.Value{value.Int(10), value.Int(20), value.Int(30)})
	v, err := Subscript{Array: Lit{arr}, Index: Lit{value.Int(1)}}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.Int(10), v)
}

func TestVectorFunctionsRejectMismatchedDims(t *testing.T) {
	a := value.VectorVal([]float64{1, 2})
	b := value.VectorVal([]float64{1, 2, 3})
	_, err := l2Distance([]value.Value{a, b})
	require.Error(t, err)
}

func TestVectorL2Distance(t *testing.T) {
	a := value.VectorVal([]float64{0, 0})
	b := value.VectorVal([]float64{3, 4})
	v, err := l2Distance([]value.Value{a, b})
	require.NoError(t, err)
	require.InDelta(t, 5.0, v.Float, 1e-9)
}

func TestJSONExtract(t *testing.T) {
	ctx := context.Background()
	doc := value.JSONBVal(`{"a": {"b": 1}}`)
	v, err := Binary{Op: "->", Left: Lit{doc}, Right: Lit{value.Text("a")}}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.KindJSONB, v.Kind)

	v2, err := Binary{Op: "->>", Left: Lit{v}, Right: Lit{value.Text("b")}}.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.Text("1"), v2)
}

func TestJSONBContainment(t *testing.T) {
	a := value.JSONBVal(`{"a":1,"b":2}`)
	b := value.JSONBVal(`{"a":1}`)
	v, err := jsonbContains(a, b)
	require.NoError(t, err)
	require.Equal(t, value.Bool(true), v)
}

func TestScalarSubqueryZeroRowsIsNull(t *testing.T) {
	ctx := context.Background()
	sub := ScalarSubquery{Sub: fakeSub{}}
	v, err := sub.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestScalarSubqueryMultipleRowsIsCardinalityError(t *testing.T) {
	ctx := context.Background()
	sub := ScalarSubquery{Sub: fakeSub{rows: []Row{{value.Int(1)}, {value.Int(2)}}}}
	_, err := sub.Eval(ctx, &rowCtx{})
	require.Error(t, err)
	require.True(t, errs.As(err, errs.CardinalityError))
}

func TestExistsHaltsAtFirstRow(t *testing.T) {
	ctx := context.Background()
	e := ExistsExpr{Sub: fakeSub{rows: []Row{{value.Int(1)}}}}
	v, err := e.Eval(ctx, &rowCtx{})
	require.NoError(t, err)
	require.Equal(t, value.Bool(true), v)
}

type fakeSub struct{ rows []Row }

func (f fakeSub) Run(ctx context.Context, outer RowContext) ([]Row, error) { return f.rows, nil }
