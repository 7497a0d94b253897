package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pgkv/internal/value"
)

func TestRowRoundTrip(t *testing.T) {
	row := Row{
		value.Int(42),
		value.Text("hello"),
		value.Null(),
		value.Bool(true),
		value.Float(3.25),
		value.Timestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	}
	schema := &TableSchema{Columns: []ColumnDef{{}, {}, {}, {}, {}, {}}}
	encoded := EncodeRow(row)
	decoded, err := DecodeRow(encoded, schema, nil)
	require.NoError(t, err)
	require.Len(t, decoded, len(row))
	for i := range row {
		require.True(t, row[i].Equal(decoded[i]), "column %d: %+v != %+v", i, row[i], decoded[i])
	}
}

func TestDecodeRowSynthesizesDefaultForAddedColumn(t *testing.T) {
	row := Row{value.Int(1)}
	schema := &TableSchema{Columns: []ColumnDef{{Name: "id"}, {Name: "v", DefaultExpr: "'x'"}}}
	encoded := EncodeRow(row)

	called := false
	decoded, err := DecodeRow(encoded, schema, func(col ColumnDef) (value.Value, error) {
		called = true
		return value.Text("x"), nil
	})
	require.NoError(t, err)
	require.True(t, called)
	require.Len(t, decoded, 2)
	require.Equal(t, value.Text("x"), decoded[1])
}

func TestDecodeRowNullWhenNoDefault(t *testing.T) {
	row := Row{value.Int(1)}
	schema := &TableSchema{Columns: []ColumnDef{{Name: "id"}, {Name: "v"}}}
	encoded := EncodeRow(row)
	decoded, err := DecodeRow(encoded, schema, nil)
	require.NoError(t, err)
	require.True(t, decoded[1].IsNull())
}
