package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore/memkv"
	"pgkv/internal/value"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	kv := memkv.New()
	txn, err := kv.Begin(ctx)
	require.NoError(t, err)
	return NewStore(keycodec.Namespace{}, txn)
}

func TestAllocateTableIDMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first, err := s.AllocateTableID(ctx)
	require.NoError(t, err)
	second, err := s.AllocateTableID(ctx)
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

func TestPutGetTableRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	schema := &TableSchema{
		TableID:    1,
		Name:       "t",
		Columns:    []ColumnDef{{Name: "id", Type: value.TInt, Nullable: false}, {Name: "v", Type: value.TText, Nullable: true}},
		PrimaryKey: []int{0},
	}
	require.NoError(t, s.PutTable(ctx, schema))

	got, err := s.GetTable(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, schema.TableID, got.TableID)
	require.Equal(t, schema.Columns, got.Columns)
}

func TestGetTableUndefined(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTable(context.Background(), "nope")
	require.Error(t, err)
}

func TestValidateAllowsTableWithNoPrimaryKeyYet(t *testing.T) {
	schema := &TableSchema{Name: "t", Columns: []ColumnDef{{Name: "id", Type: value.TInt}}}
	require.NoError(t, schema.Validate())
}

func TestValidateRejectsDuplicateColumnNames(t *testing.T) {
	schema := &TableSchema{Name: "t", Columns: []ColumnDef{{Name: "id"}, {Name: "id"}}}
	require.Error(t, schema.Validate())
}

func TestValidateRejectsNullablePrimaryKey(t *testing.T) {
	schema := &TableSchema{
		Name:       "t",
		Columns:    []ColumnDef{{Name: "id", Type: value.TInt, Nullable: true}},
		PrimaryKey: []int{0},
	}
	require.Error(t, schema.Validate())
}

func TestSequenceAllocationAdvancesAndAllowsGaps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v1, err := s.NextSequenceValue(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v1)
	v2, err := s.NextSequenceValue(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2), v2)
}

func TestListTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutTable(ctx, &TableSchema{TableID: 1, Name: "a", Columns: []ColumnDef{{Name: "id", Type: value.TInt}}, PrimaryKey: []int{0}}))
	require.NoError(t, s.PutTable(ctx, &TableSchema{TableID: 2, Name: "b", Columns: []ColumnDef{{Name: "id", Type: value.TInt}}, PrimaryKey: []int{0}}))
	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 2)
}
