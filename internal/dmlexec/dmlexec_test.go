package dmlexec

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pgkv/internal/catalog"
	"pgkv/internal/eval"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
	"pgkv/internal/kvstore/memkv"
	"pgkv/internal/value"
)

func newTestExecutor(t *testing.T) (*Executor, kvstore.Txn, keycodec.Namespace) {
	t.Helper()
	ctx := context.Background()
	kv := memkv.New()
	txn, err := kv.Begin(ctx)
	require.NoError(t, err)
	ns := keycodec.Namespace{}
	store := catalog.NewStore(ns, txn)
	schema := &catalog.TableSchema{
		TableID: 1,
		Name:    "accounts",
		Columns: []catalog.ColumnDef{
			{Name: "id", Type: value.TInt, Nullable: false, IsSerial: true},
			{Name: "name", Type: value.TText, Nullable: false},
			{Name: "balance", Type: value.TInt, Nullable: true},
		},
		PrimaryKey: []int{0},
		Indexes: []catalog.IndexDef{
			{IndexID: 1, Name: "accounts_name_uk", Columns: []int{1}, Unique: true},
		},
	}
	require.NoError(t, store.PutTable(ctx, schema))
	return New(store, ns, txn), txn, ns
}

func TestInsertSynthesizesSerialAndWritesIndex(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	res, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows: []InsertRow{
			{Values: map[int]value.Value{1: value.Text("alice"), 2: value.Int(100)}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.RowsAffected)

	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	pk, err := keycodec.EncodeKey([]value.Value{value.Int(1)})
	require.NoError(t, err)
	rowKey := e.NS.RowKey(schema.TableID, pk)
	raw, ok, err := e.Txn.Get(ctx, rowKey)
	require.NoError(t, err)
	require.True(t, ok)
	row, err := catalog.DecodeRow(raw, schema, nil)
	require.NoError(t, err)
	require.Equal(t, value.Int(1), row[0])
}

func TestInsertRejectsNotNullViolation(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{2: value.Int(5)}}},
	})
	require.Error(t, err)
}

func TestInsertRejectsDuplicateUniqueIndex(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{1: value.Text("alice")}}},
	})
	require.NoError(t, err)
	_, err = e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{1: value.Text("alice")}}},
	})
	require.Error(t, err)
}

func TestInsertOnConflictDoNothing(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice")}}},
	})
	require.NoError(t, err)
	res, err := e.Insert(ctx, InsertSpec{
		Table:    "accounts",
		Rows:     []InsertRow{{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("bob")}}},
		Conflict: ConflictDoNothing,
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.RowsAffected)
}

func TestInsertOnConflictDoUpdateUsesExcluded(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(10)}}},
	})
	require.NoError(t, err)

	res, err := e.Insert(ctx, InsertSpec{
		Table:    "accounts",
		Rows:     []InsertRow{{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(999)}}},
		Conflict: ConflictDoUpdate,
		ConflictSet: map[int]eval.Expr{
			2: eval.Column{Alias: "excluded", Name: "balance"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.RowsAffected)

	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	pk, err := keycodec.EncodeKey([]value.Value{value.Int(1)})
	require.NoError(t, err)
	rowKey := e.NS.RowKey(schema.TableID, pk)
	raw, ok, err := e.Txn.Get(ctx, rowKey)
	require.NoError(t, err)
	require.True(t, ok)
	row, err := catalog.DecodeRow(raw, schema, nil)
	require.NoError(t, err)
	require.Equal(t, value.Int(999), row[2])
}

func TestUpdateRewritesRowAndMaintainsIndex(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(10)}}},
	})
	require.NoError(t, err)

	pk, err := keycodec.EncodeKey([]value.Value{value.Int(1)})
	require.NoError(t, err)
	res, err := e.Update(ctx, UpdateSpec{
		Table:      "accounts",
		MatchedPKs: [][]byte{pk},
		Set: map[int]eval.Expr{
			2: eval.Lit{Value: value.Int(20)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.RowsAffected)

	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	rowKey := e.NS.RowKey(schema.TableID, pk)
	raw, ok, err := e.Txn.Get(ctx, rowKey)
	require.NoError(t, err)
	require.True(t, ok)
	row, err := catalog.DecodeRow(raw, schema, nil)
	require.NoError(t, err)
	require.Equal(t, value.Int(20), row[2])
}

func TestUpdateRejectsUniqueViolationAgainstOtherRow(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows: []InsertRow{
			{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice")}},
			{Values: map[int]value.Value{0: value.Int(2), 1: value.Text("bob")}},
		},
	})
	require.NoError(t, err)

	pk2, err := keycodec.EncodeKey([]value.Value{value.Int(2)})
	require.NoError(t, err)
	_, err = e.Update(ctx, UpdateSpec{
		Table:      "accounts",
		MatchedPKs: [][]byte{pk2},
		Set: map[int]eval.Expr{
			1: eval.Lit{Value: value.Text("alice")},
		},
	})
	require.Error(t, err)
}

func TestDeleteRemovesRowAndIndexEntry(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice")}}},
	})
	require.NoError(t, err)

	pk, err := keycodec.EncodeKey([]value.Value{value.Int(1)})
	require.NoError(t, err)
	res, err := e.Delete(ctx, DeleteSpec{Table: "accounts", MatchedPKs: [][]byte{pk}})
	require.NoError(t, err)
	require.Equal(t, 1, res.RowsAffected)

	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	rowKey := e.NS.RowKey(schema.TableID, pk)
	_, ok, err := e.Txn.Get(ctx, rowKey)
	require.NoError(t, err)
	require.False(t, ok)

	// The unique index entry should be gone too, so a re-insert of the same
	// name no longer conflicts.
	_, err = e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{0: value.Int(2), 1: value.Text("alice")}}},
	})
	require.NoError(t, err)
}

func TestTruncateRemovesRowsAndResetsSequence(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{1: value.Text("alice")}}},
	})
	require.NoError(t, err)
	require.NoError(t, e.Truncate(ctx, "accounts"))

	res, err := e.Insert(ctx, InsertSpec{
		Table: "accounts",
		Rows:  []InsertRow{{Values: map[int]value.Value{1: value.Text("bob")}}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.RowsAffected)

	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	pk, err := keycodec.EncodeKey([]value.Value{value.Int(1)})
	require.NoError(t, err)
	rowKey := e.NS.RowKey(schema.TableID, pk)
	_, ok, err := e.Txn.Get(ctx, rowKey)
	require.NoError(t, err)
	require.True(t, ok, "sequence should restart from 1 after TRUNCATE")
}

func TestCopyFromParsesTabSeparatedRowsAndNullMarker(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()
	data := "1\talice\t10\n2\tbob\t\\N\n.\n"
	res, err := e.CopyFrom(ctx, "accounts", strings.NewReader(data), []int{0, 1, 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.RowsAffected)

	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	pk, err := keycodec.EncodeKey([]value.Value{value.Int(2)})
	require.NoError(t, err)
	rowKey := e.NS.RowKey(schema.TableID, pk)
	raw, ok, err := e.Txn.Get(ctx, rowKey)
	require.NoError(t, err)
	require.True(t, ok)
	row, err := catalog.DecodeRow(raw, schema, nil)
	require.NoError(t, err)
	require.True(t, row[2].IsNull())
}
