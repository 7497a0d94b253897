package ddlexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pgkv/internal/catalog"
	"pgkv/internal/errs"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
	"pgkv/internal/kvstore/memkv"
	"pgkv/internal/value"
)

func newTestExecutor(t *testing.T) (*Executor, kvstore.Txn) {
	t.Helper()
	ctx := context.Background()
	kv := memkv.New()
	txn, err := kv.Begin(ctx)
	require.NoError(t, err)
	ns := keycodec.Namespace{}
	return New(catalog.NewStore(ns, txn), ns, txn), txn
}

func idTextSpec(name string) CreateTableSpec {
	return CreateTableSpec{
		Name: name,
		Columns: []catalog.ColumnDef{
			{Name: "id", Type: value.TInt, Nullable: false},
			{Name: "v", Type: value.TText, Nullable: true},
		},
		PrimaryKey: []int{0},
	}
}

func TestCreateTableThenGet(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	require.EqualValues(t, 1, schema.TableID)
}

func TestCreateTableIfNotExistsIsNoop(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	spec := idTextSpec("accounts")
	spec.IfNotExists = true
	require.NoError(t, e.CreateTable(ctx, spec))
}

func TestCreateTableDuplicateWithoutIfNotExistsErrors(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	require.Error(t, e.CreateTable(ctx, idTextSpec("accounts")))
}

func TestAddColumnIsVisibleOnExistingSchema(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	require.NoError(t, e.AddColumn(ctx, "accounts", catalog.ColumnDef{Name: "balance", Type: value.TInt, Nullable: true}))
	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	require.Len(t, schema.Columns, 3)
}

func TestDropColumnTombstonesRatherThanRemoves(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	require.NoError(t, e.DropColumn(ctx, "accounts", "v"))
	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	require.Len(t, schema.Columns, 2)
	require.True(t, schema.Columns[1].Dropped)
	require.Equal(t, []int{0}, schema.VisibleColumns())
}

func TestDropColumnRejectsPrimaryKeyColumn(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	require.Error(t, e.DropColumn(ctx, "accounts", "id"))
}

func TestRenameColumnUpdatesMetadataOnly(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	require.NoError(t, e.RenameColumn(ctx, "accounts", "v", "value"))
	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	require.Equal(t, "value", schema.Columns[1].Name)
}

func TestAddPrimaryKeyOnPKLessTable(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	spec := CreateTableSpec{
		Name: "events",
		Columns: []catalog.ColumnDef{
			{Name: "seq", Type: value.TInt, Nullable: false},
		},
	}
	require.NoError(t, e.CreateTable(ctx, spec))
	require.NoError(t, e.AddPrimaryKey(ctx, "events", []string{"seq"}))
	schema, err := e.Store.GetTable(ctx, "events")
	require.NoError(t, err)
	require.Equal(t, []int{0}, schema.PrimaryKey)
}

func TestAddPrimaryKeyRejectsWhenAlreadyPresent(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	require.Error(t, e.AddPrimaryKey(ctx, "accounts", []string{"v"}))
}

func TestAddPrimaryKeyRejectsNullableColumn(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	spec := CreateTableSpec{
		Name: "events",
		Columns: []catalog.ColumnDef{
			{Name: "seq", Type: value.TInt, Nullable: true},
		},
	}
	require.NoError(t, e.CreateTable(ctx, spec))
	require.Error(t, e.AddPrimaryKey(ctx, "events", []string{"seq"}))
}

func TestAddPrimaryKeyRejectsDuplicateValues(t *testing.T) {
	e, txn := newTestExecutor(t)
	ctx := context.Background()
	spec := CreateTableSpec{
		Name: "events",
		Columns: []catalog.ColumnDef{
			{Name: "seq", Type: value.TInt, Nullable: false},
		},
	}
	require.NoError(t, e.CreateTable(ctx, spec))
	schema, err := e.Store.GetTable(ctx, "events")
	require.NoError(t, err)

	for i, v := range []int64{1, 1} {
		row := catalog.Row{value.Int(v)}
		key := e.NS.RowKey(schema.TableID, []byte{byte(i)})
		require.NoError(t, txn.Put(ctx, key, catalog.EncodeRow(row)))
	}
	require.Error(t, e.AddPrimaryKey(ctx, "events", []string{"seq"}))
}

func TestDropTableRemovesSchemaAndRows(t *testing.T) {
	e, txn := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	key := e.NS.RowKey(schema.TableID, []byte{1})
	require.NoError(t, txn.Put(ctx, key, catalog.EncodeRow(catalog.Row{value.Int(1), value.Text("x")})))

	require.NoError(t, e.DropTable(ctx, "accounts", false, false))
	_, err = e.Store.GetTable(ctx, "accounts")
	require.True(t, errs.As(err, errs.UndefinedTable))
	_, ok, err := txn.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDropTableBlockedByDependentForeignKey(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	childSpec := CreateTableSpec{
		Name: "orders",
		Columns: []catalog.ColumnDef{
			{Name: "id", Type: value.TInt, Nullable: false},
			{Name: "account_id", Type: value.TInt, Nullable: false},
		},
		PrimaryKey: []int{0},
		ForeignKeys: []catalog.FKDef{
			{Name: "fk_account", Columns: []int{1}, RefTable: "accounts", RefColumns: []int{0}},
		},
	}
	require.NoError(t, e.CreateTable(ctx, childSpec))
	require.Error(t, e.DropTable(ctx, "accounts", false, false))
	require.NoError(t, e.DropTable(ctx, "accounts", false, true))
}

func TestDropTableIfExistsOnMissingTableIsNoop(t *testing.T) {
	e, _ := newTestExecutor(t)
	require.NoError(t, e.DropTable(context.Background(), "nope", true, false))
}

func TestCreateIndexBackfillsAndFlagsDuplicates(t *testing.T) {
	e, txn := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateTable(ctx, idTextSpec("accounts")))
	schema, err := e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	rows := []struct {
		pk byte
		v  string
	}{{1, "a"}, {2, "b"}}
	for _, r := range rows {
		key := e.NS.RowKey(schema.TableID, []byte{r.pk})
		require.NoError(t, txn.Put(ctx, key, catalog.EncodeRow(catalog.Row{value.Int(int64(r.pk)), value.Text(r.v)})))
	}
	require.NoError(t, e.CreateIndex(ctx, "accounts", "idx_v", []string{"v"}, true, false))
	schema, err = e.Store.GetTable(ctx, "accounts")
	require.NoError(t, err)
	require.Len(t, schema.Indexes, 1)

	dupKey := e.NS.RowKey(schema.TableID, []byte{3})
	require.NoError(t, txn.Put(ctx, dupKey, catalog.EncodeRow(catalog.Row{value.Int(3), value.Text("a")})))
	require.Error(t, e.CreateIndex(ctx, "accounts", "idx_v2", []string{"v"}, true, false))
}

func TestCreateViewRoundtrip(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	require.NoError(t, e.CreateView(ctx, "v1", "SELECT 1", false))
	v, err := e.Store.GetView(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", v.QueryText)
	require.Error(t, e.CreateView(ctx, "v1", "SELECT 2", false))
	require.NoError(t, e.CreateView(ctx, "v1", "SELECT 2", true))
	v, err = e.Store.GetView(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, "SELECT 2", v.QueryText)
}

func TestCreateMaterializedViewAllocatesShadowTable(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	cols := []catalog.ColumnDef{{Name: "total", Type: value.TInt}}
	require.NoError(t, e.CreateMaterializedView(ctx, "mv1", "SELECT count(*) AS total FROM accounts", cols, false))
	mv, err := e.Store.GetMatview(ctx, "mv1")
	require.NoError(t, err)
	require.Equal(t, catalog.ShadowTableName("mv1"), mv.ShadowTable)
	_, err = e.Store.GetTable(ctx, mv.ShadowTable)
	require.NoError(t, err)
}

func TestRefreshMaterializedViewReplacesShadowRows(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	cols := []catalog.ColumnDef{{Name: "total", Type: value.TInt}}
	require.NoError(t, e.CreateMaterializedView(ctx, "mv1", "SELECT count(*) AS total FROM accounts", cols, false))
	require.NoError(t, e.RefreshMaterializedView(ctx, "mv1", []catalog.Row{{value.Int(42)}}, 100))
	mv, err := e.Store.GetMatview(ctx, "mv1")
	require.NoError(t, err)
	require.EqualValues(t, 100, mv.LastRefresh)

	require.NoError(t, e.RefreshMaterializedView(ctx, "mv1", []catalog.Row{{value.Int(7)}}, 200))
	shadowSchema, err := e.Store.GetTable(ctx, mv.ShadowTable)
	require.NoError(t, err)
	kvs, err := e.Txn.Scan(ctx, e.NS.RowPrefix(shadowSchema.TableID), nil, 0)
	require.NoError(t, err)
	require.Len(t, kvs, 1)
}

func TestCreateProcedureAndCallSubstitutesParams(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	params := []catalog.ParamDef{{Name: "id", Type: value.TInt}, {Name: "id2", Type: value.TInt}}
	body := []string{"UPDATE accounts SET v = $id2 WHERE id = $id"}
	require.NoError(t, e.CreateProcedure(ctx, "touch", params, body, false))

	var seen []string
	runner := runnerFunc(func(_ context.Context, sql string) error {
		seen = append(seen, sql)
		return nil
	})
	require.NoError(t, e.Call(ctx, "touch", []string{"1", "2"}, runner))
	require.Equal(t, []string{"UPDATE accounts SET v = 2 WHERE id = 1"}, seen)
}

func TestCallRejectsWrongArgumentCount(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	params := []catalog.ParamDef{{Name: "id", Type: value.TInt}}
	require.NoError(t, e.CreateProcedure(ctx, "touch", params, []string{"SELECT $id"}, false))
	require.Error(t, e.Call(ctx, "touch", nil, runnerFunc(func(context.Context, string) error { return nil })))
}

type runnerFunc func(ctx context.Context, sql string) error

func (f runnerFunc) Run(ctx context.Context, sql string) error { return f(ctx, sql) }
