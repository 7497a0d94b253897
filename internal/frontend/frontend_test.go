package frontend

import (
	"context"
	"testing"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/stretchr/testify/require"

	"pgkv/internal/catalog"
	"pgkv/internal/dmlexec"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
	"pgkv/internal/kvstore/memkv"
	"pgkv/internal/value"
)

func newTestCompiler(t *testing.T) (*Compiler, kvstore.Txn) {
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
			{Name: "id", Type: value.TInt, Nullable: false},
			{Name: "name", Type: value.TText, Nullable: false},
			{Name: "balance", Type: value.TInt, Nullable: true},
		},
		PrimaryKey: []int{0},
	}
	require.NoError(t, store.PutTable(ctx, schema))
	return New(store, ns, txn), txn
}

func mustParse(t *testing.T, sql string) ast.StmtNode {
	t.Helper()
	stmt, err := NewParser().ParseOne(sql)
	require.NoError(t, err)
	return stmt
}

func TestCompileExprBinaryAndLiteral(t *testing.T) {
	stmt := mustParse(t, "SELECT 1 + 2")
	sel := stmt.(*ast.SelectStmt)
	e, err := CompileExpr(sel.Fields.Fields[0].Expr, nil)
	require.NoError(t, err)
	v, err := e.Eval(context.Background(), constRC{})
	require.NoError(t, err)
	require.Equal(t, value.Int(3), v)
}

func TestCompileExprRejectsBareAggregate(t *testing.T) {
	stmt := mustParse(t, "SELECT count(*) FROM accounts WHERE count(*) > 1")
	sel := stmt.(*ast.SelectStmt)
	_, err := CompileExpr(sel.Where, nil)
	require.Error(t, err)
}

func TestCompileSelectFiltersAndProjects(t *testing.T) {
	c, txn := newTestCompiler(t)
	ctx := context.Background()
	ins := dmlexec.New(c.Store, c.NS, txn)
	_, err := ins.Insert(ctx, dmlexec.InsertSpec{
		Table: "accounts",
		Rows: []dmlexec.InsertRow{
			{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(100)}},
			{Values: map[int]value.Value{0: value.Int(2), 1: value.Text("bob"), 2: value.Int(50)}},
		},
	})
	require.NoError(t, err)

	stmt := mustParse(t, "SELECT name FROM accounts WHERE balance > 60")
	node, err := c.CompileSelect(ctx, stmt.(*ast.SelectStmt))
	require.NoError(t, err)
	rows, err := node.Exec(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, value.Text("alice"), rows[0][0])
}

func TestCompileSelectOrderByAndLimit(t *testing.T) {
	c, txn := newTestCompiler(t)
	ctx := context.Background()
	ins := dmlexec.New(c.Store, c.NS, txn)
	_, err := ins.Insert(ctx, dmlexec.InsertSpec{
		Table: "accounts",
		Rows: []dmlexec.InsertRow{
			{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(100)}},
			{Values: map[int]value.Value{0: value.Int(2), 1: value.Text("bob"), 2: value.Int(50)}},
			{Values: map[int]value.Value{0: value.Int(3), 1: value.Text("carol"), 2: value.Int(75)}},
		},
	})
	require.NoError(t, err)

	stmt := mustParse(t, "SELECT name FROM accounts ORDER BY balance DESC LIMIT 1")
	node, err := c.CompileSelect(ctx, stmt.(*ast.SelectStmt))
	require.NoError(t, err)
	rows, err := node.Exec(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, value.Text("alice"), rows[0][0])
}

func TestCompileInsertValues(t *testing.T) {
	c, _ := newTestCompiler(t)
	ctx := context.Background()
	stmt := mustParse(t, "INSERT INTO accounts (id, name, balance) VALUES (1, 'carol', 10)")
	spec, err := c.CompileInsert(ctx, stmt.(*ast.InsertStmt))
	require.NoError(t, err)
	require.Equal(t, "accounts", spec.Table)
	require.Len(t, spec.Rows, 1)
	require.Equal(t, value.Int(1), spec.Rows[0].Values[0])
	require.Equal(t, value.Text("carol"), spec.Rows[0].Values[1])
}

func TestCompileUpdateResolvesMatchedPKs(t *testing.T) {
	c, txn := newTestCompiler(t)
	ctx := context.Background()
	ins := dmlexec.New(c.Store, c.NS, txn)
	_, err := ins.Insert(ctx, dmlexec.InsertSpec{
		Table: "accounts",
		Rows: []dmlexec.InsertRow{
			{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(100)}},
		},
	})
	require.NoError(t, err)

	stmt := mustParse(t, "UPDATE accounts SET balance = 200 WHERE id = 1")
	spec, err := c.CompileUpdate(ctx, stmt.(*ast.UpdateStmt))
	require.NoError(t, err)
	require.Len(t, spec.MatchedPKs, 1)
	require.Contains(t, spec.Set, 2)
}

func TestCompileDeleteResolvesMatchedPKs(t *testing.T) {
	c, txn := newTestCompiler(t)
	ctx := context.Background()
	ins := dmlexec.New(c.Store, c.NS, txn)
	_, err := ins.Insert(ctx, dmlexec.InsertSpec{
		Table: "accounts",
		Rows: []dmlexec.InsertRow{
			{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(100)}},
			{Values: map[int]value.Value{0: value.Int(2), 1: value.Text("bob"), 2: value.Int(50)}},
		},
	})
	require.NoError(t, err)

	stmt := mustParse(t, "DELETE FROM accounts WHERE balance < 60")
	spec, err := c.CompileDelete(ctx, stmt.(*ast.DeleteStmt))
	require.NoError(t, err)
	require.Len(t, spec.MatchedPKs, 1)
}

func TestCompileCreateTable(t *testing.T) {
	c, _ := newTestCompiler(t)
	ctx := context.Background()
	stmt := mustParse(t, "CREATE TABLE widgets (id INT PRIMARY KEY, label VARCHAR(100) NOT NULL)")
	spec, err := c.CompileCreateTable(ctx, stmt.(*ast.CreateTableStmt))
	require.NoError(t, err)
	require.Equal(t, "widgets", spec.Name)
	require.Equal(t, []int{0}, spec.PrimaryKey)
	require.Len(t, spec.Columns, 2)
	require.False(t, spec.Columns[1].Nullable)
}

func TestCompileDropTableRejectsMultiTable(t *testing.T) {
	stmt := mustParse(t, "DROP TABLE a, b")
	_, _, _, err := CompileDropTable(stmt.(*ast.DropTableStmt))
	require.Error(t, err)
}

func TestCompileSelectStarExpandsAllColumns(t *testing.T) {
	c, txn := newTestCompiler(t)
	ctx := context.Background()
	ins := dmlexec.New(c.Store, c.NS, txn)
	_, err := ins.Insert(ctx, dmlexec.InsertSpec{
		Table: "accounts",
		Rows: []dmlexec.InsertRow{
			{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(100)}},
		},
	})
	require.NoError(t, err)

	stmt := mustParse(t, "SELECT * FROM accounts")
	node, err := c.CompileSelect(ctx, stmt.(*ast.SelectStmt))
	require.NoError(t, err)
	schema := node.Schema()
	require.Len(t, schema, 3)
	require.Equal(t, "id", schema[0].Name)
	require.Equal(t, "name", schema[1].Name)
	require.Equal(t, "balance", schema[2].Name)
}

func TestCompileSetOprUnion(t *testing.T) {
	c, txn := newTestCompiler(t)
	ctx := context.Background()
	ins := dmlexec.New(c.Store, c.NS, txn)
	_, err := ins.Insert(ctx, dmlexec.InsertSpec{
		Table: "accounts",
		Rows: []dmlexec.InsertRow{
			{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(100)}},
			{Values: map[int]value.Value{0: value.Int(2), 1: value.Text("bob"), 2: value.Int(50)}},
		},
	})
	require.NoError(t, err)

	stmt := mustParse(t, "SELECT name FROM accounts WHERE balance > 60 UNION SELECT name FROM accounts WHERE balance < 60")
	node, err := c.CompileSetOpr(ctx, stmt.(*ast.SetOprStmt))
	require.NoError(t, err)
	rows, err := node.Exec(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestCompileSelectHavingReferencesUnselectedAggregate(t *testing.T) {
	c, txn := newTestCompiler(t)
	ctx := context.Background()
	ins := dmlexec.New(c.Store, c.NS, txn)
	_, err := ins.Insert(ctx, dmlexec.InsertSpec{
		Table: "accounts",
		Rows: []dmlexec.InsertRow{
			{Values: map[int]value.Value{0: value.Int(1), 1: value.Text("alice"), 2: value.Int(100)}},
			{Values: map[int]value.Value{0: value.Int(2), 1: value.Text("alice"), 2: value.Int(50)}},
			{Values: map[int]value.Value{0: value.Int(3), 1: value.Text("bob"), 2: value.Int(10)}},
		},
	})
	require.NoError(t, err)

	stmt := mustParse(t, "SELECT name FROM accounts GROUP BY name HAVING COUNT(*) > 1")
	node, err := c.CompileSelect(ctx, stmt.(*ast.SelectStmt))
	require.NoError(t, err)
	rows, err := node.Exec(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, value.Text("alice"), rows[0][0])
}

func TestCompileCreateIndex(t *testing.T) {
	stmt := mustParse(t, "CREATE UNIQUE INDEX idx_accounts_name ON accounts (name)")
	table, index, cols, unique := CompileCreateIndex(stmt.(*ast.CreateIndexStmt))
	require.Equal(t, "accounts", table)
	require.Equal(t, "idx_accounts_name", index)
	require.Equal(t, []string{"name"}, cols)
	require.True(t, unique)
}
