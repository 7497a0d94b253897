package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pgkv/internal/auth"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore/memkv"
	"pgkv/internal/session"
)

func newTestEngine(t *testing.T) (*Engine, *session.Session) {
	t.Helper()
	ctx := context.Background()
	kv := memkv.New()
	ns := keycodec.Namespace{}

	txn, err := kv.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, auth.NewManager(ns, txn).EnsureBootstrapAdmin(ctx))
	require.NoError(t, txn.Commit(ctx))

	e := New(kv, ns)
	sess := session.New(kv, ns, "admin", "public")
	return e, sess
}

func TestExecuteCreateInsertSelect(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL, balance INT)")
	require.NoError(t, err)
	require.Equal(t, "CREATE TABLE", res.Tag)

	res, err = e.Execute(ctx, sess, "INSERT INTO accounts (id, name, balance) VALUES (1, 'alice', 100)")
	require.NoError(t, err)
	require.Equal(t, "INSERT 0 1", res.Tag)

	res, err = e.Execute(ctx, sess, "SELECT name FROM accounts WHERE balance > 50")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", res.Tag)
	require.Equal(t, []string{"name"}, res.Columns)
	require.Len(t, res.Rows, 1)
}

func TestExecuteUpdateAndDelete(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL, balance INT)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO accounts (id, name, balance) VALUES (1, 'alice', 100)")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "UPDATE accounts SET balance = 200 WHERE id = 1")
	require.NoError(t, err)
	require.Equal(t, "UPDATE 1", res.Tag)

	res, err = e.Execute(ctx, sess, "DELETE FROM accounts WHERE id = 1")
	require.NoError(t, err)
	require.Equal(t, "DELETE 1", res.Tag)
}

func TestExecuteExplicitTransaction(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL)")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "BEGIN")
	require.NoError(t, err)
	require.Equal(t, "BEGIN", res.Tag)

	_, err = e.Execute(ctx, sess, "INSERT INTO accounts (id, name) VALUES (1, 'alice')")
	require.NoError(t, err)

	res, err = e.Execute(ctx, sess, "COMMIT")
	require.NoError(t, err)
	require.Equal(t, "COMMIT", res.Tag)

	res, err = e.Execute(ctx, sess, "SELECT name FROM accounts")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestExecuteCreateViewInlinesQuery(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL, balance INT)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO accounts (id, name, balance) VALUES (1, 'alice', 100)")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "CREATE VIEW rich_accounts AS SELECT name FROM accounts WHERE balance > 50")
	require.NoError(t, err)
	require.Equal(t, "CREATE VIEW", res.Tag)

	res, err = e.Execute(ctx, sess, "SELECT name FROM rich_accounts")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestExecuteRecursiveCTE(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, sess, `
		WITH RECURSIVE n(i) AS (
			SELECT 1
			UNION ALL
			SELECT i + 1 FROM n WHERE i < 5
		)
		SELECT SUM(i) FROM n`)
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", res.Tag)
	require.Len(t, res.Rows, 1)
	require.Equal(t, int64(15), res.Rows[0][0].Int)
}

func TestExecuteWindowFunctionPartitionedSum(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE emp (id INT PRIMARY KEY, dept VARCHAR(10) NOT NULL, salary INT)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO emp (id, dept, salary) VALUES (1, 'A', 3)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO emp (id, dept, salary) VALUES (2, 'B', 3)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO emp (id, dept, salary) VALUES (3, 'C', 4)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO emp (id, dept, salary) VALUES (4, 'C', 6)")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "SELECT dept, SUM(salary) OVER (PARTITION BY dept) FROM emp ORDER BY dept, id")
	require.NoError(t, err)
	require.Len(t, res.Rows, 4)
	want := map[string]int64{"A": 3, "B": 3, "C": 10}
	for _, row := range res.Rows {
		require.Equal(t, want[row[0].Text], row[1].Int)
	}
}

func TestExecuteUnion(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE a (id INT PRIMARY KEY)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "CREATE TABLE b (id INT PRIMARY KEY)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO a (id) VALUES (1)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO a (id) VALUES (2)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO b (id) VALUES (2)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO b (id) VALUES (3)")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "SELECT id FROM a UNION SELECT id FROM b ORDER BY id")
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
}

func TestExecuteSelectStarExpandsColumns(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL, balance INT)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO accounts (id, name, balance) VALUES (1, 'alice', 100)")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "SELECT * FROM accounts")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "balance"}, res.Columns)
}

func TestExecuteInsertReturning(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL, balance INT)")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "INSERT INTO accounts (id, name, balance) VALUES (1, 'alice', 100) RETURNING id, balance")
	require.NoError(t, err)
	require.Equal(t, "INSERT 0 1", res.Tag)
	require.Equal(t, []string{"id", "balance"}, res.Columns)
	require.Len(t, res.Rows, 1)
	require.Equal(t, int64(1), res.Rows[0][0].Int)
	require.Equal(t, int64(100), res.Rows[0][1].Int)
}

func TestExecuteInsertOnConflictDoNothing(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO accounts (id, name) VALUES (1, 'alice')")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "INSERT INTO accounts (id, name) VALUES (1, 'bob') ON CONFLICT (id) DO NOTHING")
	require.NoError(t, err)
	require.Equal(t, "INSERT 0 0", res.Tag)

	res, err = e.Execute(ctx, sess, "SELECT name FROM accounts WHERE id = 1")
	require.NoError(t, err)
	require.Equal(t, "alice", res.Rows[0][0].Text)
}

func TestExecuteInsertOnConflictDoUpdate(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(50) NOT NULL)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO accounts (id, name) VALUES (1, 'alice')")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "INSERT INTO accounts (id, name) VALUES (1, 'bob') ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name")
	require.NoError(t, err)
	require.Equal(t, "INSERT 0 1", res.Tag)

	res, err = e.Execute(ctx, sess, "SELECT name FROM accounts WHERE id = 1")
	require.NoError(t, err)
	require.Equal(t, "bob", res.Rows[0][0].Text)
}

func TestExecuteHavingWithoutSelectedAggregate(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE emp (id INT PRIMARY KEY, dept VARCHAR(10) NOT NULL)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO emp (id, dept) VALUES (1, 'A')")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO emp (id, dept) VALUES (2, 'A')")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO emp (id, dept) VALUES (3, 'B')")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "SELECT dept FROM emp GROUP BY dept HAVING COUNT(*) > 1")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "A", res.Rows[0][0].Text)
}

func TestExecuteMaterializedViewCreateAndRefresh(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY, balance INT)")
	require.NoError(t, err)
	_, err = e.Execute(ctx, sess, "INSERT INTO accounts (id, balance) VALUES (1, 100)")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "CREATE MATERIALIZED VIEW rich AS SELECT id FROM accounts WHERE balance > 50")
	require.NoError(t, err)
	require.Equal(t, "CREATE MATERIALIZED VIEW", res.Tag)

	res, err = e.Execute(ctx, sess, "SELECT id FROM rich")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	_, err = e.Execute(ctx, sess, "INSERT INTO accounts (id, balance) VALUES (2, 200)")
	require.NoError(t, err)
	res, err = e.Execute(ctx, sess, "REFRESH MATERIALIZED VIEW rich")
	require.NoError(t, err)
	require.Equal(t, "REFRESH MATERIALIZED VIEW", res.Tag)

	res, err = e.Execute(ctx, sess, "SELECT id FROM rich ORDER BY id")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
}

func TestExecuteCreateRoleAndGrant(t *testing.T) {
	e, sess := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, sess, "CREATE TABLE accounts (id INT PRIMARY KEY)")
	require.NoError(t, err)

	res, err := e.Execute(ctx, sess, "CREATE ROLE analyst LOGIN PASSWORD 'secret'")
	require.NoError(t, err)
	require.Equal(t, "CREATE ROLE", res.Tag)

	res, err = e.Execute(ctx, sess, "GRANT SELECT ON accounts TO analyst")
	require.NoError(t, err)
	require.Equal(t, "GRANT", res.Tag)

	res, err = e.Execute(ctx, sess, "REVOKE SELECT ON accounts FROM analyst")
	require.NoError(t, err)
	require.Equal(t, "REVOKE", res.Tag)
}
