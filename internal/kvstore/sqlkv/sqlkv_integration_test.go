package sqlkv

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

func TestSqlKVIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("pgkv"),
		mysql.WithUsername("root"),
		mysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "failed to start MySQL container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	store, err := Open(ctx, db, "pgkv_store_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("put then get within a transaction", func(t *testing.T) {
		txn, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, txn.Put(ctx, []byte("k1"), []byte("v1")))
		val, ok, err := txn.Get(ctx, []byte("k1"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("v1"), val)
		require.NoError(t, txn.Commit(ctx))
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		txn, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, txn.Put(ctx, []byte("k2"), []byte("v2")))
		require.NoError(t, txn.Rollback(ctx))

		verify, err := store.Begin(ctx)
		require.NoError(t, err)
		_, ok, err := verify.Get(ctx, []byte("k2"))
		require.NoError(t, err)
		require.False(t, ok)
		require.NoError(t, verify.Rollback(ctx))
	})

	t.Run("scan returns keys in order", func(t *testing.T) {
		txn, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, txn.Put(ctx, []byte("a_1"), []byte("1")))
		require.NoError(t, txn.Put(ctx, []byte("a_2"), []byte("2")))
		require.NoError(t, txn.Put(ctx, []byte("a_3"), []byte("3")))
		require.NoError(t, txn.Commit(ctx))

		reader, err := store.Begin(ctx)
		require.NoError(t, err)
		kvs, err := reader.Scan(ctx, []byte("a_"), []byte("a_9"), 0)
		require.NoError(t, err)
		require.Len(t, kvs, 3)
		require.Equal(t, []byte("a_1"), kvs[0].Key)
		require.NoError(t, reader.Rollback(ctx))
	})
}
