package memkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemKVBasic(t *testing.T) {
	ctx := context.Background()
	store := New()

	txn, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, []byte("a"), []byte("1")))
	v, ok, err := txn.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
	require.NoError(t, txn.Commit(ctx))

	read, err := store.Begin(ctx)
	require.NoError(t, err)
	v, ok, err = read.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
	require.NoError(t, read.Rollback(ctx))
}

func TestMemKVRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := New()

	txn, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, []byte("x"), []byte("y")))
	require.NoError(t, txn.Rollback(ctx))

	read, err := store.Begin(ctx)
	require.NoError(t, err)
	_, ok, err := read.Get(ctx, []byte("x"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemKVScanOrdered(t *testing.T) {
	ctx := context.Background()
	store := New()
	txn, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, []byte("t_1_c"), []byte("c")))
	require.NoError(t, txn.Put(ctx, []byte("t_1_a"), []byte("a")))
	require.NoError(t, txn.Put(ctx, []byte("t_1_b"), []byte("b")))
	require.NoError(t, txn.Commit(ctx))

	read, err := store.Begin(ctx)
	require.NoError(t, err)
	kvs, err := read.Scan(ctx, []byte("t_1_"), []byte("t_1_\xff"), 0)
	require.NoError(t, err)
	require.Len(t, kvs, 3)
	require.Equal(t, []byte("t_1_a"), kvs[0].Key)
	require.Equal(t, []byte("t_1_b"), kvs[1].Key)
	require.Equal(t, []byte("t_1_c"), kvs[2].Key)
}

func TestMemKVLockIsReleasedOnCommitAndAllowsNextWriter(t *testing.T) {
	ctx := context.Background()
	store := New()

	t1, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, t1.Lock(ctx, [][]byte{[]byte("row")}))
	require.NoError(t, t1.Put(ctx, []byte("row"), []byte("first")))
	require.NoError(t, t1.Commit(ctx))

	t2, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, t2.Lock(ctx, [][]byte{[]byte("row")}))
	v, ok, err := t2.Get(ctx, []byte("row"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("first"), v)
	require.NoError(t, t2.Put(ctx, []byte("row"), []byte("second")))
	require.NoError(t, t2.Commit(ctx))

	verify, err := store.Begin(ctx)
	require.NoError(t, err)
	v, _, err = verify.Get(ctx, []byte("row"))
	require.NoError(t, err)
	require.Equal(t, []byte("second"), v)
}
