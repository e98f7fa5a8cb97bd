package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/repository"
	"svc-steward.io/steward/internal/testutil"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	pool := testutil.OpenPGXPool(t, "kv")
	require.NoError(t, repository.Migrate(context.Background(), pool))
	return NewPostgresStore(pool)
}

func TestPostgresStore_PutGetCAS(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	first, err := store.Put(ctx, "pg/key", []byte("v1"), KindLeaf, nil)
	require.NoError(t, err)
	require.NotZero(t, first)

	e, err := store.Get(ctx, "pg/key", true)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), e.Value)
	require.Equal(t, first, e.ModifyIndex)
	require.Equal(t, KindLeaf, e.Kind)

	// Create-only against an existing key conflicts.
	_, err = store.Put(ctx, "pg/key", []byte("v2"), KindLeaf, uptr(0))
	require.True(t, apperrors.IsCode(err, apperrors.CodeKVCASConflict))

	second, err := store.Put(ctx, "pg/key", []byte("v2"), KindLeaf, uptr(first))
	require.NoError(t, err)
	require.Greater(t, second, first)

	_, err = store.Put(ctx, "pg/key", []byte("v3"), KindLeaf, uptr(first))
	require.True(t, apperrors.IsCode(err, apperrors.CodeKVCASConflict))

	_, err = store.Get(ctx, "pg/missing", false)
	require.True(t, apperrors.IsCode(err, apperrors.CodeKVNotFound))
}

func TestPostgresStore_ListKeysDelete(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	for _, key := range []string{"t/a", "t/b", "t/sub/c", "u/d"} {
		_, err := store.Put(ctx, key, []byte(key), KindLeaf, nil)
		require.NoError(t, err)
	}

	entries, err := store.List(ctx, "t/", true)
	require.NoError(t, err)
	require.Equal(t, []string{"t/a", "t/b", "t/sub/c"}, entryKeys(entries))

	entries, err = store.List(ctx, "t/", false)
	require.NoError(t, err)
	require.Equal(t, []string{"t/a", "t/b"}, entryKeys(entries))

	keys, err := store.Keys(ctx, "t/", "/")
	require.NoError(t, err)
	require.Equal(t, []string{"t/a", "t/b", "t/sub/"}, keys)

	// CAS-guarded delete.
	e, err := store.Get(ctx, "t/a", true)
	require.NoError(t, err)
	_, err = store.Delete(ctx, "t/a", false, uptr(e.ModifyIndex+5))
	require.True(t, apperrors.IsCode(err, apperrors.CodeKVCASConflict))
	n, err := store.Delete(ctx, "t/a", false, uptr(e.ModifyIndex))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = store.Delete(ctx, "t/", true, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = store.Get(ctx, "u/d", true)
	require.NoError(t, err)
}

func TestPostgresStore_TxnAtomicity(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "txn/existing", []byte("old"), KindLeaf, nil)
	require.NoError(t, err)

	result, err := store.Txn(ctx, []TxnOp{
		{Verb: TxnSet, Key: "txn/new", Value: []byte("a")},
		{Verb: TxnSet, Key: "txn/existing", Value: []byte("clobber"), CAS: uptr(0)},
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.True(t, result.Results[0].Success)
	require.False(t, result.Results[1].Success)

	// The aborted batch left nothing behind.
	_, err = store.Get(ctx, "txn/new", true)
	require.True(t, apperrors.IsCode(err, apperrors.CodeKVNotFound))
	e, err := store.Get(ctx, "txn/existing", true)
	require.NoError(t, err)
	require.Equal(t, []byte("old"), e.Value)

	result, err = store.Txn(ctx, []TxnOp{
		{Verb: TxnSet, Key: "txn/new", Value: []byte("a")},
		{Verb: TxnSet, Key: "txn/existing", Value: []byte("new"), CAS: uptr(e.ModifyIndex)},
		{Verb: TxnDeleteTree, Key: "txn/stale/"},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	e, err = store.Get(ctx, "txn/existing", true)
	require.NoError(t, err)
	require.Equal(t, []byte("new"), e.Value)
}
