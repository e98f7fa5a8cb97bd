package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/permission"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCache_EntryRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := cache.GetEntry(ctx, "svc-1", "app/host")
	require.False(t, ok)

	cache.SetEntry(ctx, "svc-1", "app/host", []byte(`{"key":"app/host"}`))
	data, ok := cache.GetEntry(ctx, "svc-1", "app/host")
	require.True(t, ok)
	require.Equal(t, []byte(`{"key":"app/host"}`), data)

	// Another service's identical path is a distinct cache slot.
	_, ok = cache.GetEntry(ctx, "svc-2", "app/host")
	require.False(t, ok)
}

func TestCache_DocumentSlotsPerFormat(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.SetDocument(ctx, "svc-1", "app", FormatJSON, []byte(`{}`))
	cache.SetDocument(ctx, "svc-1", "app", FormatYAML, []byte(`{}`))

	_, ok := cache.GetDocument(ctx, "svc-1", "app", FormatJSON)
	require.True(t, ok)
	_, ok = cache.GetDocument(ctx, "svc-1", "app", FormatProperties)
	require.False(t, ok)
}

func TestCache_InvalidateWrite(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.SetEntry(ctx, "svc-1", "app/db/host", []byte(`h`))
	cache.SetEntry(ctx, "svc-1", "app/db/port", []byte(`p`))
	cache.SetDocument(ctx, "svc-1", "app/db", FormatJSON, []byte(`{}`))
	cache.SetDocument(ctx, "svc-1", "app", FormatJSON, []byte(`{}`))
	cache.SetDocument(ctx, "svc-1", "", FormatJSON, []byte(`{}`))
	cache.SetDocument(ctx, "svc-2", "app", FormatJSON, []byte(`{}`))

	cache.InvalidateWrite(ctx, "svc-1", "app/db/host")

	// The written path's read and every ancestor export are gone.
	_, ok := cache.GetEntry(ctx, "svc-1", "app/db/host")
	require.False(t, ok)
	_, ok = cache.GetDocument(ctx, "svc-1", "app/db", FormatJSON)
	require.False(t, ok)
	_, ok = cache.GetDocument(ctx, "svc-1", "app", FormatJSON)
	require.False(t, ok)
	_, ok = cache.GetDocument(ctx, "svc-1", "", FormatJSON)
	require.False(t, ok)

	// Sibling reads and other services survive.
	_, ok = cache.GetEntry(ctx, "svc-1", "app/db/port")
	require.True(t, ok)
	_, ok = cache.GetDocument(ctx, "svc-2", "app", FormatJSON)
	require.True(t, ok)
}

func TestCache_InvalidateTree(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.SetEntry(ctx, "svc-1", "app/a", []byte(`a`))
	cache.SetEntry(ctx, "svc-1", "app/deep/b", []byte(`b`))
	cache.SetEntry(ctx, "svc-1", "other/c", []byte(`c`))
	cache.SetDocument(ctx, "svc-1", "app", FormatYAML, []byte(`{}`))
	cache.SetDocument(ctx, "svc-1", "", FormatJSON, []byte(`{}`))

	cache.InvalidateTree(ctx, "svc-1", "app")

	_, ok := cache.GetEntry(ctx, "svc-1", "app/a")
	require.False(t, ok)
	_, ok = cache.GetEntry(ctx, "svc-1", "app/deep/b")
	require.False(t, ok)
	_, ok = cache.GetDocument(ctx, "svc-1", "app", FormatYAML)
	require.False(t, ok)
	_, ok = cache.GetDocument(ctx, "svc-1", "", FormatJSON)
	require.False(t, ok)

	_, ok = cache.GetEntry(ctx, "svc-1", "other/c")
	require.True(t, ok)
}

func TestCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, 100*time.Millisecond)

	ctx := context.Background()
	cache.SetEntry(ctx, "svc-1", "app/host", []byte(`h`))

	mr.FastForward(200 * time.Millisecond)
	_, ok := cache.GetEntry(ctx, "svc-1", "app/host")
	require.False(t, ok)
}

func TestCache_NilIsSafe(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	_, ok := cache.GetEntry(ctx, "svc", "p")
	require.False(t, ok)
	cache.SetEntry(ctx, "svc", "p", nil)
	_, ok = cache.GetDocument(ctx, "svc", "p", FormatJSON)
	require.False(t, ok)
	cache.SetDocument(ctx, "svc", "p", FormatJSON, nil)
	cache.InvalidateWrite(ctx, "svc", "p")
	cache.InvalidateTree(ctx, "svc", "p")
}

// Stale reads are bounded by invalidation and the consistent flag: a cached
// read may lag a direct store mutation, a consistent read may not, and any
// write through the manager drops the stale state.
func TestCache_ManagerReadThrough(t *testing.T) {
	cache, _ := newTestCache(t)
	teamA := "team-a"
	services := &fakeServiceReader{services: map[string]*domain.ApplicationService{
		"svc-owned": {ID: "svc-owned", Name: "billing", OwnerTeamID: &teamA},
	}}
	store := NewMemStore()
	mgr := NewManager(services, permission.NewEvaluator(&stubShares{}), store, cache, nil)

	ctx := context.Background()
	_, err := mgr.Put(ctx, teamOwner, "svc-owned", "flag", []byte("v1"), PutOptions{})
	require.NoError(t, err)

	// Prime the cache.
	e, err := mgr.Get(ctx, teamOwner, "svc-owned", "flag", GetOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), e.Value)

	// Mutate the store behind the manager's back.
	absKey, err := BuildKey("svc-owned", "flag")
	require.NoError(t, err)
	_, err = store.Put(ctx, absKey, []byte("v2"), KindLeaf, nil)
	require.NoError(t, err)

	e, err = mgr.Get(ctx, teamOwner, "svc-owned", "flag", GetOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), e.Value, "default read may serve the cached entry")

	e, err = mgr.Get(ctx, teamOwner, "svc-owned", "flag", GetOptions{Consistent: true})
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), e.Value, "consistent read must bypass the cache")

	// A write through the manager invalidates the cached entry.
	_, err = mgr.Put(ctx, teamOwner, "svc-owned", "flag", []byte("v3"), PutOptions{})
	require.NoError(t, err)
	e, err = mgr.Get(ctx, teamOwner, "svc-owned", "flag", GetOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("v3"), e.Value)
}
