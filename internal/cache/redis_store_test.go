package cache

import (
	"context"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/ridelink/backend/internal/models"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test:cache"), mr
}

// storeContract runs the same behavior checks against any Store.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	entry, err := store.Get(ctx, "g1", "GET /a")
	require.NoError(t, err)
	assert.Nil(t, entry)

	header := http.Header{"Content-Type": []string{"application/json"}}
	require.NoError(t, store.Put(ctx, &models.CacheEntry{Group: "g1", Key: "GET /b", Status: 200, Header: header, Body: []byte(`{"b":1}`), StoredAt: 200}))
	require.NoError(t, store.Put(ctx, &models.CacheEntry{Group: "g1", Key: "GET /a", Status: 203, Body: []byte("a"), StoredAt: 100}))
	require.NoError(t, store.Put(ctx, &models.CacheEntry{Group: "g2", Key: "GET /c", Status: 200, StoredAt: 300}))

	entry, err = store.Get(ctx, "g1", "GET /b")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 200, entry.Status)
	assert.Equal(t, "application/json", entry.Header.Get("Content-Type"))
	assert.Equal(t, `{"b":1}`, string(entry.Body))

	entries, err := store.Entries(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []EntryInfo{{Key: "GET /a", StoredAt: 100}, {Key: "GET /b", StoredAt: 200}}, entries)

	groups, err := store.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, groups)

	require.NoError(t, store.Delete(ctx, "g2", "GET /c"))
	require.NoError(t, store.Delete(ctx, "g2", "GET /missing"))
	groups, err = store.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, groups)

	require.NoError(t, store.DeleteGroup(ctx, "g1"))
	entry, err = store.Get(ctx, "g1", "GET /a")
	require.NoError(t, err)
	assert.Nil(t, entry)
	groups, err = store.Groups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newRedisStore(t)
	storeContract(t, store)
}

func TestRedisStore_KeyLayout(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &models.CacheEntry{Group: "ridelink-api-v1", Key: "GET /api/trips", Status: 200, StoredAt: 42}))

	assert.True(t, mr.Exists("test:cache:groups"))
	assert.True(t, mr.Exists("test:cache:group:ridelink-api-v1"))
	score, err := mr.ZScore("test:cache:group:ridelink-api-v1:times", "GET /api/trips")
	require.NoError(t, err)
	assert.Equal(t, float64(42), score)
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), "g", "k")
	assert.Error(t, err)
}

// TestManager_WithRedisStore verifies a manager backed by Redis serves hits.
func TestManager_WithRedisStore(t *testing.T) {
	u := newUpstream(t)
	store, _ := newRedisStore(t)
	m := NewManager(nil, store, Config{}, nil)
	require.NoError(t, m.Activate(context.Background()))
	defer m.Close()
	client := &http.Client{Transport: m}

	get(t, client, u.URL+"/img/pin.png")
	m.Wait()
	resp, body := get(t, client, u.URL+"/img/pin.png")

	assert.Equal(t, "v1", body)
	assert.Equal(t, CacheHit, resp.Header.Get(HeaderCache))
	assert.Equal(t, 1, u.count("/img/pin.png"))
}

// TestManager_StoreFailureFallsThrough verifies a broken store never fails a request.
func TestManager_StoreFailureFallsThrough(t *testing.T) {
	u := newUpstream(t)
	store, mr := newRedisStore(t)
	m := NewManager(nil, store, Config{}, nil)
	require.NoError(t, m.Activate(context.Background()))
	defer m.Close()
	mr.Close()

	resp, body := get(t, &http.Client{Transport: m}, u.URL+"/img/pin.png")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1", body)
}
