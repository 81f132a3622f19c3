package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/longphanquangminh/midnight-explorer/log"
)

func openTestStore(t *testing.T) KVStore {
	store, err := OpenKVStore(log.NewDefaultLogger("kvstore-test"), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)

	key := GenerateCacheKey("chain_getBlockHash", 12345)
	has, err := store.Has(key)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, store.Put(key, []byte(`"0xabc"`)))
	has, err = store.Has(key)
	require.NoError(t, err)
	require.True(t, has)

	raw, err := store.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte(`"0xabc"`), raw)
}

func TestGetFromCacheOrCall(t *testing.T) {
	store := openTestStore(t)
	key := GenerateCacheKey("chain_getBlock", "0xdeadbeef")

	calls := 0
	fetch := func() (*string, error) {
		calls++
		v := "body"
		return &v, nil
	}

	got, err := GetFromCacheOrCall(store, false, key, fetch)
	require.NoError(t, err)
	require.Equal(t, "body", *got)
	require.Equal(t, 1, calls)

	// The second read is served from the cache.
	got, err = GetFromCacheOrCall(store, false, key, fetch)
	require.NoError(t, err)
	require.Equal(t, "body", *got)
	require.Equal(t, 1, calls)

	// Volatile reads always hit the backing function and are never cached.
	volatileKey := GenerateCacheKey("chain_getFinalizedHead")
	for i := 0; i < 2; i++ {
		_, err = GetFromCacheOrCall(store, true, volatileKey, fetch)
		require.NoError(t, err)
	}
	require.Equal(t, 3, calls)

	has, err := store.Has(volatileKey)
	require.NoError(t, err)
	require.False(t, has)
}

func TestGetFromCacheOrCallWithoutStore(t *testing.T) {
	calls := 0
	fetch := func() (*int, error) {
		calls++
		v := 42
		return &v, nil
	}
	for i := 0; i < 2; i++ {
		got, err := GetFromCacheOrCall(nil, false, GenerateCacheKey("chain_getHeader", "0xaa"), fetch)
		require.NoError(t, err)
		require.Equal(t, 42, *got)
	}
	require.Equal(t, 2, calls)
}

func TestGetSliceFromCacheOrCall(t *testing.T) {
	store := openTestStore(t)
	key := GenerateCacheKey("chain_getEvents", "0xfeed")

	calls := 0
	fetch := func() ([]int64, error) {
		calls++
		return []int64{3, 1, 2}, nil
	}

	got, err := GetSliceFromCacheOrCall(store, false, key, fetch)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 1, 2}, got)

	got, err = GetSliceFromCacheOrCall(store, false, key, fetch)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 1, 2}, got)
	require.Equal(t, 1, calls)
}

func TestGenerateCacheKey(t *testing.T) {
	a := GenerateCacheKey("chain_getBlock", "0xaa")
	b := GenerateCacheKey("chain_getBlock", "0xaa")
	c := GenerateCacheKey("chain_getBlock", "0xbb")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.NotEqual(t, GenerateCacheKey("chain_getHeader", "0xaa"), a)
}
