package cache

import (
	"expvar"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardedCachePutGetRoundTrip(t *testing.T) {
	c := NewShardedCache(160)
	c.Put("a", "va")
	c.Put("b", "vb")

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "va", v)

	v, ok = c.Get("b")
	require.True(t, ok)
	require.Equal(t, "vb", v)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestShardedCacheEvictsLeastRecentlyUsed(t *testing.T) {
	// One shard's worth of capacity: force every key into the same
	// shard-relative pressure by using a tiny total capacity.
	c := NewShardedCache(numShards) // capacity 1 per shard after division
	for i := 0; i < 200; i++ {
		c.Put(string(rune('a'+(i%26))), i)
	}
	// Each shard holds at most one entry, and the most recently put key
	// survives.
	require.LessOrEqual(t, c.Len(), numShards)
	_, ok := c.Get(string(rune('a' + (199 % 26))))
	require.True(t, ok)
}

func TestShardedCacheInsertPinsUntilRelease(t *testing.T) {
	c := NewShardedCache(160)
	h := c.Insert("k", "v", 1, nil)
	c.Erase("k")

	// Erased but still pinned: the handle's value must remain valid
	// until Release, per finishErase's deferred-unref semantics.
	require.Equal(t, "v", h.Value())

	_, ok := c.Get("k")
	require.False(t, ok, "erased key should no longer be visible to new lookups")

	c.Release(h)
}

func TestShardedCacheDeleterRunsOnLastRelease(t *testing.T) {
	c := NewShardedCache(160)
	deleted := make(chan struct{}, 1)
	h := c.Insert("k", "v", 1, func(key string, value interface{}) {
		deleted <- struct{}{}
	})
	h2 := c.Lookup("k")
	c.Erase("k")

	select {
	case <-deleted:
		t.Fatal("deleter ran while a handle was still outstanding")
	default:
	}

	c.Release(h)
	select {
	case <-deleted:
		t.Fatal("deleter ran before the last handle released")
	default:
	}

	c.Release(h2)
	select {
	case <-deleted:
	default:
		t.Fatal("deleter did not run after the last handle released")
	}
}

func TestShardedCacheClearResetsMetrics(t *testing.T) {
	c := NewShardedCache(160)
	var hits, misses expvar.Int
	c.SetMetrics(&hits, &misses)

	c.Put("a", "va")
	c.Get("a")
	c.Get("missing")
	require.Equal(t, 0.5, c.GetHitRate())

	c.Clear()
	require.Equal(t, 0, c.Len())
	require.Equal(t, 0.0, c.GetHitRate())
}

func TestShardedCacheTotalCharge(t *testing.T) {
	c := NewShardedCache(1 << 20)
	c.Insert("a", "va", 10, nil)
	c.Insert("b", "vb", 20, nil)
	require.Equal(t, 30, c.TotalCharge())
}
