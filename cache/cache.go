// Package cache implements a sharded, reference-counted LRU cache for
// decompressed sstable blocks. Grounded on LevelDB's util/cache.cc
// (_examples/original_source/util/cache.cc): capacity is split across a
// fixed number of independently-mutexed shards, each tracking its
// entries on two lists — lru (refs==1, eligible for eviction) and
// inUse (refs>=2, pinned by a live Handle) — so a concurrent reader
// holding a Handle can never have its entry evicted out from under it.
package cache

import (
	"container/list"
	"expvar"
	"hash/fnv"
	"sync"
)

// numShards matches LevelDB's kNumShardBits=4 (16 shards), spreading
// lock contention across concurrent block reads.
const numShards = 16

// entry is one cached item. list records which of its shard's two
// lists currently holds it, so unref/finishErase know where to remove
// it from without a linear scan.
type entry struct {
	key     string
	value   interface{}
	charge  int
	refs    int
	inCache bool
	deleter func(key string, value interface{})

	elem *list.Element
	list *list.List
}

// Handle is a reference to an entry returned by Insert or Lookup. The
// holder must call Release exactly once when done with it.
type Handle struct {
	shard *shard
	e     *entry
}

// Value returns the handle's cached value.
func (h *Handle) Value() interface{} {
	if h == nil {
		return nil
	}
	return h.e.value
}

type shard struct {
	mu       sync.Mutex
	capacity int
	usage    int
	items    map[string]*entry
	lru      *list.List
	inUse    *list.List
}

func newShard(capacity int) *shard {
	return &shard{
		capacity: capacity,
		items:    make(map[string]*entry),
		lru:      list.New(),
		inUse:    list.New(),
	}
}

// ref moves e onto inUse and bumps its refcount. Must hold s.mu.
func (s *shard) ref(e *entry) {
	if e.refs == 1 && e.inCache {
		e.list.Remove(e.elem)
		e.list = s.inUse
		e.elem = s.inUse.PushFront(e)
	}
	e.refs++
}

// unref drops e's refcount, moving it to lru when the last in_cache
// reference is released, or freeing it entirely once refs hits zero.
// Must hold s.mu.
func (s *shard) unref(e *entry) {
	e.refs--
	if e.refs == 0 {
		if e.deleter != nil {
			e.deleter(e.key, e.value)
		}
		return
	}
	if e.inCache && e.refs == 1 {
		e.list.Remove(e.elem)
		e.list = s.lru
		e.elem = s.lru.PushFront(e)
	}
}

// finishErase removes e from the cache proper (its map slot and
// in_cache bookkeeping) but leaves any outstanding Handles valid until
// they Release. Must hold s.mu.
func (s *shard) finishErase(e *entry) {
	if e.inCache {
		e.list.Remove(e.elem)
		e.elem = nil
		e.list = nil
		e.inCache = false
		s.usage -= e.charge
		delete(s.items, e.key)
		s.unref(e)
	}
}

func (s *shard) insert(key string, value interface{}, charge int, deleter func(string, interface{})) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{key: key, value: value, charge: charge, refs: 2, inCache: true, deleter: deleter}
	if old, ok := s.items[key]; ok {
		s.finishErase(old)
	}
	e.list = s.inUse
	e.elem = s.inUse.PushFront(e)
	s.items[key] = e
	s.usage += charge

	for s.usage > s.capacity && s.lru.Len() > 0 {
		oldest := s.lru.Back().Value.(*entry)
		s.finishErase(oldest)
	}
	return &Handle{shard: s, e: e}
}

func (s *shard) lookup(key string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return nil
	}
	s.ref(e)
	return &Handle{shard: s, e: e}
}

func (s *shard) release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unref(h.e)
}

func (s *shard) erase(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[key]; ok {
		s.finishErase(e)
	}
}

func (s *shard) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		s.finishErase(e)
	}
}

func (s *shard) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// ShardedCache is a concurrent, reference-counted LRU block cache.
type ShardedCache struct {
	shards [numShards]*shard

	hits   *expvar.Int
	misses *expvar.Int
}

// NewShardedCache creates a cache with capacity split evenly across
// numShards shards, each independently evicted.
func NewShardedCache(capacity int) *ShardedCache {
	c := &ShardedCache{}
	perShard := capacity / numShards
	if perShard < 1 {
		perShard = 1
	}
	for i := range c.shards {
		c.shards[i] = newShard(perShard)
	}
	return c
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % numShards
}

func (c *ShardedCache) shardFor(key string) *shard {
	return c.shards[shardIndex(key)]
}

// Insert adds value under key, pinned by the returned Handle (caller
// must Release it), evicting lru entries in that key's shard as
// needed to stay within capacity. deleter, if non-nil, runs once the
// entry's last reference (cache's own plus any outstanding Handles)
// is released.
func (c *ShardedCache) Insert(key string, value interface{}, charge int, deleter func(key string, value interface{})) *Handle {
	return c.shardFor(key).insert(key, value, charge, deleter)
}

// Lookup returns a pinned Handle for key, or nil if absent. The
// caller must Release the handle when done.
func (c *ShardedCache) Lookup(key string) *Handle {
	h := c.shardFor(key).lookup(key)
	if h == nil {
		if c.misses != nil {
			c.misses.Add(1)
		}
		return nil
	}
	if c.hits != nil {
		c.hits.Add(1)
	}
	return h
}

// Release drops a reference obtained from Insert or Lookup.
func (c *ShardedCache) Release(h *Handle) {
	if h == nil {
		return
	}
	h.shard.release(h)
}

// Erase removes key from the cache; any outstanding Handles remain
// valid until released.
func (c *ShardedCache) Erase(key string) {
	c.shardFor(key).erase(key)
}

// TotalCharge returns the sum of all entries' charge across shards.
func (c *ShardedCache) TotalCharge() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.usage
		s.mu.Unlock()
	}
	return total
}

// Put adapts Insert to the simple Interface contract: the new entry
// is released immediately after insertion, landing on its shard's lru
// list right away so it is eligible for eviction like any other
// unreferenced item.
func (c *ShardedCache) Put(key string, value interface{}) {
	h := c.Insert(key, value, 1, nil)
	c.Release(h)
}

// Get adapts Lookup to the simple Interface contract: the value is
// extracted and the reference released before returning, since this
// interface has no caller-side handle lifecycle.
func (c *ShardedCache) Get(key string) (value interface{}, ok bool) {
	h := c.Lookup(key)
	if h == nil {
		return nil, false
	}
	v := h.Value()
	c.Release(h)
	return v, true
}

// Clear removes every entry from every shard.
func (c *ShardedCache) Clear() {
	for _, s := range c.shards {
		s.clear()
	}
	if c.hits != nil {
		c.hits.Set(0)
	}
	if c.misses != nil {
		c.misses.Set(0)
	}
}

// SetMetrics wires hit/miss counters, as Interface requires.
func (c *ShardedCache) SetMetrics(hits, misses *expvar.Int) {
	c.hits = hits
	c.misses = misses
}

// GetHitRate returns hits / (hits+misses), or 0 if no metrics wired
// or no lookups yet.
func (c *ShardedCache) GetHitRate() float64 {
	var hits, misses float64
	if c.hits != nil {
		hits = float64(c.hits.Value())
	}
	if c.misses != nil {
		misses = float64(c.misses.Value())
	}
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}

// Len returns the total number of entries across all shards.
func (c *ShardedCache) Len() int {
	n := 0
	for _, s := range c.shards {
		n += s.len()
	}
	return n
}
