// Package cache implements the payload hot-cache and existence filter
// used to short-circuit negative lookups before touching the
// memory-mapped vector store. Two LRU variants share one Cache
// interface: a classic single-lock LRU backed by
// github.com/hashicorp/golang-lru/v2 for ordinary workloads, and a
// sampled-eviction variant for high-concurrency workloads where a
// single lock would serialize every read. A Bloom filter backed by
// github.com/bits-and-blooms/bitset sits in front of both.
//
// Lock ordering across this package and its callers is strictly
// Bloom.bits -> Bloom.count -> LRU.inner; callers must never acquire
// in reverse.
package cache

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is the shared surface for the payload hot-cache, regardless of
// which concurrency strategy backs it.
type Cache interface {
	Get(id int64) ([]byte, bool)
	Put(id int64, payload []byte)
	Remove(id int64)
	Len() int
	Hits() int64
	Misses() int64
}

// LockingLRU is a classic single-lock LRU, suited to workloads whose
// concurrency target does not exceed GOMAXPROCS.
type LockingLRU struct {
	mu     sync.Mutex
	inner  *lru.Cache[int64, []byte]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewLockingLRU returns an LRU cache holding at most capacity entries.
func NewLockingLRU(capacity int) (*LockingLRU, error) {
	inner, err := lru.New[int64, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &LockingLRU{inner: inner}, nil
}

func (c *LockingLRU) Get(id int64) ([]byte, bool) {
	c.mu.Lock()
	v, ok := c.inner.Get(id)
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *LockingLRU) Put(id int64, payload []byte) {
	c.mu.Lock()
	c.inner.Add(id, payload)
	c.mu.Unlock()
}

func (c *LockingLRU) Remove(id int64) {
	c.mu.Lock()
	c.inner.Remove(id)
	c.mu.Unlock()
}

func (c *LockingLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

func (c *LockingLRU) Hits() int64   { return c.hits.Load() }
func (c *LockingLRU) Misses() int64 { return c.misses.Load() }

// entry is one slot of the sampled LRU.
type entry struct {
	payload []byte
	accessed int64 // monotonic logical clock, not wall time
}

// SampledLRU approximates LRU eviction over a sharded concurrent map:
// each shard holds its own lock, and eviction picks the stalest of a
// small random sample within the shard rather than maintaining an
// exact recency list. This trades eviction precision for avoiding a
// single global lock under high contention.
type SampledLRU struct {
	shards    []*sampledShard
	shardMask uint64
	capacity  int // per-shard capacity
	hits      atomic.Int64
	misses    atomic.Int64
	clock     atomic.Int64
}

type sampledShard struct {
	mu   sync.Mutex
	data map[int64]*entry
}

const sampledShardCount = 32
const sampleSize = 5

// NewSampledLRU returns a sharded, sample-eviction LRU sized so the
// aggregate capacity across all shards is approximately capacity.
func NewSampledLRU(capacity int) *SampledLRU {
	perShard := capacity / sampledShardCount
	if perShard < 1 {
		perShard = 1
	}
	c := &SampledLRU{
		shards:    make([]*sampledShard, sampledShardCount),
		shardMask: sampledShardCount - 1,
		capacity:  perShard,
	}
	for i := range c.shards {
		c.shards[i] = &sampledShard{data: make(map[int64]*entry)}
	}
	return c
}

func (c *SampledLRU) shardFor(id int64) *sampledShard {
	h := uint64(id) * 0x9E3779B97F4A7C15
	return c.shards[h&c.shardMask]
}

func (c *SampledLRU) Get(id int64) ([]byte, bool) {
	s := c.shardFor(id)
	s.mu.Lock()
	e, ok := s.data[id]
	if ok {
		e.accessed = c.clock.Add(1)
	}
	s.mu.Unlock()
	if ok {
		c.hits.Add(1)
		return e.payload, true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *SampledLRU) Put(id int64, payload []byte) {
	s := c.shardFor(id)
	tick := c.clock.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[id]; ok {
		e.payload = payload
		e.accessed = tick
		return
	}
	if len(s.data) >= c.capacity {
		c.evictSampledLocked(s)
	}
	s.data[id] = &entry{payload: payload, accessed: tick}
}

// evictSampledLocked removes the stalest entry among a small random
// sample of the shard's keys; callers hold s.mu.
func (c *SampledLRU) evictSampledLocked(s *sampledShard) {
	var (
		staleKey   int64
		staleTick  int64 = 1<<63 - 1
		sampled    int
	)
	for k, e := range s.data {
		if e.accessed < staleTick {
			staleTick = e.accessed
			staleKey = k
		}
		sampled++
		if sampled >= sampleSize {
			break
		}
	}
	delete(s.data, staleKey)
}

func (c *SampledLRU) Remove(id int64) {
	s := c.shardFor(id)
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

func (c *SampledLRU) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.data)
		s.mu.Unlock()
	}
	return total
}

func (c *SampledLRU) Hits() int64   { return c.hits.Load() }
func (c *SampledLRU) Misses() int64 { return c.misses.Load() }

// Bloom is an existence filter guarding negative lookups. It never
// produces false negatives: Contains returning false guarantees the id
// was never added. False positives are possible at the configured
// rate and simply fall through to the real store.
type Bloom struct {
	bitsMu sync.RWMutex
	bits   *bitset.BitSet

	countMu sync.Mutex
	count   uint64

	m uint64 // number of bits
	k uint64 // number of hash functions
}

// NewBloom sizes a filter for expectedItems at the given target false
// positive rate using the standard m/k formulas.
func NewBloom(expectedItems uint64, falsePositiveRate float64) *Bloom {
	if expectedItems == 0 {
		expectedItems = 1
	}
	m := optimalBits(expectedItems, falsePositiveRate)
	k := optimalHashes(m, expectedItems)
	return &Bloom{
		bits: bitset.New(uint(m)),
		m:    m,
		k:    k,
	}
}

func optimalBits(n uint64, p float64) uint64 {
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := -float64(n) * math.Log(p) / (ln2 * ln2)
	if m < 64 {
		m = 64
	}
	return uint64(m)
}

func optimalHashes(m, n uint64) uint64 {
	k := float64(m) / float64(n) * ln2
	if k < 1 {
		k = 1
	}
	return uint64(k)
}

const ln2 = 0.6931471805599453

// positions derives k independent hash positions from two 64-bit
// hashes via Kirsch-Mitzenmacher, avoiding k separate hash functions.
func (b *Bloom) positions(id int64) []uint64 {
	h1, h2 := splitHash(uint64(id))
	positions := make([]uint64, b.k)
	for i := uint64(0); i < b.k; i++ {
		positions[i] = (h1 + i*h2) % b.m
	}
	return positions
}

func splitHash(x uint64) (uint64, uint64) {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	h1 := x
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	h2 := x
	return h1, h2
}

// Add marks id as present.
func (b *Bloom) Add(id int64) {
	positions := b.positions(id)
	b.bitsMu.Lock()
	for _, p := range positions {
		b.bits.Set(uint(p))
	}
	b.bitsMu.Unlock()

	b.countMu.Lock()
	b.count++
	b.countMu.Unlock()
}

// Contains reports whether id may have been added. false is a
// definitive negative; true may be a false positive.
func (b *Bloom) Contains(id int64) bool {
	positions := b.positions(id)
	b.bitsMu.RLock()
	defer b.bitsMu.RUnlock()
	for _, p := range positions {
		if !b.bits.Test(uint(p)) {
			return false
		}
	}
	return true
}

// Count returns the number of items added (not the set's cardinality
// of set bits, which may undercount due to hash collisions).
func (b *Bloom) Count() uint64 {
	b.countMu.Lock()
	defer b.countMu.Unlock()
	return b.count
}

// EstimatedFalsePositiveRate reports the filter's current estimated
// false-positive rate given how many bits are set.
func (b *Bloom) EstimatedFalsePositiveRate() float64 {
	b.bitsMu.RLock()
	setBits := b.bits.Count()
	b.bitsMu.RUnlock()
	if b.m == 0 {
		return 0
	}
	ratio := float64(setBits) / float64(b.m)
	return math.Pow(ratio, float64(b.k))
}
