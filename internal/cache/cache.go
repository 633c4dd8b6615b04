package cache

import (
	"bytes"
	"container/list"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrTooLarge is returned for an item bigger than the whole cache.
	ErrTooLarge = errors.New("item larger than cache capacity")
	// ErrNoSpace is returned when one eviction pass did not free enough room.
	ErrNoSpace = errors.New("not enough cache space after eviction")
)

const (
	DefaultShards     = 32
	DefaultEvictBatch = 5
)

type Options struct {
	CapacityBytes int64
	// TimeToIdle and TimeToLive expire entries independently of memory
	// pressure, whichever comes first. Zero disables each.
	TimeToIdle    time.Duration
	TimeToLive    time.Duration
	SweepInterval time.Duration
	EvictBatch    int
	Shards        int
	Now           func() time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Cache keeps transcoded images in memory, bounded by their total size in
// bytes rather than by item count.
//
// Keys are spread over independently locked shards. Insertion order is kept
// in a single list used only for eviction. When both locks are needed the
// shard lock is taken first.
type Cache struct {
	shards   []*shard
	capacity int64
	tti, ttl time.Duration
	batch    int
	now      func() time.Time

	used        atomic.Int64
	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64

	orderMu sync.Mutex
	order   *list.List // *entry, oldest first

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) (*Cache, error) {
	if opts.CapacityBytes <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", opts.CapacityBytes)
	}
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.EvictBatch <= 0 {
		opts.EvictBatch = DefaultEvictBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		shards:   make([]*shard, opts.Shards),
		capacity: opts.CapacityBytes,
		tti:      opts.TimeToIdle,
		ttl:      opts.TimeToLive,
		batch:    opts.EvictBatch,
		now:      opts.Now,
		order:    list.New(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*entry)}
	}

	if opts.SweepInterval > 0 && (c.tti > 0 || c.ttl > 0) {
		go c.sweepLoop(opts.SweepInterval)
	} else {
		close(c.done)
	}

	return c, nil
}

func (c *Cache) Capacity() int64 { return c.capacity }

func (c *Cache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// Lookup returns the cached bytes for key. The returned slice is shared
// with other readers and must not be modified.
func (c *Cache) Lookup(key string) ([]byte, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := c.now()
	if e.expired(now, c.tti, c.ttl) {
		if c.remove(e) {
			c.expirations.Add(1)
		}
		return nil, false
	}

	e.lastAccess.Store(now.UnixNano())
	return e.data, true
}

// Insert stores a copy of data under key. A rejected insert (ErrTooLarge,
// ErrNoSpace) leaves the cache as it was, apart from evicted entries.
// Replacing an existing key adjusts the used bytes by the size difference.
func (c *Cache) Insert(key string, data []byte) error {
	size := int64(len(data))
	if size > c.capacity {
		return ErrTooLarge
	}

	if !c.reserve(size) {
		c.evict(size)
		if !c.reserve(size) {
			return ErrNoSpace
		}
	}

	e := newEntry(key, bytes.Clone(data), c.now())
	s := c.shardFor(key)

	s.mu.Lock()
	old := s.entries[key]
	s.entries[key] = e
	c.orderMu.Lock()
	if old != nil {
		c.unlink(old)
	}
	e.elem = c.order.PushBack(e)
	c.orderMu.Unlock()
	s.mu.Unlock()

	if old != nil {
		c.used.Add(-old.size)
	}
	return nil
}

// reserve claims size bytes of capacity, so concurrent inserts can never
// push used bytes over the limit.
func (c *Cache) reserve(size int64) bool {
	for {
		cur := c.used.Load()
		if cur+size > c.capacity {
			return false
		}
		if c.used.CompareAndSwap(cur, cur+size) {
			return true
		}
	}
}

// evict removes the oldest entries by insertion, at most one batch, and
// stops as soon as need bytes would fit.
func (c *Cache) evict(need int64) int {
	victims := make([]*entry, 0, c.batch)
	var freed int64

	c.orderMu.Lock()
	for el := c.order.Front(); el != nil && len(victims) < c.batch; el = el.Next() {
		if c.capacity-c.used.Load()+freed >= need {
			break
		}
		e := el.Value.(*entry)
		victims = append(victims, e)
		freed += e.size
	}
	c.orderMu.Unlock()

	n := 0
	for _, e := range victims {
		if c.remove(e) {
			c.evictions.Add(1)
			n++
		}
	}
	return n
}

// remove deletes e if it is still the current entry for its key.
func (c *Cache) remove(e *entry) bool {
	s := c.shardFor(e.key)

	s.mu.Lock()
	if s.entries[e.key] != e {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, e.key)
	c.orderMu.Lock()
	c.unlink(e)
	c.orderMu.Unlock()
	s.mu.Unlock()

	c.used.Add(-e.size)
	return true
}

// unlink must be called with orderMu held.
func (c *Cache) unlink(e *entry) {
	if e.elem != nil {
		c.order.Remove(e.elem)
		e.elem = nil
	}
}

// Sweep drops every expired entry and reports how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()

	var expired []*entry
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if e.expired(now, c.tti, c.ttl) {
				expired = append(expired, e)
			}
		}
		s.mu.RUnlock()
	}

	n := 0
	for _, e := range expired {
		if c.remove(e) {
			c.expirations.Add(1)
			n++
		}
	}
	return n
}

func (c *Cache) sweepLoop(every time.Duration) {
	defer close(c.done)

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.Sweep()
		}
	}
}

// Close stops the background sweeper. Entries stay readable.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
}
