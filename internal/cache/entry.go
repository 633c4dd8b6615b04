package cache

import (
	"container/list"
	"sync/atomic"
	"time"
)

// entry is immutable after insert apart from lastAccess and elem.
type entry struct {
	key        string
	data       []byte
	size       int64
	insertedAt time.Time
	lastAccess atomic.Int64 // unix nanos

	elem *list.Element // position in Cache.order, guarded by Cache.orderMu
}

func newEntry(key string, data []byte, now time.Time) *entry {
	e := &entry{
		key:        key,
		data:       data,
		size:       int64(len(data)),
		insertedAt: now,
	}
	e.lastAccess.Store(now.UnixNano())
	return e
}

func (e *entry) expired(now time.Time, tti, ttl time.Duration) bool {
	if ttl > 0 && now.Sub(e.insertedAt) >= ttl {
		return true
	}
	if tti > 0 && now.UnixNano()-e.lastAccess.Load() >= int64(tti) {
		return true
	}
	return false
}
