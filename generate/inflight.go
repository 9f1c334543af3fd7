package generate

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Inflight tracks cells with a completion in progress. Entries expire after
// the TTL so a missed Release cannot lock a cell forever.
type Inflight struct {
	cache *ttlcache.Cache[string, time.Time]
	stop  sync.Once
}

// NewInflight creates a tracker whose entries expire after ttl.
func NewInflight(ttl time.Duration) *Inflight {
	c := ttlcache.New[string, time.Time](
		ttlcache.WithTTL[string, time.Time](ttl),
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	go c.Start()
	return &Inflight{cache: c}
}

// Acquire marks key as busy. It returns false if key is already busy.
func (f *Inflight) Acquire(key string) bool {
	_, found := f.cache.GetOrSet(key, time.Now())
	return !found
}

// Release clears key.
func (f *Inflight) Release(key string) {
	f.cache.Delete(key)
}

// Since returns when key was acquired, or false if it is not busy.
func (f *Inflight) Since(key string) (time.Time, bool) {
	item := f.cache.Get(key)
	if item == nil {
		return time.Time{}, false
	}
	return item.Value(), true
}

// Close stops the expiration loop. Later calls are no-ops.
func (f *Inflight) Close() {
	f.stop.Do(f.cache.Stop)
}
