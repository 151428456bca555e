package ingest

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupCache remembers recently accepted event keys so obvious replays can
// skip straight to the duplicate path without opening a write transaction.
// The database window query stays authoritative; this is only a fast path.
type dedupCache struct {
	cache  *lru.Cache[string, time.Time]
	window time.Duration
}

func newDedupCache(size int, window time.Duration) (*dedupCache, error) {
	c, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &dedupCache{cache: c, window: window}, nil
}

// seen reports whether key was recorded with a timestamp within the window
// of ts (either side).
func (d *dedupCache) seen(key string, ts time.Time) bool {
	prev, ok := d.cache.Get(key)
	if !ok {
		return false
	}
	delta := ts.Sub(prev)
	if delta < 0 {
		delta = -delta
	}
	return delta <= d.window
}

func (d *dedupCache) record(key string, ts time.Time) {
	d.cache.Add(key, ts)
}
