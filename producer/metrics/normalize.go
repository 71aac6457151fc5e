package metrics

import (
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Counter cache
// ─────────────────────────────────────────────────────────────────────────────

// Direction is the traffic direction of an interface counter.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// CounterKey identifies one interface counter of one target.
type CounterKey struct {
	Target    string
	Interface string
	Direction Direction
}

// Sample is one raw counter observation. Width is 32 or 64 and decides where
// the counter wraps.
type Sample struct {
	Raw   uint64
	Width int
	At    time.Time
}

type counterEntry struct {
	raw   uint64
	width int
	at    time.Time
}

// RateResult is returned by Observe. Rate, Delta and Elapsed are meaningful
// only when Valid is true; Valid false means the rate is not computable yet.
type RateResult struct {
	Rate    float64 // bits per second
	Delta   uint64  // octets since the previous sample
	Elapsed time.Duration
	Valid   bool
}

// CacheOptions configures a CounterCache.
type CacheOptions struct {
	// MinInterval is the shortest spacing between two samples that yields a
	// rate (default 1s).
	MinInterval time.Duration

	// MaxInterval, when positive, is the longest spacing that still yields a
	// rate. A longer gap starts a fresh baseline.
	MaxInterval time.Duration
}

func (o *CacheOptions) defaults() {
	if o.MinInterval <= 0 {
		o.MinInterval = time.Second
	}
}

// CounterCache holds the last raw observation of every interface counter and
// turns consecutive observations into bit rates. It is safe for concurrent
// use; callers own it and pass it to whatever needs it.
//
// A counter that is reset to a value below its previous reading cannot be
// told apart from one that wrapped. Both are treated as a single wrap at the
// sample's width, so a reset produces one implausibly large rate. This is
// inherent to 32-bit counters.
type CounterCache struct {
	opts CacheOptions

	mu      sync.Mutex
	entries map[CounterKey]counterEntry
}

// NewCounterCache creates an empty cache.
func NewCounterCache(opts CacheOptions) *CounterCache {
	opts.defaults()
	return &CounterCache{
		opts:    opts,
		entries: make(map[CounterKey]counterEntry),
	}
}

// Observe records s for key and returns the rate against the previous sample.
//
// The stored entry is always replaced by s, including when no rate can be
// computed, so the next sufficiently spaced sample is measured against the
// latest reading.
func (c *CounterCache) Observe(key CounterKey, s Sample) RateResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, exists := c.entries[key]
	c.entries[key] = counterEntry{raw: s.Raw, width: s.Width, at: s.At}

	if !exists || prev.width != s.Width {
		return RateResult{}
	}

	elapsed := s.At.Sub(prev.at)
	if elapsed < c.opts.MinInterval {
		return RateResult{}
	}
	if c.opts.MaxInterval > 0 && elapsed > c.opts.MaxInterval {
		return RateResult{}
	}

	delta := CounterDelta(prev.raw, s.Raw, s.Width)
	return RateResult{
		Rate:    BitsPerSecond(delta, elapsed),
		Delta:   delta,
		Elapsed: elapsed,
		Valid:   true,
	}
}

// Len returns the number of cached counters.
func (c *CounterCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Remove deletes the entry for key.
func (c *CounterCache) Remove(key CounterKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// RetainTargets drops every entry whose target is not in keep and returns the
// number removed. It is called after a configuration reload.
func (c *CounterCache) RetainTargets(keep map[string]bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if !keep[k.Target] {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Purge removes all entries whose last observation is older than maxAge.
func (c *CounterCache) Purge(maxAge time.Duration, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-maxAge)
	removed := 0
	for k, e := range c.entries {
		if e.at.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
