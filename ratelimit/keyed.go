// Package ratelimit keeps one token bucket per caller.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed hands out a token bucket per key, created on first use with the
// same limit and burst for every key.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int

	now func() time.Time
}

// NewKeyed returns an empty Keyed. A burst below 1 is raised to 1.
func NewKeyed(limit rate.Limit, burst int) *Keyed {
	if burst < 1 {
		burst = 1
	}
	return &Keyed{
		entries: make(map[string]*entry),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// Get returns the bucket for key and marks it as used.
func (k *Keyed) Get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = k.now()
	return e.limiter
}

// Sweep drops buckets unused for longer than idle and reports how many
// were dropped.
func (k *Keyed) Sweep(idle time.Duration) int {
	cutoff := k.now().Add(-idle)
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for key, e := range k.entries {
		if e.lastSeen.Before(cutoff) {
			delete(k.entries, key)
			n++
		}
	}
	return n
}

// Len reports the number of live buckets.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Evict calls Sweep(idle) every interval until ctx is done.
func (k *Keyed) Evict(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.Sweep(idle)
		case <-ctx.Done():
			return
		}
	}
}
