package navigator

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/ratelimit"
)

// Pacer spaces out navigations. Every user has one token bucket shared by
// all of that user's jobs; each navigation also waits a random delay so
// page turns do not arrive on a fixed beat.
type Pacer struct {
	buckets  *ratelimit.Keyed
	minDelay time.Duration
	maxDelay time.Duration

	// sleep and jitter are replaced in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
}

// NewPacer builds a Pacer from the navigator configuration. A
// non-positive NavigationsPerMinute disables the token bucket.
func NewPacer(cfg config.NavigatorConfig) *Pacer {
	limit := rate.Inf
	if cfg.NavigationsPerMinute > 0 {
		limit = rate.Limit(cfg.NavigationsPerMinute / 60)
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < cfg.MinDelay {
		maxDelay = cfg.MinDelay
	}
	return &Pacer{
		buckets:  ratelimit.NewKeyed(limit, cfg.NavigationBurst),
		minDelay: cfg.MinDelay,
		maxDelay: maxDelay,
		sleep:    sleepCtx,
		jitter:   rand.Int64N,
	}
}

// Wait blocks until userID may navigate again, or ctx is done.
func (p *Pacer) Wait(ctx context.Context, userID string) error {
	if err := p.limiter(userID).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return p.sleep(ctx, p.delay())
}

// Backoff sleeps before retry number attempt (1-based): base·2^(attempt-1)
// capped at max, plus up to half of that again as jitter.
func (p *Pacer) Backoff(ctx context.Context, attempt int, base, max time.Duration) error {
	return p.sleep(ctx, p.backoff(attempt, base, max))
}

func (p *Pacer) backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if max > 0 && d > max {
		d = max
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(p.jitter(half))
	}
	return d
}

func (p *Pacer) delay() time.Duration {
	span := int64(p.maxDelay - p.minDelay)
	if span <= 0 {
		return p.minDelay
	}
	return p.minDelay + time.Duration(p.jitter(span+1))
}

func (p *Pacer) limiter(userID string) *rate.Limiter {
	return p.buckets.Get(userID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
