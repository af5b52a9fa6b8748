package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/optchain/pkg/config"
)

// ErrExhausted is returned by Acquire in non-blocking mode when the bucket is empty
var ErrExhausted = errors.New("rate limit exhausted")

// Class names the request classes sharing one bucket each
type Class string

const (
	ClassDiscovery  Class = "discovery"
	ClassSnapshot   Class = "snapshot"
	ClassHistorical Class = "historical"
)

// Clock returns the current time (injected in tests)
type Clock func() time.Time

// Bucket is a token bucket backed by rate.Limiter
// capacity = burst, refill = per_minute / 60 tokens per second
type Bucket struct {
	limiter  *rate.Limiter
	clock    Clock
	perMin   float64
	capacity int
}

// NewBucket creates a bucket. perMinute 0 means unlimited
func NewBucket(perMinute float64, burst int, clock Clock) *Bucket {
	if clock == nil {
		clock = time.Now
	}
	// burst 0 은 토큰을 하나도 받을 수 없으므로 1 로 취급
	if burst < 1 {
		burst = 1
	}

	limit := rate.Limit(perMinute / 60)
	if perMinute <= 0 {
		limit = rate.Inf
	}

	return &Bucket{
		limiter:  rate.NewLimiter(limit, burst),
		clock:    clock,
		perMin:   perMinute,
		capacity: burst,
	}
}

// TryAcquire takes one token without blocking
func (b *Bucket) TryAcquire() bool {
	return b.limiter.AllowN(b.clock(), 1)
}

// Acquire takes a token, returning ErrExhausted instead of waiting when nonBlocking is set
func (b *Bucket) Acquire(ctx context.Context, nonBlocking bool) error {
	if nonBlocking {
		if !b.TryAcquire() {
			return ErrExhausted
		}
		return nil
	}
	return b.Wait(ctx)
}

// Wait blocks until a token is available or ctx is done
func (b *Bucket) Wait(ctx context.Context) error {
	now := b.clock()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("reserve token: %w", ErrExhausted)
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		// 예약한 토큰 반환
		r.CancelAt(b.clock())
		return ctx.Err()
	}
}

// Tokens returns the tokens currently available
func (b *Bucket) Tokens() float64 {
	return b.limiter.TokensAt(b.clock())
}

// Capacity returns the burst size
func (b *Bucket) Capacity() int {
	return b.capacity
}

// PerMinute returns the refill rate (0 = unlimited)
func (b *Bucket) PerMinute() float64 {
	return b.perMin
}

// Limiter holds one bucket per class
// ⭐ SSOT: 게이트웨이 요청 속도 제한은 여기서만
type Limiter struct {
	mu      sync.RWMutex
	buckets map[Class]*Bucket
	clock   Clock
}

// New creates a classed limiter from config
func New(cfg config.RateLimitsConfig, clock Clock) *Limiter {
	l := &Limiter{
		buckets: make(map[Class]*Bucket),
		clock:   clock,
	}
	l.Set(ClassDiscovery, cfg.Discovery)
	l.Set(ClassSnapshot, cfg.Snapshot)
	l.Set(ClassHistorical, cfg.Historical)
	return l
}

// Set (re)configures one class
func (l *Limiter) Set(class Class, rl config.RateLimitClass) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[class] = NewBucket(rl.PerMinute, rl.Burst, l.clock)
}

// Bucket returns the bucket for a class; unknown classes are unlimited
func (l *Limiter) Bucket(class Class) *Bucket {
	l.mu.RLock()
	b, ok := l.buckets[class]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[class]; ok {
		return b
	}
	b = NewBucket(0, 1, l.clock)
	l.buckets[class] = b
	return b
}

// TryAcquire takes a token from the class bucket without blocking
func (l *Limiter) TryAcquire(class Class) bool {
	return l.Bucket(class).TryAcquire()
}

// Wait blocks until the class bucket yields a token
func (l *Limiter) Wait(ctx context.Context, class Class) error {
	if err := l.Bucket(class).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", class, err)
	}
	return nil
}
