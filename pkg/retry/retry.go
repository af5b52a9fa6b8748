package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/optchain/pkg/logger"
)

// Policy describes an exponential backoff retry
// 지연: initial, initial*factor, ... (max_delay 상한), 최대 max_attempts 회 시도
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration

	// Retriable decides whether an error is worth another attempt.
	// nil means nothing is retried.
	Retriable func(error) bool

	// Sleep waits between attempts (injected in tests)
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delays returns the backoff schedule between attempts
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	delay := p.InitialDelay
	for i := 0; i < p.MaxAttempts-1; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		delays = append(delays, delay)
		delay = time.Duration(float64(delay) * factor)
	}
	return delays
}

// Do runs fn until it succeeds, returns a non-retriable error, or attempts run out
func Do(ctx context.Context, p Policy, log *logger.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	delays := p.Delays()

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		// Non-retriable - fail immediately
		if p.Retriable == nil || !p.Retriable(err) {
			return err
		}

		// Last attempt
		if attempt == attempts-1 {
			break
		}

		delay := delays[attempt]
		if log != nil {
			log.WithFields(map[string]interface{}{
				"op":      op,
				"attempt": attempt + 1,
				"delay":   delay.String(),
				"error":   err.Error(),
			}).Warn("Retrying")
		}

		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s: %w (last error: %v)", op, serr, err)
		}
	}

	return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, err)
}

// SleepContext sleeps for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
