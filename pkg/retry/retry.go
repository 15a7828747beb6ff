// Package retry applies bounded exponential backoff around remote calls.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xhad/lumina/internal/errs"
)

// Policy describes how a call is retried. MaxAttempts counts the first call, so a
// policy with MaxAttempts 3 calls fn at most three times.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// Retryable decides whether an error is worth another attempt. Defaults to errs.IsTransient.
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep waits for d or until ctx is done. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy mirrors the service defaults: 3 attempts, 2s base, 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
	}
}

// schedule builds the jitter-free exponential backoff behind the policy.
func (p Policy) schedule() *backoff.ExponentialBackOff {
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = maxDelay
	b.Multiplier = mult
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the backoff before attempt n+1, where n is the 1-based attempt that just failed.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	b := p.schedule()
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or runs out of attempts.
// The error from the last attempt is returned wrapped, so errors.Is still sees its kind.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = errs.IsTransient
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		calls     int
		last      error
		permanent bool
	)
	op := func() error {
		calls++
		err := fn(ctx)
		if err != nil && !retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		last = err
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, d time.Duration) { p.OnRetry(calls, d, err) }
	}

	var timer backoff.Timer
	if p.Sleep != nil {
		timer = &sleepTimer{ctx: rctx, sleep: p.Sleep, cancel: cancel, c: make(chan time.Time, 1)}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.schedule(), uint64(attempts-1)), rctx)
	err := backoff.RetryNotifyWithTimer(op, b, notify, timer)
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case calls >= attempts:
		return fmt.Errorf("gave up after %d attempts: %w", attempts, last)
	default:
		return fmt.Errorf("retry interrupted after %d attempts: %w", calls, last)
	}
}

// sleepTimer drives backoff's timer through Policy.Sleep. A failed sleep cancels
// the retry context so the backoff loop stops instead of waiting on the channel.
type sleepTimer struct {
	ctx    context.Context
	sleep  func(context.Context, time.Duration) error
	cancel context.CancelFunc
	c      chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	if err := t.sleep(t.ctx, d); err != nil {
		t.cancel()
		return
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.c }
