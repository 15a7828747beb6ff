package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/lumina/internal/errs"
)

func noSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(30))

	uncapped := Policy{BaseDelay: 100 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 800*time.Millisecond, uncapped.Delay(4))
}

func TestPolicyDo(t *testing.T) {
	ctx := context.Background()

	t.Run("transient on every attempt stops at the ceiling", func(t *testing.T) {
		var slept []time.Duration
		p := DefaultPolicy()
		p.Sleep = noSleep(&slept)

		calls := 0
		err := p.Do(ctx, func(context.Context) error {
			calls++
			return errs.Transient("embed", errors.New("status code: 429"))
		})

		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, errs.IsTransient(err))
		assert.Contains(t, err.Error(), "gave up after 3 attempts")
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, slept)
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		var slept []time.Duration
		p := DefaultPolicy()
		p.Sleep = noSleep(&slept)

		calls := 0
		perm := errs.Permanent("embed", errors.New("status code: 401"))
		err := p.Do(ctx, func(context.Context) error {
			calls++
			return perm
		})

		assert.Equal(t, 1, calls)
		assert.Same(t, perm, err)
		assert.Empty(t, slept)
	})

	t.Run("recovers after a transient failure", func(t *testing.T) {
		var slept []time.Duration
		p := DefaultPolicy()
		p.Sleep = noSleep(&slept)

		var retried []int
		p.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }

		calls := 0
		err := p.Do(ctx, func(context.Context) error {
			calls++
			if calls == 1 {
				return errs.Transient("generate", context.DeadlineExceeded)
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, []int{1}, retried)
	})

	t.Run("cancelled context interrupts backoff", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		p := DefaultPolicy()
		calls := 0
		err := p.Do(cctx, func(context.Context) error {
			calls++
			return errs.Transient("embed", errors.New("503"))
		})

		assert.Equal(t, 1, calls)
		assert.Contains(t, err.Error(), "retry interrupted")
		assert.True(t, errs.IsTransient(err))
	})

	t.Run("failed sleep stops the loop", func(t *testing.T) {
		p := DefaultPolicy()
		p.Sleep = func(context.Context, time.Duration) error { return errors.New("clock stopped") }

		calls := 0
		err := p.Do(ctx, func(context.Context) error {
			calls++
			return errs.Transient("upsert", errors.New("deadlock detected"))
		})

		assert.Equal(t, 1, calls)
		assert.Contains(t, err.Error(), "retry interrupted after 1 attempts")
		assert.True(t, errs.IsTransient(err))
	})

	t.Run("custom retryable and delays reach OnRetry", func(t *testing.T) {
		var slept []time.Duration
		p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 3}
		p.Sleep = noSleep(&slept)
		p.Retryable = func(err error) bool { return err.Error() == "again" }

		var delays []time.Duration
		p.OnRetry = func(_ int, d time.Duration, _ error) { delays = append(delays, d) }

		calls := 0
		err := p.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("again")
		})

		require.Error(t, err)
		assert.Equal(t, 4, calls)
		want := []time.Duration{time.Millisecond, 3 * time.Millisecond, 9 * time.Millisecond}
		assert.Equal(t, want, delays)
		assert.Equal(t, want, slept)
	})

	t.Run("zero attempts still calls once", func(t *testing.T) {
		p := Policy{}
		calls := 0
		_ = p.Do(ctx, func(context.Context) error {
			calls++
			return errs.Transient("x", errors.New("boom"))
		})
		assert.Equal(t, 1, calls)
	})
}
