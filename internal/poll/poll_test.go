package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	ok, err := Until(context.Background(), Immediate(10), func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, calls, "no checks after the predicate holds")
}

func TestUntilExhaustsExactly(t *testing.T) {
	calls := 0
	ok, err := Until(context.Background(), Immediate(7), func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 7, calls)
}

func TestUntilTreatsErrorsAsNotYet(t *testing.T) {
	calls := 0
	ok, err := Until(context.Background(), Immediate(4), func(context.Context) (bool, error) {
		calls++
		if calls < 4 {
			return false, errors.New("rpc down")
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, calls)
}

func TestUntilNoSleepAfterLastAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 1, Interval: time.Hour}
	start := time.Now()
	ok, err := Until(context.Background(), p, func(context.Context) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 100, Interval: time.Hour}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	ok, err := Until(ctx, p, func(context.Context) (bool, error) { return false, nil })
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryBound(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), Immediate(3), func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDelay(t *testing.T) {
	linear := Policy{Interval: time.Second, Multiplier: 1}
	assert.Equal(t, time.Second, linear.Delay(1))
	assert.Equal(t, 3*time.Second, linear.Delay(3))

	fixed := Policy{Interval: 2 * time.Second}
	assert.Equal(t, 2*time.Second, fixed.Delay(5))
}
