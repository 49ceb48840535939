package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestWithBackoff_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastRetry(5), zap.NewNop(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoff_Bounded(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastRetry(3), zap.NewNop(), "op", func(context.Context) error {
		calls++
		return errors.New("down")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoff_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("bad request")
	err := WithBackoff(context.Background(), fastRetry(5), zap.NewNop(), "op", func(context.Context) error {
		calls++
		return Permanent(boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestWithBackoff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithBackoff(ctx, fastRetry(5), zap.NewNop(), "op", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelay_Capped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, backoffDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(cfg, 2))
	assert.Equal(t, 3*time.Second, backoffDelay(cfg, 5))
}
