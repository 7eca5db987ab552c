package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"laddertrade/internal/exchange"
)

func TestRetryPolicyDo(t *testing.T) {
	policy := testRetry
	policy.MaxRetries = 2

	t.Run("transient errors are retried until success", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return exchange.Transient("op", errors.New("timeout"))
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("retries are bounded", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return exchange.Transient("op", errors.New("timeout"))
		})
		assert.True(t, exchange.IsTransient(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors return at once", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return exchange.Permanent("op", -1111, errors.New("precision is over the maximum"))
		})
		assert.True(t, exchange.IsPermanent(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("each call gets a deadline", func(t *testing.T) {
		err := policy.Do(context.Background(), "op", func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("cancelled context stops backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := policy.Do(ctx, "op", func(ctx context.Context) error {
			calls++
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
