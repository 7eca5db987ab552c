package service

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"laddertrade/internal/exchange"
	"laddertrade/internal/logger"
)

// RetryPolicy bounds every gateway and feed call of a cycle.
type RetryPolicy struct {
	CallTimeout time.Duration
	MaxRetries  int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		CallTimeout: 5 * time.Second,
		MaxRetries:  3,
		MinBackoff:  200 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// Do runs fn with a per-call timeout. Transient errors are retried with exponential
// backoff up to MaxRetries, anything else is returned at once. When retries run out
// the last transient error is returned so the caller can try again next cycle.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    p.MinBackoff,
		Max:    p.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	for {
		callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !exchange.IsTransient(err) || int(b.Attempt()) >= p.MaxRetries {
			return err
		}

		wait := b.Duration()
		logger.Warn(ctx, "Retry: transient error, backing off",
			"op", op, "attempt", int(b.Attempt()), "wait", wait.String(), "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
