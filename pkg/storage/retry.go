package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Retry runs operation with capped exponential backoff until it succeeds, returns a
// backoff.Permanent error, or the policy's attempt budget is spent.
func Retry[T any](ctx context.Context, policy RetryPolicy, op string, operation func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}
	bo.MaxInterval = 10 * time.Second
	if policy.MaxInterval > 0 {
		bo.MaxInterval = policy.MaxInterval
	}
	maxTries := policy.MaxTries
	if maxTries == 0 {
		maxTries = 1
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("op", op).Dur("retry_in", next).Msg("operation failed. Retrying...")
		}),
	)
}
