// Package retry re-runs classification calls that failed with a retryable
// provider error.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cognicore/autotag/pkg/autotag/provider"
)

// DefaultBase is the first Fibonacci backoff step.
const DefaultBase = 1 * time.Second

// Policy bounds retries of one task
type Policy struct {
	MaxRetries uint64
	Base       time.Duration
	Logger     *slog.Logger
}

// Do runs task, retrying with Fibonacci backoff while it fails with a
// network, timeout or rate-limit provider error. Any other error, and the
// last error once retries are exhausted, is returned as is.
func (p Policy) Do(ctx context.Context, task func(ctx context.Context) error) error {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := retry.WithMaxRetries(p.MaxRetries, retry.NewFibonacci(base))
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := task(ctx)
		if err == nil {
			return nil
		}
		if pe, ok := provider.AsError(err); ok && pe.Retryable() {
			logger.WarnContext(ctx, "retrying provider call", "attempt", attempt, "code", pe.Code, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
}
