// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bureau-foundation/wxweb/lib/clock"
	"github.com/bureau-foundation/wxweb/messaging"
)

// clockTimer adapts a clock.Clock to backoff.Timer so that retry waits
// follow the engine's clock.
type clockTimer struct {
	clock   clock.Clock
	channel <-chan time.Time
}

func (t *clockTimer) Start(duration time.Duration) { t.channel = t.clock.After(duration) }

func (t *clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time { return t.channel }

// newBackOff returns an unbounded exponential backoff following the
// engine's policy and clock.
func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(e.retry.InitialInterval),
		backoff.WithMaxInterval(e.retry.MaxInterval),
		backoff.WithMultiplier(e.retry.Multiplier),
		backoff.WithMaxElapsedTime(0),
		backoff.WithClockProvider(e.clock),
	)
}

// retryCall runs call until it succeeds, fails with a non-transport
// error, or fails MaxAttempts times in a row. Each transport failure
// drops idle connections before the next attempt.
func retryCall[T any](ctx context.Context, e *Engine, op string, call func() (T, error)) (T, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(e.newBackOff(), uint64(e.retry.MaxAttempts-1)),
		ctx,
	)
	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := call()
		if err != nil && !messaging.IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}
	notify := func(err error, wait time.Duration) {
		e.client.CloseIdleConnections()
		e.logger.Warn("transport failure, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", e.retry.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	result, err := backoff.RetryNotifyWithTimerAndData(operation, policy, notify, &clockTimer{clock: e.clock})
	if err != nil && messaging.IsRetryable(err) {
		return result, fmt.Errorf("engine: %s failed %d consecutive times: %w", op, attempt, err)
	}
	return result, err
}
