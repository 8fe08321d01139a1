package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CommunityScanner/internal/domain"
)

// Action is what Do does after a failed attempt.
type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	After               // throttled, wait the hinted or throttle backoff
)

// Policy bounds transient retries and throttle waits independently.
type Policy struct {
	MaxAttempts      int
	ThrottleAttempts int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	ThrottleBackoff  time.Duration
	OnRetry          func(attempt int, err error, wait time.Duration)
}

// Classify maps an error to an action and an optional wait hint.
type Classify func(err error) (Action, time.Duration)

// Operation is one attempt of the retried call.
type Operation[T any] func(ctx context.Context) (T, error)

// Do runs op until it succeeds, classify says Stop, or an attempt budget is spent.
// Throttle waits do not consume the transient budget.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	var zero T
	maxAttempts := max(p.MaxAttempts, 1)
	maxThrottles := max(p.ThrottleAttempts, 1)

	backoff := p.InitialBackoff
	throttleBackoff := p.ThrottleBackoff
	attempts, throttles := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return zero, err
			}
		}

		action, hint := classify(err)
		var wait time.Duration
		switch action {
		case Stop:
			return zero, &PermanentError{Err: err}
		case After:
			throttles++
			if throttles >= maxThrottles {
				return zero, fmt.Errorf("throttled %d times: %w", throttles, err)
			}
			wait = hint
			if wait <= 0 {
				wait = throttleBackoff
				throttleBackoff = capped(throttleBackoff*2, p.MaxBackoff)
			}
		default:
			attempts++
			if attempts >= maxAttempts {
				return zero, fmt.Errorf("failed after %d attempts: %w", attempts, err)
			}
			wait = backoff
			backoff = capped(backoff*2, p.MaxBackoff)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempts+throttles, err, wait)
		}

		if err := Sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("context cancelled during retry: %w", err)
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

func capped(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// ClassifyRemote is the classifier for errors produced by remote adapters.
func ClassifyRemote(err error) (Action, time.Duration) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// a per-request timeout surfaces as DeadlineExceeded too; Do checks the run context first
		return Retry, 0
	}
	re, ok := domain.AsRemote(err)
	if !ok {
		return Retry, 0
	}
	switch {
	case re.Kind == domain.RemoteThrottled:
		return After, re.RetryAfter
	case re.Permanent():
		return Stop, 0
	default:
		return Retry, 0
	}
}

// PermanentError wraps the error Do gave up on because classify returned Stop.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
