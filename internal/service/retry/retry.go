// Package retry runs storage operations under a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
	"github.com/mamadbah2/flockledger/internal/repository"
)

// Policy bounds how often an operation is attempted.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used when callers pass a zero Policy.
var DefaultPolicy = Policy{
	MaxAttempts:     5,
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	p = p.normalized()
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs fn until it succeeds, returns a typed *errs.Error, or the attempts
// run out. Typed errors are final. A lost conditional write that is still
// losing on the last attempt surfaces as a concurrency conflict; any other
// untyped error surfaces as internal.
func Do[T any](ctx context.Context, p Policy, op string, fn func() (T, error), onRetry func(err error)) (T, error) {
	attempts := 0
	operation := func() (T, error) {
		attempts++
		out, err := fn()
		var typed *errs.Error
		if errors.As(err, &typed) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(err)
		}
	}

	out, err := backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
	if err == nil {
		return out, nil
	}

	var typed *errs.Error
	switch {
	case errors.As(err, &typed):
		return out, err
	case errors.Is(err, repository.ErrConditionFailed):
		return out, errs.ConcurrencyConflict(op, attempts)
	default:
		return out, errs.Internal(err, "%s failed after %d attempts", op, attempts)
	}
}
