package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
)

var ErrExhausted = errors.New("retries exhausted")

// Policy bounds a retried call. A zero MaxAttempts or MaxElapsedTime leaves
// that dimension unbounded; RequestTimeout applies to every single attempt.
type Policy struct {
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	RequestTimeout  time.Duration
	MaxAttempts     uint64
}

func (p Policy) newBackoff(ctx context.Context) backoff.BackOff {
	opts := []backoff.ExponentialBackOffOpts{backoff.WithMaxElapsedTime(p.MaxElapsedTime)}
	if p.InitialInterval > 0 {
		opts = append(opts, backoff.WithInitialInterval(p.InitialInterval))
	}

	var b backoff.BackOff = backoff.NewExponentialBackOff(opts...)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}

	return backoff.WithContext(b, ctx)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, or the policy
// runs out. Exhaustion is reported as ErrExhausted wrapping the last error.
func Do[T any](ctx context.Context, p Policy, name string, fn func(context.Context) (T, error)) (T, error) {
	var stopped bool
	result, err := backoff.RetryNotifyWithData(
		func() (T, error) {
			callCtx := ctx
			if p.RequestTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, p.RequestTimeout)
				defer cancel()
			}

			res, err := fn(callCtx)

			var permanent *permanentError
			if errors.As(err, &permanent) {
				stopped = true
				return res, backoff.Permanent(permanent.err)
			}

			return res, err
		},
		p.newBackoff(ctx),
		func(err error, d time.Duration) {
			logger.Warnf("%s error: %v. Will retry after %v", name, err, d)
		},
	)
	if err != nil {
		if stopped {
			return result, errors.Wrapf(err, "%s failed", name)
		}

		return result, errors.Wrapf(&exhaustedError{last: err}, "%s failed", name)
	}

	return result, nil
}

type exhaustedError struct {
	last error
}

func (e *exhaustedError) Error() string {
	return ErrExhausted.Error() + ": " + e.last.Error()
}

func (e *exhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

func (e *exhaustedError) Unwrap() error {
	return e.last
}
