// Package retry wraps exponential backoff for the workspace steps of a sprint.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the re-attempts of one operation. MaxRetries counts attempts
// after the first one, so zero disables retrying.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy returns the default retry policy
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Notify is called before every re-attempt
type Notify func(err error, wait time.Duration)

type notifyKey struct{}

// WithNotify attaches a retry observer to ctx. Components shared between
// runs use it to report re-attempts into the run they are working for.
func WithNotify(ctx context.Context, fn Notify) context.Context {
	return context.WithValue(ctx, notifyKey{}, fn)
}

func notifyFrom(ctx context.Context) Notify {
	fn, _ := ctx.Value(notifyKey{}).(Notify)
	return fn
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the retry budget
// is spent, or ctx is done. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op func() error) error {
	if p.MaxRetries <= 0 {
		err := op()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		return err
	}

	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialBackoff),
		backoff.WithMaxInterval(p.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxRetries)), ctx)

	observer := notifyFrom(ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		if observer != nil {
			observer(err, wait)
		}
	})
}
