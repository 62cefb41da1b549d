// Package retry runs platform calls with bounded exponential backoff.
//
// Errors wrapped with Permanent are returned immediately. Everything else is
// treated as transient and retried until the attempt budget is spent or the
// context is done.
package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy holds retry configuration.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	OnRetry      func(err error, next time.Duration)
}

// DefaultPolicy is used when no options are given.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Option is a functional option for retry configuration.
type Option func(*Policy)

// WithMaxRetries sets the maximum number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		p.MaxRetries = n
	}
}

// WithInitialDelay sets the initial delay between retries.
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.InitialDelay = d
	}
}

// WithMaxDelay sets the maximum delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.MaxDelay = d
	}
}

// WithNotify registers a callback invoked before each retry.
func WithNotify(fn func(err error, next time.Duration)) Option {
	return func(p *Policy) {
		p.OnRetry = fn
	}
}

// WithPolicy replaces the whole policy, keeping a previously set notify hook
// if the new policy has none.
func WithPolicy(policy Policy) Option {
	return func(p *Policy) {
		notify := p.OnRetry
		*p = policy
		if p.OnRetry == nil {
			p.OnRetry = notify
		}
	}
}

// Do runs op until it succeeds, returns a permanent error, exhausts the
// retry budget or ctx is done. It returns the number of retries performed.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) (int, error) {
	policy := DefaultPolicy()
	for _, opt := range opts {
		opt(&policy)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = policy.Multiplier
	b.MaxElapsedTime = 0

	var bo backoff.BackOff = b
	if policy.MaxRetries >= 0 {
		bo = backoff.WithMaxRetries(bo, uint64(policy.MaxRetries))
	}

	retries := 0
	err := backoff.RetryNotify(
		func() error {
			err := op(ctx)
			if err != nil && IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(bo, ctx),
		func(err error, next time.Duration) {
			retries++
			if policy.OnRetry != nil {
				policy.OnRetry(err, next)
			}
		},
	)
	return retries, err
}

// =============================================================================
// Classification
// =============================================================================

// PermanentError marks an error as non-retryable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is non-retryable.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// FromStatus classifies err by the HTTP status that produced it.
// Client errors are permanent except 408 and 429; server errors and
// transport failures stay transient.
func FromStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}
