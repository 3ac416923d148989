// Package remote is the single retry point for calls that leave the process.
// Provider clients classify their failures as transient or permanent and hand
// the call to Do; they never carry retry loops of their own.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// ErrorKind classifies an external failure for retry purposes.
type ErrorKind int

const (
	// KindTransient marks failures expected to be retry-recoverable:
	// timeouts, rate limits, upstream unavailability.
	KindTransient ErrorKind = iota
	// KindPermanent marks failures a retry will not fix: malformed
	// requests, authentication errors, 4xx responses.
	KindPermanent
)

// Error is a typed external-call failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Kind == KindTransient {
		kind = "transient"
	}
	if e.Status > 0 {
		return fmt.Sprintf("remote: %s failure (status %d): %s", kind, e.Status, e.Message)
	}
	return fmt.Sprintf("remote: %s failure: %s", kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient builds a retryable Error.
func Transient(status int, message string, err error) *Error {
	return &Error{Kind: KindTransient, Status: status, Message: message, Err: err}
}

// Permanent builds a non-retryable Error.
func Permanent(status int, message string, err error) *Error {
	return &Error{Kind: KindPermanent, Status: status, Message: message, Err: err}
}

// IsTransient reports whether err should be retried. Network timeouts and
// exceeded deadlines count as transient even when the caller did not wrap
// them; anything unclassified is treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Policy bounds the retry behavior of Do.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the observed service defaults: three attempts with
// exponential backoff from 500ms, capped at 8s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Delay returns the backoff before the given retry: BaseDelay * 2^(attempt-1),
// capped at MaxDelay. attempt is 1-based.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// sleep is swapped out by tests to observe backoff without waiting.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do invokes fn up to p.MaxAttempts times, backing off between transient
// failures. Permanent failures return immediately; after the attempts are
// exhausted the last error is surfaced unchanged. Do never touches job or
// ledger state, keeping retry policy decoupled from transaction boundaries.
func Do[T any](ctx context.Context, logger zerolog.Logger, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) {
			logger.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("remote: permanent failure")
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.Delay(attempt)
		logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Msg("remote: transient failure, retrying")
		if err := sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}
