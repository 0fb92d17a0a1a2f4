// Package retry wraps fallible operations with bounded exponential backoff.
// The original error is always returned unchanged: callers can keep using
// errors.Is/errors.As (and pointer identity) on what the operation produced.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

type Options struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// RetryIf decides, given the error and the 1-based attempt number,
	// whether another attempt should be made. Nil retries every error.
	RetryIf func(err error, attempt int) bool
}

// DefaultOptions retries any error: 3 attempts, 100ms base, 5s cap, factor 2.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
	}
}

// Do invokes op until it succeeds, attempts are exhausted, RetryIf declines,
// or ctx is cancelled. MaxAttempts <= 0 degrades to a single bare attempt.
func Do[T any](ctx context.Context, opts Options, op func() (T, error)) (T, error) {
	if opts.MaxAttempts <= 0 {
		return op()
	}
	if opts.BackoffFactor <= 0 {
		opts.BackoffFactor = 2
	}

	var zero T
	var lastErr error
	delay := opts.BaseDelay

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == opts.MaxAttempts {
			break
		}
		if opts.RetryIf != nil && !opts.RetryIf(err, attempt) {
			break
		}

		wait := delay
		if opts.MaxDelay > 0 && wait > opts.MaxDelay {
			wait = opts.MaxDelay
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
		delay = time.Duration(float64(delay) * opts.BackoffFactor)
	}

	return zero, lastErr
}

var fileErrorMarkers = []string{
	"permission denied", "resource busy", "too many open files",
	"no such file", "eacces", "ebusy", "emfile",
}

// FileOptions retries transient filesystem failures (permission/busy-style
// errors surfaced during concurrent writes).
func FileOptions() Options {
	opts := DefaultOptions()
	opts.MaxAttempts = 5
	opts.BaseDelay = 50 * time.Millisecond
	opts.RetryIf = func(err error, _ int) bool {
		return containsAny(err, fileErrorMarkers)
	}
	return opts
}

var networkErrorMarkers = []string{
	"connection reset", "connection refused", "timeout", "timed out",
	"broken pipe", "econnreset", "econnrefused", "no route to host",
}

// NetworkOptions retries transient network failures, including anything that
// reports itself as a net.Error timeout.
func NetworkOptions() Options {
	opts := DefaultOptions()
	opts.BaseDelay = 200 * time.Millisecond
	opts.RetryIf = func(err error, _ int) bool {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return containsAny(err, networkErrorMarkers)
	}
	return opts
}

func containsAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
