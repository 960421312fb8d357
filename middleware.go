package xpush

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"
)

// Chain wraps h so that mws[0] runs first. Nil entries are skipped.
func Chain(h Handler, mws ...Middleware) Handler {
	for _, mw := range slices.Backward(mws) {
		if mw != nil {
			h = mw(h)
		}
	}
	return h
}

// RetryConfig controls RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts counts the first call; values below 1 mean a single call.
	MaxAttempts int
	// Backoff returns the pause after the given failed attempt, from 1.
	// Nil retries immediately.
	Backoff func(attempt int) time.Duration
	// Jitter adds a random pause in [0, Jitter) to every backoff.
	Jitter time.Duration
	// RetryIf selects retryable errors. Nil retries everything except
	// ErrParse.
	RetryIf func(err error) bool
}

func (c RetryConfig) retryable(err error) bool {
	if c.RetryIf != nil {
		return c.RetryIf(err)
	}
	return !errors.Is(err, ErrParse)
}

func (c RetryConfig) pause(attempt int) time.Duration {
	var d time.Duration
	if c.Backoff != nil {
		d = c.Backoff(attempt)
	}
	if c.Jitter > 0 {
		d += rand.N(c.Jitter)
	}
	return d
}

// RetryMiddleware calls the handler again while it fails with a retryable
// error, up to MaxAttempts calls. It returns the last error.
func RetryMiddleware(cfg RetryConfig) Middleware {
	attempts := max(cfg.MaxAttempts, 1)
	return func(next Handler) Handler {
		return func(ctx context.Context, f *Frame) error {
			err := next(ctx, f)
			for n := 1; err != nil && n < attempts && cfg.retryable(err); n++ {
				if !pauseCtx(ctx, cfg.pause(n)) {
					break
				}
				err = next(ctx, f)
			}
			return err
		}
	}
}

// pauseCtx waits for d and reports whether ctx is still live afterwards.
func pauseCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// TimeoutMiddleware gives the handler d to finish. A handler still running
// at the deadline is abandoned and context.DeadlineExceeded is returned so
// the delivery is nacked. Non-positive d disables the bound.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, f *Frame) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			result := make(chan error, 1)
			go func() { result <- callGuarded(ctx, next, f) }()
			select {
			case err := <-result:
				if err == nil && ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// RecoveryMiddleware turns a handler panic into an error wrapping
// ErrHandlerPanic.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, f *Frame) error { return callGuarded(ctx, next, f) }
	}
}

func callGuarded(ctx context.Context, h Handler, f *Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, f)
}

// KindFilter hands only frames of the listed kinds to the handler. Other
// frames are skipped and acked. Frames without a kind always pass.
func KindFilter(kinds ...Kind) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, f *Frame) error {
			if f != nil && f.Kind != "" && !slices.Contains(kinds, f.Kind) {
				return nil
			}
			return next(ctx, f)
		}
	}
}
