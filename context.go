package xpush

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey[T] is a distinct context key for each carried type.
type ctxKey[T any] struct{}

func withValue[T comparable](ctx context.Context, v T) context.Context {
	var zero T
	if v == zero {
		return ctx
	}
	return context.WithValue(ctx, ctxKey[T]{}, v)
}

func valueOf[T any](ctx context.Context) (T, bool) {
	v, ok := ctx.Value(ctxKey[T]{}).(T)
	return v, ok
}

// InjectAll attaches the codec, logger and clock a Pusher hands to its
// handlers. Nil values are skipped.
func InjectAll(ctx context.Context, codec Codec, logger *xlog.Logger, clock xclock.Clock) context.Context {
	return withValue(withValue(withValue(ctx, codec), logger), clock)
}

func injectFrame(ctx context.Context, f *Frame) context.Context { return withValue(ctx, f) }

// CodecFromContext returns the codec of the pusher serving ctx.
func CodecFromContext(ctx context.Context) (Codec, bool) { return valueOf[Codec](ctx) }

// LoggerFromContext returns the logger of the pusher serving ctx.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) { return valueOf[*xlog.Logger](ctx) }

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) { return valueOf[xclock.Clock](ctx) }

// FrameFromContext returns the frame a request or event arrived in.
func FrameFromContext(ctx context.Context) (*Frame, bool) { return valueOf[*Frame](ctx) }
