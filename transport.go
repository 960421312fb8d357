package xpush

import "context"

// Handler consumes one inbound frame. A non-nil error nacks the delivery.
type Handler func(ctx context.Context, f *Frame) error

// Middleware wraps a Handler; see Chain.
type Middleware func(next Handler) Handler

// Subscription stops a running Subscribe. Close returns once its handlers
// have finished.
type Subscription interface {
	Close() error
}

// Delivery is a frame handed to a subscriber, settled by exactly one Ack or
// Nack. Later calls are no-ops.
type Delivery interface {
	Frame() *Frame
	Ack(ctx context.Context) error
	Nack(ctx context.Context, reason error) error
}

// Transport moves frames between named targets. A topic is a target name:
// requests and events go to the target's topic, responses to the topic named
// after the requesting client's origin. Subscribers sharing a group on one
// topic split its frames; distinct groups each see every frame.
type Transport interface {
	Publish(ctx context.Context, topic string, frames ...*Frame) error
	// Subscribe calls handler for each frame of topic read through group
	// until ctx ends or the subscription is closed.
	Subscribe(ctx context.Context, topic, group string, handler func(Delivery)) (Subscription, error)
	Close(ctx context.Context) error
}

// GroupReleaser is implemented by transports whose consumer groups outlive
// their subscriptions. A Pusher releases its private response group on Close.
type GroupReleaser interface {
	ReleaseGroup(ctx context.Context, topic, group string) error
}

// TopicReleaser is implemented by transports that keep a topic after its
// last subscriber leaves. A Pusher with a generated origin releases its
// response topic on Close, since no other client will ever use it.
type TopicReleaser interface {
	ReleaseTopic(ctx context.Context, topic string) error
}
