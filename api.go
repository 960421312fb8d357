package xpush

import (
	"context"
	"time"
)

// HealthChecker is satisfied by anything that reports a HealthStatus, for
// wiring into readiness checks.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API is what a Pusher offers callers: sending events, sending requests and
// awaiting their responses, plus introspection.
type API interface {
	Submit(ctx context.Context, target string, msg Message) error
	SendEvent(ctx context.Context, target string, data EventData) error
	SendEventAttrs(ctx context.Context, target, kind string, attrs map[string]any) error
	SendEvents(ctx context.Context, target string, events ...*Event) error

	Do(ctx context.Context, req *Request) (*Response, error)
	SendRequest(ctx context.Context, target, action string, timeout time.Duration, args map[string]any) (*Response, error)

	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	GetMetrics() Metrics
	HealthChecker
	Close(ctx context.Context) error
}

var _ API = (*Pusher)(nil)
