package xpush

import (
	"context"
	"sync"
	"time"
)

var (
	defaultPusher   *Pusher
	defaultPusherMu sync.RWMutex
)

// Default returns the process-wide Pusher installed with SetDefault or an
// adapter's Use.
func Default() (*Pusher, error) {
	defaultPusherMu.RLock()
	defer defaultPusherMu.RUnlock()
	if defaultPusher == nil {
		return nil, ErrDefaultPusherNotInitialized
	}
	return defaultPusher, nil
}

// SetDefault replaces the process-wide default Pusher.
func SetDefault(p *Pusher) {
	if p == nil {
		panic("xpush: SetDefault called with nil Pusher")
	}
	defaultPusherMu.Lock()
	defaultPusher = p
	defaultPusherMu.Unlock()
}

// SendEvent sends an event through the default pusher.
func SendEvent(ctx context.Context, target string, data EventData) error {
	p, err := Default()
	if err != nil {
		return err
	}
	return p.SendEvent(ctx, target, data)
}

// SendRequest sends a request through the default pusher and waits for its response.
func SendRequest(ctx context.Context, target, action string, timeout time.Duration, args map[string]any) (*Response, error) {
	p, err := Default()
	if err != nil {
		return nil, err
	}
	return p.SendRequest(ctx, target, action, timeout, args)
}

// Install builds a Pusher over the transport registered as name, applies
// configure in order and makes the result the process-wide default.
func Install(name string, cfg map[string]any, configure ...func(*PusherBuilder)) (*Pusher, error) {
	pb := NewPusherBuilder().WithTransport(name, cfg)
	for _, fn := range configure {
		if fn != nil {
			fn(pb)
		}
	}
	p, err := pb.Build()
	if err != nil {
		return nil, err
	}
	SetDefault(p)
	return p, nil
}
