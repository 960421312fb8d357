package xpush

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xlog"
)

// ActionFunc serves one action. The returned output and error are independent:
// an action may report an error next to partial output.
type ActionFunc func(ctx context.Context, req *Request) (any, error)

// EventFunc receives events addressed to a responder's target.
type EventFunc func(ctx context.Context, ev *Event) error

// Responder serves the requests addressed to one target: it routes each
// request's action to a registered ActionFunc and sends the Response to the
// request's origin. It sends through the Pusher it was built from.
type Responder struct {
	pusher *Pusher
	target string
	group  string
	logger *xlog.Logger

	mu      sync.RWMutex
	actions map[string]ActionFunc
	hooks   map[string][]EventFunc // "" holds catch-all hooks

	subMu  sync.Mutex
	sub    Subscription
	closed atomic.Bool
}

// NewResponder creates a responder for target. Register actions and hooks,
// then call Start.
func NewResponder(p *Pusher, target string) *Responder {
	return &Responder{
		pusher:  p,
		target:  target,
		group:   p.group,
		logger:  p.logger.With(xlog.Str("target", target)),
		actions: make(map[string]ActionFunc),
		hooks:   make(map[string][]EventFunc),
	}
}

func (r *Responder) Target() string { return r.target }

// Handle registers fn for action (plugin.method). A later registration for
// the same action replaces the earlier one.
func (r *Responder) Handle(action string, fn ActionFunc) *Responder {
	if action == "" || fn == nil {
		return r
	}
	r.mu.Lock()
	r.actions[action] = fn
	r.mu.Unlock()
	return r
}

// OnEvent registers fn for events of kind; an empty kind receives every event.
// Qualified kind names match their short form.
func (r *Responder) OnEvent(kind string, fn EventFunc) *Responder {
	if fn == nil {
		return r
	}
	kind = shortKind(kind)
	r.mu.Lock()
	r.hooks[kind] = append(r.hooks[kind], fn)
	r.mu.Unlock()
	return r
}

// Start subscribes to the target topic. It is a no-op when already started.
func (r *Responder) Start(_ context.Context) error {
	if r.closed.Load() {
		return ErrResponderClosed
	}
	if r.target == "" {
		return ErrInvalidTarget
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.sub != nil {
		return nil
	}
	sub, err := r.pusher.subscribe(r.target, r.group, r.serve)
	if err != nil {
		return err
	}
	r.sub = sub
	r.logger.Info().Msg("xpush: responder started")
	return nil
}

// Close stops receiving. The underlying pusher stays open.
func (r *Responder) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Close()
	r.sub = nil
	return err
}

func (r *Responder) serve(ctx context.Context, f *Frame) error {
	msg, err := DecodeFrame(r.pusher.codec, f)
	if err != nil {
		r.logger.Warn().Str("frame_id", f.ID).Err(err).Msg("xpush: undecodable frame dropped")
		return nil
	}
	switch m := msg.(type) {
	case *Request:
		return r.serveRequest(ctx, m)
	case *Event:
		r.dispatchEvent(ctx, m)
	default:
		r.logger.Debug().Str("id", msg.MessageID()).Msg("xpush: response on request topic ignored")
	}
	return nil
}

func (r *Responder) serveRequest(ctx context.Context, req *Request) error {
	r.mu.RLock()
	fn, ok := r.actions[req.Action]
	r.mu.RUnlock()

	var resp *Response
	if !ok {
		resp = Reply(req, nil, fmt.Sprintf("unknown action %q", req.Action))
	} else {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if req.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, req.Timeout)
		}
		start := r.pusher.clock.Now()
		out, err := invokeAction(actx, fn, req)
		cancel()
		resp = Reply(req, out, errorStrings(err)...)
		r.logger.Debug().
			Str("id", req.ID).
			Str("action", req.Action).
			Dur("took", r.pusher.clock.Since(start)).
			Msg("xpush: action served")
	}
	if resp.Target == "" {
		r.logger.Warn().Str("id", req.ID).Str("action", req.Action).Msg("xpush: request without origin, response not sent")
		return nil
	}
	resp.ts = r.pusher.clock.Now()
	return r.pusher.Submit(ctx, resp.Target, resp)
}

func invokeAction(ctx context.Context, fn ActionFunc, req *Request) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return fn(ctx, req)
}

// errorStrings flattens err into the response error list; joined errors
// become one entry each.
func errorStrings(err error) []string {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, errorStrings(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

func (r *Responder) dispatchEvent(ctx context.Context, ev *Event) {
	r.mu.RLock()
	hooks := append(append([]EventFunc(nil), r.hooks[shortKind(ev.Type())]...), r.hooks[""]...)
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := callHook(ctx, h, ev); err != nil {
			r.logger.Warn().Str("event", ev.Type()).Err(err).Msg("xpush: event hook failed")
		}
	}
}

func callHook(ctx context.Context, h EventFunc, ev *Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return h(ctx, ev)
}

// Serve registers fn for action on a new responder for target and starts it.
func Serve(ctx context.Context, p *Pusher, target, action string, fn ActionFunc) (*Responder, error) {
	r := NewResponder(p, target).Handle(action, fn)
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	return r, nil
}
