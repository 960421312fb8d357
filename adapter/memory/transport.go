// Package memory is an in-process xpush transport for tests, examples and
// single-binary setups where the pusher and its targets share one process.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xpush"
)

const TransportName = "memory"

var errClosed = errors.New("memory: transport closed")

func init() {
	if err := xpush.RegisterTransport(TransportName, func(cfg map[string]any) (xpush.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xpush: failed to register transport %q: %w", TransportName, err))
	}
}

// Transport routes frames between pushers and responders of one process.
// Each target is a mailbox; every consumer group on a mailbox has its own
// inbox and receives its own copy of each frame, while subscribers sharing a
// group compete for frames. Frames for a target nobody listens on are
// dropped, as they would be missed on a real bus.
type Transport struct {
	cfg Config

	mu        sync.RWMutex
	mailboxes map[string]*mailbox

	closed atomic.Bool
	stats  counters
}

type mailbox struct {
	mu      sync.RWMutex
	inboxes map[string]chan *envelope
}

// envelope is one frame queued for one group.
type envelope struct {
	frame *xpush.Frame
	inbox chan *envelope
}

type counters struct {
	published, consumed, acked, nacked, redelivered, publishErrors atomic.Uint64
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Acked         uint64
	Nacked        uint64
	Redelivered   uint64
	PublishErrors uint64
}

var (
	_ xpush.Transport     = (*Transport)(nil)
	_ xpush.GroupReleaser = (*Transport)(nil)
	_ xpush.TopicReleaser = (*Transport)(nil)
)

// NewTransport returns an empty transport. Zero BufferSize and Concurrency
// fall back to 1024 and 1.
func NewTransport(cfg Config) *Transport {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Transport{cfg: cfg, mailboxes: make(map[string]*mailbox)}
}

// Publish copies each frame into every group inbox of the target mailbox.
// It blocks while an inbox is full, until ctx ends.
func (t *Transport) Publish(ctx context.Context, topic string, frames ...*xpush.Frame) error {
	if t.closed.Load() {
		return errClosed
	}
	t.mu.RLock()
	mb := t.mailboxes[topic]
	t.mu.RUnlock()
	if mb == nil {
		return nil
	}

	for _, f := range frames {
		if f == nil {
			continue
		}
		if f.ID == "" && t.cfg.AssignIDs {
			f.ID = "mem-" + strconv.FormatUint(seq.Add(1), 10)
		}
		if err := mb.deliver(ctx, f); err != nil {
			t.stats.publishErrors.Add(1)
			return err
		}
		t.stats.published.Add(1)
	}
	return nil
}

func (mb *mailbox) deliver(ctx context.Context, f *xpush.Frame) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, inbox := range mb.inboxes {
		select {
		case inbox <- &envelope{frame: cloneFrame(f), inbox: inbox}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

var seq atomic.Uint64

// Subscribe starts Concurrency workers on the group inbox of topic.
func (t *Transport) Subscribe(ctx context.Context, topic, group string, handler func(xpush.Delivery)) (xpush.Subscription, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	inbox := t.inbox(topic, group)

	wctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(t.cfg.Concurrency)
	for i := 0; i < t.cfg.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-wctx.Done():
					return
				case env := <-inbox:
					t.stats.consumed.Add(1)
					handler(&delivery{env: env, tr: t})
				}
			}
		}()
	}
	return subscription(func() error {
		cancel()
		wg.Wait()
		return nil
	}), nil
}

func (t *Transport) inbox(topic, group string) chan *envelope {
	t.mu.Lock()
	mb, ok := t.mailboxes[topic]
	if !ok {
		mb = &mailbox{inboxes: make(map[string]chan *envelope)}
		t.mailboxes[topic] = mb
	}
	t.mu.Unlock()

	mb.mu.Lock()
	defer mb.mu.Unlock()
	in, ok := mb.inboxes[group]
	if !ok {
		in = make(chan *envelope, t.cfg.BufferSize)
		mb.inboxes[group] = in
	}
	return in
}

// ReleaseGroup drops the group inbox of topic along with anything still
// queued in it. Later frames for topic no longer reach the group.
func (t *Transport) ReleaseGroup(_ context.Context, topic, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	mb, ok := t.mailboxes[topic]
	if !ok {
		return nil
	}
	mb.mu.Lock()
	delete(mb.inboxes, group)
	empty := len(mb.inboxes) == 0
	mb.mu.Unlock()
	if empty {
		delete(t.mailboxes, topic)
	}
	return nil
}

// ReleaseTopic drops the mailbox of topic and every group inbox in it.
func (t *Transport) ReleaseTopic(_ context.Context, topic string) error {
	t.mu.Lock()
	delete(t.mailboxes, topic)
	t.mu.Unlock()
	return nil
}

// Close forgets every mailbox. Running subscriptions stop when closed or
// when their context ends. Close is idempotent.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	t.mailboxes = make(map[string]*mailbox)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Stats() Stats {
	return Stats{
		Published:     t.stats.published.Load(),
		Consumed:      t.stats.consumed.Load(),
		Acked:         t.stats.acked.Load(),
		Nacked:        t.stats.nacked.Load(),
		Redelivered:   t.stats.redelivered.Load(),
		PublishErrors: t.stats.publishErrors.Load(),
	}
}

type subscription func() error

func (s subscription) Close() error { return s() }

// delivery settles one envelope exactly once.
type delivery struct {
	env     *envelope
	tr      *Transport
	settled sync.Once
}

func (d *delivery) Frame() *xpush.Frame { return d.env.frame }

func (d *delivery) Ack(_ context.Context) error {
	d.settled.Do(func() { d.tr.stats.acked.Add(1) })
	return nil
}

// Nack puts the envelope back on its inbox, after RedeliveryDelay if set.
func (d *delivery) Nack(ctx context.Context, _ error) error {
	d.settled.Do(func() {
		d.tr.stats.nacked.Add(1)
		d.tr.stats.redelivered.Add(1)
		if delay := d.tr.cfg.RedeliveryDelay; delay > 0 {
			// ctx ends when Nack returns; the requeue outlives it.
			time.AfterFunc(delay, func() {
				if !d.tr.closed.Load() {
					d.env.inbox <- d.env
				}
			})
			return
		}
		select {
		case d.env.inbox <- d.env:
		case <-ctx.Done():
		}
	})
	return nil
}

// cloneFrame gives each group its own frame so metadata edits by one
// handler stay invisible to the others.
func cloneFrame(f *xpush.Frame) *xpush.Frame {
	cp := *f
	if f.Metadata != nil {
		cp.Metadata = make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
