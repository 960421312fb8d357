package xpush

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Pusher sends events and requests to named targets over a Transport and
// correlates responses by request id. It is safe for concurrent use; many
// requests may be in flight over one connection at once.
type Pusher struct {
	transport      Transport
	codec          Codec
	clock          xclock.Clock
	logger         *xlog.Logger
	middlewares    []Middleware
	ackTimeout     time.Duration
	origin         string
	group          string
	defaultTimeout time.Duration

	pending *pendingRegistry

	// inboundGroup is private to this instance so that every pusher sharing
	// an origin sees every response and keeps only its own.
	inboundGroup string
	// ephemeral marks a generated origin whose topic nobody reuses.
	ephemeral    bool
	inboundMu    sync.Mutex
	inbound      Subscription

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	baseCtx   context.Context
	cancel    context.CancelFunc
	metrics   *pusherMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

type pusherMetrics struct {
	eventCount   atomic.Uint64
	requestCount atomic.Uint64
	replyCount   atomic.Uint64
	matchedCount atomic.Uint64
	droppedCount atomic.Uint64
	timeoutCount atomic.Uint64
	consumeCount atomic.Uint64
	ackCount     atomic.Uint64
	nackCount    atomic.Uint64
	errorCount   atomic.Uint64
	roundTripNs  atomic.Int64
}

// Origin is the name this pusher stamps on outgoing messages and the topic
// it receives responses on.
func (p *Pusher) Origin() string { return p.origin }

func (p *Pusher) Codec() Codec { return p.codec }

func (p *Pusher) Logger() *xlog.Logger { return p.logger }

func (p *Pusher) Clock() xclock.Clock { return p.clock }

// DefaultTimeout applies to requests that carry no timeout of their own.
func (p *Pusher) DefaultTimeout() time.Duration { return p.defaultTimeout }

// Submit serializes msg and hands it to the transport for target. It does not
// wait for any reply.
func (p *Pusher) Submit(ctx context.Context, target string, msg Message) error {
	if p.closed.Load() {
		return ErrPusherClosed
	}
	if target == "" {
		return ErrInvalidTarget
	}
	if msg == nil {
		return &ValidationError{Field: "message", Reason: "must not be nil"}
	}
	f, err := EncodeFrame(p.codec, target, msg, p.clock.Now())
	if err != nil {
		p.metrics.errorCount.Add(1)
		return err
	}
	return p.publish(ctx, target, f)
}

// SendEvent broadcasts an event of data's kind to target and returns at once.
func (p *Pusher) SendEvent(ctx context.Context, target string, data EventData) error {
	if data == nil {
		return missingField("event.type")
	}
	return p.Submit(ctx, target, NewEvent(target, data, p.stamp()...))
}

// SendEventAttrs is SendEvent for a kind given by name and a loose attribute
// mapping, as produced by the command line.
func (p *Pusher) SendEventAttrs(ctx context.Context, target, kind string, attrs map[string]any) error {
	ev, err := NewEventFromAttrs(target, kind, attrs, p.stamp()...)
	if err != nil {
		return err
	}
	return p.Submit(ctx, target, ev)
}

// SendEvents submits several events to target in one transport call.
// Events without an origin get this pusher's.
func (p *Pusher) SendEvents(ctx context.Context, target string, events ...*Event) error {
	if p.closed.Load() {
		return ErrPusherClosed
	}
	if len(events) == 0 {
		return nil
	}
	if target == "" {
		return ErrInvalidTarget
	}
	for _, ev := range events {
		if ev == nil || ev.Data == nil {
			return missingField("event.type")
		}
	}

	now := p.clock.Now()
	frames := make([]*Frame, len(events))
	for i, ev := range events {
		if ev.Origin == "" {
			cp := *ev
			cp.Origin = p.origin
			ev = &cp
		}
		f, err := EncodeFrame(p.codec, target, ev, now)
		if err != nil {
			p.metrics.errorCount.Add(1)
			return err
		}
		frames[i] = f
	}
	return p.publish(ctx, target, frames...)
}

// SendRequest invokes action on target and blocks until the correlated
// Response arrives, the timeout expires, or ctx ends. A zero timeout falls
// back to DefaultTimeout. The Response is returned as received: a response
// carrying errors is not a Go error.
func (p *Pusher) SendRequest(ctx context.Context, target, action string, timeout time.Duration, args map[string]any) (*Response, error) {
	req := NewRequest(target, action, args, p.stamp()...)
	req.Timeout = timeout
	return p.Do(ctx, req)
}

// Do submits a prepared request and waits for its response. The request id
// is registered as pending before anything is sent.
func (p *Pusher) Do(ctx context.Context, req *Request) (*Response, error) {
	if p.closed.Load() {
		return nil, ErrPusherClosed
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	if req.Origin == "" || req.Timeout != timeout {
		cp := *req
		if cp.Origin == "" {
			cp.Origin = p.origin
		}
		cp.Timeout = timeout
		req = &cp
	}

	if err := p.ensureInbound(); err != nil {
		return nil, err
	}
	fut, err := p.pending.register(req.ID)
	if err != nil {
		return nil, err
	}
	defer p.pending.remove(req.ID, fut)

	f, err := EncodeFrame(p.codec, req.Target, req, p.clock.Now())
	if err != nil {
		p.metrics.errorCount.Add(1)
		return nil, err
	}

	// The timeout covers the send as well as the wait, so a backend that
	// blocks on publish cannot hold the caller past it.
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := p.clock.Now()
	if err := p.publish(wctx, req.Target, f); err != nil {
		if ctx.Err() == nil && wctx.Err() != nil {
			return nil, p.expire(req, timeout, start)
		}
		return nil, err
	}

	select {
	case <-fut.Done():
		resp, err := fut.result()
		if err == nil {
			p.recordRoundTrip(p.clock.Since(start).Nanoseconds())
		}
		return resp, err
	case <-wctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, p.expire(req, timeout, start)
	}
}

func (p *Pusher) expire(req *Request, timeout time.Duration, start time.Time) error {
	p.metrics.timeoutCount.Add(1)
	err := &RequestTimeoutError{ID: req.ID, Target: req.Target, Timeout: timeout}
	p.notifyAsync(BusEvent{
		Type:      EventRequestTimeout,
		Topic:     req.Target,
		MessageID: req.ID,
		Kind:      KindRequest,
		Name:      req.Action,
		Duration:  p.clock.Since(start),
		Err:       err,
	})
	return err
}

func validateRequest(req *Request) error {
	switch {
	case req == nil:
		return &InvalidRequestError{Reason: "nil request"}
	case req.ID == "":
		return &InvalidRequestError{Reason: "request has no id"}
	case req.Target == "":
		return &InvalidRequestError{ID: req.ID, Reason: "request has no target"}
	case req.Action == "":
		return &InvalidRequestError{ID: req.ID, Reason: "request has no action"}
	}
	return nil
}

func (p *Pusher) stamp() []Option {
	return []Option{WithOrigin(p.origin), WithTimestamp(p.clock.Now())}
}

func (p *Pusher) publish(ctx context.Context, topic string, frames ...*Frame) error {
	notice := BusEvent{Topic: topic, Kind: frames[0].Kind, MessageID: frames[0].ID, Name: frames[0].Meta(MetaName)}
	if len(frames) > 1 {
		notice.MessageID, notice.Name = "", "batch"
	}

	start := p.clock.Now()
	notice.Type = EventPublishStart
	p.notifyAsync(notice)

	err := p.transport.Publish(ctx, topic, frames...)

	notice.Type = EventPublishDone
	notice.Duration = p.clock.Since(start)
	notice.Err = err
	p.notifyAsync(notice)

	if err != nil {
		p.metrics.errorCount.Add(1)
		return err
	}
	for _, f := range frames {
		switch f.Kind {
		case KindEvent:
			p.metrics.eventCount.Add(1)
		case KindRequest:
			p.metrics.requestCount.Add(1)
		case KindResponse:
			p.metrics.replyCount.Add(1)
		}
	}
	return nil
}

// ensureInbound subscribes to the origin topic on first use.
func (p *Pusher) ensureInbound() error {
	p.inboundMu.Lock()
	defer p.inboundMu.Unlock()
	if p.inbound != nil {
		return nil
	}
	sub, err := p.subscribe(p.origin, p.inboundGroup, KindFilter(KindResponse)(p.onResponse))
	if err != nil {
		return err
	}
	p.inbound = sub
	return nil
}

func (p *Pusher) onResponse(_ context.Context, f *Frame) error {
	msg, err := DecodeFrame(p.codec, f)
	if err != nil {
		p.metrics.errorCount.Add(1)
		p.logger.Warn().Str("topic", p.origin).Str("frame_id", f.ID).Err(err).Msg("xpush: undecodable inbound frame dropped")
		p.notifyAsync(BusEvent{Type: EventError, Topic: p.origin, MessageID: f.ID, Err: err})
		return nil
	}
	resp, ok := msg.(*Response)
	if !ok {
		return nil
	}
	notice := BusEvent{Topic: p.origin, MessageID: resp.ID, Kind: KindResponse}
	if p.pending.resolve(resp) {
		p.metrics.matchedCount.Add(1)
		notice.Type = EventResponseMatched
		p.notifyAsync(notice)
		return nil
	}
	p.metrics.droppedCount.Add(1)
	p.logger.Debug().Str("id", resp.ID).Str("origin", resp.Origin).Msg("xpush: response without pending request dropped")
	notice.Type = EventResponseDropped
	p.notifyAsync(notice)
	return nil
}

// subscribe wires h behind recovery and the configured middlewares.
func (p *Pusher) subscribe(topic, group string, h Handler) (Subscription, error) {
	if p.closed.Load() {
		return nil, ErrPusherClosed
	}
	base := RecoveryMiddleware()(h)
	wh := Chain(base, p.middlewares...)
	return p.transport.Subscribe(p.baseCtx, topic, group, p.consume(topic, group, wh))
}

// consume adapts a Handler to the transport delivery callback: lifecycle
// notices, metrics and ack/nack.
func (p *Pusher) consume(topic, group string, h Handler) func(Delivery) {
	return func(d Delivery) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Warn().Str("topic", topic).Msg("xpush: handler panic (recovered)")
				p.metrics.errorCount.Add(1)
				_ = d.Nack(context.Background(), ErrHandlerPanic)
			}
		}()

		f := d.Frame()
		if f == nil {
			p.ackWithTimeout(d, true, nil)
			return
		}
		p.metrics.consumeCount.Add(1)
		notice := BusEvent{Topic: topic, Group: group, MessageID: f.ID, Kind: f.Kind, Name: f.Meta(MetaName)}
		notice.Type = EventConsumeStart
		p.notifyAsync(notice)

		start := p.clock.Now()
		err := h(injectFrame(p.baseCtx, f), f)

		notice.Type = EventConsumeDone
		notice.Duration = p.clock.Since(start)
		notice.Err = err
		p.notifyAsync(notice)
		notice.Duration = 0

		if err == nil {
			p.metrics.ackCount.Add(1)
			p.ackWithTimeout(d, true, nil)
			notice.Type = EventAck
			p.notifyAsync(notice)
			return
		}
		p.metrics.nackCount.Add(1)
		p.ackWithTimeout(d, false, err)
		notice.Type = EventNack
		p.notifyAsync(notice)
	}
}

func (p *Pusher) ackWithTimeout(d Delivery, ack bool, reason error) {
	actx, cancel := context.Background(), func() {}
	if p.ackTimeout > 0 {
		actx, cancel = context.WithTimeout(actx, p.ackTimeout)
	}
	defer cancel()

	if ack {
		if err := d.Ack(actx); err != nil {
			p.metrics.errorCount.Add(1)
			p.notifyAsync(BusEvent{Type: EventError, Err: err})
			p.logger.Warn().Err(err).Msg("xpush: ack failed")
		}
		return
	}
	if err := d.Nack(actx, reason); err != nil {
		p.metrics.errorCount.Add(1)
		p.notifyAsync(BusEvent{Type: EventError, Err: err})
		p.logger.Warn().Err(err).Msg("xpush: nack failed")
	}
}

// GetMetrics returns a snapshot of pusher telemetry.
func (p *Pusher) GetMetrics() Metrics {
	m := Metrics{
		EventsSent:       p.metrics.eventCount.Load(),
		RequestsSent:     p.metrics.requestCount.Load(),
		ResponsesSent:    p.metrics.replyCount.Load(),
		ResponsesMatched: p.metrics.matchedCount.Load(),
		ResponsesDropped: p.metrics.droppedCount.Load(),
		Timeouts:         p.metrics.timeoutCount.Load(),
		Consumed:         p.metrics.consumeCount.Load(),
		Acked:            p.metrics.ackCount.Load(),
		Nacked:           p.metrics.nackCount.Load(),
		Errors:           p.metrics.errorCount.Load(),
		Pending:          p.pending.len(),
		AvgRoundTripMs:   float64(p.metrics.roundTripNs.Load()) / 1e6,
	}
	if p.observerPool != nil {
		m.EventsDropped = p.observerPool.Stats().Dropped
	}
	return m
}

// Health reports degraded when more than 5% of sent messages failed or timed out.
func (p *Pusher) Health(_ context.Context) HealthStatus {
	now := p.clock.Now()
	if p.closed.Load() {
		return HealthStatus{Status: StatusUnhealthy, Timestamp: now, Message: "pusher is closed"}
	}

	m := p.GetMetrics()
	status := StatusHealthy
	sent := m.EventsSent + m.RequestsSent + m.ResponsesSent
	if failed := m.Errors + m.Timeouts; failed > 0 && sent > 0 {
		if float64(failed)/float64(sent) > 0.05 {
			status = StatusDegraded
		}
	}
	return HealthStatus{Status: status, Metrics: m, Timestamp: now}
}

// Close fails every pending request with ErrPusherClosed, stops receiving,
// drains observers and closes the transport. It is idempotent.
func (p *Pusher) Close(ctx context.Context) error {
	var closeErr error

	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.pending.failAll(ErrPusherClosed)

		p.inboundMu.Lock()
		if p.inbound != nil {
			if err := p.inbound.Close(); err != nil {
				p.logger.Warn().Err(err).Msg("xpush: inbound subscription close failed")
				closeErr = err
			}
			p.inbound = nil
			p.releaseInbound(ctx)
		}
		p.inboundMu.Unlock()
		p.cancel()

		if p.observerPool != nil {
			if err := p.observerPool.Close(5 * time.Second); err != nil {
				p.logger.Warn().Err(err).Msg("xpush: observer pool shutdown timeout")
				closeErr = err
			}
		}
		if err := p.transport.Close(ctx); err != nil {
			p.logger.Error().Err(err).Msg("xpush: transport close failed")
			closeErr = err
		}
	})
	return closeErr
}

// releaseInbound drops the private response group and, for a generated
// origin, the response topic. Failures are logged only.
func (p *Pusher) releaseInbound(ctx context.Context) {
	if gr, ok := p.transport.(GroupReleaser); ok {
		if err := gr.ReleaseGroup(ctx, p.origin, p.inboundGroup); err != nil {
			p.logger.Warn().Str("group", p.inboundGroup).Err(err).Msg("xpush: response group release failed")
		}
	}
	if !p.ephemeral {
		return
	}
	if tr, ok := p.transport.(TopicReleaser); ok {
		if err := tr.ReleaseTopic(ctx, p.origin); err != nil {
			p.logger.Warn().Str("topic", p.origin).Err(err).Msg("xpush: response topic release failed")
		}
	}
}

// AddObserver registers an observer (thread-safe).
func (p *Pusher) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	p.observersMu.Lock()
	p.observers = append(p.observers, obs)
	p.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (p *Pusher) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	p.observersMu.Lock()
	defer p.observersMu.Unlock()
	for i, o := range p.observers {
		if o == obs {
			p.observers = append(p.observers[:i:i], p.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync hands e to the observer pool, or to the observers inline when
// no pool is configured.
func (p *Pusher) notifyAsync(e BusEvent) {
	if p.closed.Load() {
		return
	}
	p.observersMu.RLock()
	if len(p.observers) == 0 {
		p.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.observersMu.RUnlock()

	if p.observerPool != nil {
		p.observerPool.Notify(e, observers)
		return
	}
	for _, o := range observers {
		o.OnEvent(e)
	}
}

// recordRoundTrip keeps an exponential moving average of request round trips.
func (p *Pusher) recordRoundTrip(ns int64) {
	const alpha = 0.2
	current := p.metrics.roundTripNs.Load()
	if current == 0 {
		p.metrics.roundTripNs.Store(ns)
		return
	}
	p.metrics.roundTripNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
