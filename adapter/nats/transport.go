package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/trickstertwo/xpush"
)

// Frame fields travel as message headers; the payload is the message data.
const (
	headerID         = "Xpush-Id"
	headerKind       = "Xpush-Kind"
	headerProducedAt = "Xpush-Produced-At"
	headerMetaPrefix = "Xpush-Meta-"
	headerError      = "Xpush-Error"
)

var errTransportClosed = errors.New("nats: transport closed")

type transport struct {
	cfg  Config
	conn *gonats.Conn

	closed atomic.Bool

	published     atomic.Uint64
	consumed      atomic.Uint64
	dropped       atomic.Uint64
	nacked        atomic.Uint64
	publishErrors atomic.Uint64
}

// NewTransport validates cfg and connects to the server.
func NewTransport(cfg Config) (xpush.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := gonats.Connect(cfg.URL, cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &transport{cfg: cfg, conn: conn}, nil
}

// NewTransportFromConn wraps an existing connection. Close closes conn.
func NewTransportFromConn(conn *gonats.Conn, cfg Config) xpush.Transport {
	return &transport{cfg: cfg, conn: conn}
}

func (t *transport) subject(topic string) string { return t.cfg.SubjectPrefix + topic }

// Publish sends each frame as one message on the target subject and flushes.
func (t *transport) Publish(ctx context.Context, topic string, frames ...*xpush.Frame) error {
	if t.closed.Load() || t.conn.IsClosed() {
		return errTransportClosed
	}
	if len(frames) == 0 {
		return nil
	}
	subject := t.subject(topic)
	for _, f := range frames {
		if f == nil {
			continue
		}
		if err := t.conn.PublishMsg(encodeMsg(subject, f)); err != nil {
			t.publishErrors.Add(1)
			return fmt.Errorf("nats publish: %w", err)
		}
		t.published.Add(1)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		t.publishErrors.Add(1)
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Subscribe joins the queue group on the target subject. Members of one
// group share the frames; each group receives every frame.
func (t *transport) Subscribe(ctx context.Context, topic, group string, handler func(xpush.Delivery)) (xpush.Subscription, error) {
	if t.closed.Load() || t.conn.IsClosed() {
		return nil, errTransportClosed
	}
	workCh := make(chan *gonats.Msg, t.cfg.BufferSize)

	sub, err := t.conn.QueueSubscribe(t.subject(topic), group, func(m *gonats.Msg) {
		select {
		case workCh <- m:
		default:
			t.dropped.Add(1)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats queue subscribe: %w", err)
	}

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	for i := 0; i < t.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-innerCtx.Done():
					return
				case m := <-workCh:
					t.consumed.Add(1)
					handler(&delivery{t: t, topic: topic, frame: decodeMsg(m)})
				}
			}
		}()
	}

	var once sync.Once
	return subscriptionFunc(func() error {
		var err error
		once.Do(func() {
			err = sub.Unsubscribe()
			cancel()
			wg.Wait()
		})
		return err
	}), nil
}

// Close drains and closes the connection. It is idempotent.
func (t *transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	if err := t.conn.Drain(); err != nil && !errors.Is(err, gonats.ErrConnectionClosed) {
		t.conn.Close()
		return err
	}
	return nil
}

// Stats is a snapshot of transport telemetry.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Dropped       uint64
	Nacked        uint64
	PublishErrors uint64
}

// StatsOf returns the telemetry of a transport built by this package.
func StatsOf(tr xpush.Transport) (Stats, bool) {
	t, ok := tr.(*transport)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Published:     t.published.Load(),
		Consumed:      t.consumed.Load(),
		Dropped:       t.dropped.Load(),
		Nacked:        t.nacked.Load(),
		PublishErrors: t.publishErrors.Load(),
	}, true
}

type subscriptionFunc func() error

func (f subscriptionFunc) Close() error { return f() }

// delivery is at-most-once: core NATS keeps no record to acknowledge.
type delivery struct {
	t     *transport
	topic string
	frame *xpush.Frame
}

func (d *delivery) Frame() *xpush.Frame { return d.frame }

func (d *delivery) Ack(context.Context) error { return nil }

// Nack forwards the frame to the dead-letter subject when one is configured.
func (d *delivery) Nack(ctx context.Context, reason error) error {
	d.t.nacked.Add(1)
	if d.t.cfg.DeadLetter == "" || d.t.conn.IsClosed() {
		return nil
	}
	m := encodeMsg(d.t.cfg.DeadLetter, d.frame)
	m.Header.Set(headerError, fmt.Sprintf("%v", reason))
	m.Header.Set(headerMetaPrefix+"orig-topic", d.topic)
	if err := d.t.conn.PublishMsg(m); err != nil {
		return err
	}
	return d.t.conn.FlushWithContext(ctx)
}

func encodeMsg(subject string, f *xpush.Frame) *gonats.Msg {
	m := gonats.NewMsg(subject)
	m.Data = f.Payload
	if f.ID != "" {
		m.Header.Set(headerID, f.ID)
	}
	m.Header.Set(headerKind, string(f.Kind))
	if !f.ProducedAt.IsZero() {
		m.Header.Set(headerProducedAt, strconv.FormatInt(f.ProducedAt.UnixNano(), 10))
	}
	for k, v := range f.Metadata {
		m.Header.Set(headerMetaPrefix+k, v)
	}
	return m
}

func decodeMsg(m *gonats.Msg) *xpush.Frame {
	f := &xpush.Frame{Payload: m.Data, Metadata: make(map[string]string, 4)}
	if m.Header == nil {
		return f
	}
	f.ID = m.Header.Get(headerID)
	f.Kind = xpush.Kind(m.Header.Get(headerKind))
	if ns, err := strconv.ParseInt(m.Header.Get(headerProducedAt), 10, 64); err == nil && ns > 0 {
		f.ProducedAt = time.Unix(0, ns)
	}
	for k, vals := range m.Header {
		if len(vals) == 0 || !strings.HasPrefix(k, headerMetaPrefix) {
			continue
		}
		f.Metadata[strings.ToLower(strings.TrimPrefix(k, headerMetaPrefix))] = vals[0]
	}
	return f
}
