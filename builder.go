package xpush

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

const (
	// DefaultRequestTimeout bounds requests that carry no timeout.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultGroup is the consumer group responders read their target
	// through. Each pusher reads its responses through a private group
	// derived from it.
	DefaultGroup = "xpush"
)

// PusherBuilder constructs Pusher instances.
type PusherBuilder struct {
	transportName string
	transportCfg  map[string]any
	transportInst Transport

	codecName string
	codecInst Codec

	middlewares    []Middleware
	observers      []Observer
	logger         *xlog.Logger
	clock          xclock.Clock
	ackTimeout     time.Duration
	origin         string
	group          string
	defaultTimeout time.Duration

	poolWorkers int
	poolBuffer  int
}

// NewPusherBuilder returns a new builder with sensible defaults.
func NewPusherBuilder() *PusherBuilder {
	return &PusherBuilder{
		codecName:      "json",
		ackTimeout:     5 * time.Second,
		group:          DefaultGroup,
		defaultTimeout: DefaultRequestTimeout,
	}
}

// WithTransport selects a registered transport by name.
func (pb *PusherBuilder) WithTransport(name string, cfg map[string]any) *PusherBuilder {
	pb.transportName = name
	pb.transportCfg = cfg
	return pb
}

// WithTransportInstance accepts a ready Transport, e.g. one shared with a Responder.
func (pb *PusherBuilder) WithTransportInstance(t Transport) *PusherBuilder {
	pb.transportInst = t
	return pb
}

func (pb *PusherBuilder) WithCodec(name string) *PusherBuilder {
	pb.codecName = name
	return pb
}

func (pb *PusherBuilder) WithCodecInstance(c Codec) *PusherBuilder {
	pb.codecInst = c
	return pb
}

func (pb *PusherBuilder) WithMiddleware(mw ...Middleware) *PusherBuilder {
	pb.middlewares = append(pb.middlewares, mw...)
	return pb
}

func (pb *PusherBuilder) WithObserver(obs ...Observer) *PusherBuilder {
	for _, o := range obs {
		if o != nil {
			pb.observers = append(pb.observers, o)
		}
	}
	return pb
}

// WithObserverPool dispatches observer notices on workers goroutines.
// Without a pool observers are called inline.
func (pb *PusherBuilder) WithObserverPool(workers, bufferSize int) *PusherBuilder {
	pb.poolWorkers = workers
	pb.poolBuffer = bufferSize
	return pb
}

func (pb *PusherBuilder) WithLogger(l *xlog.Logger) *PusherBuilder {
	pb.logger = l
	return pb
}

func (pb *PusherBuilder) WithClock(c xclock.Clock) *PusherBuilder {
	pb.clock = c
	return pb
}

func (pb *PusherBuilder) WithAckTimeout(d time.Duration) *PusherBuilder {
	if d > 0 {
		pb.ackTimeout = d
	}
	return pb
}

// WithOrigin names this client. Responses to its requests are sent to the
// topic of the same name.
func (pb *PusherBuilder) WithOrigin(origin string) *PusherBuilder {
	pb.origin = origin
	return pb
}

func (pb *PusherBuilder) WithGroup(group string) *PusherBuilder {
	if group != "" {
		pb.group = group
	}
	return pb
}

// WithDefaultTimeout sets the timeout of requests that carry none.
// Zero waits until the caller's context ends.
func (pb *PusherBuilder) WithDefaultTimeout(d time.Duration) *PusherBuilder {
	if d >= 0 {
		pb.defaultTimeout = d
	}
	return pb
}

func (pb *PusherBuilder) Build() (*Pusher, error) {
	var tr Transport
	var err error

	switch {
	case pb.transportInst != nil:
		tr = pb.transportInst
	case pb.transportName != "":
		tr, err = NewTransport(pb.transportName, pb.transportCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoTransportConfigured
	}

	cd := pb.codecInst
	if cd == nil {
		if cd, err = NewCodec(pb.codecName); err != nil {
			return nil, err
		}
	}

	clk := pb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := pb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	origin, ephemeral := pb.origin, pb.origin == ""
	if ephemeral {
		origin = DefaultOrigin()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pusher{
		transport:      tr,
		codec:          cd,
		clock:          clk,
		logger:         lg.With(xlog.Str("origin", origin)),
		middlewares:    pb.middlewares,
		ackTimeout:     pb.ackTimeout,
		origin:         origin,
		group:          pb.group,
		inboundGroup:   pb.group + "-" + uuid.NewString(),
		ephemeral:      ephemeral,
		defaultTimeout: pb.defaultTimeout,
		pending:        newPendingRegistry(),
		cancel:         cancel,
		metrics:        &pusherMetrics{},
	}
	p.baseCtx = InjectAll(ctx, cd, p.logger, clk)
	if pb.poolWorkers > 0 {
		p.observerPool = NewObserverPool(ctx, pb.poolWorkers, pb.poolBuffer)
	}

	hasLoggingObserver := false
	for _, o := range pb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		p.AddObserver(LoggingObserver{Logger: p.logger})
	}
	for _, o := range pb.observers {
		p.AddObserver(o)
	}
	return p, nil
}

// DefaultOrigin returns a fresh client name of the form pusher-<8 hex>.
func DefaultOrigin() string {
	return "pusher-" + uuid.NewString()[:8]
}

// New constructs a Pusher via the builder and returns a close func for convenience.
func New(init func(pb *PusherBuilder)) (*Pusher, func() error, error) {
	pb := NewPusherBuilder()
	if init != nil {
		init(pb)
	}
	p, err := pb.Build()
	if err != nil {
		return nil, nil, err
	}
	return p, func() error { return p.Close(context.Background()) }, nil
}
