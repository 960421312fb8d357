package xpush

import (
	"time"

	"github.com/trickstertwo/xlog"
)

// BusEventType enumerates lifecycle notices delivered to observers.
type BusEventType string

const (
	EventPublishStart    BusEventType = "publish_start"
	EventPublishDone     BusEventType = "publish_done"
	EventConsumeStart    BusEventType = "consume_start"
	EventConsumeDone     BusEventType = "consume_done"
	EventAck             BusEventType = "ack"
	EventNack            BusEventType = "nack"
	EventError           BusEventType = "error"
	EventResponseMatched BusEventType = "response_matched"
	EventResponseDropped BusEventType = "response_dropped"
	EventRequestTimeout  BusEventType = "request_timeout"
)

// BusEvent carries telemetry for observers.
type BusEvent struct {
	Type      BusEventType
	Topic     string
	Group     string
	MessageID string
	Kind      Kind
	Name      string // event kind or action
	Duration  time.Duration
	Err       error
}

// Observer receives lifecycle notices. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e BusEvent)
}

// ObserverFunc lets a plain function satisfy Observer.
type ObserverFunc func(e BusEvent)

func (f ObserverFunc) OnEvent(e BusEvent) { f(e) }

// LoggingObserver emits lifecycle notices via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e BusEvent) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("topic", e.Topic),
		xlog.Str("message_id", e.MessageID),
		xlog.Str("kind", string(e.Kind)),
		xlog.Str("name", e.Name),
	)
	if e.Group != "" {
		ev = ev.With(xlog.Str("group", e.Group))
	}
	if e.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", e.Duration))
	}
	switch e.Type {
	case EventError, EventNack, EventRequestTimeout:
		ev.Warn().Err(e.Err).Msg("xpush event")
	default:
		ev.Debug().Msg("xpush event")
	}
}
