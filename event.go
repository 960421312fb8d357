package xpush

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EventData is the typed payload of one event kind. Attrs derives the generic
// attribute mapping used on the wire; absent attributes are left out.
type EventData interface {
	EventType() string
	Attrs() map[string]any
}

// EventFactory decodes the kind-specific attributes of an event body.
// fields holds every body key except type, target and origin.
type EventFactory func(fields map[string]json.RawMessage) (EventData, error)

var (
	eventKindsMu sync.RWMutex
	eventKinds   = map[string]EventFactory{}
)

// RegisterEventKind makes a typed event kind available to Build and
// NewEventFromAttrs. name is the short kind tag, e.g. "SensorDataChangeEvent".
func RegisterEventKind(name string, factory EventFactory) error {
	if name == "" {
		return errors.New("event kind name must not be empty")
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("event kind %q must not be qualified", name)
	}
	if factory == nil {
		return errors.New("event kind factory must not be nil")
	}
	eventKindsMu.Lock()
	eventKinds[name] = factory
	eventKindsMu.Unlock()
	return nil
}

func mustRegisterEventKind(name string, factory EventFactory) {
	if err := RegisterEventKind(name, factory); err != nil {
		panic(fmt.Errorf("xpush: register event kind: %w", err))
	}
}

// lookupEventKind resolves a kind tag, accepting qualified names such as
// "platypush.message.event.bluetooth.BluetoothDeviceConnectedEvent".
func lookupEventKind(name string) (EventFactory, bool) {
	eventKindsMu.RLock()
	f, ok := eventKinds[shortKind(name)]
	eventKindsMu.RUnlock()
	return f, ok
}

func shortKind(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// GenericEvent carries a kind with no registered schema. Its attributes
// round-trip unchanged.
type GenericEvent struct {
	Type   string
	Fields map[string]any
}

func (g GenericEvent) EventType() string { return g.Type }

func (g GenericEvent) Attrs() map[string]any {
	out := make(map[string]any, len(g.Fields))
	for k, v := range g.Fields {
		out[k] = v
	}
	return out
}

// Event is a fact broadcast on the bus. ID is usually empty: events expect no reply.
type Event struct {
	ID     string
	Target string
	Origin string
	Data   EventData

	ts time.Time
}

// Option sets message header fields at construction time.
type Option func(*header)

type header struct {
	id     string
	origin string
	ts     time.Time
}

func WithID(id string) Option { return func(h *header) { h.id = id } }

func WithOrigin(origin string) Option { return func(h *header) { h.origin = origin } }

// WithTimestamp overrides the creation time (defaults to time.Now).
func WithTimestamp(t time.Time) Option { return func(h *header) { h.ts = t } }

func applyOptions(opts []Option) header {
	h := header{ts: time.Now()}
	for _, o := range opts {
		if o != nil {
			o(&h)
		}
	}
	return h
}

// NewEvent builds an event of data's kind addressed to target.
func NewEvent(target string, data EventData, opts ...Option) *Event {
	h := applyOptions(opts)
	return &Event{ID: h.id, Target: target, Origin: h.origin, Data: data, ts: h.ts}
}

// NewEventFromAttrs builds an event from a loose attribute mapping, decoding it
// through the kind's schema when one is registered.
func NewEventFromAttrs(target, kind string, attrs map[string]any, opts ...Option) (*Event, error) {
	if kind == "" {
		return nil, missingField("event.type")
	}
	fields := make(map[string]json.RawMessage, len(attrs))
	for k, v := range attrs {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, invalidField(k, err)
		}
		fields[k] = raw
	}
	data, err := decodeEventData(kind, fields)
	if err != nil {
		return nil, err
	}
	return NewEvent(target, data, opts...), nil
}

func decodeEventData(kind string, fields map[string]json.RawMessage) (EventData, error) {
	if factory, ok := lookupEventKind(kind); ok {
		data, err := factory(fields)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	generic := GenericEvent{Type: kind, Fields: make(map[string]any, len(fields))}
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, invalidField(k, err)
		}
		generic.Fields[k] = v
	}
	return generic, nil
}

func (e *Event) Kind() Kind                 { return KindEvent }
func (e *Event) MessageID() string          { return e.ID }
func (e *Event) Timestamp() time.Time       { return e.ts }
func (e *Event) Serialize() ([]byte, error) { return json.Marshal(e) }

// Type returns the kind tag, or "" when the event has no payload.
func (e *Event) Type() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.EventType()
}

// Attrs returns a fresh copy of the attribute mapping.
func (e *Event) Attrs() map[string]any {
	if e.Data == nil {
		return map[string]any{}
	}
	attrs := e.Data.Attrs()
	if attrs == nil {
		return map[string]any{}
	}
	return attrs
}

// Equal reports value equality of type, target, origin and attributes.
func (e *Event) Equal(o *Event) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Type() == o.Type() &&
		e.Target == o.Target &&
		e.Origin == o.Origin &&
		jsonEqual(e.Attrs(), o.Attrs())
}

func (e *Event) MarshalJSON() ([]byte, error) {
	if e.Data == nil {
		return nil, missingField("event.type")
	}
	body := e.Attrs()
	body["type"] = e.Data.EventType()
	body["target"] = nullable(e.Target)
	if e.Origin != "" {
		body["origin"] = e.Origin
	}
	return json.Marshal(struct {
		ID        *string        `json:"id"`
		Type      Kind           `json:"type"`
		Timestamp *float64       `json:"timestamp,omitempty"`
		Event     map[string]any `json:"event"`
	}{
		ID:        nullable(e.ID),
		Type:      KindEvent,
		Timestamp: encodeTimestamp(e.ts),
		Event:     body,
	})
}

// BuildEvent constructs an Event from a serialized message.
func BuildEvent(data []byte) (*Event, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return buildEvent(env)
}

func buildEvent(env *Envelope) (*Event, error) {
	if env.Kind != KindEvent {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("expected %q, got %q", KindEvent, env.Kind)}
	}
	body, err := env.body()
	if err != nil {
		return nil, err
	}
	kind, err := decodeNullableString(body, "type")
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return nil, missingField("event.type")
	}
	target, err := decodeNullableString(body, "target")
	if err != nil {
		return nil, err
	}
	origin, err := decodeNullableString(body, "origin")
	if err != nil {
		return nil, err
	}
	delete(body, "type")
	delete(body, "target")
	delete(body, "origin")

	data, err := decodeEventData(kind, body)
	if err != nil {
		return nil, err
	}
	return &Event{ID: env.ID, Target: target, Origin: origin, Data: data, ts: env.Timestamp}, nil
}
