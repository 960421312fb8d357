package xpush

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the wire discriminator of a protocol message.
type Kind string

const (
	KindEvent    Kind = "event"
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

func (k Kind) valid() bool {
	switch k {
	case KindEvent, KindRequest, KindResponse:
		return true
	}
	return false
}

// Message is the common contract of Event, Request and Response.
// Messages are not mutated after construction; they are handed off, not shared.
type Message interface {
	Kind() Kind
	MessageID() string
	Timestamp() time.Time
	Serialize() ([]byte, error)
}

var (
	_ Message = (*Event)(nil)
	_ Message = (*Request)(nil)
	_ Message = (*Response)(nil)
)

// Envelope is a parsed, validated top-level message object whose variant
// payload has not been decoded yet.
type Envelope struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	Fields    map[string]json.RawMessage
}

// Body returns the variant payload (the "event", "request" or "response" key).
func (e *Envelope) Body() json.RawMessage { return e.Fields[string(e.Kind)] }

// Parse validates the top-level shape of a serialized message.
func Parse(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	if fields == nil {
		return nil, &ParseError{Reason: "message is not a JSON object"}
	}
	return parseFields(fields)
}

// ParseMap is Parse for an already decoded mapping. m is not modified.
func ParseMap(m map[string]any) (*Envelope, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, &ParseError{Reason: "mapping is not JSON encodable", Err: err}
	}
	return Parse(data)
}

func parseFields(fields map[string]json.RawMessage) (*Envelope, error) {
	rawType, ok := fields["type"]
	if !ok {
		return nil, &ParseError{Reason: `missing "type"`}
	}
	var kind Kind
	if err := json.Unmarshal(rawType, &kind); err != nil {
		return nil, &ParseError{Reason: `"type" must be a string`, Err: err}
	}
	if !kind.valid() {
		return nil, &ParseError{Reason: fmt.Sprintf("unknown message type %q", kind)}
	}
	if _, ok := fields[string(kind)]; !ok {
		return nil, missingField(string(kind))
	}

	id, err := decodeNullableString(fields, "id")
	if err != nil {
		return nil, err
	}
	ts, err := decodeTimestamp(fields)
	if err != nil {
		return nil, err
	}
	return &Envelope{ID: id, Kind: kind, Timestamp: ts, Fields: fields}, nil
}

// Build parses data and constructs the concrete message it describes.
func Build(data []byte) (Message, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return BuildEnvelope(env)
}

// BuildMap is Build for an already decoded mapping.
func BuildMap(m map[string]any) (Message, error) {
	env, err := ParseMap(m)
	if err != nil {
		return nil, err
	}
	return BuildEnvelope(env)
}

// BuildEnvelope dispatches construction on the envelope kind.
func BuildEnvelope(env *Envelope) (Message, error) {
	switch env.Kind {
	case KindEvent:
		return buildEvent(env)
	case KindRequest:
		return buildRequest(env)
	case KindResponse:
		return buildResponse(env)
	}
	return nil, &ParseError{Reason: fmt.Sprintf("unknown message type %q", env.Kind)}
}

// body decodes the variant payload as an object.
func (e *Envelope) body() (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(e.Body(), &m); err != nil {
		return nil, invalidField(string(e.Kind), err)
	}
	if m == nil {
		return nil, &ValidationError{Field: string(e.Kind), Reason: "must be an object"}
	}
	return m, nil
}

// Wire helpers.

// nullable maps the empty string to JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decodeNullableString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", nil
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalidField(key, err)
	}
	if s == nil {
		return "", nil
	}
	return *s, nil
}

func encodeTimestamp(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	f := float64(t.UnixNano()) / 1e9
	return &f
}

func decodeTimestamp(fields map[string]json.RawMessage) (time.Time, error) {
	raw, ok := fields["timestamp"]
	if !ok {
		return time.Time{}, nil
	}
	var f *float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return time.Time{}, invalidField("timestamp", err)
	}
	if f == nil {
		return time.Time{}, nil
	}
	return time.Unix(0, int64(*f*1e9)), nil
}

func secondsOf(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	s := d.Seconds()
	return &s
}

// jsonEqual compares two values by their JSON encoding.
func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}
