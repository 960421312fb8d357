package xpush

import (
	"encoding/json"
	"time"
)

// Codec is the Strategy for encoding frame payloads on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the default and the protocol's native encoding.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

func isJSON(c Codec) bool { return c == nil || c.Name() == "json" }

// EncodeFrame serializes m with c into a Frame addressed to target.
// Non-JSON codecs receive the message as its generic mapping.
func EncodeFrame(c Codec, target string, m Message, producedAt time.Time) (*Frame, error) {
	data, err := m.Serialize()
	if err != nil {
		return nil, err
	}
	if !isJSON(c) {
		var generic map[string]any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, err
		}
		if data, err = c.Marshal(generic); err != nil {
			return nil, err
		}
	}

	meta := map[string]string{MetaTarget: target}
	if origin := messageOrigin(m); origin != "" {
		meta[MetaOrigin] = origin
	}
	if name := messageName(m); name != "" {
		meta[MetaName] = name
	}
	if c != nil {
		meta[MetaCodec] = c.Name()
	}
	return &Frame{
		ID:         m.MessageID(),
		Kind:       m.Kind(),
		Payload:    data,
		Metadata:   meta,
		ProducedAt: producedAt,
	}, nil
}

// DecodeFrame rebuilds the Message carried by f.
func DecodeFrame(c Codec, f *Frame) (Message, error) {
	if f == nil {
		return nil, &ParseError{Reason: "nil frame"}
	}
	if isJSON(c) {
		return Build(f.Payload)
	}
	var generic map[string]any
	if err := c.Unmarshal(f.Payload, &generic); err != nil {
		return nil, &ParseError{Reason: "codec " + c.Name(), Err: err}
	}
	return BuildMap(generic)
}
