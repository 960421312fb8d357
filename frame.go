package xpush

import "time"

// Frame is a serialized protocol message as carried by a Transport.
type Frame struct {
	ID         string            // message id; transports may assign a delivery id when empty
	Kind       Kind              // discriminator of the encoded message
	Payload    []byte            // codec-encoded Message
	Metadata   map[string]string // routing hints (see Meta* keys)
	ProducedAt time.Time         // production timestamp (from injected clock)
}

// Metadata keys stamped by EncodeFrame.
const (
	MetaTarget = "target"
	MetaOrigin = "origin"
	MetaName   = "name" // event kind or request action
	MetaCodec  = "codec"
)

// Meta returns the metadata value for key, or "".
func (f *Frame) Meta(key string) string {
	if f == nil || f.Metadata == nil {
		return ""
	}
	return f.Metadata[key]
}

func messageName(m Message) string {
	switch v := m.(type) {
	case *Event:
		return v.Type()
	case *Request:
		return v.Action
	}
	return ""
}

func messageOrigin(m Message) string {
	switch v := m.(type) {
	case *Event:
		return v.Origin
	case *Request:
		return v.Origin
	case *Response:
		return v.Origin
	}
	return ""
}
