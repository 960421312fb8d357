package redisstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/trickstertwo/xpush"
)

// delivery is one stream entry read by a reader.
type delivery struct {
	r       *reader
	entryID string
	frame   *xpush.Frame

	once   sync.Once
	ackErr error
}

func (d *delivery) Frame() *xpush.Frame { return d.frame }

// Ack runs XACK once, then XDEL when AutoDeleteOnAck is set. A failed XACK
// leaves the entry pending and is returned on every call.
func (d *delivery) Ack(ctx context.Context) error {
	d.once.Do(func() {
		t := d.r.t
		if d.ackErr = t.client.XAck(ctx, d.r.topic, d.r.group, d.entryID).Err(); d.ackErr != nil {
			return
		}
		t.stats.acked.Add(1)
		if t.cfg.AutoDeleteOnAck {
			_ = t.client.XDel(ctx, d.r.topic, d.entryID).Err()
		}
	})
	return d.ackErr
}

// Nack copies the entry to the DeadLetter stream, annotated with where it
// came from and why, and then acks it. With no DeadLetter configured the
// entry stays pending for reclaim.
func (d *delivery) Nack(ctx context.Context, reason error) error {
	t := d.r.t
	t.stats.nacked.Add(1)
	if t.cfg.DeadLetter == "" {
		return nil
	}
	values := frameValues(d.frame)
	values[fieldOrigTopic] = d.r.topic
	values[fieldOrigID] = d.entryID
	values[fieldError] = fmt.Sprint(reason)
	if err := t.client.XAdd(ctx, t.xaddArgs(t.cfg.DeadLetter, values)).Err(); err != nil {
		return fmt.Errorf("redisstream: dead letter %s: %w", t.cfg.DeadLetter, err)
	}
	return d.Ack(ctx)
}

// frameValues lays a frame out as stream entry fields. The payload is
// stored as raw bytes.
func frameValues(f *xpush.Frame) map[string]any {
	values := map[string]any{
		fieldKind:       string(f.Kind),
		fieldPayload:    f.Payload,
		fieldProducedAt: f.ProducedAt.UnixNano(),
	}
	if f.ID != "" {
		values[fieldID] = f.ID
	}
	for k, v := range f.Metadata {
		values[fieldMetaPrefix+k] = v
	}
	return values
}

// decodeFrame is the inverse of frameValues. Redis hands every value back
// as a string. A frame published without an id takes the entry id.
func decodeFrame(entryID string, values map[string]any) *xpush.Frame {
	f := &xpush.Frame{ID: entryID, Metadata: map[string]string{}}
	for field, v := range values {
		s := asString(v)
		switch {
		case field == fieldID:
			if s != "" {
				f.ID = s
			}
		case field == fieldKind:
			f.Kind = xpush.Kind(s)
		case field == fieldPayload:
			f.Payload = []byte(s)
		case field == fieldProducedAt:
			if ns, ok := toInt64(s); ok && ns > 0 {
				f.ProducedAt = time.Unix(0, ns)
			}
		case strings.HasPrefix(field, fieldMetaPrefix):
			f.Metadata[field[len(fieldMetaPrefix):]] = s
		}
	}
	return f
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}
