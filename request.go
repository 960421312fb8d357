package xpush

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request invokes Action (plugin.method) on Target. ID correlates the Response;
// Origin is where the Response is sent back to.
type Request struct {
	ID      string
	Target  string
	Origin  string
	Action  string
	Args    map[string]any
	Timeout time.Duration // zero means unset

	ts time.Time
}

// NewRequestID returns a fresh correlation id.
func NewRequestID() string { return uuid.NewString() }

// NewRequest builds a request with a freshly generated id unless WithID is given.
// args is copied.
func NewRequest(target, action string, args map[string]any, opts ...Option) *Request {
	h := applyOptions(opts)
	if h.id == "" {
		h.id = NewRequestID()
	}
	cp := make(map[string]any, len(args))
	for k, v := range args {
		cp[k] = v
	}
	return &Request{ID: h.id, Target: target, Origin: h.origin, Action: action, Args: cp, ts: h.ts}
}

func (r *Request) Kind() Kind                 { return KindRequest }
func (r *Request) MessageID() string          { return r.ID }
func (r *Request) Timestamp() time.Time       { return r.ts }
func (r *Request) Serialize() ([]byte, error) { return json.Marshal(r) }

type requestBody struct {
	Target  string         `json:"target"`
	Origin  *string        `json:"origin,omitempty"`
	Action  string         `json:"action"`
	Args    map[string]any `json:"args"`
	Timeout *float64       `json:"timeout"`
}

func (r *Request) MarshalJSON() ([]byte, error) {
	args := r.Args
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal(struct {
		ID        *string     `json:"id"`
		Type      Kind        `json:"type"`
		Timestamp *float64    `json:"timestamp,omitempty"`
		Request   requestBody `json:"request"`
	}{
		ID:        nullable(r.ID),
		Type:      KindRequest,
		Timestamp: encodeTimestamp(r.ts),
		Request: requestBody{
			Target:  r.Target,
			Origin:  nullable(r.Origin),
			Action:  r.Action,
			Args:    args,
			Timeout: secondsOf(r.Timeout),
		},
	})
}

// BuildRequest constructs a Request from a serialized message.
func BuildRequest(data []byte) (*Request, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return buildRequest(env)
}

func buildRequest(env *Envelope) (*Request, error) {
	if env.Kind != KindRequest {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("expected %q, got %q", KindRequest, env.Kind)}
	}
	body, err := env.body()
	if err != nil {
		return nil, err
	}
	req := &Request{ID: env.ID, ts: env.Timestamp}
	if _, ok := body["target"]; !ok {
		return nil, missingField("request.target")
	}
	if req.Target, err = decodeNullableString(body, "target"); err != nil {
		return nil, err
	}
	if _, ok := body["action"]; !ok {
		return nil, missingField("request.action")
	}
	if req.Action, err = decodeNullableString(body, "action"); err != nil {
		return nil, err
	}
	if req.Origin, err = decodeNullableString(body, "origin"); err != nil {
		return nil, err
	}

	req.Args = map[string]any{}
	if raw, ok := body["args"]; ok {
		var args map[string]any
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, invalidField("request.args", err)
		}
		if args != nil {
			req.Args = args
		}
	}
	if raw, ok := body["timeout"]; ok {
		var secs *float64
		if err := json.Unmarshal(raw, &secs); err != nil {
			return nil, invalidField("request.timeout", err)
		}
		if secs != nil && *secs > 0 {
			req.Timeout = time.Duration(*secs * float64(time.Second))
		}
	}
	return req, nil
}
