package xpush

import (
	"encoding/json"
	"fmt"
	"time"
)

// Response answers exactly one Request, identified by ID. Output and Errors
// are independent: a response may carry partial output alongside errors.
type Response struct {
	ID     string
	Target string
	Origin string
	Output any
	Errors []string

	ts time.Time
}

// NewResponse builds a response to request id. The error list is always a
// fresh slice owned by the response.
func NewResponse(id string, output any, errs ...string) *Response {
	e := make([]string, len(errs))
	copy(e, errs)
	return &Response{ID: id, Output: output, Errors: e, ts: time.Now()}
}

// Reply builds the response to req: addressed to the request origin, from the
// request target.
func Reply(req *Request, output any, errs ...string) *Response {
	r := NewResponse(req.ID, output, errs...)
	r.Target = req.Origin
	r.Origin = req.Target
	return r
}

// IsError reports whether the response carries any error.
func (r *Response) IsError() bool { return len(r.Errors) != 0 }

func (r *Response) Kind() Kind                 { return KindResponse }
func (r *Response) MessageID() string          { return r.ID }
func (r *Response) Timestamp() time.Time       { return r.ts }
func (r *Response) Serialize() ([]byte, error) { return json.Marshal(r) }

// Equal compares every wire field; Output is compared by value.
func (r *Response) Equal(o *Response) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.ID != o.ID || r.Target != o.Target || r.Origin != o.Origin || len(r.Errors) != len(o.Errors) {
		return false
	}
	for i := range r.Errors {
		if r.Errors[i] != o.Errors[i] {
			return false
		}
	}
	return jsonEqual(r.Output, o.Output)
}

type responseBody struct {
	Output any      `json:"output"`
	Errors []string `json:"errors"`
}

func (r *Response) MarshalJSON() ([]byte, error) {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	return json.Marshal(struct {
		ID        *string      `json:"id"`
		Type      Kind         `json:"type"`
		Timestamp *float64     `json:"timestamp,omitempty"`
		Target    *string      `json:"target"`
		Origin    *string      `json:"origin"`
		Response  responseBody `json:"response"`
	}{
		ID:        nullable(r.ID),
		Type:      KindResponse,
		Timestamp: encodeTimestamp(r.ts),
		Target:    nullable(r.Target),
		Origin:    nullable(r.Origin),
		Response:  responseBody{Output: r.Output, Errors: errs},
	})
}

// BuildResponse constructs a Response from a serialized message.
func BuildResponse(data []byte) (*Response, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return buildResponse(env)
}

// BuildResponseMap constructs a Response from a decoded mapping.
func BuildResponseMap(m map[string]any) (*Response, error) {
	env, err := ParseMap(m)
	if err != nil {
		return nil, err
	}
	return buildResponse(env)
}

func buildResponse(env *Envelope) (*Response, error) {
	if env.Kind != KindResponse {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("expected %q, got %q", KindResponse, env.Kind)}
	}
	body, err := env.body()
	if err != nil {
		return nil, err
	}
	rawOutput, ok := body["output"]
	if !ok {
		return nil, missingField("response.output")
	}
	rawErrors, ok := body["errors"]
	if !ok {
		return nil, missingField("response.errors")
	}

	resp := &Response{ID: env.ID, ts: env.Timestamp}
	if err := json.Unmarshal(rawOutput, &resp.Output); err != nil {
		return nil, invalidField("response.output", err)
	}
	if resp.Errors, err = decodeErrors(rawErrors); err != nil {
		return nil, err
	}
	if resp.Target, err = decodeNullableString(env.Fields, "target"); err != nil {
		return nil, err
	}
	if resp.Origin, err = decodeNullableString(env.Fields, "origin"); err != nil {
		return nil, err
	}
	return resp, nil
}

// decodeErrors accepts strings and, for foreign producers, any other JSON
// value, kept as its JSON text. null decodes to an empty list.
func decodeErrors(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, invalidField("response.errors", err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(item))
	}
	return out, nil
}
