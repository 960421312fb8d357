package xpush

import (
	"bytes"
	"encoding/json"
	"slices"
)

type attrState uint8

const (
	attrAbsent attrState = iota
	attrNull
	attrSet
)

// Attr is an optional event attribute. The zero value is absent (omitted on
// the wire); Null serializes as JSON null; Some carries a value.
type Attr[T any] struct {
	value T
	state attrState
}

// Some returns an attribute holding v.
func Some[T any](v T) Attr[T] { return Attr[T]{value: v, state: attrSet} }

// Null returns an attribute that is present on the wire as null.
func Null[T any]() Attr[T] { return Attr[T]{state: attrNull} }

// Get returns the value and whether one is set.
func (a Attr[T]) Get() (T, bool) { return a.value, a.state == attrSet }

// Or returns the value, or def when the attribute is absent or null.
func (a Attr[T]) Or(def T) T {
	if a.state == attrSet {
		return a.value
	}
	return def
}

func (a Attr[T]) IsSet() bool    { return a.state == attrSet }
func (a Attr[T]) IsNull() bool   { return a.state == attrNull }
func (a Attr[T]) IsAbsent() bool { return a.state == attrAbsent }

// put stores the attribute into m under key unless it is absent.
func (a Attr[T]) put(m map[string]any, key string) {
	switch a.state {
	case attrSet:
		m[key] = a.value
	case attrNull:
		m[key] = nil
	}
}

var jsonNull = []byte("null")

// decodeAttr reads key from fields. A missing key yields an absent attribute
// and a JSON null yields Null.
func decodeAttr[T any](fields map[string]json.RawMessage, key string) (Attr[T], error) {
	raw, ok := fields[key]
	if !ok {
		return Attr[T]{}, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return Null[T](), nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return Attr[T]{}, invalidField(key, err)
	}
	return Some(v), nil
}

// decodeText reads key as text without ever failing. Foreign producers send
// scalars such as ports as numbers, so a number or boolean keeps its JSON
// spelling ("port":5 reads as "5") and an object or array its raw JSON.
func decodeText(fields map[string]json.RawMessage, key string) Attr[string] {
	raw, ok := fields[key]
	if !ok {
		return Attr[string]{}
	}
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, jsonNull) {
		return Null[string]()
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return Some(s)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if dec.Decode(&v) == nil {
		if n, ok := v.(json.Number); ok {
			return Some(n.String())
		}
	}
	return Some(string(raw))
}

// Extras holds the attributes of a typed event that fall outside its kind's
// schema. They are kept so that a foreign event survives a round trip.
type Extras map[string]any

func decodeExtras(fields map[string]json.RawMessage, known ...string) (Extras, error) {
	var x Extras
	for k, raw := range fields {
		if slices.Contains(known, k) {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, invalidField(k, err)
		}
		if x == nil {
			x = make(Extras)
		}
		x[k] = v
	}
	return x, nil
}

// mergeInto copies the extras into m without overriding schema attributes.
func (x Extras) mergeInto(m map[string]any) map[string]any {
	for k, v := range x {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return m
}
