package xpush

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// TransportFactory builds a backend from its option mapping, as found under
// backend.options in the CLI configuration.
type TransportFactory func(cfg map[string]any) (Transport, error)

// CodecFactory returns a ready codec.
type CodecFactory func() Codec

// named is a concurrency-safe name to factory table.
type named[F any] struct {
	kind string
	mu   sync.RWMutex
	byID map[string]F
}

func (n *named[F]) put(name string, f F, isNil bool) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", n.kind)
	}
	if isNil {
		return fmt.Errorf("%s factory for %q must not be nil", n.kind, name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.byID == nil {
		n.byID = make(map[string]F)
	}
	n.byID[name] = f
	return nil
}

func (n *named[F]) get(name string) (F, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	f, ok := n.byID[name]
	return f, ok
}

func (n *named[F]) names() []string {
	n.mu.RLock()
	out := make([]string, 0, len(n.byID))
	for name := range n.byID {
		out = append(out, name)
	}
	n.mu.RUnlock()
	sort.Strings(out)
	return out
}

var (
	transports = &named[TransportFactory]{kind: "transport"}
	codecs     = &named[CodecFactory]{kind: "codec", byID: map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}}
)

// RegisterTransport makes a backend available by name to
// PusherBuilder.WithTransport. Adapters call it from init; a later
// registration under the same name wins.
func RegisterTransport(name string, factory TransportFactory) error {
	return transports.put(name, factory, factory == nil)
}

// NewTransport builds the backend registered as name.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	f, ok := transports.get(name)
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	tr, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("xpush: transport %s: %w", name, err)
	}
	return tr, nil
}

// Transports lists the registered backend names in sorted order.
func Transports() []string { return transports.names() }

func RegisterCodec(name string, factory CodecFactory) error {
	return codecs.put(name, factory, factory == nil)
}

// NewCodec returns the codec registered as name.
func NewCodec(name string) (Codec, error) {
	f, ok := codecs.get(name)
	if !ok {
		return nil, errors.New("xpush: codec " + name + " not registered")
	}
	return f(), nil
}
