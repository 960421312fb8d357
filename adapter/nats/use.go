package nats

import (
	"fmt"

	"github.com/trickstertwo/xpush"
)

const TransportName = "nats"

func init() {
	if err := xpush.RegisterTransport(TransportName, func(cfg map[string]any) (xpush.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xpush: failed to register transport %q: %w", TransportName, err))
	}
}

// Use connects to NATS, builds a Pusher over it and installs it as the
// process-wide default. It panics when the server is unreachable.
func Use(cfg Config, configure ...func(*xpush.PusherBuilder)) *xpush.Pusher {
	p, err := xpush.Install(TransportName, cfg.toMap(), configure...)
	if err != nil {
		panic(fmt.Errorf("nats.Use: %w", err))
	}
	return p
}
