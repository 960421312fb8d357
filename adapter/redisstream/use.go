package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xpush"
)

const TransportName = "redis-streams"

func init() {
	if err := xpush.RegisterTransport(TransportName, func(cfg map[string]any) (xpush.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xpush: failed to register transport %q: %w", TransportName, err))
	}
}

// Use connects to Redis, builds a Pusher whose response stream is read
// through cfg.Group and installs it as the process-wide default. configure
// runs after the group is set and may override it. Use panics when Redis is
// unreachable or the configuration is invalid.
func Use(cfg Config, configure ...func(*xpush.PusherBuilder)) *xpush.Pusher {
	withGroup := func(pb *xpush.PusherBuilder) { pb.WithGroup(cfg.Group) }
	p, err := xpush.Install(TransportName, cfg.toMap(), append([]func(*xpush.PusherBuilder){withGroup}, configure...)...)
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	return p
}
