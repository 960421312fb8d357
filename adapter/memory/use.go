package memory

import (
	"fmt"

	"github.com/trickstertwo/xpush"
)

// Use builds a Pusher over a fresh in-memory transport and installs it as
// the process-wide default. It panics when the builder rejects configure.
//
//	p := memory.Use(memory.Config{Concurrency: 8}, func(pb *xpush.PusherBuilder) {
//	    pb.WithLogger(logger).WithOrigin("cli")
//	})
func Use(cfg Config, configure ...func(*xpush.PusherBuilder)) *xpush.Pusher {
	p, err := xpush.Install(TransportName, cfg.toMap(), configure...)
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return p
}
