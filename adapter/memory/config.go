package memory

import (
	"time"
)

// Config controls the in-process transport.
type Config struct {
	// BufferSize bounds each group's inbox (default 1024). Publish blocks
	// while an inbox is full.
	BufferSize int
	// Concurrency is the number of workers per subscription (default 1).
	Concurrency int
	// RedeliveryDelay postpones a nacked frame; zero requeues at once.
	RedeliveryDelay time.Duration
	// AssignIDs stamps "mem-<n>" on frames published without an id.
	AssignIDs bool
}

// Defaults returns the configuration used for absent map keys.
func Defaults() Config {
	return Config{BufferSize: 1024, Concurrency: 1, AssignIDs: true}
}

// ConfigFromMap reads buffer_size, concurrency, redelivery_delay and
// assign_ids. Numbers may arrive as any integer or float type (YAML and TOML
// decoders disagree); durations as time.Duration, a Go duration string or
// nanoseconds.
func ConfigFromMap(m map[string]any) Config {
	cfg := Defaults()
	if n, ok := number(m["buffer_size"]); ok && n > 0 {
		cfg.BufferSize = int(n)
	}
	if n, ok := number(m["concurrency"]); ok && n > 0 {
		cfg.Concurrency = int(n)
	}
	switch v := m["redelivery_delay"].(type) {
	case time.Duration:
		cfg.RedeliveryDelay = v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RedeliveryDelay = d
		}
	default:
		if n, ok := number(v); ok {
			cfg.RedeliveryDelay = time.Duration(n)
		}
	}
	if b, ok := m["assign_ids"].(bool); ok {
		cfg.AssignIDs = b
	}
	return cfg
}

func number(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// toMap is the inverse of ConfigFromMap, used when building through the
// transport registry.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size":      c.BufferSize,
		"concurrency":      c.Concurrency,
		"redelivery_delay": c.RedeliveryDelay,
		"assign_ids":       c.AssignIDs,
	}
}
