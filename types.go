package xpush

import "time"

// Metrics is a snapshot of pusher telemetry.
type Metrics struct {
	EventsSent       uint64
	RequestsSent     uint64
	ResponsesSent    uint64
	ResponsesMatched uint64
	ResponsesDropped uint64
	Timeouts         uint64
	Consumed         uint64
	Acked            uint64
	Nacked           uint64
	Errors           uint64
	EventsDropped    uint64 // observer notices dropped by a full pool
	Pending          int
	AvgRoundTripMs   float64
}

// HealthStatus indicates pusher health for readiness checks.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64
	Processed    uint64
	ActiveEvents int
	Workers      int
	BufferSize   int
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)
