package domain

import (
	"context"
	"time"
)

// MetricsRecorder receives persist timings and write counts. Implementations
// live outside the domain package (expvar- and Prometheus-backed recorders);
// a nil recorder disables observation.
type MetricsRecorder interface {
	// ObservePersist records the outcome of one store's persist call.
	ObservePersist(ctx context.Context, store string, success bool, duration time.Duration)
	// ObserveWrites records the aggregate effect of committed writes.
	ObserveWrites(ctx context.Context, store string, summary WriteSummary)
}
