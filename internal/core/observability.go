package core

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dataspace/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes persist timings and write counters via
// expvar, for deployments that prefer process-local metrics without
// external dependencies. Durations accumulate in milliseconds per store.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	writes    map[string]domain.WriteSummary
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64             `json:"durations_ms_total"`
	Results     map[string]map[string]int64    `json:"results_total"`
	Writes      map[string]domain.WriteSummary `json:"writes_total"`
	RecordedAt  time.Time                      `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder published
// under the supplied name. When name is empty a unique one is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("dataspace_persist_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		writes:    make(map[string]domain.WriteSummary),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for store, total := range r.durations {
		durations[store] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for store, statusCounts := range r.results {
		cp := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cp[status] = count
		}
		results[store] = cp
	}
	writes := make(map[string]domain.WriteSummary, len(r.writes))
	for store, summary := range r.writes {
		writes[store] = summary
	}
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		Writes:      writes,
		RecordedAt:  time.Now().UTC(),
	}
}

// ObservePersist records the outcome of one store's persist call.
func (r *ExpvarMetricsRecorder) ObservePersist(_ context.Context, store string, success bool, duration time.Duration) {
	if store == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := "error"
	if success {
		status = "success"
	}
	r.mu.Lock()
	r.durations[store] += ms
	if _, ok := r.results[store]; !ok {
		r.results[store] = make(map[string]int64, 2)
	}
	r.results[store][status]++
	r.mu.Unlock()
}

// ObserveWrites records the aggregate effect of committed writes.
func (r *ExpvarMetricsRecorder) ObserveWrites(_ context.Context, store string, summary domain.WriteSummary) {
	if store == "" {
		return
	}
	r.mu.Lock()
	total := r.writes[store]
	total.Add(summary)
	r.writes[store] = total
	r.mu.Unlock()
}

// PrometheusMetricsRecorder exports persist timings and write counters
// through prometheus collectors.
type PrometheusMetricsRecorder struct {
	duration *prometheus.HistogramVec
	writes   *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder builds and registers the collectors on the
// supplied registerer (prometheus.DefaultRegisterer when nil).
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "dataspace_persist_duration_seconds",
			Help: "Duration of per-store persist calls",
		}, []string{"store", "status"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataspace_persist_writes_total",
			Help: "Committed write operations by primitive",
		}, []string{"store", "op"}),
	}
	for _, c := range []prometheus.Collector{rec.duration, rec.writes} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register persist collector: %w", err)
		}
	}
	return rec, nil
}

// ObservePersist records the outcome of one store's persist call.
func (r *PrometheusMetricsRecorder) ObservePersist(_ context.Context, store string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.duration.WithLabelValues(store, status).Observe(duration.Seconds())
}

// ObserveWrites records the aggregate effect of committed writes.
func (r *PrometheusMetricsRecorder) ObserveWrites(_ context.Context, store string, summary domain.WriteSummary) {
	if summary.Inserted > 0 {
		r.writes.WithLabelValues(store, "insert").Add(float64(summary.Inserted))
	}
	if summary.Modified > 0 {
		r.writes.WithLabelValues(store, "modify").Add(float64(summary.Modified))
	}
	if summary.Deleted > 0 {
		r.writes.WithLabelValues(store, "delete").Add(float64(summary.Deleted))
	}
}
