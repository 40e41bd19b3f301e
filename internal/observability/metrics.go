package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3leaps/bucketview/pkg/batch"
	"github.com/3leaps/bucketview/pkg/hierarchy"
	"github.com/3leaps/bucketview/pkg/provider"
)

const namespace = "bucketview"

// Metrics records store, cache, batch and HTTP activity on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	storeOps      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	batchOutcomes *prometheus.CounterVec
	duplicates    prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

var (
	_ provider.Observer       = (*Metrics)(nil)
	_ hierarchy.CacheObserver = (*Metrics)(nil)
	_ batch.Observer          = (*Metrics)(nil)
)

// NewMetrics registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		storeOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Object store calls by provider, operation and result.",
		}, []string{"provider", "op", "result"}),
		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Object store call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "op"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_cache_lookups_total",
			Help:      "Listing cache lookups by result.",
		}, []string{"result"}),
		batchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_outcomes_total",
			Help:      "Per-key batch outcomes by operation and status.",
		}, []string{"op", "status"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "move_duplicates_total",
			Help:      "Moves that left the object at both source and destination.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStoreOp implements provider.Observer.
func (m *Metrics) ObserveStoreOp(p provider.ProviderType, op string, d time.Duration, err error) {
	m.storeOps.WithLabelValues(string(p), op, storeResult(err)).Inc()
	m.storeDuration.WithLabelValues(string(p), op).Observe(d.Seconds())
}

// ObserveCacheLookup implements hierarchy.CacheObserver.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveBatchOutcome implements batch.Observer.
func (m *Metrics) ObserveBatchOutcome(op batch.Op, status batch.Status) {
	m.batchOutcomes.WithLabelValues(string(op), string(status)).Inc()
	if status == batch.StatusDuplicate {
		m.duplicates.Inc()
	}
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func storeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, provider.ErrNotFound):
		return "not_found"
	case errors.Is(err, provider.ErrThrottled):
		return "throttled"
	case errors.Is(err, provider.ErrAccessDenied), errors.Is(err, provider.ErrInvalidCredentials):
		return "denied"
	default:
		return "error"
	}
}
