package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the viewer server.
type Metrics struct {
	BackendRequests *prometheus.CounterVec
	BackendSeconds  *prometheus.HistogramVec
	LayerFetches    *prometheus.CounterVec
	LayerCacheHits  *prometheus.CounterVec
	StaleResults    *prometheus.CounterVec
	Imports         *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		BackendRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "riskmap_backend_requests_total",
			Help: "Total number of requests sent to the risk backend.",
		}, []string{"endpoint", "status"}),
		BackendSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskmap_backend_request_duration_seconds",
			Help:    "Duration of requests to the risk backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		LayerFetches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "riskmap_layer_fetches_total",
			Help: "Layer data loads issued on toggle, by category and outcome.",
		}, []string{"category", "status"}),
		LayerCacheHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "riskmap_layer_cache_hits_total",
			Help: "Layer toggles served from the session cache.",
		}, []string{"category"}),
		StaleResults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "riskmap_stale_results_total",
			Help: "Lookup results discarded because a newer interaction superseded them.",
		}, []string{"kind"}),
		Imports: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "riskmap_imports_total",
			Help: "Admin re-import triggers by outcome.",
		}, []string{"status"}),
		ActiveSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "riskmap_active_sessions",
			Help: "Current number of live viewer sessions.",
		}),
	}
}

// Nop returns metrics registered on a throwaway registry, for tests and CLI use.
func Nop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
