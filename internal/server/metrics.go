package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clawlegion/internal/health"
)

// Metrics owns a private prometheus registry so several servers (and tests)
// can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	targetStatus  *prometheus.GaugeVec
	targetLatency *prometheus.GaugeVec
	overall       prometheus.Gauge
	checks        prometheus.Counter
	requests      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		targetStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clawlegion",
			Name:      "health_target_status",
			Help:      "Last probe result per dependency: 0 healthy, 1 degraded, 2 down.",
		}, []string{"target", "kind"}),
		targetLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clawlegion",
			Name:      "health_target_latency_ms",
			Help:      "Last probe latency per dependency in milliseconds.",
		}, []string{"target"}),
		overall: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clawlegion",
			Name:      "health_status",
			Help:      "Overall dashboard health: 0 healthy, 1 degraded, 2 down.",
		}),
		checks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clawlegion",
			Name:      "health_checks_total",
			Help:      "Aggregated health checks run.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawlegion",
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"method", "route", "code"}),
	}
	m.Registry.MustRegister(m.targetStatus, m.targetLatency, m.overall, m.checks, m.requests)
	return m
}

func statusValue(s health.Status) float64 {
	switch s {
	case health.StatusHealthy:
		return 0
	case health.StatusDegraded:
		return 1
	default:
		return 2
	}
}

// ObserveReport replaces the per-target gauges with the report's checks.
func (m *Metrics) ObserveReport(r health.Report) {
	m.targetStatus.Reset()
	m.targetLatency.Reset()
	for _, c := range r.Checks {
		kind := c.Kind
		if kind == "" {
			kind = "http"
		}
		m.targetStatus.WithLabelValues(c.Name, kind).Set(statusValue(c.Status))
		m.targetLatency.WithLabelValues(c.Name).Set(float64(c.LatencyMS))
	}
	m.overall.Set(statusValue(r.Status))
	m.checks.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
