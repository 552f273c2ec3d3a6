package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	CollaboratorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collaborator_requests_total",
			Help: "Total number of external collaborator requests by service and operation",
		},
		[]string{"service", "operation"},
	)
	CollaboratorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collaborator_request_duration_seconds",
			Help:    "External collaborator request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service", "operation"},
	)

	PipelineStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stages_total",
			Help: "Total pipeline stage executions by stage and result",
		},
		[]string{"stage", "result"},
	)
	PipelineOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_outcomes_total",
			Help: "Terminal pipeline outcomes by disposition",
		},
		[]string{"disposition"},
	)
	PipelineItemsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_items_in_flight",
			Help: "Number of work items currently being processed",
		},
	)
	AggregateScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_aggregate_score",
			Help:    "Distribution of computed aggregate scores [0,100]",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
)

// InitMetrics registers all collectors. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(CollaboratorRequestsTotal)
	prometheus.MustRegister(CollaboratorRequestDuration)
	prometheus.MustRegister(PipelineStagesTotal)
	prometheus.MustRegister(PipelineOutcomesTotal)
	prometheus.MustRegister(PipelineItemsInFlight)
	prometheus.MustRegister(AggregateScoreHistogram)
}

// ObserveCollaborator records one external call.
func ObserveCollaborator(service, operation string, start time.Time) {
	CollaboratorRequestsTotal.WithLabelValues(service, operation).Inc()
	CollaboratorRequestDuration.WithLabelValues(service, operation).Observe(time.Since(start).Seconds())
}

// StageResultLabel maps a stage error presence to a metric label.
func StageResultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
