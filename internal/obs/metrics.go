package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	phaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phase_transitions_total",
			Help: "Session phase transitions.",
		},
		[]string{"from", "to"},
	)

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phase_active_sessions",
		Help: "Browser sessions with a live phase controller.",
	})

	clubDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "club_decisions_total",
			Help: "Admin request decisions by request type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	accessDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "club_access_denials_total",
			Help: "Rejected operations or section navigations.",
		},
		[]string{"target"},
	)

	feedChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_changes_total",
			Help: "Change notifications published to the realtime feed.",
		},
		[]string{"collection"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Init registers every collector in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			phaseTransitions, activeSessions,
			clubDecisions, accessDenials, feedChanges, readyGauge,
		)
	})
}

// Handler exposes the prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// collections whose second segment is a row id.
var idCollections = map[string]bool{
	"profiles":      true,
	"requests":      true,
	"notifications": true,
	"events":        true,
	"gallery":       true,
}

// CanonicalPath collapses row identifiers so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != "v1" {
		return "/" + strings.Join(parts, "/")
	}
	switch {
	case parts[1] == "auth" && len(parts) == 4:
		parts[2] = ":provider"
	case parts[1] == "requests" && parts[2] == "admin":
	case idCollections[parts[1]]:
		parts[2] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}

// RecordPhaseTransition counts a session phase change.
func RecordPhaseTransition(from, to string) {
	phaseTransitions.WithLabelValues(from, to).Inc()
}

// SetActiveSessions reports the number of live phase controllers.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordDecision counts an approve/reject outcome.
func RecordDecision(requestType, outcome string) {
	clubDecisions.WithLabelValues(requestType, outcome).Inc()
}

// RecordDenial counts an authorization denial for a section or operation.
func RecordDenial(target string) {
	accessDenials.WithLabelValues(target).Inc()
}

// RecordChange counts a realtime change notification.
func RecordChange(collection string) {
	feedChanges.WithLabelValues(collection).Inc()
}

// SetReady mirrors the readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
