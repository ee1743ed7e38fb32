package server

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nevindra/pgagent"
)

// metrics is registered on a per-server registry so tests and multiple
// servers in one process never collide.
type metrics struct {
	registry        *prometheus.Registry
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	turns           *prometheus.CounterVec
	memoryOps       *prometheus.CounterVec
}

func newMetrics(sessions *pgagent.SessionStore) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgagent_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgagent_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgagent_turns_total",
				Help: "Orchestrated turns by outcome",
			},
			[]string{"outcome"},
		),
		memoryOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgagent_memory_operations_total",
				Help: "Explicit memory operations by kind",
			},
			[]string{"op"},
		),
	}
	activeSessions := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "pgagent_active_sessions",
			Help: "Number of sessions held in memory",
		},
		func() float64 { return float64(sessions.Len()) },
	)
	m.registry.MustRegister(m.requestCount, m.requestDuration, m.turns, m.memoryOps, activeSessions)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument records count and latency under the route pattern, not the
// raw path, to keep label cardinality bounded.
func (m *metrics) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.requestCount.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// turnOutcome labels a turn for pgagent_turns_total.
func (m *metrics) turnOutcome(res pgagent.TurnResult, err error) {
	switch {
	case err != nil:
		m.turns.WithLabelValues("error").Inc()
	case res.MemorySaved:
		m.turns.WithLabelValues("captured").Inc()
	default:
		m.turns.WithLabelValues("ok").Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets the websocket upgrader take over the connection. A hijacked
// request is recorded as 101.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.status = http.StatusSwitchingProtocols
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
