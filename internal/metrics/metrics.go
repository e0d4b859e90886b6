package metrics

import (
	"bufio"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exposed on /metrics.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	roomsCreatedTotal prometheus.Counter
	activeConnections prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "server_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "server_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	roomsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watch_party_rooms_created_total",
		Help: "Total number of watch-party rooms created",
	})
	activeConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watch_party_active_connections",
		Help: "Number of open watch-party websocket connections",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		roomsCreatedTotal,
		activeConnections,
	)

	return &Metrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		roomsCreatedTotal: roomsCreatedTotal,
		activeConnections: activeConnections,
	}
}

func (m *Metrics) IncRoomsCreated() {
	m.roomsCreatedTotal.Inc()
}

func (m *Metrics) ConnOpened() {
	m.activeConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	m.activeConnections.Dec()
}

// Handler serves the registry on the standard text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}

	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware counts requests and error responses.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsTotal.Inc()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= 400 {
			m.errorsTotal.Inc()
		}
	})
}
