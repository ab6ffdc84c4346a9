package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rezwanahammad/Therapeia/internal/models"
)

// Metrics набор коллекторов сервиса заказов. Все методы допускают nil-получателя.
type Metrics struct {
	registry *prometheus.Registry

	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
	Transitions       *prometheus.CounterVec
	StreamConnections prometheus.Gauge
	StreamsRejected   prometheus.Counter
}

// New создает коллекторы в собственном реестре, чтобы несколько экземпляров (например, в тестах) не конфликтовали.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapeia",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "therapeia",
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapeia",
			Subsystem: "orders",
			Name:      "status_transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"from", "to"}),
		StreamConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "therapeia",
			Subsystem: "orders",
			Name:      "status_streams_open",
			Help:      "Currently open order status streams.",
		}),
		StreamsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "therapeia",
			Subsystem: "orders",
			Name:      "status_streams_rejected_total",
			Help:      "Status streams rejected by the per-order connection limit.",
		}),
	}

	m.registry.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.Transitions,
		m.StreamConnections,
		m.StreamsRejected,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler отдает метрики в формате prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransition учитывает примененную смену статуса.
func (m *Metrics) ObserveTransition(from, to models.OrderStatus) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamConnections.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamConnections.Dec()
}

func (m *Metrics) StreamRejected() {
	if m == nil {
		return
	}
	m.StreamsRejected.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware считает запросы и их длительность по шаблону маршрута chi.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
