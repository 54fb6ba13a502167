package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry. A nil *Metrics records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	ticketsCreated  *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	hubClients      prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	ticketsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_tickets_created_total",
		Help: "Tickets issued per department",
	}, []string{"department"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_ticket_transitions_total",
		Help: "Ticket status transitions by action",
	}, []string{"action"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_cache_lookups_total",
		Help: "Department stats cache lookups by result",
	}, []string{"result"})

	hubClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_clients",
		Help: "Connected realtime clients",
	})

	registry.MustRegister(requestDuration, requestTotal, ticketsCreated, transitions, cacheLookups, hubClients)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		ticketsCreated:  ticketsCreated,
		transitions:     transitions,
		cacheLookups:    cacheLookups,
		hubClients:      hubClients,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		m.ObserveHTTPRequest(r.Method, routeLabel(r.URL.Path), writer.status, time.Since(start))
	})
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

func (m *Metrics) TicketCreated(department string) {
	if m == nil {
		return
	}
	m.ticketsCreated.WithLabelValues(department).Inc()
}

func (m *Metrics) TicketTransition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

// CacheLookup matches cache.WithLookupObserver.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RealtimeClients(delta float64) {
	if m == nil {
		return
	}
	m.hubClients.Add(delta)
}

// routeLabel collapses ids so label cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if isValidUUID(part) || isValidStudentID(part) {
			parts[i] = ":id"
		}
	}
	if len(parts) > 2 && parts[1] == "realtime" {
		return "/realtime"
	}
	return strings.Join(parts, "/")
}
