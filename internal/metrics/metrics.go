// Package metrics holds the Prometheus collectors for the web shell.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fastbudget"

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	resolutions  *prometheus.CounterVec
	resolveTime  prometheus.Histogram
	logins       *prometheus.CounterVec
	logouts      prometheus.Counter
	viewChanges  *prometheus.CounterVec
	themeToggles *prometheus.CounterVec
	liveShells   prometheus.Gauge
	evictions    *prometheus.CounterVec
	events       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "resolutions_total",
			Help:      "Session resolutions by result.",
		}, []string{"result"}),
		resolveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "resolve_duration_seconds",
			Help:      "Latency of the current-user lookup.",
			Buckets:   prometheus.DefBuckets,
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login and registration attempts by result.",
		}, []string{"kind", "result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logouts_total",
			Help:      "Logouts.",
		}),
		viewChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shell",
			Name:      "view_changes_total",
			Help:      "Active view changes by target view.",
		}, []string{"view"}),
		themeToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shell",
			Name:      "theme_toggles_total",
			Help:      "Theme toggles by resulting theme.",
		}, []string{"theme"}),
		liveShells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "shell",
			Name:      "live",
			Help:      "Shell controllers currently held in memory.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shell",
			Name:      "evictions_total",
			Help:      "Shell controllers torn down by reason.",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Session events handed to the publisher by type and result.",
		}, []string{"type", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.resolutions, m.resolveTime, m.logins, m.logouts,
		m.viewChanges, m.themeToggles, m.liveShells, m.evictions,
		m.events, m.httpRequests, m.httpLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Resolution records the outcome of a session resolution: resolved, rejected,
// unavailable or retained.
func (m *Metrics) Resolution(result string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) ResolveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.resolveTime.Observe(d.Seconds())
}

// Login records a login or register attempt.
func (m *Metrics) Login(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.logins.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Logout() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}

func (m *Metrics) ViewChange(view string) {
	if m == nil {
		return
	}
	m.viewChanges.WithLabelValues(view).Inc()
}

func (m *Metrics) ThemeToggle(dark bool) {
	if m == nil {
		return
	}
	theme := "light"
	if dark {
		theme = "dark"
	}
	m.themeToggles.WithLabelValues(theme).Inc()
}

func (m *Metrics) ShellMounted() {
	if m == nil {
		return
	}
	m.liveShells.Inc()
}

func (m *Metrics) ShellEvicted(reason string) {
	if m == nil {
		return
	}
	m.liveShells.Dec()
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.events.WithLabelValues(eventType, result).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method).Observe(d.Seconds())
}
