// Package observability holds the Prometheus collector and OpenTelemetry
// tracing setup shared by the API server and the engine.
package observability

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the fieldplan collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	SessionActions  *prometheus.CounterVec
	PlansSaved      prometheus.Counter
	HeadLossRecords prometheus.Counter
	RouteDetours    *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
}

// NewMetrics registers collectors against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldplan_http_requests_total",
		Help: "Handled API requests by method, route pattern and status code.",
	}, []string{"method", "route", "code"}), "fieldplan_http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fieldplan_http_request_duration_seconds",
		Help:    "API request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "route"}), "fieldplan_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	actions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldplan_session_actions_total",
		Help: "Session actions applied, by action type.",
	}, []string{"type"}), "fieldplan_session_actions_total")
	if err != nil {
		return nil, err
	}
	saved, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fieldplan_plans_saved_total",
		Help: "Plan versions written by explicit save.",
	}), "fieldplan_plans_saved_total")
	if err != nil {
		return nil, err
	}
	records, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fieldplan_headloss_records_total",
		Help: "Head-loss records persisted.",
	}), "fieldplan_headloss_records_total")
	if err != nil {
		return nil, err
	}
	detours, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldplan_route_detours_total",
		Help: "Detour waypoints inserted by the pipe router, by probe direction.",
	}, []string{"direction"}), "fieldplan_route_detours_total")
	if err != nil {
		return nil, err
	}
	deliveries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldplan_events_delivered_total",
		Help: "Outbox deliveries by sink and result.",
	}, []string{"sink", "result"}), "fieldplan_events_delivered_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:        gatherer,
		HTTPRequests:    requests,
		HTTPDurations:   durations,
		SessionActions:  actions,
		PlansSaved:      saved,
		HeadLossRecords: records,
		RouteDetours:    detours,
		Deliveries:      deliveries,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDurations.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) SessionAction(kind string) {
	if m == nil {
		return
	}
	m.SessionActions.WithLabelValues(kind).Inc()
}

func (m *Metrics) PlanSaved() {
	if m == nil {
		return
	}
	m.PlansSaved.Inc()
}

func (m *Metrics) HeadLossRecorded() {
	if m == nil {
		return
	}
	m.HeadLossRecords.Inc()
}

func (m *Metrics) Detour(direction string) {
	if m == nil {
		return
	}
	m.RouteDetours.WithLabelValues(direction).Inc()
}

func (m *Metrics) Delivery(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Deliveries.WithLabelValues(sink, result).Inc()
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
