package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the gateway.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	tokenChecks     *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	rateLimited     prometheus.Counter
	wsSubscriptions *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
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

	tokenChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_validations_total",
		Help: "Access token validation attempts by outcome",
	}, []string{"result"})

	refreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Refresh token rotation attempts by outcome",
	}, []string{"result"})

	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	})

	wsSubscriptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_subscription_decisions_total",
		Help: "STOMP SUBSCRIBE authorization decisions",
	}, []string{"decision"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, tokenChecks, refreshTotal, rateLimited, wsSubscriptions, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		tokenChecks:     tokenChecks,
		refreshTotal:    refreshTotal,
		rateLimited:     rateLimited,
		wsSubscriptions: wsSubscriptions,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordTokenValidation counts an access token check.
func (m *MetricsService) RecordTokenValidation(ok bool) {
	if m == nil {
		return
	}
	m.tokenChecks.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordRefreshRotation counts a refresh rotation attempt.
func (m *MetricsService) RecordRefreshRotation(ok bool) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordRateLimitRejection counts a 429.
func (m *MetricsService) RecordRateLimitRejection() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordSubscriptionDecision counts a SUBSCRIBE authorization outcome.
func (m *MetricsService) RecordSubscriptionDecision(allowed bool) {
	if m == nil {
		return
	}
	label := "rejected"
	if allowed {
		label = "allowed"
	}
	m.wsSubscriptions.WithLabelValues(label).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
