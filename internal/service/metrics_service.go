package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the session scheduler.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	scansTotal      *prometheus.CounterVec
	scanDuration    prometheus.Observer
	activeSchedules prometheus.Gauge
	finalizations   *prometheus.CounterVec
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

	scansTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "Total attendance scan passes by trigger and outcome",
	}, []string{"trigger", "result"})

	scanDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_scan_duration_seconds",
		Help:    "Duration of attendance scan passes",
		Buckets: prometheus.DefBuckets,
	})

	activeSchedules := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_active_schedules",
		Help: "Sessions currently tracked by the scheduler",
	})

	finalizations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_finalizations_total",
		Help: "Session summary finalization attempts by outcome",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, scansTotal, scanDuration, activeSchedules, finalizations, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		scansTotal:      scansTotal,
		scanDuration:    scanDuration,
		activeSchedules: activeSchedules,
		finalizations:   finalizations,
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

// ObserveScan records one scan pass.
func (m *MetricsService) ObserveScan(trigger string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.scansTotal.WithLabelValues(trigger, result).Inc()
	m.scanDuration.Observe(duration.Seconds())
}

// SetActiveSchedules tracks the scheduler's in-memory entry count.
func (m *MetricsService) SetActiveSchedules(n int) {
	if m == nil {
		return
	}
	m.activeSchedules.Set(float64(n))
}

// ObserveFinalization records a finalization attempt outcome.
func (m *MetricsService) ObserveFinalization(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.finalizations.WithLabelValues(result).Inc()
}
