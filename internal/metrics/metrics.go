// Package metrics exposes Prometheus metrics for the device loop.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "iot_module_"

var (
	registerOnce sync.Once
	registry     *prometheus.Registry

	loopIterations     prometheus.Counter
	requestsTotal      *prometheus.CounterVec
	maintenanceWindows *prometheus.CounterVec
	uploadErrors       *prometheus.CounterVec
	uploadsCompleted   prometheus.Counter
	maintenanceActive  prometheus.Gauge
	publishErrors      *prometheus.CounterVec
)

// Init registers the metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()

		loopIterations = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "loop_iterations_total",
			Help: "Total scheduler iterations",
		})
		requestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests serviced by the loop, by path and status",
			},
			[]string{"path", "status"},
		)
		maintenanceWindows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "maintenance_windows_total",
				Help: "Total maintenance windows by outcome",
			},
			[]string{"outcome"},
		)
		uploadErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "upload_errors_total",
				Help: "Total firmware upload errors by kind",
			},
			[]string{"kind"},
		)
		uploadsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "uploads_completed_total",
			Help: "Total firmware uploads that finished successfully",
		})
		maintenanceActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "maintenance_active",
			Help: "1 while a maintenance window is open",
		})
		publishErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "publish_errors_total",
				Help: "Total MQTT publish failures by kind of message",
			},
			[]string{"kind"},
		)

		registry.MustRegister(
			loopIterations,
			requestsTotal,
			maintenanceWindows,
			uploadErrors,
			uploadsCompleted,
			maintenanceActive,
			publishErrors,
			collectors.NewGoCollector(),
		)
	})
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveIteration counts one scheduler iteration.
func ObserveIteration() {
	if loopIterations == nil {
		return
	}
	loopIterations.Inc()
}

// ObserveRequest counts a serviced HTTP request.
func ObserveRequest(path string, status int) {
	if requestsTotal == nil {
		return
	}
	requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
}

// SetMaintenance records whether a maintenance window is open.
func SetMaintenance(active bool) {
	if maintenanceActive == nil {
		return
	}
	if active {
		maintenanceActive.Set(1)
	} else {
		maintenanceActive.Set(0)
	}
}

// ObserveWindow counts a closed maintenance window.
func ObserveWindow(outcome string) {
	if maintenanceWindows == nil {
		return
	}
	maintenanceWindows.WithLabelValues(outcome).Inc()
}

// ObserveUploadError counts an upload error of the given kind.
func ObserveUploadError(kind string) {
	if uploadErrors == nil {
		return
	}
	uploadErrors.WithLabelValues(kind).Inc()
}

// ObserveUploadCompleted counts a successful upload.
func ObserveUploadCompleted() {
	if uploadsCompleted == nil {
		return
	}
	uploadsCompleted.Inc()
}

// ObservePublishError counts a failed MQTT publish.
func ObservePublishError(kind string) {
	if publishErrors == nil {
		return
	}
	publishErrors.WithLabelValues(kind).Inc()
}
