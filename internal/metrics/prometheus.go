// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов к API
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_sync_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов к API
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_sync_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// ReadingsReceived принятые показания по каналам
	ReadingsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_sync_readings_received_total",
			Help: "Total number of readings accepted into a view",
		},
		[]string{"channel"},
	)

	// PullTicks выполненные pull-тики по результату
	PullTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_sync_pull_ticks_total",
			Help: "Total number of pull ticks by result",
		},
		[]string{"result"},
	)

	// PullRoundTrip фактическое время pull-запроса
	PullRoundTrip = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_sync_pull_round_trip_seconds",
			Help:    "Measured pull request round trip in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// PushDuplicatesDropped отброшенные повторные push-сообщения
	PushDuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_sync_push_duplicates_dropped_total",
			Help: "Total number of duplicate push messages dropped",
		},
	)

	// PushStaleDiscarded доставки от закрытого соединения
	PushStaleDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_sync_push_stale_discarded_total",
			Help: "Total number of push deliveries discarded after teardown",
		},
	)

	// MalformedPayloads некорректные push-сообщения
	MalformedPayloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_sync_push_malformed_total",
			Help: "Total number of malformed push payloads",
		},
	)

	// TransportErrors ошибки push-транспорта по операции
	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_sync_transport_errors_total",
			Help: "Total number of push transport errors",
		},
		[]string{"op"},
	)

	// ChannelHealth состояние push-канала: 0 disconnected, 1 connecting, 2 connected
	ChannelHealth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_sync_push_channel_state",
			Help: "Push channel state (0 disconnected, 1 connecting, 2 connected)",
		},
	)

	// SessionActive 1, если сессия запущена
	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_sync_session_active",
			Help: "Whether a sync session is active",
		},
	)

	// AverageLatency средняя задержка по каналам, мс
	AverageLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_sync_average_latency_ms",
			Help: "Rolling average latency per channel in milliseconds",
		},
		[]string{"channel"},
	)

	// LatencyRatio отношение pull/push средних задержек
	LatencyRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_sync_latency_ratio",
			Help: "Ratio of pull to push average latency",
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_sync_active_goroutines",
			Help: "Number of active goroutines",
		},
	)
)

// UpdatePerformanceMetrics обновляет метрики задержек
func UpdatePerformanceMetrics(avgPull, avgPush, ratio float64) {
	AverageLatency.WithLabelValues("pull").Set(avgPull)
	AverageLatency.WithLabelValues("push").Set(avgPush)
	LatencyRatio.Set(ratio)
}

// SetSessionActive отмечает запуск и остановку сессии
func SetSessionActive(active bool) {
	if active {
		SessionActive.Set(1)
		return
	}
	SessionActive.Set(0)
}
