// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"telemetry-sync/internal/cache"
	"telemetry-sync/internal/metrics"
	"telemetry-sync/internal/models"
)

// SyncEngine операции сессии синхронизации, доступные через API
type SyncEngine interface {
	StartSession(ctx context.Context, subject string) error
	EndSession()
	ReconnectPush() error
	Snapshot() models.Snapshot
	Readings(ch models.Channel) []models.SensorReading
	Performance() models.Performance
	Delta(index int) (models.Delta, bool)
	Health() models.HealthState
	Active() bool
	Changes() <-chan struct{}
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	engine       SyncEngine
	cache        *cache.RedisCache
	dedupBackend string
	events       *EventHub
	startTime    time.Time
}

// NewHandler создает новый обработчик. cache может быть nil.
func NewHandler(engine SyncEngine, cache *cache.RedisCache, dedupBackend string) *Handler {
	return &Handler{
		engine:       engine,
		cache:        cache,
		dedupBackend: dedupBackend,
		events:       NewEventHub(),
		startTime:    time.Now(),
	}
}

// RunEvents рассылает изменения состояния подписчикам /events до отмены ctx
func (h *Handler) RunEvents(ctx context.Context) {
	h.events.Run(ctx, h.engine.Changes())
}

// RegisterRoutes регистрирует эндпоинты API
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/session", h.StartSessionHandler).Methods("POST")
	router.HandleFunc("/session", h.EndSessionHandler).Methods("DELETE")
	router.HandleFunc("/snapshot", h.SnapshotHandler).Methods("GET")
	router.HandleFunc("/readings/{channel}", h.ReadingsHandler).Methods("GET")
	router.HandleFunc("/performance", h.PerformanceHandler).Methods("GET")
	router.HandleFunc("/performance/delta/{index}", h.DeltaHandler).Methods("GET")
	router.HandleFunc("/push/connect", h.ReconnectHandler).Methods("POST")
	router.HandleFunc("/events", h.EventsHandler).Methods("GET")
	router.HandleFunc("/health", h.HealthHandler).Methods("GET")
}

// StartSessionHandler обрабатывает POST /session - запуск сессии
func (h *Handler) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/session", r.Method))
	defer timer.ObserveDuration()

	var req models.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/session", r.Method, "400").Inc()
		return
	}

	err := h.engine.StartSession(r.Context(), req.Subject)
	switch {
	case errors.Is(err, models.ErrEmptySubject):
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/session", r.Method, "400").Inc()
		return
	case errors.Is(err, models.ErrSessionActive):
		h.respondError(w, err.Error(), http.StatusConflict)
		metrics.RequestsTotal.WithLabelValues("/session", r.Method, "409").Inc()
		return
	case err != nil:
		h.respondError(w, err.Error(), http.StatusInternalServerError)
		metrics.RequestsTotal.WithLabelValues("/session", r.Method, "500").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/session", r.Method, "200").Inc()
	h.respondJSON(w, h.engine.Snapshot(), http.StatusOK)
}

// EndSessionHandler обрабатывает DELETE /session - завершение сессии
func (h *Handler) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/session", r.Method))
	defer timer.ObserveDuration()

	h.engine.EndSession()

	metrics.RequestsTotal.WithLabelValues("/session", r.Method, "200").Inc()
	h.respondJSON(w, h.engine.Snapshot(), http.StatusOK)
}

// SnapshotHandler обрабатывает GET /snapshot - полный снимок состояния
func (h *Handler) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/snapshot", r.Method))
	defer timer.ObserveDuration()

	metrics.RequestsTotal.WithLabelValues("/snapshot", r.Method, "200").Inc()
	h.respondJSON(w, h.engine.Snapshot(), http.StatusOK)
}

// ReadingsHandler обрабатывает GET /readings/{channel} - представление канала
func (h *Handler) ReadingsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/readings", r.Method))
	defer timer.ObserveDuration()

	ch, err := models.ParseChannel(mux.Vars(r)["channel"])
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "400").Inc()
		return
	}

	response := map[string]interface{}{
		"channel":  ch,
		"readings": h.engine.Readings(ch),
	}

	metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// PerformanceHandler обрабатывает GET /performance - сравнение каналов
func (h *Handler) PerformanceHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/performance", r.Method))
	defer timer.ObserveDuration()

	metrics.RequestsTotal.WithLabelValues("/performance", r.Method, "200").Inc()
	h.respondJSON(w, h.engine.Performance(), http.StatusOK)
}

// DeltaHandler обрабатывает GET /performance/delta/{index}
func (h *Handler) DeltaHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/performance/delta", r.Method))
	defer timer.ObserveDuration()

	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		h.respondError(w, "Invalid index", http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/performance/delta", r.Method, "400").Inc()
		return
	}

	delta, ok := h.engine.Delta(index)
	if !ok {
		h.respondError(w, "No samples from both channels at this index", http.StatusNotFound)
		metrics.RequestsTotal.WithLabelValues("/performance/delta", r.Method, "404").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/performance/delta", r.Method, "200").Inc()
	h.respondJSON(w, delta, http.StatusOK)
}

// ReconnectHandler обрабатывает POST /push/connect - ручное переподключение
func (h *Handler) ReconnectHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/push/connect", r.Method))
	defer timer.ObserveDuration()

	err := h.engine.ReconnectPush()
	var te *models.TransportError
	switch {
	case errors.Is(err, models.ErrNoSession):
		h.respondError(w, err.Error(), http.StatusConflict)
		metrics.RequestsTotal.WithLabelValues("/push/connect", r.Method, "409").Inc()
		return
	case errors.As(err, &te):
		h.respondError(w, err.Error(), http.StatusBadGateway)
		metrics.RequestsTotal.WithLabelValues("/push/connect", r.Method, "502").Inc()
		return
	case err != nil:
		h.respondError(w, err.Error(), http.StatusInternalServerError)
		metrics.RequestsTotal.WithLabelValues("/push/connect", r.Method, "500").Inc()
		return
	}

	response := map[string]interface{}{
		"channel_health": h.engine.Health(),
	}

	metrics.RequestsTotal.WithLabelValues("/push/connect", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	// Обновляем метрику горутин
	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	status := models.HealthStatus{
		Status:        "healthy",
		Timestamp:     time.Now(),
		ChannelHealth: h.engine.Health(),
		SessionActive: h.engine.Active(),
		DedupBackend:  h.dedupBackend,
		Uptime:        time.Since(h.startTime).String(),
	}

	if h.cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		status.Redis = "connected"
		if err := h.cache.Ping(ctx); err != nil {
			status.Redis = "disconnected"
			status.Status = "degraded"
		}
	}

	h.respondJSON(w, status, http.StatusOK)
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
