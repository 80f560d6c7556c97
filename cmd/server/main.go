// Package main запускает сервис синхронизации телеметрии
// Сервис реализует:
// - Pull-канал: опрос последних показаний с фиксированным интервалом
// - Push-канал: подписка STOMP/WebSocket или MQTT с дедупликацией
// - Сравнение задержек каналов на скользящих окнах
// - HTTP API и поток событий для слоя представления
// - Экспорт метрик в Prometheus
package main

import (
	"context"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"telemetry-sync/internal/cache"
	"telemetry-sync/internal/config"
	"telemetry-sync/internal/dedup"
	"telemetry-sync/internal/handlers"
	"telemetry-sync/internal/metrics"
	"telemetry-sync/internal/orchestrator"
	"telemetry-sync/internal/pull"
	"telemetry-sync/internal/push"
)

func main() {
	log.Println("Starting Telemetry Sync Service...")
	log.Printf("Go version: %s", runtime.Version())
	log.Printf("NumCPU: %d", runtime.NumCPU())

	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := log.Default()

	// Хранилище дедупликации push-канала
	store, redisCache := newDedupStore(cfg)

	// Каналы
	fetcher := pull.NewFetcher(pull.Config{
		BaseURL:   cfg.PullBaseURL,
		Interval:  cfg.PullInterval,
		Timeout:   cfg.PullTimeout,
		AuthToken: cfg.AuthToken,
	})
	transport := newTransport(cfg)
	manager := push.NewManager(transport, store, logger)
	log.Printf("Pull channel: %s every %s", cfg.PullBaseURL, cfg.PullInterval)
	log.Printf("Push channel: %s via %s", cfg.PushURL, transport.Name())

	engine := orchestrator.New(fetcher, manager, logger)

	// Создаем обработчики
	handler := handlers.NewHandler(engine, redisCache, cfg.DedupBackend)

	// Настраиваем маршруты
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	// Middleware для логирования
	router.Use(loggingMiddleware)

	// CORS для фронтенда
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Создаем HTTP сервер с настройками таймаутов.
	// WriteTimeout не задан: /events держит соединение открытым.
	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     c.Handler(router),
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Рассылка изменений подписчикам /events
	go handler.RunEvents(ctx)

	// Запускаем горутину для обновления метрик
	go updateMetricsLoop(ctx, engine)

	// Сессия при старте, если субъект задан в окружении
	if cfg.SessionSubject != "" {
		if err := engine.StartSession(ctx, cfg.SessionSubject); err != nil {
			log.Printf("Failed to start session for %s: %v", cfg.SessionSubject, err)
		}
	}

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Server listening on %s", cfg.ServerAddr)
		log.Printf("Endpoints:")
		log.Printf("  POST   /session                   - Start sync session")
		log.Printf("  DELETE /session                   - End sync session")
		log.Printf("  GET    /snapshot                  - Current state snapshot")
		log.Printf("  GET    /readings/{channel}        - Pull or push view")
		log.Printf("  GET    /performance               - Latency comparison")
		log.Printf("  GET    /performance/delta/{index} - Latency delta at index")
		log.Printf("  POST   /push/connect              - Reconnect push channel")
		log.Printf("  GET    /events                    - Snapshot stream (SSE)")
		log.Printf("  GET    /health                    - Health check")
		log.Printf("  GET    /prometheus                - Prometheus metrics")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Ожидаем сигнал завершения
	<-stop
	log.Println("Shutting down server...")

	// Контекст с таймаутом для завершения
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Останавливаем сессию: таймер, push-канал, представления
	engine.EndSession()
	cancel()

	// Завершаем HTTP сервер
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Закрываем Redis
	if redisCache != nil {
		redisCache.Close()
	}

	log.Println("Server stopped")
}

// newDedupStore выбирает хранилище дедупликации. При недоступном Redis
// сервис работает с хранилищем в памяти.
func newDedupStore(cfg config.Config) (dedup.Store, *cache.RedisCache) {
	if cfg.DedupBackend != config.DedupRedis {
		return dedup.NewMemoryStore(), nil
	}

	var redisCache *cache.RedisCache
	var err error

	// Пробуем подключиться к Redis с повторами
	for i := 0; i < 5; i++ {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			log.Printf("Connected to Redis at %s", cfg.RedisAddr)
			break
		}
		log.Printf("Redis connection attempt %d failed: %v", i+1, err)
		if i < 4 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}

	if err != nil {
		log.Printf("Warning: Failed to connect to Redis, using in-memory dedup store: %v", err)
		return dedup.NewMemoryStore(), nil
	}

	// Каждый процесс ведет свое множество ключей
	return redisCache.DedupStore("instance-" + uuid.NewString()), redisCache
}

// newTransport создает push-транспорт по конфигурации
func newTransport(cfg config.Config) push.Transport {
	if cfg.PushTransport == config.TransportMQTT {
		return push.NewMQTTTransport(push.MQTTConfig{
			BrokerURL:      cfg.PushURL,
			TopicTemplate:  cfg.PushTopicTemplate,
			Username:       cfg.PushUsername,
			Password:       cfg.PushPassword,
			ConnectTimeout: cfg.PushConnectTimeout,
		})
	}
	return push.NewStompTransport(push.StompConfig{
		URL:            cfg.PushURL,
		TopicTemplate:  cfg.PushTopicTemplate,
		Login:          cfg.PushUsername,
		Passcode:       cfg.PushPassword,
		AuthToken:      cfg.AuthToken,
		ConnectTimeout: cfg.PushConnectTimeout,
	})
}

// loggingMiddleware логирует HTTP запросы
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

// updateMetricsLoop периодически обновляет метрики Prometheus
func updateMetricsLoop(ctx context.Context, engine *orchestrator.Orchestrator) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			perf := engine.Performance()
			metrics.UpdatePerformanceMetrics(perf.Pull.AverageLatencyMs, perf.Push.AverageLatencyMs, perf.Ratio)
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
