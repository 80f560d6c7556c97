// Package config загружает конфигурацию сервиса из .env и переменных окружения
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Транспорты push-канала
const (
	TransportStomp = "stomp"
	TransportMQTT  = "mqtt"
)

// Хранилища дедупликации
const (
	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// Config содержит конфигурацию сервиса
type Config struct {
	ServerAddr  string
	ReadTimeout time.Duration
	IdleTimeout time.Duration

	PullBaseURL  string
	PullInterval time.Duration
	PullTimeout  time.Duration
	AuthToken    string

	PushTransport      string
	PushURL            string
	PushTopicTemplate  string
	PushUsername       string
	PushPassword       string
	PushConnectTimeout time.Duration

	DedupBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CORSAllowedOrigins []string
	SessionSubject     string
}

// Load читает .env (если есть) и переменные окружения
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		log.Println("No .env file found, relying on system environment variables")
	}

	cfg := Config{
		ServerAddr:  getEnv("SERVER_ADDR", ":8080"),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,

		PullBaseURL:  getEnv("PULL_BASE_URL", "http://localhost:8081"),
		PullInterval: getEnvDuration("PULL_INTERVAL", 5*time.Second),
		PullTimeout:  getEnvDuration("PULL_TIMEOUT", 4*time.Second),
		AuthToken:    getEnv("AUTH_TOKEN", ""),

		PushTransport:      strings.ToLower(getEnv("PUSH_TRANSPORT", TransportStomp)),
		PushURL:            getEnv("PUSH_URL", "ws://localhost:8081/ws"),
		PushTopicTemplate:  getEnv("PUSH_TOPIC_TEMPLATE", ""),
		PushUsername:       getEnv("PUSH_USERNAME", ""),
		PushPassword:       getEnv("PUSH_PASSWORD", ""),
		PushConnectTimeout: getEnvDuration("PUSH_CONNECT_TIMEOUT", 10*time.Second),

		DedupBackend:  strings.ToLower(getEnv("DEDUP_BACKEND", DedupMemory)),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		SessionSubject:     getEnv("SESSION_SUBJECT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек
func (c Config) Validate() error {
	var errs []error
	if c.PullBaseURL == "" {
		errs = append(errs, errors.New("PULL_BASE_URL is empty"))
	}
	if c.PullInterval <= 0 {
		errs = append(errs, fmt.Errorf("PULL_INTERVAL must be positive, got %s", c.PullInterval))
	}
	if c.PullTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PULL_TIMEOUT must be positive, got %s", c.PullTimeout))
	}
	if c.PushTransport != TransportStomp && c.PushTransport != TransportMQTT {
		errs = append(errs, fmt.Errorf("unknown PUSH_TRANSPORT %q", c.PushTransport))
	}
	if c.PushURL == "" {
		errs = append(errs, errors.New("PUSH_URL is empty"))
	}
	if c.PushConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PUSH_CONNECT_TIMEOUT must be positive, got %s", c.PushConnectTimeout))
	}
	if c.DedupBackend != DedupMemory && c.DedupBackend != DedupRedis {
		errs = append(errs, fmt.Errorf("unknown DEDUP_BACKEND %q", c.DedupBackend))
	}
	if c.DedupBackend == DedupRedis && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required for the redis dedup backend"))
	}
	return errors.Join(errs...)
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid %s=%q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration принимает "5s" или число миллисекунд
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	log.Printf("Invalid %s=%q, using default %s", key, value, defaultValue)
	return defaultValue
}

// getEnvList список через запятую
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
