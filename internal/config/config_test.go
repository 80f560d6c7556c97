package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.ServerAddr)
	}
	if cfg.PullInterval != 5*time.Second {
		t.Errorf("expected 5s pull interval, got %s", cfg.PullInterval)
	}
	if cfg.PushTransport != TransportStomp || cfg.DedupBackend != DedupMemory {
		t.Errorf("unexpected defaults %s/%s", cfg.PushTransport, cfg.DedupBackend)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:5173" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PULL_INTERVAL", "2500")
	t.Setenv("PUSH_TRANSPORT", "MQTT")
	t.Setenv("PUSH_URL", "tcp://broker:1883")
	t.Setenv("DEDUP_BACKEND", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test,")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PullInterval != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %s", cfg.PullInterval)
	}
	if cfg.PushTransport != TransportMQTT || cfg.PushURL != "tcp://broker:1883" {
		t.Errorf("unexpected push config %s %s", cfg.PushTransport, cfg.PushURL)
	}
	if cfg.DedupBackend != DedupRedis || cfg.RedisDB != 3 {
		t.Errorf("unexpected dedup config %s db=%d", cfg.DedupBackend, cfg.RedisDB)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SESSION_SUBJECT=from-file\nPULL_TIMEOUT=1s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv не перезаписывает уже заданные переменные
	t.Setenv("SESSION_SUBJECT", "")
	os.Unsetenv("SESSION_SUBJECT")
	t.Cleanup(func() { os.Unsetenv("PULL_TIMEOUT") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionSubject != "from-file" || cfg.PullTimeout != time.Second {
		t.Errorf("expected values from .env, got %q %s", cfg.SessionSubject, cfg.PullTimeout)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		PullBaseURL:        "http://localhost:8081",
		PullInterval:       time.Second,
		PullTimeout:        time.Second,
		PushTransport:      TransportStomp,
		PushURL:            "ws://localhost:8081/ws",
		PushConnectTimeout: time.Second,
		DedupBackend:       DedupMemory,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero interval", func(c *Config) { c.PullInterval = 0 }, "PULL_INTERVAL"},
		{"unknown transport", func(c *Config) { c.PushTransport = "amqp" }, "PUSH_TRANSPORT"},
		{"empty push url", func(c *Config) { c.PushURL = "" }, "PUSH_URL"},
		{"unknown backend", func(c *Config) { c.DedupBackend = "etcd" }, "DEDUP_BACKEND"},
		{"redis without addr", func(c *Config) { c.DedupBackend = DedupRedis }, "REDIS_ADDR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}
