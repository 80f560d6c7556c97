// Package cache реализует хранилище ключей дедупликации в Redis
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"telemetry-sync/internal/dedup"
)

const (
	// DedupKeyPrefix префикс множеств ключей дедупликации
	DedupKeyPrefix = "dedup:"
	// DefaultTTL время жизни множества, если процесс завершился без Clear
	DefaultTTL = 12 * time.Hour
)

// RedisCache обертка над клиентом Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Проверяем подключение
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// DedupStore возвращает хранилище дедупликации для сессии
func (r *RedisCache) DedupStore(sessionKey string) *RedisDedupStore {
	return &RedisDedupStore{
		client: r.client,
		key:    DedupSetKey(sessionKey),
		ttl:    DefaultTTL,
	}
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// DedupSetKey имя множества ключей для сессии
func DedupSetKey(sessionKey string) string {
	return DedupKeyPrefix + sessionKey
}

// RedisDedupStore реализует dedup.Store поверх множества Redis
type RedisDedupStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ dedup.Store = (*RedisDedupStore)(nil)

// Add добавляет ключ. SADD возвращает 1 только для нового элемента,
// поэтому проверка и вставка выполняются одной командой.
func (s *RedisDedupStore) Add(ctx context.Context, key dedup.Key) (bool, error) {
	pipe := s.client.TxPipeline()
	added := pipe.SAdd(ctx, s.key, string(key))
	pipe.Expire(ctx, s.key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to add dedup key: %w", err)
	}
	return added.Val() == 1, nil
}

// Clear удаляет множество целиком
func (s *RedisDedupStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear dedup set: %w", err)
	}
	return nil
}

// Len количество ключей в множестве
func (s *RedisDedupStore) Len(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, s.key).Result()
}
