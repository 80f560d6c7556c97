// Package dedup отслеживает уже примененные показания push-канала.
// Канал доставляет сообщения по схеме at-least-once, поэтому повторы ожидаемы.
package dedup

import (
	"context"
	"strconv"
	"sync"

	"telemetry-sync/internal/models"
)

// Key детерминированный ключ показания, построенный из (readingId, timestamp)
type Key string

// KeyOf строит ключ дедупликации показания
func KeyOf(r models.SensorReading) Key {
	return Key(r.ID + "|" + strconv.FormatInt(int64(r.Timestamp), 10))
}

// Store множество ключей на время одной сессии канала
type Store interface {
	// Add атомарно проверяет и вставляет ключ; added=false для повтора
	Add(ctx context.Context, key Key) (added bool, err error)
	// Clear очищает множество при отключении канала
	Clear(ctx context.Context) error
}

// MemoryStore хранилище в памяти без ограничения размера: время жизни
// сессии канала ограничено пользовательской сессией
type MemoryStore struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[Key]struct{})}
}

// Add реализует Store
func (s *MemoryStore) Add(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.keys[key]; seen {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

// Clear реализует Store
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[Key]struct{})
	return nil
}

// Len количество запомненных ключей
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
