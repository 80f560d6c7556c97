package models

import (
	"fmt"
	"time"
)

// HealthState состояние push-канала. У pull-канала постоянного соединения нет.
type HealthState int

const (
	// Disconnected канал не подключен
	Disconnected HealthState = iota
	// Connecting идет подключение и подписка
	Connecting
	// Connected подписка активна
	Connected
)

func (s HealthState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText кодирует состояние строкой в JSON
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText разбирает строковое представление состояния
func (s *HealthState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = Disconnected
	case "connecting":
		*s = Connecting
	case "connected":
		*s = Connected
	default:
		return fmt.Errorf("unknown channel health %q", text)
	}
	return nil
}

// LatencySample одна задержка доставки; Sequence только для выравнивания по оси X
type LatencySample struct {
	Sequence      uint64  `json:"sequence"`
	Channel       Channel `json:"channel"`
	LatencyMillis float64 `json:"latency_ms"`
}

// Delta сравнение каналов в одной позиции рядов
type Delta struct {
	Index      int     `json:"index"`
	Winner     Channel `json:"winner,omitempty"` // пусто при равенстве
	Tie        bool    `json:"tie"`
	Difference float64 `json:"difference_ms"`
}

// ComparisonPoint точка графика сравнения; nil если в ряду нет значения
type ComparisonPoint struct {
	Index int      `json:"index"`
	Label string   `json:"label"`
	Pull  *float64 `json:"pull_ms"`
	Push  *float64 `json:"push_ms"`
}

// ChannelStats статистика задержек одного канала
type ChannelStats struct {
	Channel          Channel         `json:"channel"`
	AverageLatencyMs float64         `json:"average_latency_ms"`
	StdDevMs         float64         `json:"stddev_ms"`
	Samples          []LatencySample `json:"samples"`
}

// Performance сравнительные показатели двух каналов
type Performance struct {
	Pull       ChannelStats      `json:"pull"`
	Push       ChannelStats      `json:"push"`
	Ratio      float64           `json:"ratio"`
	Labels     []string          `json:"labels"`
	Comparison []ComparisonPoint `json:"comparison"`
}

// Snapshot снимок состояния только для чтения, который отдается слою представления
type Snapshot struct {
	SessionID     string          `json:"session_id,omitempty"`
	Subject       string          `json:"subject,omitempty"`
	Active        bool            `json:"active"`
	ChannelHealth HealthState     `json:"channel_health"`
	PullView      []SensorReading `json:"pull_view"`
	PushView      []SensorReading `json:"push_view"`
	Performance   Performance     `json:"performance"`
	Counters      Counters        `json:"counters"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Counters счетчики текущей сессии
type Counters struct {
	PullTicks          uint64 `json:"pull_ticks"`
	PullErrors         uint64 `json:"pull_errors"`
	PushAccepted       uint64 `json:"push_accepted"`
	PushStaleDiscarded uint64 `json:"push_stale_discarded"`
}

// SessionRequest тело POST /session
type SessionRequest struct {
	Subject string `json:"subject"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status        string      `json:"status"`
	Timestamp     time.Time   `json:"timestamp"`
	ChannelHealth HealthState `json:"channel_health"`
	SessionActive bool        `json:"session_active"`
	DedupBackend  string      `json:"dedup_backend"`
	Redis         string      `json:"redis,omitempty"`
	Uptime        string      `json:"uptime"`
}
