// Package models содержит структуры данных для показаний датчиков,
// задержек доставки и снимков состояния синхронизации
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Channel идентифицирует канал доставки показаний
type Channel string

const (
	// ChannelPull периодический запрос/ответ
	ChannelPull Channel = "pull"
	// ChannelPush постоянная подписка
	ChannelPush Channel = "push"
)

// Valid проверяет, что канал известен
func (c Channel) Valid() bool {
	return c == ChannelPull || c == ChannelPush
}

// ParseChannel разбирает имя канала
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

// Millis метка времени в миллисекундах Unix.
// В JSON принимается число или строка RFC 3339.
type Millis int64

// MillisOf переводит time.Time в Millis
func MillisOf(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time возвращает метку как time.Time
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m))
}

// IsZero сообщает, что метка не задана
func (m Millis) IsZero() bool {
	return m == 0
}

// UnmarshalJSON разбирает число миллисекунд или строку RFC 3339
func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*m = Millis(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*m = MillisOf(t)
		return nil
	}
	var f json.Number
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if n, err := f.Int64(); err == nil {
		*m = Millis(n)
		return nil
	}
	v, err := f.Float64()
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	*m = Millis(int64(v))
	return nil
}

// MarshalJSON кодирует метку как число миллисекунд
func (m Millis) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(m), 10), nil
}

// ReadingID идентификатор показания. Бэкенд отдает его строкой или числом.
type ReadingID string

// UnmarshalJSON принимает строку или число
func (id *ReadingID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ReadingID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid reading id %s: %w", data, err)
	}
	*id = ReadingID(n.String())
	return nil
}

// ReadingRecord представляет запись показания в том виде, в каком ее отдает бэкенд
// (GET /sensor-data/{subject} и подписка /topic/sensor-data/{subject})
type ReadingRecord struct {
	ID               ReadingID `json:"id"`
	Topic            string    `json:"topic"`
	Message          string    `json:"message"`
	Timestamp        Millis    `json:"timestamp"`
	ServerReceivedAt Millis    `json:"serverReceivedAt,omitempty"`
}

// SensorReading неизменяемое показание датчика, полученное по одному из каналов.
// Идентичность: (ID, Topic, Timestamp).
type SensorReading struct {
	ID                string    `json:"id"`
	Topic             string    `json:"topic"`
	Message           string    `json:"message"`
	Timestamp         Millis    `json:"timestamp"`
	ServerReceivedAt  Millis    `json:"serverReceivedAt,omitempty"`
	DeliveryTimestamp time.Time `json:"deliveryTimestamp"`
	Channel           Channel   `json:"channel"`
}

// NewSensorReading строит показание из записи бэкенда
func NewSensorReading(rec ReadingRecord, ch Channel, deliveredAt time.Time) SensorReading {
	return SensorReading{
		ID:                string(rec.ID),
		Topic:             rec.Topic,
		Message:           rec.Message,
		Timestamp:         rec.Timestamp,
		ServerReceivedAt:  rec.ServerReceivedAt,
		DeliveryTimestamp: deliveredAt,
		Channel:           ch,
	}
}

// ParsePushPayload разбирает сообщение push-канала в SensorReading.
// Показание без id или serverReceivedAt считается некорректным:
// без них невозможны ни дедупликация, ни расчет задержки.
func ParsePushPayload(payload []byte, deliveredAt time.Time) (SensorReading, error) {
	var rec ReadingRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return SensorReading{}, &MalformedPayloadError{Payload: truncatePayload(payload), Err: err}
	}
	if rec.ID == "" {
		return SensorReading{}, &MalformedPayloadError{Payload: truncatePayload(payload), Err: errMissingField("id")}
	}
	if rec.ServerReceivedAt.IsZero() {
		return SensorReading{}, &MalformedPayloadError{Payload: truncatePayload(payload), Err: errMissingField("serverReceivedAt")}
	}
	return NewSensorReading(rec, ChannelPush, deliveredAt), nil
}

func truncatePayload(p []byte) string {
	const limit = 256
	if len(p) > limit {
		return string(p[:limit]) + "..."
	}
	return string(p)
}
