// Package pull реализует pull-канал: периодический запрос последних показаний
package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"telemetry-sync/internal/models"
)

const (
	// SensorDataPath эндпоинт показаний субъекта
	SensorDataPath = "/sensor-data/{subject}"
	// MaxReadings сколько последних показаний попадает в представление
	MaxReadings = 10
)

// Config настройки pull-канала
type Config struct {
	BaseURL   string
	Interval  time.Duration
	Timeout   time.Duration
	AuthToken string
}

// TickResult результат одного тика
type TickResult struct {
	Readings []models.SensorReading
	// LatencyMillis всегда равна интервалу опроса: пользователь видит
	// новые данные не раньше следующего тика, а не через время запроса
	LatencyMillis float64
	// RoundTrip фактическое время запроса t1-t0, только для метрик
	RoundTrip time.Duration
	FetchedAt time.Time
}

// Fetcher выполняет pull-запросы
type Fetcher struct {
	client   *resty.Client
	interval time.Duration
	now      func() time.Time
}

// NewFetcher создает pull-клиент. Повторы отключены: упавший тик просто
// пропускается до следующего интервала.
func NewFetcher(cfg Config) *Fetcher {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
	}

	return &Fetcher{
		client:   client,
		interval: cfg.Interval,
		now:      time.Now,
	}
}

// Interval интервал опроса
func (f *Fetcher) Interval() time.Duration {
	return f.interval
}

// Tick выполняет один pull-запрос для субъекта
func (f *Fetcher) Tick(ctx context.Context, subject string) (TickResult, error) {
	if subject == "" {
		return TickResult{}, models.ErrEmptySubject
	}

	t0 := f.now()
	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("subject", subject).
		Get(SensorDataPath)
	if err != nil {
		return TickResult{}, &models.FetchError{Subject: subject, Err: err}
	}
	t1 := f.now()

	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return TickResult{}, &models.FetchError{
			Subject:    subject,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}

	var records []models.ReadingRecord
	if body := resp.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &records); err != nil {
			return TickResult{}, &models.FetchError{
				Subject:    subject,
				StatusCode: resp.StatusCode(),
				Err:        fmt.Errorf("decode response: %w", err),
			}
		}
	}

	// Эндпоинт отдает показания от новых к старым
	if len(records) > MaxReadings {
		records = records[:MaxReadings]
	}

	readings := make([]models.SensorReading, 0, len(records))
	for _, rec := range records {
		readings = append(readings, models.NewSensorReading(rec, models.ChannelPull, t1))
	}

	return TickResult{
		Readings:      readings,
		LatencyMillis: float64(f.interval) / float64(time.Millisecond),
		RoundTrip:     t1.Sub(t0),
		FetchedAt:     t1,
	}, nil
}
