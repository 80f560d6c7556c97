// Package orchestrator связывает pull- и push-каналы в одну сессию
// синхронизации. Цикл событий сессии единственный пишет в представления
// и в регистратор задержек.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"telemetry-sync/internal/analytics"
	"telemetry-sync/internal/metrics"
	"telemetry-sync/internal/models"
	"telemetry-sync/internal/pull"
	"telemetry-sync/internal/push"
)

// Fetcher источник pull-данных
type Fetcher interface {
	Tick(ctx context.Context, subject string) (pull.TickResult, error)
	Interval() time.Duration
}

// PushChannel push-канал
type PushChannel interface {
	Connect(ctx context.Context, subject string) error
	Disconnect()
	State() models.HealthState
	IsCurrent(gen uint64) bool
	Deliveries() <-chan push.Delivery
	StateChanges() <-chan models.HealthState
}

type session struct {
	id      string
	subject string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	closing atomic.Bool
	// fetches запросы pull, запущенные циклом сессии
	fetches sync.WaitGroup
}

type pullResult struct {
	res pull.TickResult
	err error
}

// Orchestrator управляет сессией синхронизации
type Orchestrator struct {
	fetcher Fetcher
	push    PushChannel
	logger  *log.Logger

	// lifecycle сериализует StartSession и EndSession целиком
	lifecycle sync.Mutex
	mu        sync.RWMutex
	session   *session

	pullView *analytics.BoundedView[models.SensorReading]
	pushView *analytics.BoundedView[models.SensorReading]
	recorder *analytics.Recorder

	pullTicks    atomic.Uint64
	pullErrors   atomic.Uint64
	pushAccepted atomic.Uint64
	pushStale    atomic.Uint64

	changes chan struct{}
}

// New создает оркестратор
func New(fetcher Fetcher, pushChannel PushChannel, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		fetcher:  fetcher,
		push:     pushChannel,
		logger:   logger,
		pullView: analytics.NewBoundedView[models.SensorReading](analytics.ReadingsViewSize),
		pushView: analytics.NewBoundedView[models.SensorReading](analytics.ReadingsViewSize),
		recorder: analytics.NewRecorder(analytics.LatencySeriesSize),
		changes:  make(chan struct{}, 1),
	}
}

// StartSession запускает оба канала для субъекта. Повторный вызов для
// того же субъекта ничего не делает.
func (o *Orchestrator) StartSession(ctx context.Context, subject string) error {
	if subject == "" {
		return models.ErrEmptySubject
	}

	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		if o.session.subject == subject {
			return nil
		}
		return models.ErrSessionActive
	}

	// Сессия переживает запрос, который ее запустил
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:      uuid.NewString(),
		subject: subject,
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	o.session = s
	metrics.SetSessionActive(true)

	o.logger.Printf("session %s started for subject %s", s.id, subject)
	go o.run(s)
	return nil
}

// EndSession останавливает таймер, отключает push-канал и очищает
// представления. Ждет завершения начатых запросов pull, после возврата
// состояние больше не меняется.
func (o *Orchestrator) EndSession() {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.RLock()
	s := o.session
	o.mu.RUnlock()
	if s == nil {
		return
	}

	s.closing.Store(true)
	s.cancel()
	<-s.done
	s.fetches.Wait()

	o.push.Disconnect()

	o.pullView.Clear()
	o.pushView.Clear()
	o.recorder.Reset()
	o.pullTicks.Store(0)
	o.pullErrors.Store(0)
	o.pushAccepted.Store(0)
	o.pushStale.Store(0)

	o.mu.Lock()
	o.session = nil
	o.mu.Unlock()

	metrics.SetSessionActive(false)
	metrics.UpdatePerformanceMetrics(0, 0, 0)
	o.logger.Printf("session %s ended", s.id)
	o.notify()
}

// ReconnectPush переподключает push-канал текущей сессии
func (o *Orchestrator) ReconnectPush() error {
	o.mu.RLock()
	s := o.session
	o.mu.RUnlock()
	if s == nil {
		return models.ErrNoSession
	}
	return o.push.Connect(s.ctx, s.subject)
}

// Health состояние push-канала
func (o *Orchestrator) Health() models.HealthState {
	return o.push.State()
}

// Active сообщает, идет ли сессия
func (o *Orchestrator) Active() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session != nil
}

// Delta сравнение каналов в позиции index
func (o *Orchestrator) Delta(index int) (models.Delta, bool) {
	return o.recorder.Delta(index)
}

// Readings текущее представление канала, от новых к старым
func (o *Orchestrator) Readings(ch models.Channel) []models.SensorReading {
	if ch == models.ChannelPush {
		return o.pushView.Items()
	}
	return o.pullView.Items()
}

// Performance сравнительные показатели каналов
func (o *Orchestrator) Performance() models.Performance {
	return o.recorder.Performance()
}

// Changes уведомления об изменении состояния; несколько изменений
// подряд сливаются в одно
func (o *Orchestrator) Changes() <-chan struct{} {
	return o.changes
}

// Snapshot снимок состояния для слоя представления
func (o *Orchestrator) Snapshot() models.Snapshot {
	snap := models.Snapshot{
		ChannelHealth: o.push.State(),
		PullView:      o.pullView.Items(),
		PushView:      o.pushView.Items(),
		Performance:   o.recorder.Performance(),
		Counters: models.Counters{
			PullTicks:          o.pullTicks.Load(),
			PullErrors:         o.pullErrors.Load(),
			PushAccepted:       o.pushAccepted.Load(),
			PushStaleDiscarded: o.pushStale.Load(),
		},
		Timestamp: time.Now(),
	}

	o.mu.RLock()
	if s := o.session; s != nil {
		snap.SessionID = s.id
		snap.Subject = s.subject
		snap.Active = true
	}
	o.mu.RUnlock()

	return snap
}

func (o *Orchestrator) run(s *session) {
	defer close(s.done)

	ticker := time.NewTicker(o.fetcher.Interval())
	defer ticker.Stop()

	results := make(chan pullResult, 1)
	inFlight := false
	fetch := func() {
		inFlight = true
		s.fetches.Add(1)
		go func() {
			defer s.fetches.Done()
			res, err := o.fetcher.Tick(s.ctx, s.subject)
			results <- pullResult{res: res, err: err}
		}()
	}

	fetch()
	go func() {
		if err := o.push.Connect(s.ctx, s.subject); err != nil &&
			!errors.Is(err, push.ErrConnectAborted) && !errors.Is(err, context.Canceled) {
			o.logger.Printf("session %s: push connect: %v", s.id, err)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if inFlight {
				metrics.PullTicks.WithLabelValues("skipped").Inc()
				continue
			}
			fetch()
		case r := <-results:
			inFlight = false
			o.applyPull(s, r)
		case d := <-o.push.Deliveries():
			o.applyPush(s, d)
		case st := <-o.push.StateChanges():
			o.logger.Printf("session %s: push channel %s", s.id, st)
			o.notify()
		}
	}
}

func (o *Orchestrator) applyPull(s *session, r pullResult) {
	if s.closing.Load() {
		return
	}
	if r.err != nil {
		o.pullErrors.Add(1)
		metrics.PullTicks.WithLabelValues("error").Inc()
		o.logger.Printf("session %s: %v", s.id, r.err)
		return
	}

	o.pullView.Replace(r.res.Readings)
	o.recorder.Record(models.ChannelPull, r.res.LatencyMillis)
	o.pullTicks.Add(1)

	metrics.PullTicks.WithLabelValues("ok").Inc()
	metrics.PullRoundTrip.Observe(r.res.RoundTrip.Seconds())
	metrics.ReadingsReceived.WithLabelValues(string(models.ChannelPull)).Add(float64(len(r.res.Readings)))
	o.updated()
}

func (o *Orchestrator) applyPush(s *session, d push.Delivery) {
	if s.closing.Load() || !o.push.IsCurrent(d.Generation) {
		o.pushStale.Add(1)
		metrics.PushStaleDiscarded.Inc()
		return
	}

	o.pushView.Insert(d.Reading)
	o.recorder.Record(models.ChannelPush, d.LatencyMillis)
	o.pushAccepted.Add(1)

	metrics.ReadingsReceived.WithLabelValues(string(models.ChannelPush)).Inc()
	o.updated()
}

func (o *Orchestrator) updated() {
	metrics.UpdatePerformanceMetrics(
		o.recorder.AverageLatency(models.ChannelPull),
		o.recorder.AverageLatency(models.ChannelPush),
		o.recorder.Ratio(),
	)
	o.notify()
}

func (o *Orchestrator) notify() {
	select {
	case o.changes <- struct{}{}:
	default:
	}
}
