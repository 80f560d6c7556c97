// Package push управляет жизненным циклом push-канала: подключение, подписка,
// прием, отключение и ручное переподключение
package push

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"telemetry-sync/internal/dedup"
	"telemetry-sync/internal/metrics"
	"telemetry-sync/internal/models"
)

const (
	deliveryBuffer = 64
	stateBuffer    = 8
	storeTimeout   = 3 * time.Second
)

// ErrConnectAborted подключение отменено вызовом Disconnect во время рукопожатия
var ErrConnectAborted = errors.New("push connect aborted by disconnect")

// Delivery принятое (не повторное) показание с задержкой доставки
type Delivery struct {
	Reading       models.SensorReading
	LatencyMillis float64
	// Generation поколение соединения; устаревшие доставки отбрасываются
	Generation uint64
}

// Manager владеет единственным логическим push-каналом.
// Состояния: Disconnected -> Connecting -> Connected -> Disconnected.
// Переподключение только явным вызовом Connect.
type Manager struct {
	transport Transport
	store     dedup.Store
	logger    *log.Logger
	now       func() time.Time

	mu    sync.Mutex
	state models.HealthState
	gen   uint64
	sub   Subscription
	stop  chan struct{}

	deliveries chan Delivery
	states     chan models.HealthState
}

// NewManager создает менеджер push-канала
func NewManager(transport Transport, store dedup.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		transport:  transport,
		store:      store,
		logger:     logger,
		now:        time.Now,
		deliveries: make(chan Delivery, deliveryBuffer),
		states:     make(chan models.HealthState, stateBuffer),
	}
}

// Deliveries поток принятых показаний; единственный читатель - оркестратор
func (m *Manager) Deliveries() <-chan Delivery {
	return m.deliveries
}

// StateChanges поток смен состояния канала. При переполнении изменения
// отбрасываются: текущее состояние всегда доступно через State.
func (m *Manager) StateChanges() <-chan models.HealthState {
	return m.states
}

// State текущее состояние канала
func (m *Manager) State() models.HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Generation текущее поколение соединения
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// IsCurrent сообщает, что доставка относится к активному соединению
func (m *Manager) IsCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.state == models.Connected
}

// Connect подключает канал и подписывается на адрес субъекта.
// Если канал уже подключается или подключен, вызов ничего не делает.
func (m *Manager) Connect(ctx context.Context, subject string) error {
	m.mu.Lock()
	if m.state != models.Disconnected {
		m.mu.Unlock()
		return nil
	}
	if subject == "" {
		m.mu.Unlock()
		return models.ErrEmptySubject
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.gen++
	gen := m.gen
	m.setStateLocked(models.Connecting)
	m.mu.Unlock()

	m.logger.Printf("push: connecting via %s for subject %s", m.transport.Name(), subject)
	sub, err := m.transport.Dial(ctx, subject)

	m.mu.Lock()
	if m.gen != gen {
		// Disconnect пришел во время рукопожатия
		m.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		return ErrConnectAborted
	}
	if err != nil {
		m.setStateLocked(models.Disconnected)
		m.mu.Unlock()
		metrics.TransportErrors.WithLabelValues("dial").Inc()
		var te *models.TransportError
		if !errors.As(err, &te) {
			err = &models.TransportError{Op: "dial", Err: err}
		}
		m.logger.Printf("push: connect failed: %v", err)
		return err
	}
	stop := make(chan struct{})
	m.sub = sub
	m.stop = stop
	m.setStateLocked(models.Connected)
	m.mu.Unlock()

	m.logger.Printf("push: subscribed for subject %s", subject)
	go m.receive(gen, sub, stop)
	return nil
}

// Disconnect закрывает транспорт, очищает хранилище дедупликации и
// переводит канал в Disconnected. Идемпотентен.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == models.Disconnected {
		m.mu.Unlock()
		return
	}
	sub := m.teardownLocked()
	m.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			m.logger.Printf("push: close subscription: %v", err)
		}
	}
	m.logger.Printf("push: disconnected")
}

// teardownLocked сбрасывает соединение; вызывается под m.mu
func (m *Manager) teardownLocked() Subscription {
	m.gen++
	sub := m.sub
	m.sub = nil
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Printf("push: clear dedup store: %v", err)
	}
	cancel()
	m.setStateLocked(models.Disconnected)
	return sub
}

func (m *Manager) receive(gen uint64, sub Subscription, stop <-chan struct{}) {
	for payload := range sub.Messages() {
		m.handleMessage(gen, payload, stop)
	}

	m.mu.Lock()
	if m.gen != gen {
		// Поток завершен штатным Disconnect
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.mu.Unlock()

	sub.Close()
	metrics.TransportErrors.WithLabelValues("stream").Inc()
	m.logger.Printf("push: %v", &models.TransportError{Op: "stream", Err: streamErr(sub)})
}

func streamErr(sub Subscription) error {
	if err := sub.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by remote")
}

func (m *Manager) handleMessage(gen uint64, payload []byte, stop <-chan struct{}) {
	deliveredAt := m.now()

	reading, err := models.ParsePushPayload(payload, deliveredAt)
	if err != nil {
		// Ключ не запоминается: исправленная повторная отправка будет принята
		metrics.MalformedPayloads.Inc()
		m.logger.Printf("push: dropping message: %v", err)
		return
	}
	key := dedup.KeyOf(reading)

	m.mu.Lock()
	if m.gen != gen || m.state != models.Connected {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	added, err := m.store.Add(ctx, key)
	cancel()
	m.mu.Unlock()

	if err != nil {
		metrics.TransportErrors.WithLabelValues("dedup").Inc()
		m.logger.Printf("push: dedup store unavailable, dropping %s: %v", key, err)
		return
	}
	if !added {
		metrics.PushDuplicatesDropped.Inc()
		return
	}

	latency := deliveredAt.Sub(reading.ServerReceivedAt.Time())
	if latency < 0 {
		// Расхождение часов клиента и сервера
		latency = 0
	}

	d := Delivery{
		Reading:       reading,
		LatencyMillis: float64(latency) / float64(time.Millisecond),
		Generation:    gen,
	}
	select {
	case m.deliveries <- d:
	case <-stop:
	}
}

func (m *Manager) setStateLocked(s models.HealthState) {
	if m.state == s {
		return
	}
	m.state = s
	metrics.ChannelHealth.Set(float64(s))
	select {
	case m.states <- s:
	default:
	}
}
