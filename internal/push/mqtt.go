package push

import (
	"context"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"telemetry-sync/internal/models"
)

const (
	// DefaultMQTTTopic топик по умолчанию
	DefaultMQTTTopic = "sensor-data/{subject}"

	mqttQoS             = 1
	mqttQuiesceMillis   = 250
	mqttUnsubscribeWait = 2 * time.Second
)

// MQTTConfig настройки MQTT-транспорта
type MQTTConfig struct {
	BrokerURL      string
	TopicTemplate  string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// MQTTTransport push-транспорт поверх MQTT
type MQTTTransport struct {
	cfg       MQTTConfig
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTTransport создает MQTT-транспорт
func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	if cfg.TopicTemplate == "" {
		cfg.TopicTemplate = DefaultMQTTTopic
	}
	return &MQTTTransport{cfg: cfg, newClient: mqtt.NewClient}
}

// Name имя транспорта
func (t *MQTTTransport) Name() string {
	return "mqtt"
}

// Dial подключается к брокеру и подписывается на топик субъекта.
// Автоматическое переподключение клиента отключено.
func (t *MQTTTransport) Dial(ctx context.Context, subject string) (Subscription, error) {
	s := &mqttSubscription{
		messages: make(chan []byte, deliveryBuffer),
		done:     make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID("telemetry-sync-" + uuid.NewString()).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.fail(err)
		})
	if t.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	}
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}

	client := t.newClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, &models.TransportError{Op: "dial", Err: err}
	}

	topic := Destination(t.cfg.TopicTemplate, subject)
	if err := waitToken(ctx, client.Subscribe(topic, mqttQoS, s.onMessage)); err != nil {
		client.Disconnect(0)
		return nil, &models.TransportError{Op: "subscribe", Err: err}
	}

	s.client = client
	s.topic = topic
	return s, nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttSubscription struct {
	client mqtt.Client
	topic  string

	messages chan []byte
	done     chan struct{}

	// mu защищает закрытие messages от конкурентной отправки из onMessage
	mu     sync.RWMutex
	closed bool
	err    error
	once   sync.Once
}

func (s *mqttSubscription) Messages() <-chan []byte {
	return s.messages
}

func (s *mqttSubscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *mqttSubscription) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case s.messages <- payload:
	case <-s.done:
	}
}

func (s *mqttSubscription) fail(err error) {
	if err == nil {
		err = errors.New("mqtt connection lost")
	}
	s.finish(err)
}

func (s *mqttSubscription) finish(err error) {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		s.err = err
		close(s.messages)
		s.mu.Unlock()
	})
}

// Close отписывается и отключает клиента
func (s *mqttSubscription) Close() error {
	s.finish(nil)
	if s.client == nil {
		return nil
	}
	if s.client.IsConnectionOpen() {
		token := s.client.Unsubscribe(s.topic)
		token.WaitTimeout(mqttUnsubscribeWait)
	}
	s.client.Disconnect(mqttQuiesceMillis)
	return nil
}
