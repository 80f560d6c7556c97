package push

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"telemetry-sync/internal/models"
)

const (
	// DefaultStompTopic адрес подписки по умолчанию
	DefaultStompTopic = "/topic/sensor-data/{subject}"

	stompWriteWait = 2 * time.Second
)

// StompConfig настройки STOMP поверх WebSocket
type StompConfig struct {
	URL            string
	TopicTemplate  string
	Login          string
	Passcode       string
	AuthToken      string
	ConnectTimeout time.Duration
}

// StompTransport push-транспорт STOMP 1.2 поверх WebSocket
type StompTransport struct {
	cfg    StompConfig
	dialer *websocket.Dialer
}

// NewStompTransport создает STOMP-транспорт
func NewStompTransport(cfg StompConfig) *StompTransport {
	if cfg.TopicTemplate == "" {
		cfg.TopicTemplate = DefaultStompTopic
	}
	return &StompTransport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		},
	}
}

// Name имя транспорта
func (t *StompTransport) Name() string {
	return "stomp"
}

// Dial подключается, выполняет CONNECT и SUBSCRIBE
func (t *StompTransport) Dial(ctx context.Context, subject string) (Subscription, error) {
	if t.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ConnectTimeout)
		defer cancel()
	}

	header := http.Header{}
	if t.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+t.cfg.AuthToken)
	}

	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return nil, &models.TransportError{Op: "dial", Err: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	// Закрываем соединение, если контекст отменен во время рукопожатия
	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopWatch:
		}
	}()

	stream := newWSConn(conn)
	reader := frame.NewReader(stream)
	writer := frame.NewWriter(stream)

	err = t.handshake(reader, writer)
	close(stopWatch)
	<-watchDone
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &models.TransportError{Op: "connect", Err: err}
	}

	subID := uuid.NewString()
	destination := Destination(t.cfg.TopicTemplate, subject)
	subscribe := frame.New(frame.SUBSCRIBE,
		frame.Id, subID,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
	if err := writer.Write(subscribe); err != nil {
		conn.Close()
		return nil, &models.TransportError{Op: "subscribe", Err: err}
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	s := &stompSubscription{
		conn:     conn,
		reader:   reader,
		writer:   writer,
		id:       subID,
		messages: make(chan []byte, deliveryBuffer),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (t *StompTransport) handshake(r *frame.Reader, w *frame.Writer) error {
	host := "/"
	if u, err := url.Parse(t.cfg.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1,1.0",
		frame.Host, host,
		frame.HeartBeat, "0,0",
	)
	if t.cfg.Login != "" {
		connect.Header.Add(frame.Login, t.cfg.Login)
		connect.Header.Add(frame.Passcode, t.cfg.Passcode)
	}
	if err := w.Write(connect); err != nil {
		return err
	}

	for {
		f, err := r.Read()
		if err != nil {
			return err
		}
		// nil означает heart-beat
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECTED:
			return nil
		case frame.ERROR:
			return frameError(f)
		}
	}
}

func frameError(f *frame.Frame) error {
	msg := f.Header.Get(frame.Message)
	if len(f.Body) > 0 {
		return fmt.Errorf("stomp error: %s: %s", msg, f.Body)
	}
	return fmt.Errorf("stomp error: %s", msg)
}

type stompSubscription struct {
	conn   *websocket.Conn
	reader *frame.Reader
	writer *frame.Writer
	id     string

	messages chan []byte
	done     chan struct{}
	exited   chan struct{}

	mu      sync.Mutex
	err     error
	closing bool
	once    sync.Once
}

func (s *stompSubscription) Messages() <-chan []byte {
	return s.messages
}

func (s *stompSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stompSubscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closing && s.err == nil {
		s.err = err
	}
}

func (s *stompSubscription) readLoop() {
	defer close(s.exited)
	defer close(s.messages)

	for {
		f, err := s.reader.Read()
		if err != nil {
			s.setErr(err)
			return
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.MESSAGE:
			select {
			case s.messages <- f.Body:
			case <-s.done:
				return
			}
		case frame.ERROR:
			s.setErr(frameError(f))
			return
		}
	}
}

// Close отправляет UNSUBSCRIBE и DISCONNECT и закрывает соединение
func (s *stompSubscription) Close() error {
	var closeErr error
	s.once.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)

		deadline := time.Now().Add(stompWriteWait)
		s.conn.SetWriteDeadline(deadline)
		if err := s.writer.Write(frame.New(frame.UNSUBSCRIBE, frame.Id, s.id)); err == nil {
			s.writer.Write(frame.New(frame.DISCONNECT))
		}
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErr = err
		}
		<-s.exited
	})
	return closeErr
}
