package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"telemetry-sync/internal/models"
)

type fakeEngine struct {
	subject      string
	startErr     error
	reconnectErr error
	ended        bool
	delta        models.Delta
	deltaOK      bool
	readings     map[models.Channel][]models.SensorReading
	changes      chan struct{}
}

func (e *fakeEngine) StartSession(_ context.Context, subject string) error {
	if subject == "" {
		return models.ErrEmptySubject
	}
	if e.startErr != nil {
		return e.startErr
	}
	e.subject = subject
	return nil
}

func (e *fakeEngine) EndSession() {
	e.ended = true
	e.subject = ""
}

func (e *fakeEngine) ReconnectPush() error { return e.reconnectErr }

func (e *fakeEngine) Snapshot() models.Snapshot {
	return models.Snapshot{Subject: e.subject, Active: e.subject != ""}
}

func (e *fakeEngine) Readings(ch models.Channel) []models.SensorReading {
	return e.readings[ch]
}

func (e *fakeEngine) Performance() models.Performance {
	return models.Performance{Ratio: 25}
}

func (e *fakeEngine) Delta(int) (models.Delta, bool) { return e.delta, e.deltaOK }
func (e *fakeEngine) Health() models.HealthState     { return models.Connected }
func (e *fakeEngine) Active() bool                   { return e.subject != "" }
func (e *fakeEngine) Changes() <-chan struct{}       { return e.changes }

func newTestRouter(engine SyncEngine) *mux.Router {
	router := mux.NewRouter()
	NewHandler(engine, nil, "memory").RegisterRoutes(router)
	return router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStartSessionHandler(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{"ok", `{"subject":"u1"}`, nil, http.StatusOK},
		{"invalid json", `{`, nil, http.StatusBadRequest},
		{"empty subject", `{"subject":""}`, nil, http.StatusBadRequest},
		{"other session", `{"subject":"u2"}`, models.ErrSessionActive, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{startErr: tt.startErr}
			rec := do(newTestRouter(engine), http.MethodPost, "/session", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
			if tt.want == http.StatusOK {
				var snap models.Snapshot
				if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if !snap.Active || snap.Subject != "u1" {
					t.Errorf("unexpected snapshot %+v", snap)
				}
			}
		})
	}
}

func TestEndSessionHandler(t *testing.T) {
	engine := &fakeEngine{subject: "u1"}
	rec := do(newTestRouter(engine), http.MethodDelete, "/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !engine.ended {
		t.Error("expected EndSession to be called")
	}
}

func TestReadingsHandler(t *testing.T) {
	engine := &fakeEngine{readings: map[models.Channel][]models.SensorReading{
		models.ChannelPush: {{ID: "a", Channel: models.ChannelPush}},
	}}
	router := newTestRouter(engine)

	rec := do(router, http.MethodGet, "/readings/push", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Channel  models.Channel         `json:"channel"`
		Readings []models.SensorReading `json:"readings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Channel != models.ChannelPush || len(resp.Readings) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}

	if rec := do(router, http.MethodGet, "/readings/carrier-pigeon", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown channel, got %d", rec.Code)
	}
}

func TestDeltaHandler(t *testing.T) {
	engine := &fakeEngine{delta: models.Delta{Index: 0, Winner: models.ChannelPush, Difference: 4800}, deltaOK: true}
	router := newTestRouter(engine)

	rec := do(router, http.MethodGet, "/performance/delta/0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var d models.Delta
	json.NewDecoder(rec.Body).Decode(&d)
	if d.Winner != models.ChannelPush || d.Difference != 4800 {
		t.Errorf("unexpected delta %+v", d)
	}

	if rec := do(router, http.MethodGet, "/performance/delta/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	engine.deltaOK = false
	if rec := do(router, http.MethodGet, "/performance/delta/14", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestReconnectHandler(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"no session", models.ErrNoSession, http.StatusConflict},
		{"transport", &models.TransportError{Op: "dial", Err: errors.New("refused")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newTestRouter(&fakeEngine{reconnectErr: tt.err}), http.MethodPost, "/push/connect", "")
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	rec := do(newTestRouter(&fakeEngine{subject: "u1"}), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["status"] != "healthy" || status["channel_health"] != "connected" {
		t.Errorf("unexpected health %v", status)
	}
	if status["session_active"] != true || status["dedup_backend"] != "memory" {
		t.Errorf("unexpected health %v", status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(newTestRouter(&fakeEngine{}), http.MethodPut, "/session", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestEventsHandler_StreamsSnapshots(t *testing.T) {
	engine := &fakeEngine{subject: "u1", changes: make(chan struct{}, 1)}
	h := NewHandler(engine, nil, "memory")
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.RunEvents(ctx)

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %s", ct)
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	nextData := func() string {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatal("stream closed")
				}
				if strings.HasPrefix(line, "data: ") {
					return strings.TrimPrefix(line, "data: ")
				}
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for event")
			}
		}
	}

	if data := nextData(); !strings.Contains(data, `"subject":"u1"`) {
		t.Errorf("unexpected initial snapshot %s", data)
	}

	// Ждем регистрации подписчика, прежде чем отправить изменение
	deadline := time.Now().Add(2 * time.Second)
	for h.events.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	engine.subject = "u2"
	engine.changes <- struct{}{}
	if data := nextData(); !strings.Contains(data, `"subject":"u2"`) {
		t.Errorf("expected updated snapshot, got %s", data)
	}
}
