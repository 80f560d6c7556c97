package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"telemetry-sync/internal/models"
)

const keepAliveInterval = 15 * time.Second

// EventHub рассылает уведомления об изменениях всем подписчикам /events
type EventHub struct {
	mu      sync.Mutex
	clients map[chan struct{}]struct{}
}

// NewEventHub создает пустой хаб
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[chan struct{}]struct{})}
}

// Run читает уведомления движка до отмены ctx
func (hub *EventHub) Run(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			hub.broadcast()
		}
	}
}

func (hub *EventHub) broadcast() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for ch := range hub.clients {
		// Медленный клиент получит одно слитое уведомление
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (hub *EventHub) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	hub.mu.Lock()
	hub.clients[ch] = struct{}{}
	hub.mu.Unlock()
	return ch
}

func (hub *EventHub) unsubscribe(ch chan struct{}) {
	hub.mu.Lock()
	delete(hub.clients, ch)
	hub.mu.Unlock()
}

// Clients количество подписчиков
func (hub *EventHub) Clients() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.clients)
}

// EventsHandler обрабатывает GET /events - поток снимков (Server-Sent Events)
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	if h.events == nil {
		h.respondError(w, "Events not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := h.events.subscribe()
	defer h.events.unsubscribe(ch)

	// Первый снимок сразу после подписки
	if err := writeSnapshotEvent(w, h.engine.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ch:
			if err := writeSnapshotEvent(w, h.engine.Snapshot()); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeSnapshotEvent(w http.ResponseWriter, snap models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
