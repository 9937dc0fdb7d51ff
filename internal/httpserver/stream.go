package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"callflow/internal/event"
)

// StreamHub broadcasts outbound notifications to attached SSE listeners. It
// implements event.Sink; delivery is best-effort and notifications are
// silently dropped when no listener is attached or a listener lags.
type StreamHub struct {
	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	logger      *slog.Logger
}

// NewStreamHub creates an empty hub.
func NewStreamHub(logger *slog.Logger) *StreamHub {
	return &StreamHub{
		subscribers: make(map[chan []byte]struct{}),
		logger:      logger.With("component", "event_stream"),
	}
}

// CallEvent implements event.Sink.
func (h *StreamHub) CallEvent(evt event.CallEvent) {
	h.broadcast("call_event", evt)
}

// MessageLog implements event.Sink.
func (h *StreamHub) MessageLog(entry event.MessageLog) {
	h.broadcast("message_log", entry)
}

// Error implements event.Sink.
func (h *StreamHub) Error(code, message string) {
	h.broadcast("error", map[string]string{"code": code, "message": message})
}

func (h *StreamHub) broadcast(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode stream payload", "error", err, "type", eventType)
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data))

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub <- frame:
		default:
			// Listener is lagging; drop rather than block the core.
		}
	}
}

// ServeHTTP streams notifications to one listener until it disconnects.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := make(chan []byte, 16)
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.subscribers, sub)
		h.mu.Unlock()
	}()

	for {
		select {
		case frame := <-sub:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
