package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tubeflow/tubeflow/internal/core/services"
)

// sseSubscriber bridges the hub to one SSE connection. Send never
// blocks: a full buffer means the client stopped reading, and the
// returned error lets the hub evict the connection.
type sseSubscriber struct {
	ch chan services.Message
}

func newSSESubscriber() *sseSubscriber {
	return &sseSubscriber{ch: make(chan services.Message, 64)}
}

func (s *sseSubscriber) Send(msg services.Message) error {
	select {
	case s.ch <- msg:
		return nil
	default:
		return fmt.Errorf("subscriber buffer full")
	}
}

// handleEventsSSE streams hub broadcasts over Server-Sent Events.
// GET /v1/events?channels=pipeline,uploads. No channels means global
// broadcasts only.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := newSSESubscriber()
	s.hub.Connect(sub)
	defer s.hub.Disconnect(sub)

	if raw := r.URL.Query().Get("channels"); raw != "" {
		for _, ch := range strings.Split(raw, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				s.hub.Subscribe(sub, ch)
			}
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.ch:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to marshal event", "error", err, "type", msg.Type)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
			flusher.Flush()
		}
	}
}
