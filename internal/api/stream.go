package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"xyz-layer-registry/internal/errlog"
)

// SSEStream delivers session error records to one client as Server-Sent
// Events. It implements errlog.Sink; each record is flushed immediately so
// the transport's backpressure is the only buffering between the ledger and
// the client.
type SSEStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEStream prepares an SSE response. Returns nil if the ResponseWriter
// does not support flushing.
func NewSSEStream(w http.ResponseWriter) *SSEStream {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &SSEStream{w: w, flusher: flusher}
}

// Send pushes one record as an "error" event. JSON encoding keeps the
// payload on a single line, so no data-prefix splitting is needed.
func (s *SSEStream) Send(rec errlog.Record) error {
	payload, err := json.Marshal(errorToWire(rec))
	if err != nil {
		return fmt.Errorf("encoding error record: %w", err)
	}
	return s.emit("error", string(payload))
}

// Done signals normal completion: the session ended and the log is drained.
func (s *SSEStream) Done() {
	s.emit("done", "{}") //nolint:errcheck // client gone is the only failure
}

// Fail signals a terminal stream failure, distinct from normal completion.
func (s *SSEStream) Fail(msg string) {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	s.emit("stream_error", string(payload)) //nolint:errcheck
}

func (s *SSEStream) emit(event, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
