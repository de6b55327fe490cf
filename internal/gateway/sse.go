package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// sseWriter frames chat-completion chunks as server-sent events. Headers are
// written on the first frame.
type sseWriter struct {
	w       gin.ResponseWriter
	started bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{w: c.Writer}
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseWriter) writeData(data []byte) error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *sseWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode chunk: %w", err)
	}
	return s.writeData(data)
}

// done writes the literal terminator.
func (s *sseWriter) done() error {
	return s.writeData([]byte("[DONE]"))
}
