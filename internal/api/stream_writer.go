package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStepWriter streams run progress as server-sent events: one
// sample.created event, a sample.step event per emitted state, and a closing
// sample.completed or sample.failed carrying the full response.
type SSEStepWriter struct {
	w       io.Writer
	flusher func()
	seq     int
	begun   bool
}

func NewSSEStepWriter(c *echo.Context) (*SSEStepWriter, error) {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}

	return &SSEStepWriter{
		w:       res,
		flusher: flusher.Flush,
		seq:     1,
	}, nil
}

// Started reports whether any event went out, i.e. whether the response
// headers are already committed.
func (s *SSEStepWriter) Started() bool {
	return s.begun
}

func (s *SSEStepWriter) Begin(resp SampleResponse) error {
	s.begun = true
	resp.Status = "in_progress"
	return s.send(map[string]any{
		"type":            "sample.created",
		"sample":          resp,
		"sequence_number": s.seq,
	})
}

func (s *SSEStepWriter) EmitStep(ev StepEvent) error {
	return s.send(map[string]any{
		"type":            "sample.step",
		"step":            ev,
		"sequence_number": s.seq,
	})
}

func (s *SSEStepWriter) Complete(resp SampleResponse) error {
	return s.send(map[string]any{
		"type":            "sample.completed",
		"sample":          resp,
		"sequence_number": s.seq,
	})
}

func (s *SSEStepWriter) Failed(resp SampleResponse, err error) error {
	if resp.Error == nil {
		resp.Error = &SampleError{
			Message: err.Error(),
			Type:    "server_error",
		}
	}
	return s.send(map[string]any{
		"type":            "sample.failed",
		"sample":          resp,
		"sequence_number": s.seq,
	})
}

func (s *SSEStepWriter) send(payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", string(b)); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	s.seq++
	return nil
}
