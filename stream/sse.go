package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hupe1980/stepmesh/core"
)

// DoneMarker terminates every SSE stream.
const DoneMarker = "data: [DONE]\n\n"

// Writer frames values as server-sent events.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a writer over w. Writers that implement http.Flusher are
// flushed after every event.
func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// NewHTTPWriter sets the event-stream headers on w and returns a writer.
func NewHTTPWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return NewWriter(w)
}

// WriteFrame writes f as one "data: <json>" event.
func (s *Writer) WriteFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal SSE frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Done writes the end-of-stream marker.
func (s *Writer) Done() error {
	if _, err := io.WriteString(s.w, DoneMarker); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *Writer) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Pipe transcodes events into frames until both channels close. The first
// value on errs becomes the error frame once events is drained; nothing
// follows it.
func Pipe(ctx context.Context, t *Transcoder, events <-chan core.Event, errs <-chan error) <-chan Frame {
	out := make(chan Frame, 16)

	go func() {
		defer close(out)

		send := func(f Frame) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var failure error
		for events != nil || errs != nil {
			select {
			case <-ctx.Done():
				if f, ok := t.Fail(ctx.Err().Error()); ok {
					select {
					case out <- f:
					default:
					}
				}
				return
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				for _, f := range t.Transcode(ev) {
					if !send(f) {
						return
					}
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if err != nil && failure == nil {
					failure = err
				}
			}
		}

		if failure != nil {
			if f, ok := t.Fail(failure.Error()); ok {
				send(f)
			}
		}
	}()

	return out
}

// WriteSSE writes frames to w and terminates the stream with DoneMarker.
func WriteSSE(w io.Writer, frames <-chan Frame) error {
	sw := NewWriter(w)
	for f := range frames {
		if err := sw.WriteFrame(f); err != nil {
			return err
		}
	}
	return sw.Done()
}
