package stream

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepmesh/core"
)

func TestPipe_ErrorFrameAfterEvents(t *testing.T) {
	events := make(chan core.Event, 2)
	errs := make(chan error, 1)
	events <- core.NewPartialEvent("t1", "call_model", 1, "a")
	events <- core.NewPartialEvent("t1", "call_model", 1, "b")
	errs <- errors.New("transport down")
	close(events)
	close(errs)

	var frames []Frame
	for f := range Pipe(context.Background(), NewTranscoder(), events, errs) {
		frames = append(frames, f)
	}
	require.Len(t, frames, 3)
	assert.Equal(t, "ab", frames[0].Text()+frames[1].Text())
	assert.Equal(t, ErrorFrame("transport down", 1), frames[2])
}

func TestWriteSSE(t *testing.T) {
	frames := make(chan Frame, 2)
	frames <- Frame{Chunk: []Item{{Type: ItemText, Text: "hi"}}, Metadata: Metadata{Node: "call_model", Step: 1, Type: TypeAIResponse}}
	frames <- ErrorFrame("boom", 0)
	close(frames)

	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, frames))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, `data: {"chunk":[{"type":"text","text":"hi","index":0}],"toolCalls":null,"metadata":{"node":"call_model","step":1,"type":"ai_response"}}`+"\n\n"))
	assert.Contains(t, out, `data: {"error":"boom","metadata":{"node":"error","step":0,"type":"error"}}`+"\n\n")
	assert.True(t, strings.HasSuffix(out, DoneMarker))
}

func TestNewHTTPWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewHTTPWriter(rec)
	require.NoError(t, w.Done())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, DoneMarker, rec.Body.String())
}
