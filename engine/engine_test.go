package engine

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepmesh/agent"
	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/execution"
	"github.com/hupe1980/stepmesh/graph"
	"github.com/hupe1980/stepmesh/model"
	"github.com/hupe1980/stepmesh/stream"
)

func newTestEngine(m model.Model, optFns ...func(o *Options)) *Engine {
	registry := execution.NewRegistry()
	e := New(append([]func(o *Options){func(o *Options) { o.Registry = registry }}, optFns...)...)
	e.Register(agent.NewReact(m, func(o *agent.ReactOptions) { o.Tracker = registry }))
	e.Register(agent.NewPlanExecute(m, func(o *agent.PlanExecuteOptions) { o.Tracker = registry }))
	return e
}

func drain(t *testing.T, events <-chan core.Event, errs <-chan error) []core.Event {
	t.Helper()
	var out []core.Event
	for ev := range events {
		out = append(out, ev)
	}
	for err := range errs {
		require.NoError(t, err)
	}
	return out
}

func planExecute(o *RunOptions) { o.Strategy = agent.StrategyPlanExecute }

func noAutoResume(o *RunOptions) { o.AutoResume = false }

func TestEngine_StreamValidation(t *testing.T) {
	e := newTestEngine(model.NewScriptedModel())
	ctx := context.Background()

	_, _, err := e.Stream(ctx, "t1", []core.Content{core.UserText("   ")})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, _, err = e.Stream(ctx, "t1", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, _, err = e.Stream(ctx, "t1", []core.Content{core.UserText("hi")}, func(o *RunOptions) { o.Strategy = "swarm" })
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	assert.Equal(t, []string{agent.StrategyPlanExecute, agent.StrategyReact}, e.Strategies())
}

func TestEngine_StreamReact(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: "안녕하세요 반갑습니다"})
	e := newTestEngine(m)

	events, errs, err := e.Stream(context.Background(), "t1", []core.Content{core.UserText("안녕")})
	require.NoError(t, err)

	got := drain(t, events, errs)
	require.NotEmpty(t, got)
	for _, ev := range got {
		assert.False(t, ev.IsError())
		assert.Equal(t, execution.NodeCallModel, ev.Node)
		assert.Equal(t, core.PhaseReasoning, ev.Phase)
	}
	last := got[len(got)-1]
	assert.False(t, last.Partial)
	assert.Equal(t, "안녕하세요 반갑습니다", last.Content.Text())

	history, err := e.Store().History("t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "안녕", history[0].Text())
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Equal(t, "안녕하세요 반갑습니다", history[1].Text())
}

func TestEngine_HistoryCarriesIntoNextRun(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: "첫 답변"}, model.Turn{Text: "두 번째 답변"})
	e := newTestEngine(m)
	ctx := context.Background()

	res := e.Invoke(ctx, "t1", []core.Content{core.UserText("첫 질문")})
	require.Empty(t, res.Error)
	res = e.Invoke(ctx, "t1", []core.Content{core.UserText("두 번째 질문")})
	require.Empty(t, res.Error)

	second := m.Requests()[1].Contents
	var texts []string
	for _, c := range second {
		if c.Role != core.RoleSystem {
			texts = append(texts, c.Text())
		}
	}
	assert.Equal(t, []string{"첫 질문", "첫 답변", "두 번째 질문"}, texts)
	assert.Len(t, res.History, 4)
}

func TestEngine_InvokePlanExecuteAutoResume(t *testing.T) {
	m := model.NewScriptedModel()
	e := newTestEngine(m)

	res := e.Invoke(context.Background(), "t1", []core.Content{core.UserText("2 더하기 3 계산해줘")}, planExecute)
	require.Empty(t, res.Error)
	assert.Nil(t, res.Interrupt)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "결과: 5", res.Messages[0].Text())
	assert.Equal(t, 0, m.CallCount())

	require.Len(t, res.History, 2)
	assert.Equal(t, "결과: 5", res.History[1].Text())
	assert.Equal(t, core.ExecutionState{Step: 6, Phase: core.PhaseReporting}, e.Registry().Get("t1"))
}

func TestEngine_InterruptThenResume(t *testing.T) {
	e := newTestEngine(model.NewScriptedModel())
	ctx := context.Background()

	events, errs, err := e.Stream(ctx, "t1", []core.Content{core.UserText("2 더하기 3 계산해줘")}, planExecute, noAutoResume)
	require.NoError(t, err)
	got := drain(t, events, errs)

	last := got[len(got)-1]
	assert.Equal(t, core.EventTypeInterrupt, last.Type)
	assert.Equal(t, execution.NodeExecute, last.Node)
	assert.Equal(t, 2, last.Step)
	assert.Equal(t, core.PhaseExecuting, last.Phase)
	require.NotNil(t, last.Interrupt)
	assert.Equal(t, execution.NodeReplan, last.Interrupt.Next)
	first := last.Interrupt.HandleID

	history, err := e.Store().History("t1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	events, errs, err = e.Resume(ctx, "t1", first, planExecute, noAutoResume)
	require.NoError(t, err)
	got = drain(t, events, errs)
	second := got[len(got)-1]
	require.Equal(t, core.EventTypeInterrupt, second.Type)
	assert.NotEqual(t, first, second.Interrupt.HandleID)

	_, _, err = e.Resume(ctx, "t1", first, planExecute)
	assert.ErrorIs(t, err, graph.ErrStaleHandle)

	events, errs, err = e.Resume(ctx, "t1", "", planExecute)
	require.NoError(t, err)
	got = drain(t, events, errs)
	final := got[len(got)-1]
	assert.Equal(t, execution.NodeFinalReport, final.Node)
	assert.Equal(t, "결과: 5", final.Content.Text())

	history, err = e.Store().History("t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "결과: 5", history[1].Text())

	_, _, err = e.Resume(ctx, "t1", "", planExecute)
	assert.ErrorIs(t, err, graph.ErrNotResumable)
}

func TestEngine_ResumeWithoutSuspension(t *testing.T) {
	e := newTestEngine(model.NewScriptedModel())

	_, _, err := e.Resume(context.Background(), "t1", "")
	assert.ErrorIs(t, err, graph.ErrNotResumable)
}

func TestEngine_AttachmentErrors(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: "unused"})
	e := newTestEngine(m)

	atts := []Attachment{
		{Name: "empty.txt", MimeType: "text/plain"},
		{Name: "app.exe", MimeType: "application/x-msdownload", Data: []byte{0x4d, 0x5a}},
	}
	events, errs, err := e.Stream(context.Background(), "t1", []core.Content{core.UserText("파일 확인")}, func(o *RunOptions) {
		o.Attachments = atts
	})
	require.NoError(t, err)
	got := drain(t, events, errs)

	require.Len(t, got, 1)
	assert.True(t, got[0].IsError())
	assert.Equal(t, 0, got[0].Step)
	assert.Equal(t, "error occurred during attachment processing:\n- empty.txt: file is empty\n- app.exe: unsupported file type application/x-msdownload", got[0].ErrorMessage)
	assert.Equal(t, 0, m.CallCount())

	res := e.Invoke(context.Background(), "t2", nil, func(o *RunOptions) { o.Attachments = atts })
	assert.Len(t, res.Errors, 2)
	assert.Empty(t, res.History)
}

func TestEngine_AttachmentReachesModel(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: "읽었습니다"})
	e := newTestEngine(m)

	res := e.Invoke(context.Background(), "t1", nil, func(o *RunOptions) {
		o.Attachments = []Attachment{{Name: "notes.txt", MimeType: "text/plain; charset=utf-8", Data: []byte("hello")}}
	})
	require.Empty(t, res.Error)

	contents := m.Requests()[0].Contents
	lastMsg := contents[len(contents)-1]
	assert.Equal(t, core.RoleUser, lastMsg.Role)
	assert.Equal(t, "[notes.txt]\nhello", lastMsg.Text())
}

func TestEngine_FailureFoldsIntoHistory(t *testing.T) {
	boom := errors.New("boom")
	e := newTestEngine(model.NewScriptedModel(model.Turn{Err: boom}))

	var onError error
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
		onError = cc.Err
		return nil
	}))

	events, errs, err := e.Stream(context.Background(), "t1", []core.Content{core.UserText("hello")})
	require.NoError(t, err)
	got := drain(t, events, errs)

	last := got[len(got)-1]
	require.True(t, last.IsError())
	assert.Contains(t, last.ErrorMessage, "boom")
	for _, ev := range got[:len(got)-1] {
		assert.False(t, ev.IsError())
	}
	assert.ErrorIs(t, onError, boom)

	history, err := e.Store().History("t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, last.ErrorMessage, history[1].Text())
}

func TestEngine_InvokeFailure(t *testing.T) {
	e := newTestEngine(model.NewScriptedModel(model.Turn{Err: errors.New("boom")}))

	res := e.Invoke(context.Background(), "t1", []core.Content{core.UserText("hello")})
	assert.Contains(t, res.Error, "boom")
	require.Len(t, res.Messages, 1)
	assert.Equal(t, res.Error, res.Messages[0].Text())

	res = e.Invoke(context.Background(), "t1", nil)
	assert.Equal(t, ErrEmptyInput.Error(), res.Error)
}

func TestEngine_ThreadBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	m := model.NewScriptedModel(model.Turn{Handler: func(model.Request) model.Turn {
		close(entered)
		<-release
		return model.Turn{Text: "done"}
	}}, model.Turn{Text: "other"})
	e := newTestEngine(m)
	ctx := context.Background()

	events, errs, err := e.Stream(ctx, "t1", []core.Content{core.UserText("slow")})
	require.NoError(t, err)
	<-entered

	_, _, err = e.Stream(ctx, "t1", []core.Content{core.UserText("again")})
	assert.ErrorIs(t, err, ErrThreadBusy)

	res := e.Invoke(ctx, "t2", []core.Content{core.UserText("parallel")})
	assert.Empty(t, res.Error)

	close(release)
	drain(t, events, errs)

	events, errs, err = e.Stream(ctx, "t1", []core.Content{core.UserText("again")})
	require.NoError(t, err)
	drain(t, events, errs)
}

func TestEngine_Cancel(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	m := model.NewScriptedModel(model.Turn{Handler: func(model.Request) model.Turn {
		close(entered)
		<-release
		return model.Turn{Text: "late"}
	}})
	e := newTestEngine(m)

	assert.Error(t, e.Cancel("t1"))

	events, errs, err := e.Stream(context.Background(), "t1", []core.Content{core.UserText("hi")})
	require.NoError(t, err)
	<-entered
	assert.NoError(t, e.Cancel("t1"))
	close(release)
	drain(t, events, errs)

	assert.Error(t, e.Cancel("t1"))

	history, err := e.Store().History("t1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Text())
}

func TestEngine_DeadlineLeavesHistoryClean(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Handler: func(model.Request) model.Turn {
		time.Sleep(50 * time.Millisecond)
		return model.Turn{Text: "late"}
	}})
	e := newTestEngine(m)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := e.Invoke(ctx, "t1", []core.Content{core.UserText("hi")})
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())

	history, err := e.Store().History("t1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Text())
}

func TestEngine_Callbacks(t *testing.T) {
	e := newTestEngine(model.NewScriptedModel(model.Turn{Text: "pong"}))

	var (
		mu    sync.Mutex
		calls []CallbackType
	)
	record := func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, cc.CallbackType)
		if cc.CallbackType == CallbackAfterRun {
			assert.Equal(t, "pong", cc.Response.Text())
		}
		return nil
	}
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackBeforeRun, record))
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackAfterRun, record))

	res := e.Invoke(context.Background(), "t1", []core.Content{core.UserText("ping")})
	require.Empty(t, res.Error)
	assert.Equal(t, []CallbackType{CallbackBeforeRun, CallbackAfterRun}, calls)
}

func TestEngine_BeforeRunCallbackAborts(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: "pong"})
	e := newTestEngine(m)
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackBeforeRun, func(context.Context, *CallbackContext) error {
		return errors.New("quota exceeded")
	}))

	res := e.Invoke(context.Background(), "t1", []core.Content{core.UserText("ping")})
	assert.Equal(t, "before_run callback: quota exceeded", res.Error)
	assert.Equal(t, 0, m.CallCount())
}

func TestEngine_InterruptCallback(t *testing.T) {
	e := newTestEngine(model.NewScriptedModel())
	var got *core.Interrupt
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnInterrupt, func(_ context.Context, cc *CallbackContext) error {
		got = cc.Interrupt
		return nil
	}))

	res := e.Invoke(context.Background(), "t1", []core.Content{core.UserText("2 곱하기 4")}, planExecute, noAutoResume)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, res.Interrupt, got)
	assert.Empty(t, res.Messages)
}

func TestEngine_FramesAndSSE(t *testing.T) {
	e := newTestEngine(model.NewScriptedModel(model.Turn{Text: "hello world"}))
	ctx := context.Background()

	events, errs, err := e.Stream(ctx, "t1", []core.Content{core.UserText("hi")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, e.Frames(ctx, "t1", events, errs)))

	out := buf.String()
	assert.True(t, strings.HasSuffix(out, stream.DoneMarker))
	assert.Contains(t, out, `"type":"ai_response"`)
	assert.Contains(t, out, `"node":"call_model"`)
	assert.NotContains(t, out, `"error"`)
}

func TestEngine_FramesPublished(t *testing.T) {
	bus := stream.NewGoChannel(nil)
	defer bus.Close()
	pub := stream.NewPublisher(bus)

	e := newTestEngine(model.NewScriptedModel(model.Turn{Text: "hello there"}), func(o *Options) { o.Publisher = pub })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := bus.Subscribe(ctx, pub.Topic("t1"))
	require.NoError(t, err)

	published := make(chan []stream.Frame, 1)
	go func() {
		var out []stream.Frame
		for msg := range msgs {
			f, derr := stream.Decode(msg)
			msg.Ack()
			if derr != nil {
				continue
			}
			assert.Equal(t, "t1", msg.Metadata.Get("thread_id"))
			assert.Equal(t, strconv.Itoa(len(out)+1), msg.Metadata.Get(stream.MetadataSeq))
			out = append(out, f)
		}
		published <- out
	}()

	events, errs, err := e.Stream(ctx, "t1", []core.Content{core.UserText("hi")})
	require.NoError(t, err)

	var frames []stream.Frame
	for f := range e.Frames(ctx, "t1", events, errs) {
		frames = append(frames, f)
	}
	require.NotEmpty(t, frames)

	bus.Close()
	got := <-published
	require.Len(t, got, len(frames))
	for i := range frames {
		assert.Equal(t, frames[i].Metadata, got[i].Metadata)
		assert.Equal(t, frames[i].Text(), got[i].Text())
	}
	assert.Equal(t, execution.NodeCallModel, got[0].Metadata.Node)
}
