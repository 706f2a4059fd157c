package tool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepmesh/core"
)

func addTool() *FunctionTool {
	return NewFunctionTool("math_add", "Add numbers", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

// -------------------- FunctionTool Tests --------------------

func TestFunctionTool_Success(t *testing.T) {
	result, err := addTool().Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	_, err := addTool().Call(context.Background(), map[string]any{"a": "x"})
	require.Error(t, err)
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	execTool := NewFunctionTool("fail", "Fails", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := execTool.Call(context.Background(), nil)
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Equal(t, "boom", toolErr.Message)
}

func TestTypedTool(t *testing.T) {
	type mulArgs struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	mul := NewTypedTool("math_mul", "Multiply", func(_ context.Context, in mulArgs) (any, error) {
		return in.A * in.B, nil
	})

	props, ok := mul.Parameters()["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")

	result, err := mul.Call(context.Background(), map[string]any{"a": 6, "b": 7})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, "math", mul.Server())
}

// -------------------- View Tests --------------------

func TestView_GroupsAndDescribe(t *testing.T) {
	search := NewFunctionTool("web_search", "Search the web", nil, nil)
	clock := NewFunctionTool("clock", "Current time", nil, nil)
	v := NewView(context.Background(), StaticCatalog{search, addTool(), clock}, nil)

	require.Equal(t, 3, v.Len())
	groups := v.Groups()
	assert.Len(t, groups["math"], 1)
	assert.Len(t, groups["web"], 1)
	assert.Equal(t, "clock", groups[EtcServer][0].Name)

	assert.Equal(t,
		"다음 도구를 사용할 수 있습니다:\n\nclock: Current time\n\nmath_add: Add numbers\n\nweb_search: Search the web",
		v.Describe())

	defs := v.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "web_search", defs[0].Function.Name)
}

func TestView_CatalogFailureIsEmpty(t *testing.T) {
	v := NewView(context.Background(), CatalogFunc(func(context.Context) ([]Tool, error) {
		return nil, errors.New("down")
	}), nil)
	assert.Equal(t, 0, v.Len())
	assert.Equal(t, "사용 가능한 도구가 없습니다.", v.Describe())
	assert.Nil(t, v.Definitions())
	_, ok := v.Lookup("math_add")
	assert.False(t, ok)

	var nilView *View
	assert.Equal(t, 0, nilView.Len())
	assert.Empty(t, nilView.Groups())
}

// -------------------- Executor Tests --------------------

func TestExecutor_OrderAndErrors(t *testing.T) {
	slow := NewFunctionTool("util_slow", "Slow", nil, func(context.Context, map[string]any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "slow", nil
	})
	boom := NewFunctionTool("util_panic", "Panics", nil, func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	})
	view := ViewOf(slow, boom, addTool())

	calls := []core.FunctionCall{
		{ID: "1", Name: "util_slow"},
		{ID: "2", Name: "math_add", Arguments: `{"a":1,"b":2}`},
		{ID: "3", Name: "missing"},
		{ID: "4", Name: "util_panic"},
		{ID: "5", Name: "math_add", Arguments: `{not json`},
	}

	resp := NewExecutor().Execute(context.Background(), view, calls)
	require.Len(t, resp, 5)
	for i, r := range resp {
		assert.Equal(t, calls[i].ID, r.ID)
		assert.Equal(t, calls[i].Name, r.Name)
	}
	assert.Equal(t, "slow", resp[0].Response)
	assert.Equal(t, 3.0, resp[1].Response)
	assert.Contains(t, resp[2].Error, "not found")
	assert.Contains(t, resp[3].Error, "panic recovered")
	assert.Contains(t, resp[4].Error, "failed to unmarshal args")
}

func TestExecutor_BoundedParallelism(t *testing.T) {
	var active, peak int32
	probe := NewFunctionTool("util_probe", "Probe", nil, func(context.Context, map[string]any) (any, error) {
		cur := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil, nil
	})

	calls := make([]core.FunctionCall, 8)
	for i := range calls {
		calls[i] = core.FunctionCall{ID: string(rune('a' + i)), Name: "util_probe"}
	}
	exec := NewExecutor(func(o *ExecutorOptions) { o.MaxParallel = 2 })
	resp := exec.Execute(context.Background(), ViewOf(probe), calls)
	assert.Len(t, resp, 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestDetectImage(t *testing.T) {
	img, ok := DetectImage(map[string]any{"is_image": true, "image_data": "abc"})
	require.True(t, ok)
	assert.Equal(t, "abc", img.Data)
	assert.Equal(t, "image/png", img.MimeType)

	img, ok = DetectImage(`{"is_image":true,"image_data":"x","mime_type":"image/jpeg"}`)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", img.MimeType)

	_, ok = DetectImage(`{"is_image":false,"image_data":"x"}`)
	assert.False(t, ok)
	_, ok = DetectImage("plain text")
	assert.False(t, ok)
	_, ok = DetectImage(core.ImagePart{Data: "d"})
	assert.True(t, ok)
}

func TestExecutor_AttachesImages(t *testing.T) {
	chart := NewFunctionTool("chart_draw", "Draw", nil, func(context.Context, map[string]any) (any, error) {
		return map[string]any{"is_image": true, "image_data": "iVBOR", "mime_type": "image/png"}, nil
	})
	resp := NewExecutor().Execute(context.Background(), ViewOf(chart), []core.FunctionCall{{ID: "c", Name: "chart_draw"}})
	require.Len(t, resp, 1)
	require.Len(t, resp[0].Images, 1)
	assert.Equal(t, "iVBOR", resp[0].Images[0].Data)
}

// -------------------- Service Tests --------------------

type blockingSource struct {
	mu       sync.Mutex
	started  int
	release  chan struct{}
	entered  chan struct{}
	failNext bool
	tools    []Tool
}

func (s *blockingSource) Startup(context.Context) ([]Tool, error) {
	s.mu.Lock()
	s.started++
	fail := s.failNext
	s.mu.Unlock()
	if fail {
		return nil, errors.New("spawn failed")
	}
	return s.tools, nil
}

func (s *blockingSource) Shutdown(context.Context) error {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	return nil
}

func TestService_RestartRejectsConcurrent(t *testing.T) {
	src := &blockingSource{
		release: make(chan struct{}),
		entered: make(chan struct{}, 1),
		tools:   []Tool{addTool()},
	}
	svc := NewService(src, func(o *ServiceOptions) { o.SettleDelay = 0 })

	done := make(chan RestartResult, 1)
	go func() { done <- svc.Restart(context.Background()) }()
	<-src.entered

	second := svc.Restart(context.Background())
	assert.False(t, second.Success)
	assert.Contains(t, second.Message, "이미 재시작 중입니다")

	close(src.release)
	first := <-done
	assert.True(t, first.Success)
	assert.Equal(t, "도구 서비스가 성공적으로 재시작되었습니다. 1개 서버와 1개 도구가 활성화되었습니다.", first.Message)
}

func TestService_FailedRestartKeepsLastStableSet(t *testing.T) {
	src := &blockingSource{tools: []Tool{addTool()}}
	svc := NewService(src, func(o *ServiceOptions) { o.SettleDelay = time.Millisecond })
	require.NoError(t, svc.Start(context.Background()))

	src.failNext = true
	res := svc.Restart(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "spawn failed")

	tools, err := svc.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)
	assert.Equal(t, []string{"math"}, svc.Servers())
}

func TestService_StoppedListsNothing(t *testing.T) {
	svc := NewService(NewStaticSource(addTool()))
	tools, err := svc.ListTools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tools)

	require.NoError(t, svc.Start(context.Background()))
	tools, _ = svc.ListTools(context.Background())
	assert.Len(t, tools, 1)

	require.NoError(t, svc.Stop(context.Background()))
	tools, _ = svc.ListTools(context.Background())
	assert.Empty(t, tools)
}
