package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/stepmesh/logging"
)

// Source owns the lifecycle of the processes or connections backing a set of
// tools.
type Source interface {
	Startup(ctx context.Context) ([]Tool, error)
	Shutdown(ctx context.Context) error
}

// StaticSource is a Source over a fixed tool list.
type StaticSource struct {
	tools []Tool
}

// NewStaticSource creates a Source that always starts with tools.
func NewStaticSource(tools ...Tool) *StaticSource {
	return &StaticSource{tools: tools}
}

// Startup implements Source.
func (s *StaticSource) Startup(context.Context) ([]Tool, error) {
	return append([]Tool(nil), s.tools...), nil
}

// Shutdown implements Source.
func (s *StaticSource) Shutdown(context.Context) error { return nil }

// RestartResult is the structured outcome of Service.Restart.
type RestartResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// SettleDelay is the pause between shutdown and startup during a restart.
	SettleDelay time.Duration
	Logger      logging.Logger
}

// Service owns a tool Source and exposes its current tools as a Catalog.
// One Service is constructed per process and injected where needed.
type Service struct {
	source Source
	opts   ServiceOptions

	restartMu sync.Mutex // held for the duration of a restart

	mu      sync.RWMutex
	tools   []Tool
	running bool
}

// NewService creates a Service over source. Start must be called before the
// catalog lists any tools.
func NewService(source Source, optFns ...func(o *ServiceOptions)) *Service {
	opts := ServiceOptions{
		SettleDelay: time.Second,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Service{source: source, opts: opts}
}

// Start starts the source once. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if running {
		return nil
	}

	tools, err := s.source.Startup(ctx)
	if err != nil {
		return fmt.Errorf("tool service startup: %w", err)
	}
	s.activate(tools)
	return nil
}

// Stop shuts the source down. The tool list is cleared.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.tools = nil
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}
	return s.source.Shutdown(ctx)
}

// ListTools implements Catalog. A stopped service lists no tools.
func (s *Service) ListTools(context.Context) ([]Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		s.opts.Logger.Warn("tool.service.not_running")
		return nil, nil
	}
	return append([]Tool(nil), s.tools...), nil
}

// Servers returns the distinct origin servers of the active tools.
func (s *Service) Servers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var servers []string
	for _, t := range s.tools {
		server := OriginOf(t)
		if _, ok := seen[server]; ok {
			continue
		}
		seen[server] = struct{}{}
		servers = append(servers, server)
	}
	return servers
}

// Restart shuts the source down, waits for the settle delay and starts it
// again. A request arriving while a restart is running is rejected
// immediately. When startup fails the last stable tool set stays active.
func (s *Service) Restart(ctx context.Context) RestartResult {
	if !s.restartMu.TryLock() {
		s.opts.Logger.Warn("tool.restart.rejected", "error", ErrRestartInProgress.Error())
		return RestartResult{
			Success: false,
			Message: "도구 서비스가 이미 재시작 중입니다. 잠시 후 다시 시도해주세요.",
		}
	}
	defer s.restartMu.Unlock()

	s.opts.Logger.Info("tool.restart.start")

	if err := s.source.Shutdown(ctx); err != nil {
		s.opts.Logger.Error("tool.restart.shutdown_failed", "error", err.Error())
	}

	if s.opts.SettleDelay > 0 {
		timer := time.NewTimer(s.opts.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return RestartResult{Success: false, Message: fmt.Sprintf("도구 서비스 재시작 실패: %v", ctx.Err())}
		case <-timer.C:
		}
	}

	tools, err := s.source.Startup(ctx)
	if err != nil {
		s.opts.Logger.Error("tool.restart.failed", "error", err.Error())
		return RestartResult{Success: false, Message: fmt.Sprintf("도구 서비스 재시작 실패: %v", err)}
	}

	s.activate(tools)
	servers, count := len(s.Servers()), len(tools)
	s.opts.Logger.Info("tool.restart.complete", "servers", servers, "tools", count)

	return RestartResult{
		Success: true,
		Message: fmt.Sprintf("도구 서비스가 성공적으로 재시작되었습니다. %d개 서버와 %d개 도구가 활성화되었습니다.", servers, count),
	}
}

func (s *Service) activate(tools []Tool) {
	s.mu.Lock()
	s.tools = append([]Tool(nil), tools...)
	s.running = true
	s.mu.Unlock()
}
