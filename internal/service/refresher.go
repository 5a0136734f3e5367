package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/metrics"
	"github.com/langchou/evreceipts/internal/models"
	"github.com/langchou/evreceipts/internal/state"
	"github.com/langchou/evreceipts/pkg/ws"
)

// ErrRefreshRunning 已有刷新在执行
var ErrRefreshRunning = errors.New("refresh already running")

// RefresherConfig 刷新任务配置
type RefresherConfig struct {
	User     string
	Interval time.Duration
	Timeout  time.Duration
}

// Refresher 定时从邮件源拉取收据并入库
// 状态由 state.Machine 维护：stopped → idle ⇄ running
type Refresher struct {
	logger    *zap.Logger
	source    MailSource
	ingest    *IngestService
	publisher Publisher
	machine   *state.Machine
	breaker   *gobreaker.CircuitBreaker
	cfg       RefresherConfig
	now       func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool // 调度循环是否在运行
}

// NewRefresher 创建刷新任务
func NewRefresher(logger *zap.Logger, source MailSource, ingest *IngestService, publisher Publisher, cfg RefresherConfig) *Refresher {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	r := &Refresher{
		logger:    logger,
		source:    source,
		ingest:    ingest,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}

	r.machine = state.NewMachine(func(from, to string) {
		logger.Debug("Refresh state changed", zap.String("from", from), zap.String("to", to))
	})
	r.machine.Update(func(s *state.RefreshStatus) {
		s.Interval = cfg.Interval.String()
		s.User = cfg.User
	})

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mail-source",
		MaxRequests: 1,
		Timeout:     cfg.Interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return r
}

// Start 启动定时刷新，立即执行一次
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.logger.Info("Refresher already running, skipping start")
		return nil
	}

	if r.machine.CanTransition(state.EventStart) {
		if err := r.machine.Trigger(state.EventStart); err != nil {
			return fmt.Errorf("start refresher: %w", err)
		}
	}
	r.machine.Update(func(s *state.RefreshStatus) { s.Scheduled = true })

	r.stopCh = make(chan struct{})
	r.running = true
	r.wg.Add(1)
	go r.loop(ctx, r.stopCh)

	r.logger.Info("Refresher started",
		zap.String("user", r.cfg.User),
		zap.Duration("interval", r.cfg.Interval),
	)
	r.publishStatus()
	return nil
}

// Stop 停止定时刷新，等待进行中的刷新结束
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.machine.Update(func(s *state.RefreshStatus) {
		s.Scheduled = false
		s.NextRun = nil
	})
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	if r.machine.CanTransition(state.EventHalt) && r.machine.CurrentState() == state.StateIdle {
		if err := r.machine.Trigger(state.EventHalt); err != nil {
			r.logger.Warn("Failed to halt refresher", zap.Error(err))
		}
	}
	r.logger.Info("Refresher stopped")
	r.publishStatus()
}

// Running 调度循环是否在运行
func (r *Refresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Status 当前状态
func (r *Refresher) Status() state.RefreshStatus {
	return r.machine.Status()
}

// TriggerNow 立即执行一次刷新
func (r *Refresher) TriggerNow(ctx context.Context) (*IngestResult, error) {
	return r.runOnce(ctx)
}

func (r *Refresher) loop(ctx context.Context, stopCh chan struct{}) {
	defer r.wg.Done()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.tick(runCtx)
	for {
		select {
		case <-stopCh:
			return
		case <-runCtx.Done():
			return
		case <-ticker.C:
			r.tick(runCtx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	if _, err := r.runOnce(ctx); err != nil && !errors.Is(err, ErrRefreshRunning) {
		r.logger.Warn("Scheduled refresh failed", zap.Error(err))
	}
}

func (r *Refresher) runOnce(ctx context.Context) (*IngestResult, error) {
	if err := r.machine.Trigger(state.EventRun); err != nil {
		return nil, ErrRefreshRunning
	}

	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID))
	logger.Info("Refresh started")
	r.publishStatus()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	res, err := r.fetchAndIngest(ctx)

	finished := r.now()
	r.machine.Update(func(s *state.RefreshStatus) {
		s.LastRunID = runID
		s.LastRun = &finished
		s.Runs++
		s.LastAdded = 0
		s.LastError = ""
		if res != nil {
			s.LastAdded = res.Added
		}
		if err != nil {
			s.LastError = err.Error()
		}
		if s.Scheduled {
			next := finished.Add(r.cfg.Interval)
			s.NextRun = &next
		}
	})

	event := state.EventHalt
	if r.machine.Status().Scheduled {
		event = state.EventFinish
	}
	if terr := r.machine.Trigger(event); terr != nil {
		logger.Warn("Failed to finish refresh", zap.Error(terr))
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RefreshRuns.WithLabelValues("breaker_open").Inc()
	case err != nil:
		metrics.RefreshRuns.WithLabelValues("error").Inc()
	default:
		metrics.RefreshRuns.WithLabelValues("ok").Inc()
	}

	if err != nil {
		logger.Warn("Refresh failed", zap.Error(err))
	} else {
		logger.Info("Refresh finished", zap.Int("added", res.Added), zap.Int("total", res.Total))
	}
	r.publishStatus()
	return res, err
}

func (r *Refresher) fetchAndIngest(ctx context.Context) (*IngestResult, error) {
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.source.Fetch(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch mail: %w", err)
	}
	docs, _ := out.([]models.Document)
	return r.ingest.IngestDocuments(ctx, r.cfg.User, docs)
}

func (r *Refresher) publishStatus() {
	r.publisher.BroadcastMessage(ws.MsgTypeRefreshStatus, r.machine.Status())
}
