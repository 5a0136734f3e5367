package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 刷新任务状态
const (
	StateStopped = "stopped"
	StateIdle    = "idle"
	StateRunning = "running"
)

// 事件常量
const (
	EventStart  = "start"
	EventRun    = "run"
	EventFinish = "finish"
	EventHalt   = "halt"
)

// RefreshStatus 刷新任务状态快照
type RefreshStatus struct {
	State     string     `json:"state"`
	Since     time.Time  `json:"since"`
	Scheduled bool       `json:"scheduled"`
	Interval  string     `json:"interval"`
	User      string     `json:"user"`
	LastRunID string     `json:"last_run_id,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastAdded int        `json:"last_added"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
}

// Machine 刷新任务状态机
type Machine struct {
	mu            sync.RWMutex
	fsm           *fsm.FSM
	status        *RefreshStatus
	onStateChange func(from, to string)
}

// NewMachine 创建状态机，初始为 stopped
func NewMachine(onStateChange func(from, to string)) *Machine {
	m := &Machine{
		onStateChange: onStateChange,
		status: &RefreshStatus{
			State: StateStopped,
			Since: time.Now(),
		},
	}

	m.fsm = fsm.NewFSM(
		StateStopped,
		fsm.Events{
			{Name: EventStart, Src: []string{StateStopped}, Dst: StateIdle},
			// 手动刷新在调度停止时也可以执行
			{Name: EventRun, Src: []string{StateIdle, StateStopped}, Dst: StateRunning},
			{Name: EventFinish, Src: []string{StateRunning}, Dst: StateIdle},
			{Name: EventHalt, Src: []string{StateIdle, StateRunning}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Status 获取状态副本
func (m *Machine) Status() RefreshStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := *m.status
	s.State = m.fsm.Current()
	return s
}

// Update 修改状态数据
func (m *Machine) Update(update func(s *RefreshStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(m.status)
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.status.State = m.fsm.Current()
	m.status.Since = time.Now()
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}
