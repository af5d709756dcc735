// Package retention prunes old audit rows, authorization history and finished
// conversation checkpoints in the background.
package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type Manager struct {
	cfg       Config
	collector *Collector

	started atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	runErrMu sync.Mutex
	runErr   error
}

func NewManager(cfg Config, collector *Collector) *Manager {
	return &Manager{cfg: cfg, collector: collector}
}

// Start 在后台运行清理；未启用时直接返回
func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}
	if !m.cfg.Enabled {
		return nil
	}
	if m.collector == nil {
		return errors.New("retention collector is required when retention enabled")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.collector.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.runErrMu.Lock()
			if m.runErr == nil {
				m.runErr = err
			}
			m.runErrMu.Unlock()
			m.cancel()
		}
	}()
	return nil
}

func (m *Manager) Stop() {
	if m == nil || m.cancel == nil {
		return
	}
	m.cancel()
}

func (m *Manager) Wait() error {
	if m == nil {
		return nil
	}
	m.wg.Wait()
	m.runErrMu.Lock()
	defer m.runErrMu.Unlock()
	return m.runErr
}
