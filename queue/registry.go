package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns one Worker pool per registered queue name plus the shared
// Cleanup sweep, so a caller can register every queue up front and start/stop
// them together. Mirrors tool.Registry's instance-scoped map+mutex shape.
type Manager struct {
	q       *Queue
	logger  *slog.Logger
	cleanup *Cleanup

	mu      sync.RWMutex
	workers map[string]*Worker
}

// NewManager builds a Manager over q.
func NewManager(q *Queue, cleanupCfg CleanupConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		q:       q,
		logger:  logger,
		cleanup: NewCleanup(q, cleanupCfg, logger),
		workers: make(map[string]*Worker),
	}
}

// RegisterProcessor wires processor to queueName with the given worker
// config. Calling RegisterProcessor twice for the same name replaces the
// prior registration; it only takes effect on the next Start.
func (m *Manager) RegisterProcessor(queueName string, cfg WorkerConfig, processor Processor) {
	cfg.QueueName = queueName
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[queueName] = NewWorker(m.q, cfg, processor, m.logger)
}

// Has reports whether queueName has a registered processor.
func (m *Manager) Has(queueName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.workers[queueName]
	return ok
}

// Start launches every registered worker plus the cleanup sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, w := range m.workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker %q: %w", name, err)
		}
	}
	m.cleanup.Start(ctx)
	return nil
}

// Stop drains every registered worker and stops the cleanup sweep.
func (m *Manager) Stop(ctx context.Context) error {
	m.cleanup.Stop()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, w := range m.workers {
		if err := w.Stop(ctx); err != nil {
			return fmt.Errorf("stop worker %q: %w", name, err)
		}
	}
	return nil
}
