package internal

import (
	"log/slog"
	"sync"
)

// CleanupManager releases the resources a command acquired (cache
// connections, Docker clients, listeners) in LIFO order.
type CleanupManager struct {
	mu     sync.Mutex
	logger *slog.Logger
	funcs  []cleanupFunc
	done   bool
}

type cleanupFunc struct {
	name string
	fn   func() error
}

// NewCleanupManager creates a cleanup manager that reports failures through
// logger. A nil logger uses slog.Default.
func NewCleanupManager(logger *slog.Logger) *CleanupManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupManager{logger: logger}
}

// Add registers a cleanup function. The last function added runs first.
func (m *CleanupManager) Add(name string, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append([]cleanupFunc{{name, fn}}, m.funcs...)
}

// Execute runs every registered function once, logging failures and carrying
// on. Calling it again is a no-op.
func (m *CleanupManager) Execute() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done {
		return
	}
	m.done = true

	for _, cleanup := range m.funcs {
		if err := cleanup.fn(); err != nil {
			m.logger.Warn("cleanup failed", "resource", cleanup.name, "error", err)
		}
	}
}
