package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager starts background modules in registration order and stops them in
// reverse.
type Manager struct {
	mu        sync.RWMutex
	modules   []Lifecycle
	names     map[string]struct{}
	started   bool
	startedAt time.Time
	log       *logrus.Entry
}

// NewManager returns an empty manager ready for registration.
func NewManager(log *logrus.Entry) *Manager {
	return &Manager{
		names: map[string]struct{}{},
		log:   log.WithField("component", "agents"),
	}
}

// Add registers a module. It must be invoked before Start.
func (m *Manager) Add(module Lifecycle) error {
	if module == nil {
		return fmt.Errorf("agents.Manager: nil module provided")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("agents.Manager: already started")
	}

	name := normalizeKey(module.Name())
	if name == "" {
		return fmt.Errorf("agents.Manager: module missing name")
	}
	if _, exists := m.names[name]; exists {
		return fmt.Errorf("agents.Manager: module %q already registered", module.Name())
	}

	m.names[name] = struct{}{}
	m.modules = append(m.modules, module)
	return nil
}

// Start starts every module. If one fails, the ones already started are
// stopped again in reverse order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("agents.Manager: already started")
	}

	started := make([]Lifecycle, 0, len(m.modules))
	for _, module := range m.modules {
		if err := module.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", module.Name(), err)
		}
		m.log.WithField("module", module.Name()).Info("started")
		started = append(started, module)
	}

	m.started = true
	m.startedAt = time.Now().UTC()
	return nil
}

// Stop tears down all registered modules in reverse order.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	for i := len(m.modules) - 1; i >= 0; i-- {
		m.modules[i].Stop(ctx)
		m.log.WithField("module", m.modules[i].Name()).Info("stopped")
	}
	m.started = false
}

// Modules lists registered module names in start order.
func (m *Manager) Modules() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.modules))
	for _, module := range m.modules {
		out = append(out, module.Name())
	}
	return out
}

// StartedAt returns when Start last succeeded, zero while stopped.
func (m *Manager) StartedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.started {
		return time.Time{}
	}
	return m.startedAt
}

func normalizeKey(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}
