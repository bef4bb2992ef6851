package component

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/observe"
)

// Manager supervises the lifecycle of all registered components: enablement
// resolution, dependency validation, ordered startup, the post-init health
// gate, and reverse-order shutdown.
type Manager struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics

	mu         sync.RWMutex
	registered map[string]Component
	active     map[string]Component
	order      []string // topological init order of active components

	stopOnce sync.Once
}

// NewManager creates a Manager over cfg. Components are added with
// [Manager.Register] before Initialize.
func NewManager(cfg *config.Config, registry *config.Registry, metrics *observe.Metrics) *Manager {
	return &Manager{
		cfg:        cfg,
		registry:   registry,
		metrics:    metrics,
		registered: make(map[string]Component),
		active:     make(map[string]Component),
	}
}

// Register adds a component. Whether it actually starts is decided by the
// components section of the config at Initialize time.
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[c.Name()] = c
}

// Initialize performs the four-phase startup: enablement resolution,
// dependency validation, ordered construction, health gate. The first
// failing phase aborts startup.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Phase 1: enablement.
	enabled := make(map[string]Component)
	for name, c := range m.registered {
		if config.IsComponentEnabled(m.cfg, name) {
			enabled[name] = c
		}
	}

	// Phase 2: dependency validation + deterministic topological order.
	order, err := topoOrder(enabled)
	if err != nil {
		return err
	}

	// Phase 3: ordered construction.
	core := &Core{
		Cfg:      m.cfg,
		Registry: m.registry,
		Metrics:  m.metrics,
		manager:  m,
	}
	var started []string
	for _, name := range order {
		c := enabled[name]
		if err := c.Initialize(ctx, core); err != nil {
			m.shutdownLocked(ctx, started)
			return fmt.Errorf("component %q: initialize: %w", name, err)
		}
		m.active[name] = c
		started = append(started, name)
		slog.Info("component initialised", "component", name)
	}
	m.order = started

	// Phase 4: health gate.
	for _, name := range m.order {
		c := m.active[name]
		if c.IsHealthy(ctx) {
			continue
		}
		if c.Optional() {
			slog.Warn("optional component unhealthy after init", "component", name)
			continue
		}
		m.shutdownLocked(ctx, m.order)
		return fmt.Errorf("component %q: unhealthy after initialisation", name)
	}

	slog.Info("all components up",
		"count", len(m.order), "profile", m.deploymentProfileLocked())
	return nil
}

// Get returns the active component with the given name, or nil when it is
// disabled or unknown.
func (m *Manager) Get(name string) Component {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.active[name]
	if !ok {
		return nil
	}
	return c
}

// Active lists the active component names in initialisation order.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Healthy reports per-component health. Used by the readiness endpoint.
func (m *Manager) Healthy(ctx context.Context) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	health := make(map[string]bool, len(m.order))
	for _, name := range m.order {
		health[name] = m.active[name].IsHealthy(ctx)
	}
	return health
}

// Shutdown stops active components in reverse initialisation order. Errors
// are logged; the sequence always runs to completion.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.shutdownLocked(ctx, m.order)
		m.order = nil
	})
}

// shutdownLocked tears down the named components in reverse order. Callers
// hold m.mu.
func (m *Manager) shutdownLocked(ctx context.Context, started []string) {
	for i := len(started) - 1; i >= 0; i-- {
		name := started[i]
		c, ok := m.active[name]
		if !ok {
			continue
		}
		if err := c.Shutdown(ctx); err != nil {
			slog.Warn("component shutdown error", "component", name, "err", err)
		}
		delete(m.active, name)
	}
}

// DeploymentProfile returns a human label for the active capability set,
// for diagnostics and the health surface.
func (m *Manager) DeploymentProfile() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deploymentProfileLocked()
}

func (m *Manager) deploymentProfileLocked() string {
	has := func(name string) bool { _, ok := m.active[name]; return ok }

	voiceIn := has("voice_trigger") && has("asr")
	voiceOut := has("tts") && has("audio")

	var label string
	switch {
	case voiceIn && voiceOut:
		label = "full-voice"
	case voiceOut:
		label = "text-in-voice-out"
	case voiceIn:
		label = "voice-in-text-out"
	default:
		label = "text-only"
	}
	if has("llm") {
		label += "+llm"
	}
	return label
}

// topoOrder validates the dependency graph of the enabled components and
// returns a deterministic topological order (Kahn's algorithm, ties broken
// by name).
func topoOrder(enabled map[string]Component) ([]string, error) {
	indegree := make(map[string]int, len(enabled))
	dependents := make(map[string][]string, len(enabled))

	for name, c := range enabled {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range c.Dependencies() {
			if _, ok := enabled[dep]; !ok {
				return nil, &DependencyError{
					Component: name,
					Reason:    fmt.Sprintf("depends on %q which is disabled or not registered", dep),
				}
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(enabled) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, &DependencyError{
			Component: cyclic[0],
			Reason:    "dependency cycle involving " + strings.Join(cyclic, ", "),
		}
	}
	return order, nil
}
