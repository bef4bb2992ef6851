// Package component implements the capability components of the Aria runtime
// and the manager that supervises them.
//
// Each capability kind (TTS, audio playback, ASR, NLU, LLM, voice trigger,
// text processing) is one Component wrapping a [Host] of providers. The
// Manager resolves enablement from config, validates the dependency graph,
// initialises components in topological order, and shuts them down in
// reverse.
package component

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/observe"
)

// ErrCapabilityUnavailable is returned by a component's capability surface
// when no provider could serve the call: none loaded, all unavailable, or
// every attempt failed.
var ErrCapabilityUnavailable = errors.New("component: capability unavailable")

// ErrDisabled is returned when a capability call reaches a component that is
// not enabled in the current configuration.
var ErrDisabled = errors.New("component: disabled")

// DependencyError reports an unsatisfiable component dependency graph. It is
// fatal at startup.
type DependencyError struct {
	// Component is the component whose dependencies cannot be satisfied.
	Component string

	// Reason describes the problem (cycle, missing or disabled dependency).
	Reason string
}

// Error implements error.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("component %q: %s", e.Component, e.Reason)
}

// Component is the lifecycle contract every Aria component implements.
type Component interface {
	// Name is the component's config identifier ("tts", "asr", ...).
	Name() string

	// Dependencies lists the names of components this one needs initialised
	// first. A dependency on a disabled component is a startup failure.
	Dependencies() []string

	// ServiceDependencies lists external services the component relies on
	// ("coqui-server", "postgres"). Diagnostic only; nothing is validated.
	ServiceDependencies() []string

	// Optional components may be unhealthy after init without failing
	// startup.
	Optional() bool

	// Initialize constructs the component's providers and internal state.
	Initialize(ctx context.Context, core *Core) error

	// IsHealthy reports whether the component can currently do its job.
	IsHealthy(ctx context.Context) bool

	// Shutdown releases all provider and external resources. Called in
	// reverse initialisation order; errors are logged, not fatal.
	Shutdown(ctx context.Context) error
}

// Core bundles the shared services handed to every component at Initialize.
type Core struct {
	Cfg      *config.Config
	Registry *config.Registry
	Metrics  *observe.Metrics

	manager *Manager
}

// Component returns an initialised sibling component by name, or nil when it
// is disabled or unknown. Only dependencies declared via
// [Component.Dependencies] are guaranteed to be initialised when this is
// called from Initialize.
func (c *Core) Component(name string) Component {
	if c.manager == nil {
		return nil
	}
	return c.manager.Get(name)
}
