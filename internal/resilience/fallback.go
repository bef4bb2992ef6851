package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails, is
// unavailable, or has an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// ErrUnknownEntry is returned when an entry name is not registered in the group.
var ErrUnknownEntry = errors.New("unknown provider")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the per-entry breaker configuration. The entry name
	// overrides CircuitBreaker.Name.
	CircuitBreaker CircuitBreakerConfig

	// Probe reports whether an entry is currently usable. Entries failing
	// the probe are skipped without touching their breaker — unavailability
	// is not a fault. Nil means every entry is usable.
	Probe func(name string) bool
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds all providers of one capability kind and performs
// ordered selection: an optional pinned entry first, then the current
// default, then the remaining entries in registration order. Entries that
// fail the availability probe or whose breaker is open are skipped.
//
// The default can be switched at runtime; calls already iterating keep the
// order they started with. FallbackGroup is safe for concurrent use.
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu         sync.RWMutex
	entries    []fallbackEntry[T]
	defaultIdx int
}

// NewFallbackGroup creates an empty [FallbackGroup]. The first entry added
// becomes the default until [FallbackGroup.SetDefault] changes it.
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add registers a provider under name. Registration order determines the
// fallback order after the default.
func (fg *FallbackGroup[T]) Add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name

	fg.mu.Lock()
	defer fg.mu.Unlock()
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// SetDefault atomically promotes the named entry to be tried first.
// Idempotent when name is already the default.
func (fg *FallbackGroup[T]) SetDefault(name string) error {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	for i := range fg.entries {
		if fg.entries[i].name == name {
			fg.defaultIdx = i
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownEntry, name)
}

// Default returns the name of the current default entry, or "" when the
// group is empty.
func (fg *FallbackGroup[T]) Default() string {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	if len(fg.entries) == 0 {
		return ""
	}
	return fg.entries[fg.defaultIdx].name
}

// Names lists the registered entry names in registration order.
func (fg *FallbackGroup[T]) Names() []string {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Get returns the value registered under name.
func (fg *FallbackGroup[T]) Get(name string) (T, bool) {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].value, true
		}
	}
	var zero T
	return zero, false
}

// BreakerState returns the breaker state of the named entry.
func (fg *FallbackGroup[T]) BreakerState(name string) (State, error) {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker.State(), nil
		}
	}
	return StateClosed, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
}

// order snapshots the iteration order: pinned (if registered), default, then
// the rest in registration order, without duplicates.
func (fg *FallbackGroup[T]) order(pinned string) []*fallbackEntry[T] {
	fg.mu.RLock()
	defer fg.mu.RUnlock()

	ordered := make([]*fallbackEntry[T], 0, len(fg.entries))
	seen := make(map[string]bool, len(fg.entries))

	appendEntry := func(e *fallbackEntry[T]) {
		if !seen[e.name] {
			seen[e.name] = true
			ordered = append(ordered, e)
		}
	}

	if pinned != "" {
		for i := range fg.entries {
			if fg.entries[i].name == pinned {
				appendEntry(&fg.entries[i])
			}
		}
	}
	if len(fg.entries) > 0 {
		appendEntry(&fg.entries[fg.defaultIdx])
	}
	for i := range fg.entries {
		appendEntry(&fg.entries[i])
	}
	return ordered
}

// Execute tries fn against each entry in selection order until one succeeds.
// Unavailable entries and open breakers are skipped. Returns [ErrAllFailed]
// wrapped with the last error when every entry fails.
func (fg *FallbackGroup[T]) Execute(pinned string, fn func(name string, value T) error) error {
	_, err := ExecuteWithResult(fg, pinned, func(name string, value T) (struct{}, error) {
		return struct{}{}, fn(name, value)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in selection order until one
// succeeds, returning the result. This is a package-level function because Go
// does not support method-level type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], pinned string, fn func(name string, value T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)

	for _, entry := range fg.order(pinned) {
		if fg.cfg.Probe != nil && !fg.cfg.Probe(entry.name) {
			slog.Debug("skipping provider (unavailable)", "provider", entry.name)
			continue
		}

		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.name, entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	if lastErr == nil {
		return zero, ErrAllFailed
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
