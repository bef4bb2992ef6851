package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/observe"
	"github.com/MrWong99/aria/internal/resilience"
	"github.com/MrWong99/aria/pkg/provider"
)

// probeTimeout bounds a single availability check.
const probeTimeout = 2 * time.Second

// slot holds one provider position in a host. In lazy mode the provider is
// constructed on first use; construction failures are not cached so the next
// call retries.
type slot[P provider.Provider] struct {
	name    string
	factory func() (P, error)

	mu     sync.RWMutex
	loaded bool
	p      P
}

// get returns the loaded provider, or ok=false when it has not been
// constructed yet.
func (s *slot[P]) get() (P, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p, s.loaded
}

// store caches a successfully constructed provider.
func (s *slot[P]) store(p P) {
	s.mu.Lock()
	s.p = p
	s.loaded = true
	s.mu.Unlock()
}

// Host owns all providers of one capability kind: construction (eager, lazy,
// or concurrent), availability probing, default switching, and call-time
// selection with fallback. Concrete components embed a Host and put their
// capability surface on top of [Execute].
type Host[P provider.Provider] struct {
	kind     string
	settings config.ComponentSettings
	metrics  *observe.Metrics

	mu    sync.RWMutex
	slots map[string]*slot[P]

	group *resilience.FallbackGroup[*slot[P]]
	sf    singleflight.Group
}

// NewHost creates an empty Host for one capability kind. Providers are added
// with [Host.AddProvider] in selection order: the configured default first,
// then the fallback chain, then any remaining enabled providers.
func NewHost[P provider.Provider](kind string, settings config.ComponentSettings, metrics *observe.Metrics) *Host[P] {
	h := &Host[P]{
		kind:     kind,
		settings: settings,
		metrics:  metrics,
		slots:    make(map[string]*slot[P]),
	}
	h.group = resilience.NewFallbackGroup[*slot[P]](resilience.FallbackConfig{
		Probe: h.probe,
	})
	return h
}

// AddProvider registers a provider factory under name. Call order fixes the
// fallback order. Duplicate names are ignored.
func (h *Host[P]) AddProvider(name string, factory func() (P, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.slots[name]; dup {
		return
	}
	s := &slot[P]{name: name, factory: factory}
	h.slots[name] = s
	h.group.Add(name, s)
}

// OrderedProviders returns the enabled provider names of a component section
// in host order: default, then fallbacks, then the rest sorted by name.
// Console-style always-on fallbacks stay last unless configured earlier.
func OrderedProviders(cfg *config.Config, kind string) []string {
	enabled := config.EnabledProviders(cfg, kind)
	views := map[string]bool{}
	for _, n := range enabled {
		views[n] = true
	}

	var settings config.ComponentSettings
	switch kind {
	case "tts":
		settings = cfg.TTS.ComponentSettings
	case "audio":
		settings = cfg.Audio.ComponentSettings
	case "asr":
		settings = cfg.ASR.ComponentSettings
	case "llm":
		settings = cfg.LLM.ComponentSettings
	case "voice_trigger":
		settings = cfg.VoiceTrigger.ComponentSettings
	case "nlu":
		settings = cfg.NLU.ComponentSettings
	case "text_processor":
		settings = cfg.TextProcessor.ComponentSettings
	}

	var order []string
	seen := map[string]bool{}
	appendName := func(n string) {
		if views[n] && !seen[n] {
			seen[n] = true
			order = append(order, n)
		}
	}
	appendName(settings.DefaultProvider)
	for _, n := range settings.FallbackProviders {
		appendName(n)
	}
	// Remaining enabled providers act as last resorts, console last.
	var rest, console []string
	for _, n := range enabled {
		if seen[n] {
			continue
		}
		if n == "console" {
			console = append(console, n)
		} else {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)
	order = append(order, console...)
	return order
}

// Init constructs providers according to the configured lifecycle mode. In
// lazy mode only the default and the essential list are constructed; other
// providers load on first use. Otherwise all providers initialise
// concurrently and per-provider failures degrade the host instead of
// aborting.
func (h *Host[P]) Init(ctx context.Context) error {
	if h.settings.Lazy {
		return h.initEssential(ctx)
	}
	return h.initConcurrent(ctx)
}

// initEssential loads the default provider plus the configured essential
// providers.
func (h *Host[P]) initEssential(ctx context.Context) error {
	names := map[string]bool{}
	if h.settings.DefaultProvider != "" {
		names[h.settings.DefaultProvider] = true
	}
	for _, n := range h.settings.Essential {
		names[n] = true
	}

	for name := range names {
		if _, err := h.load(ctx, name); err != nil {
			slog.Warn("essential provider failed to load",
				"kind", h.kind, "provider", name, "err", err)
		}
	}
	return nil
}

// initConcurrent loads every registered provider in parallel.
func (h *Host[P]) initConcurrent(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range h.group.Names() {
		g.Go(func() error {
			if _, err := h.load(gctx, name); err != nil {
				// Degrade, do not abort: the provider stays unloaded and a
				// later call retries the construction.
				slog.Warn("provider failed to initialise",
					"kind", h.kind, "provider", name, "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// load returns the provider for name, constructing it on first use. Loads of
// the same name are collapsed through singleflight; a failed construction is
// retried on the next call.
func (h *Host[P]) load(ctx context.Context, name string) (P, error) {
	var zero P

	h.mu.RLock()
	s, ok := h.slots[name]
	h.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s/%q", resilience.ErrUnknownEntry, h.kind, name)
	}

	if p, loaded := s.get(); loaded {
		return p, nil
	}

	v, err, _ := h.sf.Do(name, func() (any, error) {
		if p, loaded := s.get(); loaded {
			return p, nil
		}
		p, err := s.factory()
		if err != nil {
			return nil, err
		}
		s.store(p)
		slog.Debug("provider loaded", "kind", h.kind, "provider", name)
		return p, nil
	})
	if err != nil {
		return zero, fmt.Errorf("load %s/%q: %w", h.kind, name, err)
	}

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
	}
	return v.(P), nil
}

// probe reports whether a slot is currently usable. Unloaded slots count as
// usable; they are constructed inside the call attempt.
func (h *Host[P]) probe(name string) bool {
	h.mu.RLock()
	s, ok := h.slots[name]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	p, loaded := s.get()
	if !loaded {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return p.Available(ctx)
}

// SetDefaultProvider atomically switches the provider tried first. Calls in
// flight keep the selection order they started with.
func (h *Host[P]) SetDefaultProvider(name string) error {
	if err := h.group.SetDefault(name); err != nil {
		return err
	}
	slog.Info("default provider switched", "kind", h.kind, "provider", name)
	return nil
}

// Current returns the name of the current default provider.
func (h *Host[P]) Current() string {
	return h.group.Default()
}

// Providers lists all registered provider names in selection order.
func (h *Host[P]) Providers() []string {
	return h.group.Names()
}

// ListAvailable returns the names of providers that currently report
// availability. Unloaded lazy providers are listed as available.
func (h *Host[P]) ListAvailable(ctx context.Context) []string {
	var avail []string
	for _, name := range h.group.Names() {
		h.mu.RLock()
		s := h.slots[name]
		h.mu.RUnlock()
		p, loaded := s.get()
		if !loaded || p.Available(ctx) {
			avail = append(avail, name)
		}
	}
	return avail
}

// IsAvailable reports whether at least one provider can serve calls.
func (h *Host[P]) IsAvailable(ctx context.Context) bool {
	return len(h.ListAvailable(ctx)) > 0
}

// Capabilities aggregates provider capability metadata by provider name.
// Unloaded providers contribute a "loaded": false stub.
func (h *Host[P]) Capabilities() map[string]map[string]any {
	caps := make(map[string]map[string]any)
	for _, name := range h.group.Names() {
		h.mu.RLock()
		s := h.slots[name]
		h.mu.RUnlock()
		if p, loaded := s.get(); loaded {
			caps[name] = p.Capabilities()
		} else {
			caps[name] = map[string]any{"loaded": false}
		}
	}
	return caps
}

// EachLoaded calls fn for every provider that has been constructed. Unloaded
// lazy providers are skipped.
func (h *Host[P]) EachLoaded(fn func(name string, p P)) {
	for _, name := range h.group.Names() {
		h.mu.RLock()
		s := h.slots[name]
		h.mu.RUnlock()
		if p, loaded := s.get(); loaded {
			fn(name, p)
		}
	}
}

// Get returns the provider registered under name, loading it if needed.
func (h *Host[P]) Get(ctx context.Context, name string) (P, error) {
	return h.load(ctx, name)
}

// Execute runs fn against providers in selection order (pinned, then the
// default, then fallbacks) until one succeeds. Each provider slot is guarded
// by its own circuit breaker. Returns [ErrCapabilityUnavailable] wrapping the
// last failure when every provider fails.
func (h *Host[P]) Execute(ctx context.Context, pinned string, fn func(ctx context.Context, p P) error) error {
	first := true
	err := h.group.Execute(pinned, func(name string, s *slot[P]) error {
		if !first && h.metrics != nil {
			h.metrics.RecordProviderFallback(ctx, h.kind, h.Current(), name)
		}
		first = false

		p, err := h.load(ctx, name)
		if err != nil {
			return err
		}

		callErr := fn(ctx, p)
		if h.metrics != nil {
			status := "ok"
			if callErr != nil {
				status = "error"
				h.metrics.RecordProviderError(ctx, name, h.kind)
			}
			h.metrics.RecordProviderRequest(ctx, name, h.kind, status)
		}
		return callErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrAllFailed) {
			return fmt.Errorf("%w: %s: %v", ErrCapabilityUnavailable, h.kind, err)
		}
		return err
	}
	return nil
}

// ExecuteWithResult runs fn like [Host.Execute] and carries a result out.
// Package-level because Go methods cannot add type parameters.
func ExecuteWithResult[P provider.Provider, R any](ctx context.Context, h *Host[P], pinned string, fn func(ctx context.Context, p P) (R, error)) (R, error) {
	var result R
	err := h.Execute(ctx, pinned, func(ctx context.Context, p P) error {
		var innerErr error
		result, innerErr = fn(ctx, p)
		return innerErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}

// Shutdown releases loaded providers that implement io.Closer-style Close.
func (h *Host[P]) Shutdown(ctx context.Context) error {
	var errs []error
	for _, name := range h.group.Names() {
		h.mu.RLock()
		s := h.slots[name]
		h.mu.RUnlock()
		p, loaded := s.get()
		if !loaded {
			continue
		}
		if closer, ok := any(p).(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s/%q: %w", h.kind, name, err))
			}
		}
	}
	return errors.Join(errs...)
}
