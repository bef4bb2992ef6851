package component

import (
	"context"
	"sync"

	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/pkg/types"
)

// ── Monitoring ─────────────────────────────────────────────────────────────

// Monitoring is a thin coordinator component: it carries the listen address
// for the metrics and health HTTP surface, which cmd/aria serves. Having it
// in the component graph gives it enablement, health, and ordered shutdown
// like every other capability.
type Monitoring struct {
	listenAddr string
}

// NewMonitoring returns an uninitialised Monitoring component.
func NewMonitoring() *Monitoring { return &Monitoring{} }

var _ Component = (*Monitoring)(nil)

func (m *Monitoring) Name() string                  { return "monitoring" }
func (m *Monitoring) Dependencies() []string        { return nil }
func (m *Monitoring) ServiceDependencies() []string { return nil }
func (m *Monitoring) Optional() bool                { return true }

func (m *Monitoring) Initialize(ctx context.Context, core *Core) error {
	m.listenAddr = core.Cfg.Monitoring.ListenAddr
	if m.listenAddr == "" {
		m.listenAddr = ":9090"
	}
	return nil
}

func (m *Monitoring) IsHealthy(ctx context.Context) bool { return true }
func (m *Monitoring) Shutdown(ctx context.Context) error { return nil }

// ListenAddr returns the configured HTTP listen address.
func (m *Monitoring) ListenAddr() string { return m.listenAddr }

// ── NLU analysis ───────────────────────────────────────────────────────────

// ParseSample is one retained low-confidence utterance.
type ParseSample struct {
	Text       string
	Intent     string
	Confidence float64
	Language   string
}

// NLUAnalysis tracks recognition quality: total parse counts, low-confidence
// counts per intent, and a bounded sample of the utterances that scored
// badly. The workflow engine feeds it; the diagnostics surface reads it.
type NLUAnalysis struct {
	threshold   float64
	sampleLimit int

	mu            sync.Mutex
	total         int
	lowConfidence int
	byIntent      map[string]int
	samples       []ParseSample
}

// NewNLUAnalysis returns an uninitialised NLUAnalysis component.
func NewNLUAnalysis() *NLUAnalysis { return &NLUAnalysis{} }

var _ Component = (*NLUAnalysis)(nil)

func (n *NLUAnalysis) Name() string                  { return "nlu_analysis" }
func (n *NLUAnalysis) Dependencies() []string        { return []string{"nlu"} }
func (n *NLUAnalysis) ServiceDependencies() []string { return nil }
func (n *NLUAnalysis) Optional() bool                { return true }

func (n *NLUAnalysis) Initialize(ctx context.Context, core *Core) error {
	n.threshold = core.Cfg.NLUAnalysis.LowConfidenceThreshold
	if n.threshold == 0 {
		n.threshold = 0.5
	}
	n.sampleLimit = core.Cfg.NLUAnalysis.SampleLimit
	if n.sampleLimit == 0 {
		n.sampleLimit = 100
	}
	n.byIntent = make(map[string]int)
	return nil
}

func (n *NLUAnalysis) IsHealthy(ctx context.Context) bool { return true }
func (n *NLUAnalysis) Shutdown(ctx context.Context) error { return nil }

// RecordParse feeds one NLU result into the quality counters. Low-confidence
// parses are sampled up to the configured limit (FIFO drop).
func (n *NLUAnalysis) RecordParse(intent types.Intent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.total++
	n.byIntent[intent.Name]++
	if intent.Confidence >= n.threshold {
		return
	}
	n.lowConfidence++
	n.samples = append(n.samples, ParseSample{
		Text:       intent.RawText,
		Intent:     intent.Name,
		Confidence: intent.Confidence,
		Language:   intent.Language,
	})
	if len(n.samples) > n.sampleLimit {
		n.samples = n.samples[1:]
	}
}

// Report summarises recognition quality since startup.
func (n *NLUAnalysis) Report() (total, lowConfidence int, byIntent map[string]int, samples []ParseSample) {
	n.mu.Lock()
	defer n.mu.Unlock()

	byIntent = make(map[string]int, len(n.byIntent))
	for k, v := range n.byIntent {
		byIntent[k] = v
	}
	samples = make([]ParseSample, len(n.samples))
	copy(samples, n.samples)
	return n.total, n.lowConfidence, byIntent, samples
}

// ── Configuration ──────────────────────────────────────────────────────────

// Configuration is the admin surface over the config file: it owns the
// [config.Store] used for runtime edits (section writes, backups) and
// reports the watch interval for hot reload.
type Configuration struct {
	store         *config.Store
	watchInterval string
}

// NewConfiguration returns a Configuration component bound to the config
// file at path.
func NewConfiguration(path string) *Configuration {
	return &Configuration{store: config.NewStore(path)}
}

var _ Component = (*Configuration)(nil)

func (c *Configuration) Name() string                  { return "configuration" }
func (c *Configuration) Dependencies() []string        { return nil }
func (c *Configuration) ServiceDependencies() []string { return nil }
func (c *Configuration) Optional() bool                { return true }

func (c *Configuration) Initialize(ctx context.Context, core *Core) error {
	c.watchInterval = core.Cfg.Configuration.WatchInterval.String()
	return nil
}

func (c *Configuration) IsHealthy(ctx context.Context) bool {
	_, err := c.store.Raw()
	return err == nil
}

func (c *Configuration) Shutdown(ctx context.Context) error { return nil }

// Store exposes the config file store for admin edits.
func (c *Configuration) Store() *config.Store { return c.store }
