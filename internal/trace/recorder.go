// Package trace implements the per-request stage recorder. Recording is
// opt-in per request: a nil *Recorder is the disabled path, and every method
// on it returns immediately.
package trace

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/pkg/types"
)

// snapshotExcerpt bounds the history excerpts kept in context snapshots.
const snapshotExcerpt = 3

// AudioPath marks a string as a path to a temporary audio artefact. The
// sanitiser inlines the file's bytes when they fit the binary budget.
type AudioPath string

// StageRecord is one sanitised pipeline stage.
type StageRecord struct {
	Stage     string
	Skipped   bool
	Input     any
	Output    any
	Metadata  map[string]any
	Duration  time.Duration
	Timestamp time.Time
}

// Record is the finished trace of one request.
type Record struct {
	RequestID string
	Before    map[string]any
	After     map[string]any
	Stages    []StageRecord
	StartedAt time.Time
	Elapsed   time.Duration

	// Overflow reports that the stage or byte cap was hit and later
	// records were dropped.
	Overflow bool
}

// Recorder collects sanitised stage records for a single request. All
// methods are safe on a nil receiver, which is the disabled path.
type Recorder struct {
	requestID      string
	maxStages      int
	maxTotalBytes  int
	maxStringLen   int
	maxBinaryBytes int

	mu         sync.Mutex
	startedAt  time.Time
	before     map[string]any
	after      map[string]any
	stages     []StageRecord
	totalBytes int
	overflow   bool
	warned     bool
}

// New creates a recorder for one request, or nil when tracing is off. The
// caller combines the config switch with the request's own opt-in flag.
func New(requestID string, cfg config.TracingConfig, requested bool) *Recorder {
	if !cfg.Enabled || !requested {
		return nil
	}
	r := &Recorder{
		requestID:      requestID,
		maxStages:      cfg.MaxStages,
		maxTotalBytes:  cfg.MaxTotalBytes,
		maxStringLen:   cfg.MaxStringLen,
		maxBinaryBytes: cfg.MaxBinaryBytes,
		startedAt:      time.Now(),
	}
	if r.maxStages <= 0 {
		r.maxStages = 100
	}
	if r.maxTotalBytes <= 0 {
		r.maxTotalBytes = 10 << 20
	}
	if r.maxStringLen <= 0 {
		r.maxStringLen = 2000
	}
	if r.maxBinaryBytes <= 0 {
		r.maxBinaryBytes = 1 << 20
	}
	return r
}

// RecordStage appends one sanitised stage record. It never returns an error
// and never panics: sanitisation failures degrade to a sanitization_error
// record, cap overruns are dropped after a single warning.
func (r *Recorder) RecordStage(stage string, input, output any, metadata map[string]any, d time.Duration) {
	if r == nil {
		return
	}
	rec := StageRecord{
		Stage:     stage,
		Input:     r.safeSanitize(input),
		Output:    r.safeSanitize(output),
		Duration:  d,
		Timestamp: time.Now(),
	}
	if metadata != nil {
		m, ok := r.safeSanitize(metadata).(map[string]any)
		if !ok {
			m = map[string]any{"sanitization_error": true}
		}
		rec.Metadata = m
	}
	r.append(rec)
}

// RecordSkipped notes a stage the pipeline did not run for this request.
func (r *Recorder) RecordSkipped(stage string) {
	if r == nil {
		return
	}
	r.append(StageRecord{Stage: stage, Skipped: true, Timestamp: time.Now()})
}

func (r *Recorder) append(rec StageRecord) {
	size := sizeOf(rec.Input) + sizeOf(rec.Output) + sizeOf(rec.Metadata) + len(rec.Stage) + 64

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.stages) >= r.maxStages || r.totalBytes+size > r.maxTotalBytes {
		r.overflow = true
		if !r.warned {
			r.warned = true
			slog.Warn("trace limits reached, dropping further stage records",
				"request", r.requestID, "stages", len(r.stages), "bytes", r.totalBytes)
		}
		return
	}
	r.stages = append(r.stages, rec)
	r.totalBytes += size
}

// RecordContextBefore snapshots the conversation context at request start.
func (r *Recorder) RecordContextBefore(snap types.ConversationSnapshot) {
	if r == nil {
		return
	}
	view := r.snapshotView(snap)
	r.mu.Lock()
	r.before = view
	r.mu.Unlock()
}

// RecordContextAfter snapshots the conversation context at request end.
func (r *Recorder) RecordContextAfter(snap types.ConversationSnapshot) {
	if r == nil {
		return
	}
	view := r.snapshotView(snap)
	r.mu.Lock()
	r.after = view
	r.mu.Unlock()
}

// snapshotView reduces a conversation snapshot to counts, identifiers, and
// bounded history excerpts.
func (r *Recorder) snapshotView(snap types.ConversationSnapshot) map[string]any {
	history := snap.RecentHistory
	if len(history) > snapshotExcerpt {
		history = history[len(history)-snapshotExcerpt:]
	}
	excerpts := make([]map[string]any, 0, len(history))
	for _, e := range history {
		excerpts = append(excerpts, map[string]any{
			"role":   e.Role,
			"text":   r.sanitizeString(e.Text),
			"intent": e.IntentName,
		})
	}
	return map[string]any{
		"session_id":     snap.SessionID,
		"language":       snap.Language,
		"history_len":    snap.HistoryLen,
		"active_domains": snap.ActiveDomains,
		"history_tail":   excerpts,
	}
}

// Finish seals the trace and returns the record.
func (r *Recorder) Finish() Record {
	if r == nil {
		return Record{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Record{
		RequestID: r.requestID,
		Before:    r.before,
		After:     r.after,
		Stages:    r.stages,
		StartedAt: r.startedAt,
		Elapsed:   time.Since(r.startedAt),
		Overflow:  r.overflow,
	}
}

// safeSanitize shields recording from sanitisation bugs: a panic becomes a
// sanitization_error placeholder.
func (r *Recorder) safeSanitize(v any) (out any) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("trace sanitisation failed", "request", r.requestID, "panic", p)
			out = map[string]any{"sanitization_error": true}
		}
	}()
	if path, ok := v.(AudioPath); ok {
		return r.sanitizeAudioPath(string(path))
	}
	return r.sanitize(v)
}

// sizeOf approximates the retained size of a sanitised payload.
func sizeOf(v any) int {
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return len(val)
	case map[string]any:
		size := 0
		for k, item := range val {
			size += len(k) + sizeOf(item)
		}
		return size
	case []any:
		size := 0
		for _, item := range val {
			size += sizeOf(item)
		}
		return size
	case []map[string]any:
		size := 0
		for _, item := range val {
			size += sizeOf(map[string]any(item))
		}
		return size
	default:
		return 16
	}
}
