// Package conversation implements per-session shared memory: bounded
// history, handler scratch space, background action bookkeeping, and the
// store that owns session lifecycle and expiry.
package conversation

import (
	"sync"
	"time"

	"github.com/MrWong99/aria/pkg/types"
)

// snapshotHistory bounds how many history entries a snapshot carries.
const snapshotHistory = 10

// ActionStatus is the lifecycle state of a background action.
type ActionStatus string

const (
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
)

// ActionRecord describes one background action. The action coordinator owns
// the running task; the record is the session-visible bookkeeping.
type ActionRecord struct {
	ID         string
	Domain     string
	Name       string
	Status     ActionStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Limits bounds the per-session lists. Zero fields fall back to defaults.
type Limits struct {
	History       int
	RecentActions int
	FailedActions int
}

func (l Limits) withDefaults() Limits {
	if l.History <= 0 {
		l.History = 50
	}
	if l.RecentActions <= 0 {
		l.RecentActions = 20
	}
	if l.FailedActions <= 0 {
		l.FailedActions = 20
	}
	return l
}

// Context is the shared memory of one session. All mutation happens under
// the context's own lock; snapshots for tracing and NLU take a consistent
// copy.
type Context struct {
	sessionID string
	createdAt time.Time
	limits    Limits

	mu             sync.Mutex
	language       string
	roomName       string
	clientMetadata map[string]string
	lastActivity   time.Time
	history        []types.ExchangeEntry
	handlerCtx     map[string]map[string]any
	activeActions  map[string]*ActionRecord
	recentActions  []*ActionRecord
	failedActions  []*ActionRecord
	errorCounts    map[string]int
	devices        map[string]string
}

// newContext creates a fresh session context. Construction goes through
// [Store.GetOrCreate].
func newContext(sessionID string, metadata map[string]string, limits Limits) *Context {
	now := time.Now()
	c := &Context{
		sessionID:      sessionID,
		createdAt:      now,
		limits:         limits.withDefaults(),
		clientMetadata: make(map[string]string, len(metadata)),
		lastActivity:   now,
		handlerCtx:     make(map[string]map[string]any),
		activeActions:  make(map[string]*ActionRecord),
		errorCounts:    make(map[string]int),
		devices:        make(map[string]string),
	}
	for k, v := range metadata {
		c.clientMetadata[k] = v
	}
	c.language = metadata["language"]
	c.roomName = metadata["room"]
	return c
}

// SessionID returns the immutable session identifier.
func (c *Context) SessionID() string { return c.sessionID }

// CreatedAt returns the creation timestamp.
func (c *Context) CreatedAt() time.Time { return c.createdAt }

// Touch advances last_activity. time.Now carries a monotonic reading, so
// activity ordering is immune to wall-clock jumps.
func (c *Context) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent access.
func (c *Context) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// IdleSince reports how long the session has been inactive.
func (c *Context) IdleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

// Language returns the session's conversation language.
func (c *Context) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// SetLanguage updates the session's conversation language.
func (c *Context) SetLanguage(lang string) {
	c.mu.Lock()
	c.language = lang
	c.mu.Unlock()
}

// AppendHistory records one exchange, dropping the oldest entry beyond the
// history limit.
func (c *Context) AppendHistory(entry types.ExchangeEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	c.history = append(c.history, entry)
	if len(c.history) > c.limits.History {
		c.history = c.history[len(c.history)-c.limits.History:]
	}
}

// History returns a copy of the full retained history, oldest first.
func (c *Context) History() []types.ExchangeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ExchangeEntry, len(c.history))
	copy(out, c.history)
	return out
}

// HandlerValue reads a value from a handler's scratch space.
func (c *Context) HandlerValue(handler, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scope, ok := c.handlerCtx[handler]
	if !ok {
		return nil, false
	}
	v, ok := scope[key]
	return v, ok
}

// SetHandlerValue writes a value into a handler's scratch space.
func (c *Context) SetHandlerValue(handler, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scope, ok := c.handlerCtx[handler]
	if !ok {
		scope = make(map[string]any)
		c.handlerCtx[handler] = scope
	}
	scope[key] = value
}

// SetDevice records client device state ("livingroom_light" -> "on").
func (c *Context) SetDevice(name, state string) {
	c.mu.Lock()
	c.devices[name] = state
	c.mu.Unlock()
}

// Device reads recorded device state.
func (c *Context) Device(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.devices[name]
	return state, ok
}

// ── Background action bookkeeping ──────────────────────────────────────────

// ActiveAction returns the running action of a domain, if any.
func (c *Context) ActiveAction(domain string) (ActionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.activeActions[domain]
	if !ok {
		return ActionRecord{}, false
	}
	return *rec, true
}

// ActiveDomains lists domains that currently run a background action.
func (c *Context) ActiveDomains() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	domains := make([]string, 0, len(c.activeActions))
	for d := range c.activeActions {
		domains = append(domains, d)
	}
	return domains
}

// BeginAction installs rec as the domain's single active action. The action
// coordinator enforces the one-per-domain policy before calling.
func (c *Context) BeginAction(rec *ActionRecord) {
	c.mu.Lock()
	c.activeActions[rec.Domain] = rec
	c.mu.Unlock()
}

// FinishAction moves the active action with the given ID into the recent
// list, or the failed list on failure, and bumps the domain error count. It
// is a no-op when the ID is no longer active, so a replaced action's late
// completion cannot pop its successor.
func (c *Context) FinishAction(id string, status ActionStatus, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rec *ActionRecord
	var domain string
	for d, r := range c.activeActions {
		if r.ID == id {
			rec, domain = r, d
			break
		}
	}
	if rec == nil {
		return
	}
	delete(c.activeActions, domain)

	rec.Status = status
	rec.Error = errText
	rec.FinishedAt = time.Now()

	c.recentActions = appendBounded(c.recentActions, rec, c.limits.RecentActions)
	if status == ActionFailed {
		c.errorCounts[domain]++
		c.failedActions = appendBounded(c.failedActions, rec, c.limits.FailedActions)
	}
}

// RecordFailure notes a handler failure that never went through a background
// action: the domain's error count is bumped and a failed record is appended,
// so back-off and diagnostics see in-request failures too.
func (c *Context) RecordFailure(domain, name, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	rec := &ActionRecord{
		Domain:     domain,
		Name:       name,
		Status:     ActionFailed,
		Error:      errText,
		StartedAt:  now,
		FinishedAt: now,
	}
	c.errorCounts[domain]++
	c.failedActions = appendBounded(c.failedActions, rec, c.limits.FailedActions)
}

// RecentActions returns a copy of the completed-action list, oldest first.
func (c *Context) RecentActions() []ActionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyRecords(c.recentActions)
}

// FailedActions returns a copy of the failed-action list, oldest first.
func (c *Context) FailedActions() []ActionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyRecords(c.failedActions)
}

// ErrorCount returns how many actions of a domain have failed in this
// session. Handlers use it to implement back-off.
func (c *Context) ErrorCount(domain string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCounts[domain]
}

// Snapshot takes a consistent, bounded, read-only view for NLU and tracing.
// It carries history excerpts and domain names only, never client metadata.
func (c *Context) Snapshot() types.ConversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	recent := c.history
	if len(recent) > snapshotHistory {
		recent = recent[len(recent)-snapshotHistory:]
	}
	history := make([]types.ExchangeEntry, len(recent))
	copy(history, recent)

	domains := make([]string, 0, len(c.activeActions))
	for d := range c.activeActions {
		domains = append(domains, d)
	}

	return types.ConversationSnapshot{
		SessionID:     c.sessionID,
		Language:      c.language,
		RoomName:      c.roomName,
		RecentHistory: history,
		ActiveDomains: domains,
		HistoryLen:    len(c.history),
	}
}

// sizeEstimate approximates the context's memory footprint in bytes.
func (c *Context) sizeEstimate() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var size int64
	for _, e := range c.history {
		size += int64(len(e.Text) + len(e.RawText) + len(e.IntentName) + len(e.Role) + 64)
	}
	size += int64(len(c.activeActions)+len(c.recentActions)+len(c.failedActions)) * 128
	for k, v := range c.clientMetadata {
		size += int64(len(k) + len(v))
	}
	return size
}

func appendBounded(list []*ActionRecord, rec *ActionRecord, limit int) []*ActionRecord {
	list = append(list, rec)
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

func copyRecords(list []*ActionRecord) []ActionRecord {
	out := make([]ActionRecord, len(list))
	for i, rec := range list {
		out[i] = *rec
	}
	return out
}
