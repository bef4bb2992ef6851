// Package action runs fire-and-forget background tasks spawned by intent
// handlers: timers, reminders, long downloads. An action outlives the request
// that started it; the coordinator owns its goroutine, cancellation, and the
// session-visible bookkeeping.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/internal/observe"
)

// Policy decides what happens when a domain already runs an action.
type Policy string

const (
	// PolicyReject refuses the new action and keeps the running one.
	PolicyReject Policy = "reject"

	// PolicyReplace cancels the running action and starts the new one.
	PolicyReplace Policy = "replace"
)

// ErrDomainBusy is returned when a reject-policy domain already runs an
// action. It is a refusal, not an action failure: the domain error count is
// not touched.
var ErrDomainBusy = errors.New("action: domain already has a running action")

// Func is the body of a background action. It must honour ctx cancellation
// at its suspension points (timers, network calls).
type Func func(ctx context.Context) error

// task pairs an action record with its cancellation handle.
type task struct {
	rec     *conversation.ActionRecord
	session *conversation.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Coordinator starts, tracks, and cancels background actions across all
// sessions. One coordinator serves the whole process.
type Coordinator struct {
	metrics  *observe.Metrics
	policies map[string]Policy

	mu    sync.Mutex
	tasks map[string]*task // action ID -> task
	wg    sync.WaitGroup
}

// NewCoordinator creates a coordinator. policies maps domain names to their
// conflict policy; unlisted domains default to [PolicyReject]. metrics may
// be nil in tests.
func NewCoordinator(metrics *observe.Metrics, policies map[string]Policy) *Coordinator {
	c := &Coordinator{
		metrics:  metrics,
		policies: make(map[string]Policy, len(policies)),
		tasks:    make(map[string]*task),
	}
	for d, p := range policies {
		c.policies[d] = p
	}
	return c
}

func (c *Coordinator) policy(domain string) Policy {
	if p, ok := c.policies[domain]; ok {
		return p
	}
	return PolicyReject
}

// Start launches fn as a detached background action for the session. It
// returns the action ID immediately; the action keeps running after the
// spawning request finishes. When the domain already runs an action the
// domain policy applies: reject returns [ErrDomainBusy], replace cancels the
// running action first.
func (c *Coordinator) Start(session *conversation.Context, domain, name string, fn Func) (string, error) {
	c.mu.Lock()
	if running, ok := session.ActiveAction(domain); ok {
		if c.policy(domain) == PolicyReject {
			c.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrDomainBusy, domain)
		}
		if t := c.tasks[running.ID]; t != nil {
			t.cancel()
		}
		session.FinishAction(running.ID, conversation.ActionCancelled, "replaced")
		slog.Info("action replaced", "session", session.SessionID(), "domain", domain, "replaced", running.ID)
	}

	rec := &conversation.ActionRecord{
		ID:        uuid.NewString(),
		Domain:    domain,
		Name:      name,
		Status:    conversation.ActionRunning,
		StartedAt: time.Now(),
	}
	session.BeginAction(rec)

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{rec: rec, session: session, cancel: cancel, done: make(chan struct{})}
	c.tasks[rec.ID] = t
	c.wg.Add(1)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveActions.Add(context.Background(), 1)
	}
	slog.Debug("action started", "session", session.SessionID(), "domain", domain, "name", name, "id", rec.ID)

	go c.run(ctx, t, fn)
	return rec.ID, nil
}

// run executes the action body and settles its lifecycle. A panic inside fn
// counts as a failure, never crashes the process.
func (c *Coordinator) run(ctx context.Context, t *task, fn Func) {
	defer c.wg.Done()
	defer close(t.done)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("action panicked: %v", r)
			}
		}()
		err = fn(ctx)
	}()

	status := conversation.ActionCompleted
	errText := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		status = conversation.ActionCancelled
	default:
		status = conversation.ActionFailed
		errText = err.Error()
	}

	c.mu.Lock()
	delete(c.tasks, t.rec.ID)
	c.mu.Unlock()
	t.session.FinishAction(t.rec.ID, status, errText)
	t.session.Touch()

	if c.metrics != nil {
		c.metrics.ActiveActions.Add(context.Background(), -1)
	}
	switch status {
	case conversation.ActionFailed:
		slog.Warn("action failed", "session", t.session.SessionID(), "domain", t.rec.Domain, "id", t.rec.ID, "err", errText)
	default:
		slog.Debug("action finished", "session", t.session.SessionID(), "domain", t.rec.Domain, "id", t.rec.ID, "status", status)
	}
}

// Cancel requests cancellation of one action by ID. It reports whether the
// action was found running. Cancellation takes effect at the action's next
// suspension point.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.Lock()
	t, ok := c.tasks[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	return true
}

// CancelDomain cancels the running action of a session's domain, if any.
func (c *Coordinator) CancelDomain(session *conversation.Context, domain string) bool {
	rec, ok := session.ActiveAction(domain)
	if !ok {
		return false
	}
	return c.Cancel(rec.ID)
}

// ListActive returns the records of all running actions, across sessions.
func (c *Coordinator) ListActive() []conversation.ActionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]conversation.ActionRecord, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, *t.rec)
	}
	return out
}

// Shutdown cancels every running action and waits for their goroutines,
// bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, t := range c.tasks {
		t.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("action: shutdown wait: %w", ctx.Err())
	}
}
