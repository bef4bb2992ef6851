// Package intent routes recognised intents to handlers. The registry keeps a
// read-mostly catalogue of handlers keyed by their advertised patterns;
// dispatch resolves exact name, then longest dotted prefix, then domain
// wildcard, then the configured fallback handler.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/internal/observe"
	"github.com/MrWong99/aria/pkg/types"
)

// Error kinds carried in IntentResult.Error and Metadata["error_kind"].
const (
	ErrKindHandlerTimeout = "HandlerTimeout"
	ErrKindHandlerError   = "HandlerError"
	ErrKindNoHandler      = "NoHandler"
)

// Handler serves one or more intent patterns. Implementations must be safe
// for concurrent use; dispatch calls them from many requests at once.
type Handler interface {
	// Name identifies the handler in config and logs.
	Name() string

	// Patterns lists the intents the handler claims: exact names
	// ("timer.set") or domain wildcards ("timer.*").
	Patterns() []string

	// Languages restricts the handler to utterance languages. Empty means
	// all languages.
	Languages() []string

	// Handle serves one intent within the current request. Long work goes
	// into a background action, not into Handle.
	Handle(ctx context.Context, intent types.Intent, session *conversation.Context) (types.IntentResult, error)
}

// Registry is the handler catalogue and dispatcher.
type Registry struct {
	metrics  *observe.Metrics
	deadline time.Duration
	fallback string

	mu       sync.RWMutex
	handlers map[string]Handler // handler name -> handler
	exact    map[string]Handler // "domain.action" pattern -> handler
	wildcard map[string]Handler // domain -> handler, from "domain.*"
}

// NewRegistry creates an empty registry. deadline bounds one handler
// invocation (zero means 30 s); fallback names the handler of last resort.
// metrics may be nil in tests.
func NewRegistry(metrics *observe.Metrics, deadline time.Duration, fallback string) *Registry {
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &Registry{
		metrics:  metrics,
		deadline: deadline,
		fallback: fallback,
		handlers: make(map[string]Handler),
		exact:    make(map[string]Handler),
		wildcard: make(map[string]Handler),
	}
}

// Register adds a handler and indexes its patterns. A pattern already claimed
// by another handler is an error.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[h.Name()]; ok {
		return fmt.Errorf("intent: handler %q already registered", h.Name())
	}
	for _, pat := range h.Patterns() {
		if domain, ok := strings.CutSuffix(pat, ".*"); ok {
			if prev, taken := r.wildcard[domain]; taken {
				return fmt.Errorf("intent: pattern %q already claimed by %q", pat, prev.Name())
			}
			continue
		}
		if prev, taken := r.exact[pat]; taken {
			return fmt.Errorf("intent: pattern %q already claimed by %q", pat, prev.Name())
		}
	}

	r.handlers[h.Name()] = h
	for _, pat := range h.Patterns() {
		if domain, ok := strings.CutSuffix(pat, ".*"); ok {
			r.wildcard[domain] = h
		} else {
			r.exact[pat] = h
		}
	}
	slog.Debug("intent handler registered", "handler", h.Name(), "patterns", h.Patterns())
	return nil
}

// Unregister removes a handler and its patterns. In-flight dispatches keep
// running against the handler they resolved.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[name]
	if !ok {
		return
	}
	delete(r.handlers, name)
	for _, pat := range h.Patterns() {
		if domain, ok := strings.CutSuffix(pat, ".*"); ok {
			delete(r.wildcard, domain)
		} else {
			delete(r.exact, pat)
		}
	}
}

// Handlers lists registered handler names, sorted.
func (r *Registry) Handlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// resolve picks the handler for an intent. The caller holds no lock; resolve
// takes a consistent read snapshot.
func (r *Registry) resolve(intent types.Intent) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h := r.exact[intent.Name]; h != nil && speaksLanguage(h, intent.Language) {
		return h
	}

	// Longest dotted prefix: "timer.set.recurring" tries "timer.set".
	name := intent.Name
	for {
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
		if h := r.exact[name]; h != nil && speaksLanguage(h, intent.Language) {
			return h
		}
	}

	if h := r.wildcard[intent.Domain()]; h != nil && speaksLanguage(h, intent.Language) {
		return h
	}
	if h := r.handlers[r.fallback]; h != nil {
		return h
	}
	return nil
}

func speaksLanguage(h Handler, language string) bool {
	langs := h.Languages()
	if len(langs) == 0 || language == "" {
		return true
	}
	return slices.Contains(langs, language)
}

// Dispatch routes an intent to exactly one handler and returns its result.
// Handler panics and deadline overruns never escape: they become apology
// results with error metadata.
func (r *Registry) Dispatch(ctx context.Context, intent types.Intent, session *conversation.Context) types.IntentResult {
	h := r.resolve(intent)
	if h == nil {
		r.record(ctx, intent.Name, "unhandled")
		slog.Warn("no handler for intent", "intent", intent.Name)
		return Apology(intent.Language, ErrKindNoHandler, intent.Confidence)
	}

	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	type outcome struct {
		res types.IntentResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("handler panicked: %v", p)}
			}
		}()
		res, err := h.Handle(ctx, intent, session)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		r.record(ctx, intent.Name, "timeout")
		slog.Error("intent handler deadline exceeded",
			"handler", h.Name(), "intent", intent.Name, "deadline", r.deadline)
		recordFailure(session, intent, "handler deadline exceeded")
		return Apology(intent.Language, ErrKindHandlerTimeout, intent.Confidence)
	case out := <-ch:
		if out.err != nil {
			r.record(ctx, intent.Name, "error")
			slog.Error("intent handler failed",
				"handler", h.Name(), "intent", intent.Name, "err", out.err)
			recordFailure(session, intent, out.err.Error())
			return Apology(intent.Language, ErrKindHandlerError, intent.Confidence)
		}
		r.record(ctx, intent.Name, "ok")
		return out.res
	}
}

// recordFailure writes a handler failure into the session so error counts and
// the failed-action list reflect in-request failures, not just background
// actions.
func recordFailure(session *conversation.Context, intent types.Intent, errText string) {
	if session == nil {
		return
	}
	session.RecordFailure(intent.Domain(), intent.Name, errText)
}

func (r *Registry) record(ctx context.Context, intent, status string) {
	if r.metrics != nil {
		r.metrics.RecordIntentDispatch(ctx, intent, status)
	}
}

// apologyText maps languages to the canned failure reply. Unknown languages
// fall back to English.
var apologyText = map[string]string{
	"en": "Sorry, I could not handle that request.",
	"de": "Entschuldigung, ich konnte die Anfrage nicht bearbeiten.",
	"fr": "Désolé, je n'ai pas pu traiter cette demande.",
	"es": "Lo siento, no pude procesar esa solicitud.",
}

// Apology synthesises the failure IntentResult returned whenever the
// pipeline cannot complete a request.
func Apology(language, errKind string, confidence float64) types.IntentResult {
	lang := language
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	text, ok := apologyText[lang]
	if !ok {
		text = apologyText["en"]
	}
	return types.IntentResult{
		Text:        text,
		Success:     false,
		Confidence:  confidence,
		ShouldSpeak: true,
		Metadata:    map[string]any{"error_kind": errKind},
		Error:       errKind,
	}
}
