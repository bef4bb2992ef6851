package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/observe"
)

// Archiver persists a session's history when the session is evicted.
// Archival is best-effort: failures are logged, never surfaced to requests.
type Archiver interface {
	ArchiveSession(ctx context.Context, c *Context) error
	Close()
}

// MemoryEstimate summarises the store's footprint for diagnostics.
type MemoryEstimate struct {
	Sessions       int
	HistoryEntries int
	ApproxBytes    int64
}

// Store owns all session contexts: creation, lookup, idle expiry, and
// archival on eviction.
type Store struct {
	cfg     config.ConversationConfig
	metrics *observe.Metrics
	archive Archiver

	mu       sync.Mutex
	sessions map[string]*Context

	stopOnce sync.Once
	done     chan struct{}
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithArchiver attaches an archive sink for expired sessions.
func WithArchiver(a Archiver) StoreOption {
	return func(s *Store) { s.archive = a }
}

// NewStore creates a session store. metrics may be nil in tests.
func NewStore(cfg config.ConversationConfig, metrics *observe.Metrics, opts ...StoreOption) *Store {
	if cfg.SessionExpiry <= 0 {
		cfg.SessionExpiry = 30 * time.Minute
	}
	s := &Store{
		cfg:      cfg,
		metrics:  metrics,
		sessions: make(map[string]*Context),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the context for sessionID, creating it on first use.
// The second return value reports whether the session was created.
func (s *Store) GetOrCreate(sessionID string, metadata map[string]string) (*Context, bool) {
	s.mu.Lock()
	if c, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		c.Touch()
		return c, false
	}
	c := newContext(sessionID, metadata, Limits{
		History:       s.cfg.HistoryLimit,
		RecentActions: s.cfg.RecentActionsLimit,
		FailedActions: s.cfg.FailedActionsLimit,
	})
	s.sessions[sessionID] = c
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	slog.Debug("session created", "session", sessionID)
	return c, true
}

// Get returns an existing context or nil.
func (s *Store) Get(sessionID string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Expire evicts every session idle for longer than the configured expiry and
// returns how many were removed. Sessions with running background actions
// are kept; their activity stamp advances when the action finishes.
func (s *Store) Expire(ctx context.Context) int {
	now := time.Now()

	s.mu.Lock()
	var expired []*Context
	for id, c := range s.sessions {
		if len(c.ActiveDomains()) > 0 {
			continue
		}
		if c.IdleSince(now) >= s.cfg.SessionExpiry {
			expired = append(expired, c)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, c := range expired {
		if s.metrics != nil {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		slog.Info("session expired", "session", c.SessionID(), "history", len(c.History()))
		if s.archive != nil {
			if err := s.archive.ArchiveSession(ctx, c); err != nil {
				slog.Error("session archive failed", "session", c.SessionID(), "err", err)
			}
		}
	}
	return len(expired)
}

// Run sweeps for expired sessions until ctx is cancelled or Close is called.
// The sweep interval is a quarter of the session expiry, floored at one
// second.
func (s *Store) Run(ctx context.Context) {
	interval := s.cfg.SessionExpiry / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Expire(ctx)
		}
	}
}

// MemoryEstimate approximates the store's total memory footprint.
func (s *Store) MemoryEstimate() MemoryEstimate {
	s.mu.Lock()
	contexts := make([]*Context, 0, len(s.sessions))
	for _, c := range s.sessions {
		contexts = append(contexts, c)
	}
	s.mu.Unlock()

	est := MemoryEstimate{Sessions: len(contexts)}
	for _, c := range contexts {
		est.HistoryEntries += len(c.History())
		est.ApproxBytes += c.sizeEstimate()
	}
	return est
}

// Close stops the sweeper and archives every remaining session.
func (s *Store) Close(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	remaining := make([]*Context, 0, len(s.sessions))
	for id, c := range s.sessions {
		remaining = append(remaining, c)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, c := range remaining {
		if s.metrics != nil {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		if s.archive != nil {
			if err := s.archive.ArchiveSession(ctx, c); err != nil {
				slog.Error("session archive failed", "session", c.SessionID(), "err", err)
			}
		}
	}
	if s.archive != nil {
		s.archive.Close()
	}
}
