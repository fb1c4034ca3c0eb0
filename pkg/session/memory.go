package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/financebuddy/financebuddy/pkg/apierr"
)

// MemoryStore keeps sessions in process memory with TTL expiry.
//
// A janitor goroutine sweeps expired sessions at a quarter of the TTL;
// reads also expire lazily so a stopped janitor never serves stale state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithoutJanitor disables the background sweep; expiry is lazy only.
func WithoutJanitor() MemoryOption {
	return func(s *MemoryStore) {
		s.stop = nil
	}
}

// NewMemoryStore creates an in-memory session store. A non-positive ttl
// uses DefaultTTL.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		logger:   slog.Default().With("component", "session.memory"),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.stop != nil {
		go s.janitor()
	}
	return s
}

// Create stores a new session, filling id, step, version and expiry.
func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Step == "" {
		sess.Step = StepInput
	}
	sess.Version = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return apierr.Newf(apierr.KindConflict, "session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a copy of the session.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || sess.Expired(s.now()) {
		if ok {
			s.Delete(ctx, id)
		}
		return nil, apierr.Newf(apierr.KindNotFound, "session %s not found", id)
	}
	return sess.Clone(), nil
}

// Update applies the mutator under optimistic compare-and-swap.
func (s *MemoryStore) Update(ctx context.Context, id string, mutate Mutator) (*Session, error) {
	snapshot, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	base := snapshot.Version
	if err := mutate(snapshot); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok || current.Expired(s.now()) {
		return nil, apierr.Newf(apierr.KindNotFound, "session %s not found", id)
	}
	if current.Version != base {
		return nil, apierr.Newf(apierr.KindConflict,
			"session %s was modified concurrently (version %d, expected %d)", id, current.Version, base)
	}

	snapshot.Version = base + 1
	snapshot.UpdatedAt = s.now()
	snapshot.ExpiresAt = current.ExpiresAt
	s.sessions[id] = snapshot.Clone()
	return snapshot, nil
}

// Delete removes the session; unknown ids are ignored.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Extend pushes the expiry out by d from now.
func (s *MemoryStore) Extend(ctx context.Context, id string, d time.Duration) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, apierr.New(apierr.KindValidation, "extension must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Expired(s.now()) {
		return nil, apierr.Newf(apierr.KindNotFound, "session %s not found", id)
	}
	sess.ExpiresAt = s.now().Add(d)
	return sess.Clone(), nil
}

// CleanupExpired removes expired sessions and reports how many.
func (s *MemoryStore) CleanupExpired(_ context.Context) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions, expired included until swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
		}
	})
	return nil
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(s.ttl / 4)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if removed := s.CleanupExpired(context.Background()); removed > 0 {
				s.logger.Debug("Swept expired sessions", "removed", removed)
			}
		}
	}
}

var _ Store = (*MemoryStore)(nil)
