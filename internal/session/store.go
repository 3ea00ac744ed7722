// Package session holds the bearer credential for the one user this process
// acts for. Reads are lock-free snapshots; writers replace the whole record.
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"finadvisor/internal/log"
)

// Persister stores the credential across restarts. LoadCredential returns ""
// when nothing is stored.
type Persister interface {
	SaveCredential(ctx context.Context, credential string) error
	LoadCredential(ctx context.Context) (string, error)
	DeleteCredential(ctx context.Context) error
}

// Snapshot is an immutable view of the session. Generation increases on every
// write, so a holder can tell whether the session changed since it looked.
type Snapshot struct {
	Credential string
	Generation uint64
}

// Authenticated reports whether a credential is present.
func (s Snapshot) Authenticated() bool {
	return s.Credential != ""
}

// ChangeKind describes a session transition.
type ChangeKind string

const (
	ChangeStarted     ChangeKind = "session.started"
	ChangeEnded       ChangeKind = "session.ended"
	ChangeInvalidated ChangeKind = "session.invalidated"
)

// Change is delivered to subscribers after a transition is applied.
type Change struct {
	Kind       ChangeKind
	Generation uint64
}

type Store struct {
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	persist     Persister
	subscribers []func(context.Context, Change)
	logger      *log.Logger
}

// NewStore returns an empty store. persist may be nil, in which case the
// credential lives only in memory.
func NewStore(persist Persister, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	s := &Store{
		persist: persist,
		logger:  logger.WithComponent(log.ComponentSession),
	}
	s.current.Store(&Snapshot{})
	return s
}

// Subscribe registers fn to be called after every transition. fn runs on the
// writer's goroutine and must not call back into the store's writers.
func (s *Store) Subscribe(fn func(context.Context, Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Current returns the present session. It never blocks.
func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

// Credential returns the bearer credential, if any.
func (s *Store) Credential() (string, bool) {
	snap := s.Current()
	return snap.Credential, snap.Authenticated()
}

// IsAuthenticated reports whether a credential is held.
func (s *Store) IsAuthenticated() bool {
	return s.Current().Authenticated()
}

// Restore loads a previously persisted credential. It does not notify
// subscribers and is meant to run once at startup.
func (s *Store) Restore(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	credential, err := s.persist.LoadCredential(ctx)
	if err != nil {
		return err
	}
	if credential == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := &Snapshot{Credential: credential, Generation: s.current.Load().Generation + 1}
	s.current.Store(next)
	s.logger.InfoContext(ctx, "Session restored", log.FieldGeneration, next.Generation)
	return nil
}

// Set replaces the session with credential and returns the new snapshot.
// A persistence failure is logged; the in-memory session is still updated.
func (s *Store) Set(ctx context.Context, credential string) Snapshot {
	s.mu.Lock()
	next := &Snapshot{Credential: credential, Generation: s.current.Load().Generation + 1}
	s.current.Store(next)
	if s.persist != nil {
		if err := s.persist.SaveCredential(ctx, credential); err != nil {
			s.logger.WarnContext(ctx, "Failed to persist credential", log.FieldError, err)
		}
	}
	subs := s.subscribers
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Session started", log.FieldGeneration, next.Generation)
	s.notify(ctx, subs, Change{Kind: ChangeStarted, Generation: next.Generation})
	return *next
}

// Clear ends the session unconditionally (explicit logout).
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	gen, cleared := s.clearLocked(ctx)
	subs := s.subscribers
	s.mu.Unlock()

	if !cleared {
		return
	}
	s.logger.InfoContext(ctx, "Session ended", log.FieldGeneration, gen)
	s.notify(ctx, subs, Change{Kind: ChangeEnded, Generation: gen})
}

// Invalidate clears the session only if it is still at generation gen. A
// rejection observed on an old credential cannot end a newer session. It
// reports whether a session was cleared.
func (s *Store) Invalidate(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	cur := s.current.Load()
	if cur.Generation != gen || !cur.Authenticated() {
		s.mu.Unlock()
		return false
	}
	next, _ := s.clearLocked(ctx)
	subs := s.subscribers
	s.mu.Unlock()

	s.logger.WarnContext(ctx, "Session invalidated by upstream", log.FieldGeneration, gen)
	s.notify(ctx, subs, Change{Kind: ChangeInvalidated, Generation: next})
	return true
}

func (s *Store) clearLocked(ctx context.Context) (uint64, bool) {
	cur := s.current.Load()
	if !cur.Authenticated() {
		return cur.Generation, false
	}
	next := &Snapshot{Generation: cur.Generation + 1}
	s.current.Store(next)
	if s.persist != nil {
		if err := s.persist.DeleteCredential(ctx); err != nil {
			s.logger.WarnContext(ctx, "Failed to delete persisted credential", log.FieldError, err)
		}
	}
	return next.Generation, true
}

func (s *Store) notify(ctx context.Context, subs []func(context.Context, Change), c Change) {
	for _, fn := range subs {
		fn(ctx, c)
	}
}
