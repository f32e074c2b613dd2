package cart

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/bookshop-backend/internal/session"
	"github.com/angelmondragon/bookshop-backend/pkg/logger"
	"github.com/google/uuid"
)

// Sessions owns one tracker and synchronizer per signed-in user for the HTTP
// surface. Every device of a user shares the same entry.
type Sessions struct {
	store Store
	opts  []Option
	logg  *logger.Logger
	now   func() time.Time

	mu      sync.Mutex
	entries map[uuid.UUID]*sessionEntry
}

type sessionEntry struct {
	tracker  *session.Tracker
	sync     *Synchronizer
	ready    sync.Once
	lastUsed time.Time
}

// NewSessions builds a registry. opts are applied to every synchronizer it creates.
func NewSessions(store Store, logg *logger.Logger, opts ...Option) *Sessions {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Sessions{
		store:   store,
		opts:    append([]Option{WithLogger(logg)}, opts...),
		logg:    logg,
		now:     time.Now,
		entries: make(map[uuid.UUID]*sessionEntry),
	}
}

// Open returns the synchronizer for identity, signing it in and loading the
// cart the first time the user is seen.
func (s *Sessions) Open(ctx context.Context, identity session.Identity) *Synchronizer {
	s.mu.Lock()
	entry, ok := s.entries[identity.UserID]
	if !ok {
		tracker := session.NewTracker()
		entry = &sessionEntry{
			tracker: tracker,
			sync:    NewSynchronizer(s.store, tracker, s.opts...),
		}
		s.entries[identity.UserID] = entry
	}
	entry.lastUsed = s.now()
	s.mu.Unlock()

	entry.ready.Do(func() {
		base := s.logg.WithUserID(context.Background(), identity.UserID.String())
		entry.sync.Start(base)
		entry.tracker.SignIn(identity)
		s.logg.Info(s.logg.WithUserID(ctx, identity.UserID.String()), "cart session opened")
	})
	return entry.sync
}

// Get returns the synchronizer for userID when a session is open.
func (s *Sessions) Get(userID uuid.UUID) (*Synchronizer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[userID]
	if !ok {
		return nil, false
	}
	entry.lastUsed = s.now()
	return entry.sync, true
}

// Close signs userID out and discards its view. Operations still in flight
// finish against the store but no longer touch the view.
func (s *Sessions) Close(ctx context.Context, userID uuid.UUID) {
	s.mu.Lock()
	entry, ok := s.entries[userID]
	delete(s.entries, userID)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.closeEntry(entry)
	s.logg.Info(s.logg.WithUserID(ctx, userID.String()), "cart session closed")
}

// EvictIdle closes sessions unused for longer than maxIdle and reports how many went.
func (s *Sessions) EvictIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	var stale []*sessionEntry

	s.mu.Lock()
	for userID, entry := range s.entries {
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, entry)
			delete(s.entries, userID)
		}
	}
	s.mu.Unlock()

	for _, entry := range stale {
		s.closeEntry(entry)
	}
	return len(stale)
}

// CloseAll closes every open session.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[uuid.UUID]*sessionEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		s.closeEntry(entry)
	}
}

// Len reports the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Sessions) closeEntry(entry *sessionEntry) {
	entry.ready.Do(func() {})
	entry.tracker.SignOut()
	entry.sync.Stop()
	entry.tracker.Close()
}

// SignedIn opens the user's cart session after a login or token refresh.
func (s *Sessions) SignedIn(ctx context.Context, identity session.Identity) {
	s.Open(ctx, identity)
}

// SignedOut closes the user's cart session on logout.
func (s *Sessions) SignedOut(ctx context.Context, userID uuid.UUID) {
	s.Close(ctx, userID)
}
