package session

import (
	"sync"

	"github.com/google/uuid"
)

// Identity is the signed-in user as reported by the identity provider.
type Identity struct {
	UserID      uuid.UUID
	DisplayName string
}

// Listener receives the new identity on every change; nil means signed out.
type Listener func(*Identity)

type subscription struct {
	id uint64
	fn Listener
}

// Tracker publishes identity changes to subscribers. Each change bumps a
// generation counter so callers can detect that the identity moved under them.
type Tracker struct {
	mu         sync.Mutex
	current    *Identity
	generation uint64
	nextID     uint64
	subs       []subscription
	closed     bool
}

// NewTracker returns a tracker with no identity.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Subscribe registers fn and returns a func that removes it. The unsubscribe
// func is safe to call more than once.
func (t *Tracker) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return func() {}
	}
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(id) })
	}
}

func (t *Tracker) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subs {
		if sub.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// SignIn records identity as current and notifies subscribers.
func (t *Tracker) SignIn(identity Identity) {
	id := identity
	t.publish(&id)
}

// SignOut clears the current identity and notifies subscribers.
func (t *Tracker) SignOut() {
	t.publish(nil)
}

func (t *Tracker) publish(identity *Identity) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.current = identity
	t.generation++
	subs := make([]subscription, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.fn(cloneIdentity(identity))
	}
}

// Current returns a copy of the signed-in identity.
func (t *Tracker) Current() (*Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil, false
	}
	return cloneIdentity(t.current), true
}

// Generation returns the number of identity changes observed so far.
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Snapshot returns the identity and generation read under one lock.
func (t *Tracker) Snapshot() (*Identity, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneIdentity(t.current), t.generation
}

// Close drops every subscriber. Later SignIn and SignOut calls are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = nil
}

func cloneIdentity(identity *Identity) *Identity {
	if identity == nil {
		return nil
	}
	c := *identity
	return &c
}
