// Package sessionstore persists portal sessions keyed by the portal-session
// cookie so they can be hydrated after a restart or on another replica.
package sessionstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/in-nis/school-portal/internal/auth"
)

var ErrNotFound = errors.New("sessionstore: session not found")

type Store interface {
	Get(ctx context.Context, id string) (auth.AuthSession, error)
	Put(ctx context.Context, id string, s auth.AuthSession) error
	Delete(ctx context.Context, id string) error
}

// For binds one session id to a Store, giving the resolver its view.
func For(store Store, id string) auth.SessionStore {
	return &bound{store: store, id: id}
}

type bound struct {
	store Store
	id    string
}

func (b *bound) Load(ctx context.Context) (auth.AuthSession, bool, error) {
	s, err := b.store.Get(ctx, b.id)
	if errors.Is(err, ErrNotFound) {
		return auth.Anonymous(), false, nil
	}
	if err != nil {
		return auth.Anonymous(), false, err
	}
	return s, true, nil
}

func (b *bound) Save(ctx context.Context, s auth.AuthSession) error {
	return b.store.Put(ctx, b.id, s)
}

func (b *bound) Clear(ctx context.Context) error {
	return b.store.Delete(ctx, b.id)
}

type memoryEntry struct {
	session   auth.AuthSession
	expiresAt time.Time
}

// Memory keeps sessions in process. Entries expire after ttl.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, entries: map[string]memoryEntry{}}
}

func (m *Memory) Get(_ context.Context, id string) (auth.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return auth.AuthSession{}, ErrNotFound
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, id)
		return auth.AuthSession{}, ErrNotFound
	}
	return cloneSession(e.session), nil
}

func (m *Memory) Put(_ context.Context, id string, s auth.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{session: cloneSession(s)}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.entries[id] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Purge drops expired entries and reports how many were removed.
func (m *Memory) Purge(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

func cloneSession(s auth.AuthSession) auth.AuthSession {
	if s.User == nil {
		return s
	}
	u := *s.User
	if u.School != nil {
		school := *u.School
		u.School = &school
	}
	s.User = &u
	return s
}
