// Package session maps client-held opaque identifiers to users.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// IDLength is the number of random bytes in a session id or bearer token.
const IDLength = 32

var ErrNotFound = errors.New("session not found")

// Session is the server side of a cookie session.
type Session struct {
	ID        string
	UserID    string
	CSRFToken string
	CreatedAt time.Time
}

// NewID returns a random hex identifier.
func NewID() (string, error) {
	b := make([]byte, IDLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Store keeps cookie sessions in memory with a fixed TTL.
type Store struct {
	items *cache.Cache
	ttl   time.Duration
}

// NewStore creates a session store. onEnd, if set, is called with every
// session that is destroyed or expires.
func NewStore(ttl time.Duration, onEnd func(Session)) *Store {
	items := cache.New(ttl, cleanupInterval(ttl))
	if onEnd != nil {
		items.OnEvicted(func(_ string, v interface{}) {
			onEnd(v.(Session))
		})
	}
	return &Store{items: items, ttl: ttl}
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < 10*time.Minute {
		return ttl
	}
	return 10 * time.Minute
}

// Create starts a session for userID bound to csrfToken.
func (s *Store) Create(userID, csrfToken string) (Session, error) {
	id, err := NewID()
	if err != nil {
		return Session{}, err
	}
	sess := Session{ID: id, UserID: userID, CSRFToken: csrfToken, CreatedAt: time.Now().UTC()}
	if err := s.items.Add(id, sess, s.ttl); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

// Get returns a live session.
func (s *Store) Get(id string) (Session, error) {
	if id == "" {
		return Session{}, ErrNotFound
	}
	v, ok := s.items.Get(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	return v.(Session), nil
}

// Rebind replaces the CSRF token bound to a session without changing its
// expiry.
func (s *Store) Rebind(id, csrfToken string) (Session, error) {
	v, expiry, ok := s.items.GetWithExpiration(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	sess := v.(Session)
	sess.CSRFToken = csrfToken
	remaining := time.Until(expiry)
	if expiry.IsZero() {
		remaining = cache.NoExpiration
	} else if remaining <= 0 {
		return Session{}, ErrNotFound
	}
	if err := s.items.Replace(id, sess, remaining); err != nil {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// Destroy ends a session. Destroying an unknown session is not an error.
func (s *Store) Destroy(id string) {
	if id == "" {
		return
	}
	s.items.Delete(id)
}

// Len returns the number of sessions held, including expired ones not yet
// cleaned up.
func (s *Store) Len() int {
	return s.items.ItemCount()
}
