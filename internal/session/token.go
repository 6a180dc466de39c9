package session

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// TokenStore maps bearer credentials to user ids.
type TokenStore struct {
	items *cache.Cache
	ttl   time.Duration
}

// NewTokenStore creates a bearer token store with a fixed TTL.
func NewTokenStore(ttl time.Duration) *TokenStore {
	return &TokenStore{items: cache.New(ttl, cleanupInterval(ttl)), ttl: ttl}
}

// Issue creates a credential for userID.
func (s *TokenStore) Issue(userID string) (string, error) {
	token, err := NewID()
	if err != nil {
		return "", err
	}
	if err := s.items.Add(token, userID, s.ttl); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Resolve returns the user id behind token.
func (s *TokenStore) Resolve(token string) (string, error) {
	if token == "" {
		return "", ErrNotFound
	}
	v, ok := s.items.Get(token)
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

// Revoke invalidates token.
func (s *TokenStore) Revoke(token string) {
	s.items.Delete(token)
}
