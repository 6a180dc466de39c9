// Package csrf issues and validates anti-forgery tokens.
package csrf

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"laundry-booking-backend/internal/metrics"
)

var (
	ErrInvalid = errors.New("csrf token missing or unknown")
	ErrExpired = errors.New("csrf token expired")
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 24 * time.Hour

const tokenBytes = 32

// Guard owns the token -> expiry map. The zero value is not usable; use
// NewGuard.
type Guard struct {
	mu     sync.RWMutex
	tokens map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a guard whose tokens live for ttl (DefaultTTL if ttl <= 0).
func NewGuard(ttl time.Duration, opts ...GuardOption) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &Guard{
		tokens: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Issue creates and records a new random token.
func (g *Guard) Issue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := hex.EncodeToString(b)

	g.mu.Lock()
	g.tokens[token] = g.now().Add(g.ttl)
	g.mu.Unlock()
	return token, nil
}

// Validate reports whether token is known and not yet expired.
func (g *Guard) Validate(token string) bool {
	return g.Check(token) == nil
}

// Check is Validate with the reason for a rejection. An expired token is
// evicted as a side effect.
func (g *Guard) Check(token string) error {
	if token == "" {
		return ErrInvalid
	}
	g.mu.RLock()
	expiry, ok := g.tokens[token]
	g.mu.RUnlock()
	if !ok {
		return ErrInvalid
	}
	if g.now().After(expiry) {
		g.mu.Lock()
		if e, still := g.tokens[token]; still && e.Equal(expiry) {
			delete(g.tokens, token)
		}
		g.mu.Unlock()
		return ErrExpired
	}
	return nil
}

// Revoke forgets token. Unknown tokens are ignored.
func (g *Guard) Revoke(token string) {
	g.mu.Lock()
	delete(g.tokens, token)
	g.mu.Unlock()
}

// Sweep removes every expired token and returns how many were removed.
// The scan holds only the read lock; the write lock is taken once for the
// deletions.
func (g *Guard) Sweep() int {
	now := g.now()

	g.mu.RLock()
	var expired []string
	for token, expiry := range g.tokens {
		if now.After(expiry) {
			expired = append(expired, token)
		}
	}
	g.mu.RUnlock()
	if len(expired) == 0 {
		return 0
	}

	removed := 0
	g.mu.Lock()
	for _, token := range expired {
		if expiry, ok := g.tokens[token]; ok && now.After(expiry) {
			delete(g.tokens, token)
			removed++
		}
	}
	g.mu.Unlock()
	return removed
}

// Len returns the number of tracked tokens, expired or not.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tokens)
}

// Schedule registers the periodic sweep on c using a cron spec such as
// "@every 1h".
func (g *Guard) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if n := g.Sweep(); n > 0 {
			metrics.CSRFSwept.Add(float64(n))
			log.Printf("csrf sweep removed %d expired tokens", n)
		}
	})
}
