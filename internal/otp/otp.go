// Package otp issues one-time codes for password resets.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	codeLength  = 6
	maxAttempts = 5
	resendAfter = time.Minute
)

var (
	ErrInvalidCode     = errors.New("invalid one-time code")
	ErrExpired         = errors.New("one-time code expired")
	ErrThrottled       = errors.New("a code was sent recently, wait before requesting another")
	ErrTooManyAttempts = errors.New("too many wrong codes, request a new one")
	ErrDeliveryFailed  = errors.New("could not deliver one-time code")
)

// Mailer delivers a message to an email address.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

var codePattern = regexp.MustCompile(fmt.Sprintf(`\b\d{%d}\b`, codeLength))

// LogMailer writes messages to the process log instead of sending them.
// Codes in the body are masked unless RevealCodes is set.
type LogMailer struct {
	RevealCodes bool
}

func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	if !m.RevealCodes {
		body = codePattern.ReplaceAllString(body, strings.Repeat("*", codeLength))
	}
	log.Printf("mail to %s: %s: %s", to, subject, body)
	return nil
}

type entry struct {
	code      string
	issuedAt  time.Time
	expiresAt time.Time
	attempts  int
}

// Service keeps outstanding codes in memory, keyed by email.
type Service struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	mailer  Mailer
	now     func() time.Time
}

// NewService creates an OTP service whose codes live for ttl.
func NewService(ttl time.Duration, mailer Mailer) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Service{
		entries: make(map[string]*entry),
		ttl:     ttl,
		mailer:  mailer,
		now:     time.Now,
	}
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Request generates a code for email and mails it.
func (s *Service) Request(ctx context.Context, email string) error {
	k := key(email)
	now := s.now()

	s.mu.Lock()
	if existing, ok := s.entries[k]; ok && now.Sub(existing.issuedAt) < resendAfter {
		s.mu.Unlock()
		return ErrThrottled
	}
	code, err := generateCode(codeLength)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("generate code: %w", err)
	}
	e := &entry{code: code, issuedAt: now, expiresAt: now.Add(s.ttl)}
	s.entries[k] = e
	s.mu.Unlock()

	body := fmt.Sprintf("Your password reset code is %s. It expires in %d minutes.", code, int(s.ttl.Minutes()))
	if err := s.mailer.Send(ctx, k, "Laundry password reset", body); err != nil {
		s.mu.Lock()
		if s.entries[k] == e {
			delete(s.entries, k)
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// Verify checks code for email. A correct code is consumed.
func (s *Service) Verify(email, code string) error {
	k := key(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		return ErrInvalidCode
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, k)
		return ErrExpired
	}
	if e.attempts >= maxAttempts {
		delete(s.entries, k)
		return ErrTooManyAttempts
	}
	e.attempts++
	if subtle.ConstantTimeCompare([]byte(e.code), []byte(strings.TrimSpace(code))) != 1 {
		return ErrInvalidCode
	}
	delete(s.entries, k)
	return nil
}

// Sweep drops expired codes and returns how many were dropped.
func (s *Service) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Schedule registers the periodic sweep on c.
func (s *Service) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if n := s.Sweep(); n > 0 {
			log.Printf("otp sweep removed %d expired codes", n)
		}
	})
}

func generateCode(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
