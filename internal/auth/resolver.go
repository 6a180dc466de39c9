package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"laundry-booking-backend/internal/csrf"
	"laundry-booking-backend/internal/session"
)

// ErrNoCredential means the request carried no credential at all.
var ErrNoCredential = errors.New("no credential presented")

// Credential is what a resolver found on a request.
type Credential struct {
	UserID string
	// SessionID and CSRFToken are set in cookie mode.
	SessionID string
	CSRFToken string
	// Token is the bearer credential in bearer mode.
	Token string
}

// Resolver identifies callers for one authentication mode.
type Resolver interface {
	// Resolve returns ErrNoCredential when nothing was presented and
	// ErrUnauthorized when a presented credential is unknown or expired.
	Resolve(c *gin.Context) (Credential, error)
	// Establish starts an authenticated context for userID and returns the
	// fields to add to the login response.
	Establish(c *gin.Context, userID string) (gin.H, error)
	// End tears down whatever credential the request carries. It never fails.
	End(c *gin.Context)
	// UsesCSRF reports whether unsafe requests need an anti-forgery token.
	UsesCSRF() bool
}

// CookieResolver keeps sessions server side and hands the client an opaque
// cookie.
type CookieResolver struct {
	sessions *session.Store
	guard    *csrf.Guard
	name     string
	secure   bool
	ttl      time.Duration
}

// NewCookieResolver creates the cookie-session resolver.
func NewCookieResolver(sessions *session.Store, guard *csrf.Guard, cookieName string, secure bool, ttl time.Duration) *CookieResolver {
	return &CookieResolver{sessions: sessions, guard: guard, name: cookieName, secure: secure, ttl: ttl}
}

func (r *CookieResolver) Resolve(c *gin.Context) (Credential, error) {
	sid, err := c.Cookie(r.name)
	if err != nil || sid == "" {
		return Credential{}, ErrNoCredential
	}
	sess, err := r.sessions.Get(sid)
	if err != nil {
		return Credential{}, ErrUnauthorized
	}
	return Credential{UserID: sess.UserID, SessionID: sess.ID, CSRFToken: sess.CSRFToken}, nil
}

// Establish rotates any session the request already holds, so a cookie
// never maps to more than one live session.
func (r *CookieResolver) Establish(c *gin.Context, userID string) (gin.H, error) {
	if sid, err := c.Cookie(r.name); err == nil && sid != "" {
		r.sessions.Destroy(sid)
	}
	token, err := r.guard.Issue()
	if err != nil {
		return nil, err
	}
	sess, err := r.sessions.Create(userID, token)
	if err != nil {
		r.guard.Revoke(token)
		return nil, err
	}
	r.setCookie(c, sess.ID, int(r.ttl.Seconds()))
	return gin.H{"csrf_token": token}, nil
}

func (r *CookieResolver) End(c *gin.Context) {
	if sid, err := c.Cookie(r.name); err == nil && sid != "" {
		r.sessions.Destroy(sid)
	}
	r.setCookie(c, "", -1)
}

func (r *CookieResolver) UsesCSRF() bool { return true }

// CSRFToken returns the token bound to the request's session, issuing and
// binding a fresh one when the bound token has expired.
func (r *CookieResolver) CSRFToken(cred Credential) (string, error) {
	if r.guard.Validate(cred.CSRFToken) {
		return cred.CSRFToken, nil
	}
	token, err := r.guard.Issue()
	if err != nil {
		return "", err
	}
	if _, err := r.sessions.Rebind(cred.SessionID, token); err != nil {
		r.guard.Revoke(token)
		return "", err
	}
	return token, nil
}

func (r *CookieResolver) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(r.name, value, maxAge, "/", "", r.secure, true)
}

// BearerResolver resolves callers by an Authorization header credential.
type BearerResolver struct {
	tokens *session.TokenStore
}

// NewBearerResolver creates the bearer-token resolver.
func NewBearerResolver(tokens *session.TokenStore) *BearerResolver {
	return &BearerResolver{tokens: tokens}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func (r *BearerResolver) Resolve(c *gin.Context) (Credential, error) {
	token := bearerToken(c)
	if token == "" {
		return Credential{}, ErrNoCredential
	}
	uid, err := r.tokens.Resolve(token)
	if err != nil {
		return Credential{}, ErrUnauthorized
	}
	return Credential{UserID: uid, Token: token}, nil
}

func (r *BearerResolver) Establish(_ *gin.Context, userID string) (gin.H, error) {
	token, err := r.tokens.Issue(userID)
	if err != nil {
		return nil, err
	}
	return gin.H{"token": token}, nil
}

func (r *BearerResolver) End(c *gin.Context) {
	if token := bearerToken(c); token != "" {
		r.tokens.Revoke(token)
	}
}

func (r *BearerResolver) UsesCSRF() bool { return false }
