package auth

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"laundry-booking-backend/internal/csrf"
	"laundry-booking-backend/internal/metrics"
	"laundry-booking-backend/internal/model"
)

// CSRFHeader carries the anti-forgery token on unsafe requests.
const CSRFHeader = "X-CSRF-Token"

// csrfField is the body field accepted when the header is absent.
const csrfField = "_csrf"

// maxCSRFBodyPeek bounds how much of a JSON body is read to find csrfField.
const maxCSRFBodyPeek = 1 << 20

// Gateway resolves principals and enforces route policy.
type Gateway struct {
	resolver Resolver
	accounts *Accounts
	guard    *csrf.Guard
	exempt   map[string]bool
	identity map[string]bool
}

// GatewayConfig wires a Gateway.
type GatewayConfig struct {
	Resolver Resolver
	Accounts *Accounts
	Guard    *csrf.Guard
	// CSRFExempt lists unsafe routes as "METHOD /registered/path".
	CSRFExempt []string
	// IdentityRoutes lists registered paths whose 401 must not tell the
	// client to drop its credentials.
	IdentityRoutes []string
}

// NewGateway creates a gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	g := &Gateway{
		resolver: cfg.Resolver,
		accounts: cfg.Accounts,
		guard:    cfg.Guard,
		exempt:   make(map[string]bool, len(cfg.CSRFExempt)),
		identity: make(map[string]bool, len(cfg.IdentityRoutes)),
	}
	for _, r := range cfg.CSRFExempt {
		g.exempt[r] = true
	}
	for _, p := range cfg.IdentityRoutes {
		g.identity[p] = true
	}
	return g
}

// Resolver returns the resolver for the configured auth mode.
func (g *Gateway) Resolver() Resolver {
	return g.resolver
}

// Authenticate resolves the principal, if any, and never rejects. A stale
// credential is torn down so the client stops sending it.
func (g *Gateway) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := g.resolver.Resolve(c)
		switch {
		case errors.Is(err, ErrNoCredential):
			c.Next()
			return
		case err != nil:
			g.resolver.End(c)
			c.Next()
			return
		}

		u, err := g.accounts.Get(c.Request.Context(), cred.UserID)
		if err != nil || u.Disabled {
			log.Printf("dropping credential for unusable user %s: %v", cred.UserID, err)
			g.resolver.End(c)
			c.Next()
			return
		}
		c.Set(principalKey, PrincipalOf(u))
		c.Set(credentialKey, cred)
		c.Next()
	}
}

// Unauthorized aborts with 401. Identity routes answer with
// clear_credentials false so clients do not loop back to the login page.
func (g *Gateway) Unauthorized(c *gin.Context, message string) {
	metrics.AccessDenied.WithLabelValues("unauthorized").Inc()
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             message,
		"code":              "unauthorized",
		"clear_credentials": !g.identity[c.FullPath()],
	})
}

// RequireAuth rejects anonymous callers.
func (g *Gateway) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := PrincipalFrom(c); !ok {
			g.Unauthorized(c, ErrUnauthorized.Error())
			return
		}
		c.Next()
	}
}

// RequireRole rejects anonymous callers with 401 and callers holding none
// of roles with 403.
func (g *Gateway) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			g.Unauthorized(c, ErrUnauthorized.Error())
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		log.Printf("forbidden: user %s with role %q on %s %s", p.ID, p.Role, c.Request.Method, c.FullPath())
		metrics.AccessDenied.WithLabelValues("forbidden").Inc()
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error(), "code": "forbidden"})
	}
}

// RequireStaff allows laundry and admin roles.
func (g *Gateway) RequireStaff() gin.HandlerFunc {
	return g.RequireRole(model.RoleLaundry, model.RoleAdmin)
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// CSRF validates the anti-forgery token on unsafe requests. It passes safe
// methods, exempt routes and modes without ambient credentials.
func (g *Gateway) CSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.resolver.UsesCSRF() || safeMethod(c.Request.Method) || g.exempt[c.Request.Method+" "+c.FullPath()] {
			c.Next()
			return
		}

		presented := presentedToken(c)
		cred, _ := credentialFrom(c)
		var reason string
		var err error
		switch {
		case presented == "":
			reason, err = "missing", csrf.ErrInvalid
		case cred.CSRFToken == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(cred.CSRFToken)) != 1:
			reason, err = "mismatch", csrf.ErrInvalid
		default:
			// Bound tokens are only dropped from the guard by expiry, either
			// evicted on an earlier check or swept, so any rejection here
			// means expired.
			if g.guard.Check(presented) != nil {
				reason, err = "expired", csrf.ErrExpired
			}
		}
		if err == nil {
			c.Next()
			return
		}

		metrics.CSRFRejections.WithLabelValues(reason).Inc()
		code := "csrf_invalid"
		if errors.Is(err, csrf.ErrExpired) {
			code = "csrf_expired"
			log.Printf("csrf expired: %s %s from %s", c.Request.Method, c.FullPath(), c.ClientIP())
		} else {
			log.Printf("csrf invalid (%s): %s %s from %s", reason, c.Request.Method, c.FullPath(), c.ClientIP())
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": code})
	}
}

// presentedToken reads the header, falling back to the _csrf body field of
// form or JSON bodies. A JSON body is restored for the handler.
func presentedToken(c *gin.Context) string {
	if t := c.GetHeader(CSRFHeader); t != "" {
		return t
	}
	ct := c.ContentType()
	if ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		return c.PostForm(csrfField)
	}
	if ct != "application/json" || c.Request.Body == nil {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCSRFBodyPeek))
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), c.Request.Body))
	if err != nil {
		return ""
	}
	var probe map[string]json.RawMessage
	if json.Unmarshal(body, &probe) != nil {
		return ""
	}
	var token string
	if raw, ok := probe[csrfField]; ok && json.Unmarshal(raw, &token) == nil {
		return strings.TrimSpace(token)
	}
	return ""
}

// Login establishes a credential for u and writes the login response.
func (g *Gateway) Login(c *gin.Context, u model.User, status int) {
	extra, err := g.resolver.Establish(c, u.ID)
	if err != nil {
		log.Printf("failed to establish session for user %s: %v", u.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start session", "code": "internal"})
		return
	}
	body := gin.H{"user": u.Response()}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

// Logout tears down the request's credential. It succeeds with or without
// one, and regardless of the CSRF token presented.
func (g *Gateway) Logout(c *gin.Context) {
	g.resolver.End(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// CSRFToken serves the session-bound token.
func (g *Gateway) CSRFToken(c *gin.Context) {
	cr, ok := g.resolver.(*CookieResolver)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"csrf_token": "", "csrf_required": false})
		return
	}
	cred, ok := credentialFrom(c)
	if !ok {
		g.Unauthorized(c, "log in to obtain a csrf token")
		return
	}
	token, err := cr.CSRFToken(cred)
	if err != nil {
		log.Printf("failed to refresh csrf token: %v", err)
		g.Unauthorized(c, ErrUnauthorized.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"csrf_token": token, "csrf_required": true})
}
