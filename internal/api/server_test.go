package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"laundry-booking-backend/config"
	"laundry-booking-backend/internal/assets"
	"laundry-booking-backend/internal/auth"
	"laundry-booking-backend/internal/csrf"
	"laundry-booking-backend/internal/db"
	"laundry-booking-backend/internal/model"
	"laundry-booking-backend/internal/orders"
	"laundry-booking-backend/internal/otp"
	"laundry-booking-backend/internal/session"
	"laundry-booking-backend/internal/store"
)

const externalSecret = "test-external-secret"

type inboxMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

var sixDigits = regexp.MustCompile(`\d{6}`)

func (m *inboxMailer) Send(_ context.Context, to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[to] = sixDigits.FindString(body)
	return nil
}

func (m *inboxMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

type notifications struct {
	mu  sync.Mutex
	ids []string
}

func (n *notifications) Dispatch(orderID string) {
	n.mu.Lock()
	n.ids = append(n.ids, orderID)
	n.mu.Unlock()
}

type testServer struct {
	router   *gin.Engine
	accounts *auth.Accounts
	db       *gorm.DB
	mailer   *inboxMailer
	notified *notifications
	uploads  string
}

type testServerOption func(*Deps)

func withoutVAPID() testServerOption {
	return func(d *Deps) { d.WebPush = nil }
}

func newTestServer(t *testing.T, opts ...testServerOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	entities := store.New(backend)
	require.NoError(t, entities.Bootstrap(context.Background()))

	gormDB, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	cfg := config.Default()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Server.AuthRateLimitPerMin = 1000

	accounts := auth.NewAccounts(entities, bcrypt.MinCost)
	guard := csrf.NewGuard(cfg.Auth.CSRFTTL)
	sessions := session.NewStore(cfg.Auth.SessionTTL, func(s session.Session) { guard.Revoke(s.CSRFToken) })
	gw := auth.NewGateway(auth.GatewayConfig{
		Resolver:       auth.NewCookieResolver(sessions, guard, cfg.Auth.CookieName, false, cfg.Auth.SessionTTL),
		Accounts:       accounts,
		Guard:          guard,
		CSRFExempt:     CSRFExemptRoutes,
		IdentityRoutes: IdentityRoutes,
	})

	uploads := t.TempDir()
	uploader, err := assets.NewLocalUploader(uploads, cfg.Assets.BaseURL)
	require.NoError(t, err)

	mailer := &inboxMailer{codes: map[string]string{}}
	notified := &notifications{}
	deps := Deps{
		Accounts:   accounts,
		Gateway:    gw,
		External:   auth.NewJWTVerifier(externalSecret, "campus-sso", "laundry"),
		Orders:     orders.NewService(entities, notified),
		OTP:        otp.NewService(5*time.Minute, mailer),
		Uploader:   uploader,
		DB:         gormDB,
		WebPush:    &webpush.Options{VAPIDPublicKey: "test-public-key"},
		BoardCache: cache.New(time.Minute, time.Minute),
		MaxUpload:  1 << 20,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &testServer{
		router:   NewRouter(NewHandler(deps), cfg, uploads),
		accounts: accounts,
		db:       gormDB,
		mailer:   mailer,
		notified: notified,
		uploads:  uploads,
	}
}

// client carries one browser's cookie and CSRF token between requests.
type client struct {
	s      *testServer
	cookie *http.Cookie
	csrf   string
}

func (s *testServer) anonymous() *client {
	return &client{s: s}
}

func (s *testServer) createUser(t *testing.T, email string, role model.Role) {
	t.Helper()
	_, err := s.accounts.CreateStaff(context.Background(), auth.Registration{Email: email, Password: "password1", Name: email}, role)
	require.NoError(t, err)
}

func (s *testServer) login(t *testing.T, email string) *client {
	t.Helper()
	c := s.anonymous()
	rec := c.do(http.MethodPost, "/api/auth/login", gin.H{"email": email, "password": "password1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c.absorb(t, rec)
	return c
}

func (c *client) absorb(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	c.csrf = body.CSRFToken
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == config.Default().Auth.CookieName {
			c.cookie = ck
		}
	}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	return c.send(req)
}

func (c *client) send(req *http.Request) *httptest.ResponseRecorder {
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	if c.csrf != "" {
		req.Header.Set(auth.CSRFHeader, c.csrf)
	}
	rec := httptest.NewRecorder()
	c.s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]any](t, rec)["code"].(string)
}
