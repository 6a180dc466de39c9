package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"laundry-booking-backend/config"
	"laundry-booking-backend/internal/metrics"
	"laundry-booking-backend/internal/model"
	"laundry-booking-backend/internal/mw"
)

// CSRFExemptRoutes are unsafe routes that either precede token issuance or
// are covered by the session credential alone.
var CSRFExemptRoutes = []string{
	"POST /api/auth/register",
	"POST /api/auth/login",
	"POST /api/auth/external",
	"POST /api/auth/logout",
	"POST /api/auth/otp/request",
	"POST /api/auth/otp/verify",
	"PUT /api/profile",
}

// IdentityRoutes answer 401 without asking the client to drop credentials.
var IdentityRoutes = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/external",
	"/api/auth/me",
	"/api/csrf-token",
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg *config.Config, staticRoot string) *gin.Engine {
	r := gin.Default()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		log.Printf("invalid trusted_proxies, trusting none: %v", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", metrics.Handler())
	if staticRoot != "" {
		r.Static(cfg.Assets.BaseURL, staticRoot)
	}

	gw := h.gateway
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	authLimiter := mw.AuthRateLimiter(cfg.Server.AuthRateLimitPerMin)
	caching := mw.Cache(h.boardCache, time.Duration(cfg.Server.CacheTTLSeconds)*time.Second)

	api := r.Group("/api")
	api.Use(rateLimiter, gw.Authenticate())
	{
		api.GET("/board", caching, h.Board)
		api.GET("/csrf-token", gw.CSRFToken)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		identity := api.Group("/auth")
		identity.POST("/register", authLimiter, h.Register)
		identity.POST("/login", authLimiter, h.Login)
		identity.POST("/external", authLimiter, h.ExternalLogin)
		identity.POST("/logout", h.Logout)
		identity.POST("/otp/request", authLimiter, h.RequestOTP)
		identity.POST("/otp/verify", authLimiter, h.VerifyOTP)
		identity.GET("/me", gw.RequireAuth(), h.Me)

		user := api.Group("", gw.RequireAuth(), gw.CSRF())
		user.PUT("/profile", h.UpdateProfile)
		user.POST("/profile/password", h.ChangePassword)
		user.POST("/profile/photo", h.UploadPhoto)
		user.GET("/orders", h.ListOrders)
		user.GET("/orders/:id", h.GetOrder)
		user.PUT("/orders/:id/items", h.UpdateOrderItems)
		user.GET("/orders/:id/history", h.OrderHistory)
		user.GET("/subscriptions", h.GetSubscription)
		user.PUT("/subscriptions", h.PutSubscription)
		user.DELETE("/subscriptions", h.DeleteSubscription)

		student := api.Group("", gw.RequireRole(model.RoleStudent), gw.CSRF())
		student.POST("/orders", h.CreateOrder)

		staff := api.Group("", gw.RequireStaff(), gw.CSRF())
		staff.DELETE("/orders/:id", h.DeleteOrder)
		staff.POST("/orders/:id/advance", h.AdvanceOrder)
	}

	return r
}
