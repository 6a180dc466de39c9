package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"laundry-booking-backend/internal/assets"
	"laundry-booking-backend/internal/auth"
	"laundry-booking-backend/internal/orders"
	"laundry-booking-backend/internal/otp"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	accounts   *auth.Accounts
	gateway    *auth.Gateway
	external   *auth.JWTVerifier
	orders     *orders.Service
	otp        *otp.Service
	uploader   assets.Uploader
	db         *gorm.DB
	webpush    *webpush.Options
	boardCache *cache.Cache
	maxUpload  int64
}

// Deps are the services the handlers call into.
type Deps struct {
	Accounts   *auth.Accounts
	Gateway    *auth.Gateway
	External   *auth.JWTVerifier
	Orders     *orders.Service
	OTP        *otp.Service
	Uploader   assets.Uploader
	DB         *gorm.DB
	WebPush    *webpush.Options
	BoardCache *cache.Cache
	MaxUpload  int64
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.BoardCache == nil {
		d.BoardCache = cache.New(cache.NoExpiration, 0)
	}
	if d.MaxUpload <= 0 {
		d.MaxUpload = 5 << 20
	}
	return &Handler{
		accounts:   d.Accounts,
		gateway:    d.Gateway,
		external:   d.External,
		orders:     d.Orders,
		otp:        d.OTP,
		uploader:   d.Uploader,
		db:         d.DB,
		webpush:    d.WebPush,
		boardCache: d.BoardCache,
		maxUpload:  d.MaxUpload,
	}
}
