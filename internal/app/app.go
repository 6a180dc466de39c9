// Package app wires the configured services into a runnable server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"laundry-booking-backend/config"
	"laundry-booking-backend/internal/api"
	"laundry-booking-backend/internal/assets"
	"laundry-booking-backend/internal/auth"
	"laundry-booking-backend/internal/csrf"
	"laundry-booking-backend/internal/db"
	"laundry-booking-backend/internal/metrics"
	"laundry-booking-backend/internal/notification"
	"laundry-booking-backend/internal/orders"
	"laundry-booking-backend/internal/otp"
	"laundry-booking-backend/internal/session"
	"laundry-booking-backend/internal/store"
)

// App is a fully wired server.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Store    store.Store
	Accounts *auth.Accounts
	Orders   *orders.Service
	Guard    *csrf.Guard
	OTP      *otp.Service
	Workers  *notification.WorkerPool
	Handler  http.Handler

	cron *cron.Cron
}

type options struct {
	mailer otp.Mailer
	sender notification.NotificationSender
}

// Option customizes collaborators that talk to the outside world.
type Option func(*options)

// WithMailer replaces the mailer used for one-time codes.
func WithMailer(m otp.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// WithPushSender replaces the web push transport.
func WithPushSender(s notification.NotificationSender) Option {
	return func(o *options) { o.sender = s }
}

// New builds the application from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{mailer: otp.LogMailer{RevealCodes: cfg.Auth.OTPLogCodes}}
	if cfg.Auth.OTPLogCodes {
		log.Println("auth.otp_log_codes is set; password reset codes are written to the log")
	}
	for _, opt := range opts {
		opt(&o)
	}

	entities, gormDB, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	guard := csrf.NewGuard(cfg.Auth.CSRFTTL)
	resolver := newResolver(cfg, guard)
	accounts := auth.NewAccounts(entities, cfg.Auth.BcryptCost)
	gateway := auth.NewGateway(auth.GatewayConfig{
		Resolver:       resolver,
		Accounts:       accounts,
		Guard:          guard,
		CSRFExempt:     api.CSRFExemptRoutes,
		IdentityRoutes: api.IdentityRoutes,
	})

	var push *webpush.Options
	if cfg.Push.Enabled() {
		push = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		log.Println("VAPID keys are not configured; push notifications are disabled")
	}

	var notifier orders.Notifier
	var workers *notification.WorkerPool
	if push != nil {
		workers = notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, entities, push)
		if o.sender != nil {
			workers.WithSender(o.sender)
		}
		notifier = workers
	}
	orderService := orders.NewService(entities, notifier)

	uploader, staticRoot, err := newUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	otpService := otp.NewService(cfg.Auth.OTPTTL, o.mailer)
	h := api.NewHandler(api.Deps{
		Accounts:   accounts,
		Gateway:    gateway,
		External:   auth.NewJWTVerifier(cfg.Auth.External.Secret, cfg.Auth.External.Issuer, cfg.Auth.External.Audience),
		Orders:     orderService,
		OTP:        otpService,
		Uploader:   uploader,
		DB:         gormDB,
		WebPush:    push,
		BoardCache: cache.New(time.Duration(cfg.Server.CacheTTLSeconds)*time.Second, time.Minute),
		MaxUpload:  cfg.Assets.MaxUploadB,
	})

	// Expired OTP codes are swept on the CSRF schedule.
	sched := cron.New()
	if _, err := guard.Schedule(sched, cfg.Auth.CSRFSweepSpec); err != nil {
		return nil, fmt.Errorf("schedule csrf sweep: %w", err)
	}
	if _, err := otpService.Schedule(sched, cfg.Auth.CSRFSweepSpec); err != nil {
		return nil, fmt.Errorf("schedule otp sweep: %w", err)
	}

	return &App{
		Config:   cfg,
		DB:       gormDB,
		Store:    entities,
		Accounts: accounts,
		Orders:   orderService,
		Guard:    guard,
		OTP:      otpService,
		Workers:  workers,
		Handler:  api.NewRouter(h, cfg, staticRoot),
		cron:     sched,
	}, nil
}

// OpenStore connects the database and opens the entity store on the
// configured backend. The database always holds push subscriptions, and
// holds the entity collections too when store.driver is "database".
func OpenStore(ctx context.Context, cfg *config.Config) (*store.EntityStore, *gorm.DB, error) {
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	backend, err := newBackend(cfg, gormDB)
	if err != nil {
		return nil, nil, err
	}
	entities := store.New(backend, store.WithCorruptionHook(func(c store.Collection) {
		metrics.StorageCorruptions.WithLabelValues(string(c)).Inc()
	}))
	if err := entities.Bootstrap(ctx); err != nil {
		return nil, nil, err
	}
	return entities, gormDB, nil
}

func newBackend(cfg *config.Config, gormDB *gorm.DB) (store.Backend, error) {
	if cfg.Store.Driver == config.StoreDriverDatabase {
		return store.NewGormBackend(gormDB), nil
	}
	return store.NewFileBackend(cfg.Store.Dir)
}

func newResolver(cfg *config.Config, guard *csrf.Guard) auth.Resolver {
	if cfg.Auth.Mode == config.AuthModeBearer {
		return auth.NewBearerResolver(session.NewTokenStore(cfg.Auth.SessionTTL))
	}
	sessions := session.NewStore(cfg.Auth.SessionTTL, func(s session.Session) {
		guard.Revoke(s.CSRFToken)
	})
	return auth.NewCookieResolver(sessions, guard, cfg.Auth.CookieName, cfg.Auth.CookieSecure, cfg.Auth.SessionTTL)
}

// newUploader returns the photo uploader and, for local storage, the
// directory the router serves.
func newUploader(ctx context.Context, cfg *config.Config) (assets.Uploader, string, error) {
	if cfg.Assets.Driver == config.AssetDriverS3 {
		u, err := assets.NewS3Uploader(ctx, cfg.Assets.S3)
		if err != nil {
			return nil, "", err
		}
		return u, "", nil
	}
	u, err := assets.NewLocalUploader(cfg.Assets.LocalDir, cfg.Assets.BaseURL)
	if err != nil {
		return nil, "", err
	}
	return u, u.Root(), nil
}

// Start launches the notification workers and the sweep schedule. They stop
// when ctx is done or Close is called.
func (a *App) Start(ctx context.Context) {
	if a.Workers != nil {
		a.Workers.Start(ctx)
	}
	a.cron.Start()
}

// Close stops scheduled jobs and releases the database.
func (a *App) Close() error {
	<-a.cron.Stop().Done()
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
