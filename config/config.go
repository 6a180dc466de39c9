package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Auth modes.
const (
	AuthModeCookie = "cookie"
	AuthModeBearer = "bearer"
)

// Store drivers.
const (
	StoreDriverFile     = "file"
	StoreDriverDatabase = "database"
)

// Asset drivers.
const (
	AssetDriverLocal = "local"
	AssetDriverS3    = "s3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Store      StoreConfig      `yaml:"store"`
	Database   DatabaseConfig   `yaml:"database"`
	Assets     AssetsConfig     `yaml:"assets"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether push notifications can be sent.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                int      `yaml:"port"`
	RateLimitPerSec     float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst      int      `yaml:"rate_limit_burst"`
	AuthRateLimitPerMin int      `yaml:"auth_rate_limit_per_min"`
	CacheTTLSeconds     int      `yaml:"cache_ttl_seconds"`
	TrustedProxies      []string `yaml:"trusted_proxies"`
}

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	Mode              string         `yaml:"mode"`
	CookieName        string         `yaml:"cookie_name"`
	CookieSecure      bool           `yaml:"cookie_secure"`
	SessionTTLMinutes int            `yaml:"session_ttl_minutes"`
	SessionTTL        time.Duration  `yaml:"-"`
	CSRFTTLHours      int            `yaml:"csrf_ttl_hours"`
	CSRFTTL           time.Duration  `yaml:"-"`
	CSRFSweepSpec     string         `yaml:"csrf_sweep_spec"`
	OTPTTLMinutes     int            `yaml:"otp_ttl_minutes"`
	OTPTTL            time.Duration  `yaml:"-"`
	OTPLogCodes       bool           `yaml:"otp_log_codes"`
	BcryptCost        int            `yaml:"bcrypt_cost"`
	External          ExternalConfig `yaml:"external"`
}

// ExternalConfig describes the external identity provider whose signed tokens
// are exchanged for a local session.
type ExternalConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// StoreConfig selects where entity collections are persisted.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// AssetsConfig configures where uploaded profile photos go.
type AssetsConfig struct {
	Driver     string   `yaml:"driver"`
	LocalDir   string   `yaml:"local_dir"`
	BaseURL    string   `yaml:"base_url"`
	MaxUploadB int64    `yaml:"max_upload_bytes"`
	S3         S3Config `yaml:"s3"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Key       string `yaml:"key"`
	Secret    string `yaml:"secret"`
	PublicURL string `yaml:"public_url"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, as if loaded
// from an empty file.
func Default() *Config {
	var cfg Config
	// The zero config passes validation: enums are unset and the default TTLs
	// keep tokens shorter-lived than sessions.
	_ = cfg.applyDefaults()
	return &cfg
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"LAUNDRY_EXTERNAL_SECRET":   &cfg.Auth.External.Secret,
		"LAUNDRY_S3_KEY":            &cfg.Assets.S3.Key,
		"LAUNDRY_S3_SECRET":         &cfg.Assets.S3.Secret,
		"LAUNDRY_VAPID_PUBLIC_KEY":  &cfg.Push.PublicKey,
		"LAUNDRY_VAPID_PRIVATE_KEY": &cfg.Push.PrivateKey,
		"LAUNDRY_DATABASE_DSN":      &cfg.Database.DSN,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.AuthRateLimitPerMin <= 0 {
		cfg.Server.AuthRateLimitPerMin = 10
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	switch cfg.Auth.Mode {
	case "":
		cfg.Auth.Mode = AuthModeCookie
	case AuthModeCookie, AuthModeBearer:
	default:
		return fmt.Errorf("invalid auth.mode %q (must be %q or %q)", cfg.Auth.Mode, AuthModeCookie, AuthModeBearer)
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "laundry_session"
	}
	if cfg.Auth.SessionTTLMinutes <= 0 {
		cfg.Auth.SessionTTLMinutes = 7 * 24 * 60
	}
	cfg.Auth.SessionTTL = time.Duration(cfg.Auth.SessionTTLMinutes) * time.Minute
	if cfg.Auth.CSRFTTLHours <= 0 {
		cfg.Auth.CSRFTTLHours = 24
	}
	cfg.Auth.CSRFTTL = time.Duration(cfg.Auth.CSRFTTLHours) * time.Hour
	// A token must expire while its session is still alive, or clients only
	// ever see unauthorized and never csrf_expired.
	if cfg.Auth.CSRFTTL >= cfg.Auth.SessionTTL {
		return fmt.Errorf("auth.csrf_ttl_hours (%s) must be shorter than auth.session_ttl_minutes (%s)", cfg.Auth.CSRFTTL, cfg.Auth.SessionTTL)
	}
	if cfg.Auth.CSRFSweepSpec == "" {
		cfg.Auth.CSRFSweepSpec = "@every 1h"
	}
	if cfg.Auth.OTPTTLMinutes <= 0 {
		cfg.Auth.OTPTTLMinutes = 5
	}
	cfg.Auth.OTPTTL = time.Duration(cfg.Auth.OTPTTLMinutes) * time.Minute
	if cfg.Auth.BcryptCost <= 0 {
		cfg.Auth.BcryptCost = 12
	}

	switch cfg.Store.Driver {
	case "":
		cfg.Store.Driver = StoreDriverFile
	case StoreDriverFile, StoreDriverDatabase:
	default:
		return fmt.Errorf("invalid store.driver %q", cfg.Store.Driver)
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "./data"
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "laundry.db"
	}

	switch cfg.Assets.Driver {
	case "":
		cfg.Assets.Driver = AssetDriverLocal
	case AssetDriverLocal, AssetDriverS3:
	default:
		return fmt.Errorf("invalid assets.driver %q", cfg.Assets.Driver)
	}
	if cfg.Assets.LocalDir == "" {
		cfg.Assets.LocalDir = "./uploads"
	}
	if cfg.Assets.BaseURL == "" {
		cfg.Assets.BaseURL = "/uploads"
	}
	if cfg.Assets.MaxUploadB <= 0 {
		cfg.Assets.MaxUploadB = 5 << 20
	}
	if cfg.Assets.S3.Region == "" {
		cfg.Assets.S3.Region = "us-east-1"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	return nil
}
