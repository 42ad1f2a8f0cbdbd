// Package config loads authd settings from the environment and an optional
// .env file.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/notify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config is the full service configuration.
type Config struct {
	Auth authcore.Config

	HTTPAddr        string
	ShutdownTimeout time.Duration
	// RateLimitPerMinute throttles login, password recovery and 2FA routes per IP.
	RateLimitPerMinute int
	// TrustProxyHeaders takes client IPs from X-Forwarded-For or X-Real-IP.
	// Set it only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	DBDriver    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	SMTP notify.SMTPConfig

	LogFormat string
}

// UseRedis reports whether sessions, refresh tokens and one-time codes live
// in Redis instead of SQL.
func (c Config) UseRedis() bool {
	return c.RedisAddr != ""
}

func (c Config) UseSMTP() bool {
	return c.SMTP.Host != ""
}

// Load reads the environment after merging .env when present. A missing .env
// is logged and ignored.
func Load(logger *zap.Logger) (Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no .env file, using process environment")
		} else {
			logger.Warn(".env not loaded", zap.Error(err))
		}
	}

	cfg := Config{
		Auth:               authcore.DefaultConfig(),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:    getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		RateLimitPerMinute: getInt("RATE_LIMIT_RPM", 30),
		TrustProxyHeaders:  getBool("TRUST_PROXY_HEADERS", false),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getInt("REDIS_DB", 0),
		RedisPrefix:        getEnv("REDIS_PREFIX", "authcore"),
		SMTP: notify.SMTPConfig{
			Host:        os.Getenv("SMTP_HOST"),
			Port:        getEnv("SMTP_PORT", "587"),
			Username:    os.Getenv("SMTP_USERNAME"),
			Password:    os.Getenv("SMTP_PASSWORD"),
			From:        os.Getenv("SMTP_FROM"),
			ResetURL:    os.Getenv("PASSWORD_RESET_URL"),
			ImplicitTLS: getBool("SMTP_IMPLICIT_TLS", false),
			AppName:     getEnv("APP_NAME", "authcore"),
		},
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}

	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return Config{}, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.DBDriver)
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	if err := loadAuth(&cfg.Auth); err != nil {
		return Config{}, err
	}
	if err := cfg.Auth.Validate(); err != nil {
		return Config{}, fmt.Errorf("auth config: %w", err)
	}
	return cfg, nil
}

func loadAuth(a *authcore.Config) error {
	switch {
	case os.Getenv("JWT_ED25519_SEED") != "":
		seed, err := base64.StdEncoding.DecodeString(os.Getenv("JWT_ED25519_SEED"))
		if err != nil || len(seed) != ed25519.SeedSize {
			return errors.New("JWT_ED25519_SEED must be a base64 32-byte seed")
		}
		priv := ed25519.NewKeyFromSeed(seed)
		a.JWT.SigningMethod = "ed25519"
		a.JWT.PrivateKey = seed
		a.JWT.PublicKey = []byte(priv.Public().(ed25519.PublicKey))
	case os.Getenv("JWT_SECRET") != "":
		a.JWT.SigningMethod = "hs256"
		a.JWT.PrivateKey = []byte(os.Getenv("JWT_SECRET"))
	default:
		return errors.New("JWT_SECRET or JWT_ED25519_SEED is required")
	}

	a.JWT.Issuer = getEnv("JWT_ISSUER", a.JWT.Issuer)
	a.JWT.Audience = getEnv("JWT_AUDIENCE", a.JWT.Audience)
	a.JWT.KeyID = os.Getenv("JWT_KEY_ID")
	a.JWT.AccessTTL = getDuration("ACCESS_TOKEN_TTL", a.JWT.AccessTTL)

	a.Session.DefaultTTL = getDuration("SESSION_TTL", a.Session.DefaultTTL)
	a.Session.RememberMeTTL = getDuration("SESSION_REMEMBER_TTL", a.Session.RememberMeTTL)
	a.Refresh.DefaultTTL = getDuration("REFRESH_TOKEN_TTL", a.Refresh.DefaultTTL)
	a.Refresh.RememberMeTTL = getDuration("REFRESH_REMEMBER_TTL", a.Refresh.RememberMeTTL)

	a.TwoFactor.CodeTTL = getDuration("TWO_FACTOR_CODE_TTL", a.TwoFactor.CodeTTL)
	a.TwoFactor.MaxAttempts = getInt("TWO_FACTOR_MAX_ATTEMPTS", a.TwoFactor.MaxAttempts)
	a.TwoFactor.RequireCodeToDisable = getBool("TWO_FACTOR_REQUIRE_CODE_TO_DISABLE", a.TwoFactor.RequireCodeToDisable)
	a.PasswordReset.TokenTTL = getDuration("PASSWORD_RESET_TTL", a.PasswordReset.TokenTTL)
	a.Password.MinLength = getInt("PASSWORD_MIN_LENGTH", a.Password.MinLength)
	a.Login.RequireEmailVerification = getBool("REQUIRE_EMAIL_VERIFICATION", a.Login.RequireEmailVerification)
	a.Notification.Timeout = getDuration("NOTIFICATION_TIMEOUT", a.Notification.Timeout)
	a.Metrics.Enabled = getBool("METRICS_ENABLED", a.Metrics.Enabled)
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
