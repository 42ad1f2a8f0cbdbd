package authcore

import (
	"errors"
	"time"
)

// Config holds engine policy. Build a value from DefaultConfig and override fields.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Refresh       RefreshConfig
	TwoFactor     TwoFactorConfig
	PasswordReset PasswordResetConfig
	Password      PasswordConfig
	Login         LoginConfig
	Notification  NotificationConfig
	Ledger        LedgerConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access and temp token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	TempTokenTTL  time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	// PrivateKey is an ed25519 seed, raw key or PEM, or the hs256 secret.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	KeyID      string
}

/*
====================================
SESSION AND REFRESH CONFIG
====================================
*/

type SessionConfig struct {
	DefaultTTL    time.Duration
	RememberMeTTL time.Duration
}

type RefreshConfig struct {
	DefaultTTL    time.Duration
	RememberMeTTL time.Duration
}

/*
====================================
ONE-TIME CREDENTIAL CONFIG
====================================
*/

type TwoFactorConfig struct {
	CodeTTL    time.Duration
	CodeDigits int
	// MaxAttempts is how many wrong codes a pending challenge tolerates
	// before it is deleted.
	MaxAttempts int
	// RequireCodeToDisable makes Disable2FA demand a code from Request2FADisable.
	RequireCodeToDisable bool
}

type PasswordResetConfig struct {
	TokenTTL time.Duration
}

/*
====================================
PASSWORD AND LOGIN CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters and the minimum length policy.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

type LoginConfig struct {
	RequireEmailVerification bool
}

/*
====================================
SIDE CHANNEL CONFIG
====================================
*/

type NotificationConfig struct {
	// Timeout bounds every gateway call.
	Timeout time.Duration
}

// LedgerConfig configures the async login-attempt writer.
type LedgerConfig struct {
	BufferSize int
	DropIfFull bool
	// WriteTimeout bounds a single ledger append.
	WriteTimeout time.Duration
}

type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns production defaults. JWT keys must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			TempTokenTTL:  10 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			DefaultTTL:    time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
		},
		Refresh: RefreshConfig{
			DefaultTTL:    7 * 24 * time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			CodeTTL:     10 * time.Minute,
			CodeDigits:  6,
			MaxAttempts: 5,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: 60 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		Notification: NotificationConfig{
			Timeout: 5 * time.Second,
		},
		Ledger: LedgerConfig{
			BufferSize:   1024,
			DropIfFull:   true,
			WriteTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.TempTokenTTL <= 0 {
		return errors.New("JWT TempTokenTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Session / refresh
	if c.Session.DefaultTTL <= 0 || c.Session.RememberMeTTL <= 0 {
		return errors.New("Session TTLs must be > 0")
	}
	if c.Session.RememberMeTTL < c.Session.DefaultTTL {
		return errors.New("Session RememberMeTTL must be >= DefaultTTL")
	}
	if c.Refresh.DefaultTTL <= 0 || c.Refresh.RememberMeTTL <= 0 {
		return errors.New("Refresh TTLs must be > 0")
	}

	// One-time credentials
	if c.TwoFactor.CodeTTL <= 0 {
		return errors.New("TwoFactor CodeTTL must be > 0")
	}
	if c.TwoFactor.CodeDigits < 6 || c.TwoFactor.CodeDigits > 10 {
		return errors.New("TwoFactor CodeDigits must be between 6 and 10")
	}
	if c.TwoFactor.MaxAttempts < 1 {
		return errors.New("TwoFactor MaxAttempts must be >= 1")
	}
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}

	// Password
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}

	// Side channels
	if c.Notification.Timeout <= 0 {
		return errors.New("Notification Timeout must be > 0")
	}
	if c.Ledger.BufferSize <= 0 {
		return errors.New("Ledger BufferSize must be > 0")
	}
	if c.Ledger.WriteTimeout <= 0 {
		return errors.New("Ledger WriteTimeout must be > 0")
	}

	return nil
}
