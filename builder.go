package authcore

import (
	"errors"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Every store is injected explicitly; a Builder
// can be used once.
type Builder struct {
	config Config

	credentials   CredentialStore
	sessions      SessionStore
	refreshTokens RefreshTokenStore
	oneTime       OneTimeCredentialStore
	cascade       CascadeRevoker
	ledger        LoginAttemptLedger
	notifier      NotificationGateway
	issuer        TokenIssuer

	logger *zap.Logger
	now    func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithCredentialStore(s CredentialStore) *Builder {
	b.credentials = s
	return b
}

func (b *Builder) WithSessionStore(s SessionStore) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithRefreshTokenStore(s RefreshTokenStore) *Builder {
	b.refreshTokens = s
	return b
}

func (b *Builder) WithOneTimeStore(s OneTimeCredentialStore) *Builder {
	b.oneTime = s
	return b
}

// WithCascadeRevoker lets password flows revoke sessions and refresh tokens in
// one unit of work. Without it they are revoked in sequence.
func (b *Builder) WithCascadeRevoker(c CascadeRevoker) *Builder {
	b.cascade = c
	return b
}

// WithLoginAttemptLedger enables async login-attempt recording.
func (b *Builder) WithLoginAttemptLedger(l LoginAttemptLedger) *Builder {
	b.ledger = l
	return b
}

func (b *Builder) WithNotificationGateway(g NotificationGateway) *Builder {
	b.notifier = g
	return b
}

// WithTokenIssuer overrides the jwt.Manager built from Config.JWT.
func (b *Builder) WithTokenIssuer(i TokenIssuer) *Builder {
	b.issuer = i
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces time.Now for every expiry decision, token issuance included.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates configuration and dependencies and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case b.credentials == nil:
		return nil, errors.New("credential store required")
	case b.sessions == nil:
		return nil, errors.New("session store required")
	case b.refreshTokens == nil:
		return nil, errors.New("refresh token store required")
	case b.oneTime == nil:
		return nil, errors.New("one-time credential store required")
	case b.notifier == nil:
		return nil, errors.New("notification gateway required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("authcore")

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}

	issuer := b.issuer
	if issuer == nil {
		jm, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			TempTTL:       cfg.JWT.TempTokenTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
			Issuer:        cfg.JWT.Issuer,
			Audience:      cfg.JWT.Audience,
			Leeway:        cfg.JWT.Leeway,
			KeyID:         cfg.JWT.KeyID,
			Now:           now,
		})
		if err != nil {
			return nil, err
		}
		issuer = jm
	}

	engine := &Engine{
		config:        cfg,
		credentials:   b.credentials,
		sessions:      b.sessions,
		refreshTokens: b.refreshTokens,
		cascade:       b.cascade,
		notifier:      b.notifier,
		issuer:        issuer,
		hasher:        ph,
		metrics:       NewMetrics(cfg.Metrics),
		logger:        logger,
		tracer:        otel.Tracer("github.com/MrEthical07/authcore"),
		now:           now,
	}
	engine.twoFactorCodes = newOneTimeIssuer(TwoFactorPolicy(cfg.TwoFactor.CodeDigits, cfg.TwoFactor.CodeTTL, cfg.TwoFactor.MaxAttempts), b.oneTime, now)
	engine.resetTokens = newOneTimeIssuer(PasswordResetPolicy(cfg.PasswordReset.TokenTTL), b.oneTime, now)
	engine.ledger = newLedgerDispatcher(cfg.Ledger, b.ledger, logger)

	b.built = true

	return engine, nil
}
