// Command authd serves the authcore engine over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/config"
	"github.com/MrEthical07/authcore/internal/httpapi"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/redisstore"
	"github.com/MrEthical07/authcore/sqlstore"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

const purgeInterval = time.Hour

func main() {
	logger, err := newLogger(os.Getenv("LOG_FORMAT"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("authd stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, logger *zap.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	dialect := sqlstore.Dialect(cfg.DBDriver)
	if err := sqlstore.Migrate(db, dialect, logger); err != nil {
		return err
	}
	sqlStores := sqlstore.New(db, dialect)

	builder := authcore.New().
		WithConfig(cfg.Auth).
		WithLogger(logger).
		WithCredentialStore(sqlStores.Credentials()).
		WithLoginAttemptLedger(sqlStores.Ledger())

	if cfg.UseRedis() {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		rs := redisstore.New(rdb, redisstore.Options{Prefix: cfg.RedisPrefix})
		builder.
			WithSessionStore(rs.Sessions()).
			WithRefreshTokenStore(rs.RefreshTokens()).
			WithOneTimeStore(rs.OneTime()).
			WithCascadeRevoker(rs)
		logger.Info("using redis for sessions and tokens", zap.String("addr", cfg.RedisAddr))
	} else {
		builder.
			WithSessionStore(sqlStores.Sessions()).
			WithRefreshTokenStore(sqlStores.RefreshTokens()).
			WithOneTimeStore(sqlStores.OneTime()).
			WithCascadeRevoker(sqlStores)
	}

	if cfg.UseSMTP() {
		gw, err := notify.NewSMTPGateway(cfg.SMTP)
		if err != nil {
			return err
		}
		builder.WithNotificationGateway(gw)
	} else {
		logger.Warn("SMTP_HOST not set; codes and reset tokens are written to the log")
		builder.WithNotificationGateway(notify.NewLogGateway(logger))
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	var metricsHandler http.Handler
	if cfg.Auth.Metrics.Enabled {
		metricsHandler = promexport.NewExporter(engine).Handler()
		// reports through whatever global MeterProvider the deployment installs
		exp, err := otelexport.NewExporter(otel.GetMeterProvider().Meter("authcore"), engine)
		if err != nil {
			return fmt.Errorf("otel exporter: %w", err)
		}
		defer exp.Close()
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(engine, httpapi.Options{
			Logger:             logger,
			SensitivePerMinute: cfg.RateLimitPerMinute,
			TrustProxyHeaders:  cfg.TrustProxyHeaders,
			Metrics:            metricsHandler,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if !cfg.UseRedis() {
		g.Go(func() error {
			purgeLoop(gctx, sqlStores, logger)
			return nil
		})
	}

	return g.Wait()
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}
	if cfg.DBDriver == string(sqlstore.SQLite) {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.DBDriver, err)
	}
	return db, nil
}

// purgeLoop deletes expired SQL rows. Redis expires its own keys.
func purgeLoop(ctx context.Context, stores *sqlstore.Store, logger *zap.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// keep a day of expired refresh rows so replays are still recognized
			cutoff := now.Add(-24 * time.Hour)
			sessions, err1 := stores.Sessions().PurgeExpired(ctx, cutoff)
			tokens, err2 := stores.RefreshTokens().PurgeExpired(ctx, cutoff)
			codes, err3 := stores.OneTime().PurgeExpired(ctx, now)
			if err := errors.Join(err1, err2, err3); err != nil {
				logger.Warn("purge failed", zap.Error(err))
				continue
			}
			logger.Debug("purged expired rows",
				zap.Int64("sessions", sessions),
				zap.Int64("refresh_tokens", tokens),
				zap.Int64("one_time", codes),
			)
		}
	}
}
