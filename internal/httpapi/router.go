package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
	authmw "github.com/MrEthical07/authcore/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Options configures NewRouter.
type Options struct {
	Logger *zap.Logger
	// SensitivePerMinute is the per-IP budget for login, password recovery and
	// two-factor routes. Zero disables throttling.
	SensitivePerMinute int
	// Metrics, when set, is mounted at GET /metrics.
	Metrics        http.Handler
	RequestTimeout time.Duration
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable it only behind a proxy that overwrites them, since
	// the rate limiter keys on that address.
	TrustProxyHeaders bool
}

func NewRouter(engine *authcore.Engine, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	h := &handler{engine: engine, logger: logger.Named("http")}
	limit := NewRateLimiter(opts.SensitivePerMinute, time.Now).Middleware
	guard := authmw.RequireAccess(engine)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(authmw.ClientMeta)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
		r.Post("/password/reset", h.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/login", h.login)
			r.Post("/password/forgot", h.forgotPassword)
			r.Post("/2fa/complete", h.complete2FA)
			r.Post("/2fa/resend", h.resend2FA)
		})

		r.Group(func(r chi.Router) {
			r.Use(guard)
			r.Get("/me", h.me)
			r.Get("/sessions", h.sessions)
			r.Post("/password/change", h.changePassword)
			r.Post("/2fa/enable", h.enable2FA)

			r.With(limit).Post("/2fa/enroll", h.enroll2FA)
			r.With(limit).Post("/2fa/confirm", h.confirm2FA)
			r.With(limit).Post("/2fa/disable/request", h.request2FADisable)
			r.With(limit).Post("/2fa/disable", h.disable2FA)
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
