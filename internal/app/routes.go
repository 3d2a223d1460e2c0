package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/naturerisk/internal/plugins/audit"
	"github.com/keyxmakerx/naturerisk/internal/plugins/auth"
	"github.com/keyxmakerx/naturerisk/internal/plugins/predict"
)

// healthTimeout bounds each dependency ping in /healthz.
const healthTimeout = 2 * time.Second

// RegisterRoutes builds every plugin from the shared infrastructure and
// mounts its routes. This is the single place where plugins are wired.
func (a *App) RegisterRoutes() {
	e := a.Echo
	cfg := a.Config

	e.GET("/healthz", a.health)

	// --- audit plugin ---
	auditSvc := audit.NewAuditService(audit.NewEventRepository(a.DB))

	// --- auth plugin ---
	tokens := auth.NewTokenIssuer([]byte(cfg.Auth.SecretKey))
	authSvc := auth.NewAuthService(auth.NewUserRepository(a.DB), tokens, auth.Options{
		TokenTTL:         cfg.Auth.TokenTTL,
		VerifiedTokenTTL: cfg.Auth.VerifiedTokenTTL,
		TOTPIssuer:       cfg.Auth.TOTPIssuer,
		TOTPSkew:         cfg.Auth.TOTPSkew,
		LoginLimiter:     a.attemptLimiter(auth.LoginFailPrefix, cfg.Auth.MaxLoginAttempts),
		TOTPLimiter:      a.attemptLimiter(auth.TOTPFailPrefix, cfg.Auth.MaxTOTPAttempts),
		Events:           auditSvc,
	})
	auth.RegisterRoutes(e, auth.NewHandler(authSvc), cfg.IsDevelopment())

	// --- audit routes (2fa scope) ---
	audit.RegisterRoutes(e, audit.NewHandler(auditSvc), authSvc)

	// --- predict plugin (2fa scope) ---
	scorer := predict.NewHTTPScorer(cfg.Predictor.URL, cfg.Predictor.Timeout)
	predict.RegisterRoutes(e, predict.NewHandler(predict.NewPredictService(scorer)), authSvc)
}

// attemptLimiter returns a Redis-backed limiter, or a no-op one when Redis
// is not configured.
func (a *App) attemptLimiter(prefix string, max int) auth.AttemptLimiter {
	if a.Redis == nil {
		return auth.NewRedisLimiter(nil, prefix, max, a.Config.Auth.AttemptWindow)
	}
	return auth.NewRedisLimiter(a.Redis, prefix, max, a.Config.Auth.AttemptWindow)
}

// health reports whether MariaDB and Redis answer a ping (GET /healthz).
func (a *App) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	checks := map[string]string{
		"database": "ok",
		"redis":    "ok",
	}
	status := http.StatusOK

	if a.DB == nil {
		checks["database"] = "not connected"
		status = http.StatusServiceUnavailable
	} else if err := a.DB.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	if a.Redis == nil {
		checks["redis"] = "not connected"
		status = http.StatusServiceUnavailable
	} else if err := a.Redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	state := "ok"
	if status != http.StatusOK {
		state = "unavailable"
	}
	return c.JSON(status, map[string]any{"status": state, "checks": checks})
}
