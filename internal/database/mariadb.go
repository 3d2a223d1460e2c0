// Package database opens the gateway's MariaDB pool and Redis client and
// applies schema migrations. Connections are created once in cmd/server and
// handed to the plugins.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/naturerisk/internal/config"
)

// MariaDB usually starts slower than the gateway under compose, so the first
// ping is retried with doubling delays up to this many times.
const (
	pingAttempts   = 10
	maxPingBackoff = 30 * time.Second
)

// NewMariaDB opens the identity store pool and waits until it answers or
// ctx is done.
func NewMariaDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitForPing(ctx, db.PingContext, time.Second); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// waitForPing calls ping until it succeeds, pingAttempts is spent or ctx
// ends. The delay starts at backoff and doubles, capped at maxPingBackoff.
func waitForPing(ctx context.Context, ping func(context.Context) error, backoff time.Duration) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = ping(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == pingAttempts {
			return fmt.Errorf("mariadb unreachable after %d attempts: %w", attempt, lastErr)
		}

		slog.Warn("waiting for mariadb",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", backoff),
			slog.Any("error", lastErr),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for mariadb: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxPingBackoff)
	}
}
