// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL of the gateway.
	BaseURL string

	// LogLevel overrides the environment default: "debug", "info", "warn", "error".
	LogLevel string

	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string

	// TrustedProxies lists CIDRs whose X-Real-IP and X-Forwarded-For
	// headers are believed when resolving the client IP.
	TrustedProxies []string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication-related settings.
	Auth AuthConfig

	// Predictor holds the drought scoring service settings.
	Predictor PredictorConfig
}

// DatabaseConfig holds MariaDB connection parameters. If DATABASE_URL is
// set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// MigrationsPath is the directory holding golang-migrate SQL files.
	MigrationsPath string
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() to safely handle special
// characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.MultiStatements = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SecretKey signs session tokens (HS256). Must be 32+ bytes in production.
	SecretKey string

	// TokenTTL is the validity window of a password-stage token.
	TokenTTL time.Duration

	// VerifiedTokenTTL is the validity window of a token issued after
	// successful TOTP verification.
	VerifiedTokenTTL time.Duration

	// TOTPIssuer is the issuer label shown by authenticator apps.
	TOTPIssuer string

	// TOTPSkew is the number of 30-second steps accepted on either side of now.
	TOTPSkew uint

	// MaxLoginAttempts is the number of failed logins per email allowed
	// inside AttemptWindow before login is refused.
	MaxLoginAttempts int

	// MaxTOTPAttempts is the number of failed TOTP codes per identity allowed
	// inside AttemptWindow before verification is refused.
	MaxTOTPAttempts int

	// AttemptWindow is the lifetime of a failed-attempt counter.
	AttemptWindow time.Duration
}

// PredictorConfig holds settings for the external drought scoring service.
type PredictorConfig struct {
	// URL is the base URL of the scoring service; "/predict" is appended.
	URL string

	// Timeout bounds each scoring request.
	Timeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{
		Env:         getEnv("ENV", "development"),
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:    getEnv("LOG_LEVEL", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),

		TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{
			"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fd00::/8",
		}),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "naturerisk"),
			Password:        getEnv("DB_PASSWORD", "naturerisk"),
			Name:            getEnv("DB_NAME", "naturerisk"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath:  getEnv("MIGRATIONS_PATH", "db/migrations"),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SecretKey:        getEnv("SECRET_KEY", ""),
			TokenTTL:         getEnvDuration("AUTH_TOKEN_TTL", 24*time.Hour),
			VerifiedTokenTTL: getEnvDuration("AUTH_VERIFIED_TTL", 24*time.Hour),
			TOTPIssuer:       getEnv("TOTP_ISSUER", "Nature Risk"),
			TOTPSkew:         uint(getEnvInt("TOTP_SKEW", 1)),
			MaxLoginAttempts: getEnvInt("AUTH_MAX_LOGIN_ATTEMPTS", 10),
			MaxTOTPAttempts:  getEnvInt("AUTH_MAX_TOTP_ATTEMPTS", 5),
			AttemptWindow:    getEnvDuration("AUTH_ATTEMPT_WINDOW", 15*time.Minute),
		},

		Predictor: PredictorConfig{
			URL:     getEnv("PREDICTOR_URL", "http://127.0.0.1:5001"),
			Timeout: getEnvDuration("PREDICTOR_TIMEOUT", 10*time.Second),
		},
	}

	// Only development may run without a signing key. Any other ENV value
	// (staging, a typo of "production") must bring its own: the fallback
	// below is published in this repository, and anyone holding it can mint
	// a 2fa-scope token.
	if !cfg.IsDevelopment() {
		if cfg.Auth.SecretKey == "" {
			return nil, fmt.Errorf("SECRET_KEY is required when ENV=%q", cfg.Env)
		}
		if len(cfg.Auth.SecretKey) < 32 {
			return nil, fmt.Errorf("SECRET_KEY must be at least 32 characters when ENV=%q", cfg.Env)
		}
	}

	if cfg.Auth.TokenTTL <= 0 || cfg.Auth.VerifiedTokenTTL <= 0 {
		return nil, fmt.Errorf("AUTH_TOKEN_TTL and AUTH_VERIFIED_TTL must be positive")
	}

	// Dev-only default so local runs work without an env file.
	if cfg.IsDevelopment() && cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = "dev-secret-key-do-not-use-in-production!!"
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "24h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var, dropping empty items.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
