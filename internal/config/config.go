// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development, and an
// optional .env file in the working directory is honoured.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// ErrInvalid marks configuration that was read but cannot be used. The CLI
// maps it to its own exit code.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links in mails.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// GrantsFile is the YAML file describing global per-group grants.
	// Empty means no global grants.
	GrantsFile string

	// MigrationsPath is the directory holding the SQL migrations.
	MigrationsPath string

	// TrustedProxies are the CIDRs whose forwarding headers are believed.
	TrustedProxies []string

	// CORSOrigins may call the JSON API cross-origin with credentials.
	CORSOrigins []string

	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Locks         LockConfig
	Notifications NotificationConfig
	Mail          MailConfig
	Search        SearchConfig
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
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() so special characters in
// passwords survive.
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
	cfg.Loc = time.UTC
	// Migrations ship multi-statement files.
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
	SecretKey  string
	SessionTTL time.Duration
}

// LockConfig holds editorial lock settings.
type LockConfig struct {
	// TTL is how long a lock stays active without being refreshed.
	TTL time.Duration

	// SweepInterval is how often the server expires stale locks. Zero
	// disables the in-process sweeper (use `qcatctl sweep-locks` instead).
	SweepInterval time.Duration
}

// NotificationConfig holds inbox and dispatch settings.
type NotificationConfig struct {
	// UnreadCacheTTL bounds how stale a cached unread count may get.
	UnreadCacheTTL time.Duration

	// DoSendStaffOnly restricts outgoing mail to staff users. Used on
	// staging systems with production data.
	DoSendStaffOnly bool

	// UnsubscribeSalt signs the tokens in unsubscribe links. Rotating it
	// invalidates every link already sent.
	UnsubscribeSalt string

	// DispatchBatch caps how many unprocessed logs one drain looks at.
	DispatchBatch int
}

// MailConfig holds the outbound SMTP transport settings.
type MailConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Encryption  string // "starttls", "ssl", or "none".
	FromAddress string
	FromName    string
}

// SearchConfig points at the external search index.
type SearchConfig struct {
	// URL is the base URL of the index service. Empty disables indexing.
	URL     string
	Timeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error wrapping ErrInvalid if required variables are missing or
// malformed.
func Load() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		GrantsFile:     getEnv("GRANTS_FILE", ""),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
		TrustedProxies: getEnvList("TRUSTED_PROXIES", "127.0.0.1/8,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,::1/128,fd00::/8"),
		CORSOrigins:    getEnvList("CORS_ORIGINS", ""),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "qcat"),
			Password:        getEnv("DB_PASSWORD", "qcat"),
			Name:            getEnv("DB_NAME", "qcat"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SecretKey:  getEnv("SECRET_KEY", ""),
			SessionTTL: getEnvDuration("SESSION_TTL", 720*time.Hour),
		},

		Locks: LockConfig{
			TTL:           getEnvDuration("LOCK_TTL", 15*time.Minute),
			SweepInterval: getEnvDuration("LOCK_SWEEP_INTERVAL", time.Minute),
		},

		Notifications: NotificationConfig{
			UnreadCacheTTL:  getEnvDuration("UNREAD_CACHE_TTL", 30*time.Second),
			DoSendStaffOnly: getEnvBool("DO_SEND_STAFF_ONLY", false),
			UnsubscribeSalt: getEnv("UNSUBSCRIBE_SALT", ""),
			DispatchBatch:   getEnvInt("DISPATCH_BATCH", 500),
		},

		Mail: MailConfig{
			Host:        getEnv("SMTP_HOST", ""),
			Port:        getEnvInt("SMTP_PORT", 587),
			Username:    getEnv("SMTP_USERNAME", ""),
			Password:    getEnv("SMTP_PASSWORD", ""),
			Encryption:  getEnv("SMTP_ENCRYPTION", "starttls"),
			FromAddress: getEnv("MAIL_FROM", "noreply@localhost"),
			FromName:    getEnv("MAIL_FROM_NAME", "QCAT"),
		},

		Search: SearchConfig{
			URL:     strings.TrimRight(getEnv("SEARCH_URL", ""), "/"),
			Timeout: getEnvDuration("SEARCH_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Provide dev-only defaults so local dev works without .env.
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = "dev-secret-key-do-not-use-in-production!!"
	}
	if cfg.Notifications.UnsubscribeSalt == "" {
		cfg.Notifications.UnsubscribeSalt = "dev-unsubscribe-salt"
	}

	return cfg, nil
}

// validate checks values that have no safe fallback.
func (c *Config) validate() error {
	if c.IsProduction() {
		if len(c.Auth.SecretKey) < 32 {
			return fmt.Errorf("%w: SECRET_KEY must be at least 32 characters in production", ErrInvalid)
		}
		if c.Notifications.UnsubscribeSalt == "" {
			return fmt.Errorf("%w: UNSUBSCRIBE_SALT is required in production", ErrInvalid)
		}
	}
	if c.Locks.TTL <= 0 {
		return fmt.Errorf("%w: LOCK_TTL must be positive", ErrInvalid)
	}
	switch c.Mail.Encryption {
	case "starttls", "ssl", "none":
	default:
		return fmt.Errorf("%w: SMTP_ENCRYPTION must be starttls, ssl or none, got %q", ErrInvalid, c.Mail.Encryption)
	}
	if c.Notifications.DispatchBatch <= 0 {
		return fmt.Errorf("%w: DISPATCH_BATCH must be positive", ErrInvalid)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true for "production" and its common spellings.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// ParseLogLevel maps LOG_LEVEL onto a slog level. Unknown values log at
// info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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

// getEnvBool reads a boolean env var ("1", "true", "yes") or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var, dropping empty items.
func getEnvList(key, defaultVal string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultVal), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvDuration reads a duration env var (e.g., "720h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
