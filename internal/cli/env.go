package cli

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/qcat/internal/app"
	"github.com/keyxmakerx/qcat/internal/config"
	"github.com/keyxmakerx/qcat/internal/database"
)

// env is the infrastructure a command runs against.
type env struct {
	cfg      *config.Config
	db       *sql.DB
	rdb      *redis.Client
	services *app.Services
}

func (e *env) Close() {
	if e.rdb != nil {
		if err := e.rdb.Close(); err != nil {
			slog.Warn("closing redis", slog.Any("error", err))
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			slog.Warn("closing database", slog.Any("error", err))
		}
	}
}

// loadConfig reads the configuration and sets up logging on stderr, so
// stdout carries only command output.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitConfigInvalid, "loading configuration", err)
	}

	level := config.ParseLogLevel(cfg.LogLevel)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

// openDB connects to MariaDB without retrying; a batch run is retried by
// its scheduler instead.
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.NewMariaDB(ctx, cfg.Database, 1)
	if err != nil {
		return nil, WrapExitError(ExitStoreUnreachable, "connecting to MariaDB", err)
	}
	return db, nil
}

// openEnv connects both stores and wires the services.
func openEnv(ctx context.Context, opts *RootOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg}

	if e.db, err = openDB(ctx, cfg); err != nil {
		return nil, err
	}
	if e.rdb, err = database.NewRedis(ctx, cfg.Redis); err != nil {
		e.Close()
		return nil, WrapExitError(ExitStoreUnreachable, "connecting to Redis", err)
	}
	if e.services, err = app.NewServices(cfg, e.db, e.rdb); err != nil {
		e.Close()
		return nil, WrapExitError(ExitConfigInvalid, "wiring services", err)
	}
	return e, nil
}
