// Package storage opens the configured persistence backend and vends the
// message store and user repository bound to it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/christopherjohns/groupchat/internal/config"
	"github.com/christopherjohns/groupchat/internal/logging"
	"github.com/christopherjohns/groupchat/internal/message"
	"github.com/christopherjohns/groupchat/internal/storage/migrations"
	"github.com/christopherjohns/groupchat/internal/user"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// Stores bundles the backends chosen by configuration.
type Stores struct {
	Driver   string
	Messages message.Store
	Users    user.Repository

	closers []func() error
}

// Close releases every connection opened by Open.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Open connects to the backend named by cfg.Driver, applies schema
// migrations for the relational drivers and checks reachability. Any error
// means the server must not start.
func Open(ctx context.Context, cfg config.StorageConfig, log logging.Logger) (*Stores, error) {
	log = log.With("component", "storage", "driver", cfg.Driver)

	var (
		s   *Stores
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		s = &Stores{
			Messages: message.NewMemoryStore(cfg.MessageRetention),
			Users:    user.NewMemoryRepository(),
		}
	case config.DriverRedis:
		s, err = openRedis(ctx, cfg)
	case config.DriverPostgres:
		s, err = openPostgres(ctx, cfg)
	case config.DriverSQLite:
		s, err = openSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		log.Error(ctx, "storage unavailable", "err", err)
		return nil, err
	}

	s.Driver = cfg.Driver
	log.Info(ctx, "storage ready")
	return s, nil
}

func openRedis(ctx context.Context, cfg config.StorageConfig) (*Stores, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	return &Stores{
		Messages: message.NewRedisStore(client, cfg.MessageRetention),
		Users:    user.NewRedisRepository(client),
		closers:  []func() error{client.Close},
	}, nil
}

func openPostgres(ctx context.Context, cfg config.StorageConfig) (*Stores, error) {
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := prepare(ctx, db, cfg, "postgres", "pgx"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Stores{
		Messages: message.NewPostgresStore(db),
		Users:    user.NewPostgresRepository(db),
		closers:  []func() error{db.Close},
	}, nil
}

func openSQLite(ctx context.Context, cfg config.StorageConfig) (*Stores, error) {
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared between the two repositories.
	db.SetMaxOpenConns(1)

	if err := prepare(ctx, db, cfg, "sqlite", "sqlite3"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Stores{
		Messages: message.NewSQLiteStore(db),
		Users:    user.NewSQLiteRepository(db),
		closers:  []func() error{db.Close},
	}, nil
}

func prepare(ctx context.Context, db *sql.DB, cfg config.StorageConfig, dir, dialect string) error {
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping %s: %w", dir, err)
	}
	if err := RunMigrations(ctx, db, dir, dialect); err != nil {
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	return nil
}

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations found in dir.
func RunMigrations(ctx context.Context, db *sql.DB, dir, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return gooseUpContext(ctx, db, dir)
}
