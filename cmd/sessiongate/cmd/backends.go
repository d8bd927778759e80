package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmcleod/sessiongate/accesskey"
	"github.com/jmcleod/sessiongate/config"
	"github.com/jmcleod/sessiongate/identity"
	"github.com/jmcleod/sessiongate/storage"
	bboltstorage "github.com/jmcleod/sessiongate/storage/bbolt"
	"github.com/jmcleod/sessiongate/storage/memory"
	"github.com/jmcleod/sessiongate/storage/postgres"
	redisstorage "github.com/jmcleod/sessiongate/storage/redis"
)

// closer collects cleanup funcs and runs them in reverse order.
type closer []func() error

func (c *closer) add(fn func() error) { *c = append(*c, fn) }

func (c closer) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i]()
	}
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// openKV builds the session key-value store named by kv.backend.
func openKV(ctx context.Context, cfg config.KVConfig, c *closer) (storage.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendMemory:
		s := memory.NewStore(memory.WithSweepInterval(cfg.SweepInterval))
		c.add(s.Close)
		return s, nil
	case config.BackendRedis:
		s, err := redisstorage.NewFromAddr(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.add(s.Close)
		return s, nil
	case config.BackendBbolt:
		if err := ensureDir(cfg.BboltPath); err != nil {
			return nil, err
		}
		s, err := bboltstorage.NewStoreFromFile(cfg.BboltPath, bboltstorage.WithSweepInterval(cfg.SweepInterval))
		if err != nil {
			return nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		c.add(s.Close)
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown kv backend %q", config.ErrInvalid, cfg.Backend)
}

// postgresPool opens one *sql.DB per DSN and runs migrations once.
type postgresPool struct {
	cfg config.IdentityConfig
	dbs map[string]*sql.DB
	c   *closer
}

func (p *postgresPool) open(ctx context.Context, dsn string) (*sql.DB, error) {
	if db, ok := p.dbs[dsn]; ok {
		return db, nil
	}
	db, err := postgres.Open(ctx, postgres.Config{
		DSN:          dsn,
		MaxOpenConns: p.cfg.MaxOpenConns,
		MaxIdleConns: p.cfg.MaxIdleConns,
		MaxIdleTime:  p.cfg.MaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	p.c.add(db.Close)
	if err := postgres.Migrate(ctx, db); err != nil {
		return nil, err
	}
	if p.dbs == nil {
		p.dbs = make(map[string]*sql.DB)
	}
	p.dbs[dsn] = db
	return db, nil
}

func openIdentity(ctx context.Context, cfg config.IdentityConfig, pool *postgresPool) (identity.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendMemory:
		return identity.NewMemoryStore(), nil
	case config.BackendPostgres:
		db, err := pool.open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewUserStore(db), nil
	}
	return nil, fmt.Errorf("%w: unknown identity backend %q", config.ErrInvalid, cfg.Backend)
}

func openAccessKeys(ctx context.Context, cfg config.AccessKeyConfig, pool *postgresPool, c *closer, logger *slog.Logger) (accesskey.Repository, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendMemory:
		logger.Warn("access keys are held in memory and will not survive a restart")
		return accesskey.NewMemoryRepository(), nil
	case config.BackendBbolt:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		db, err := bboltstorage.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open access key storage: %w", err)
		}
		c.add(db.Close)
		return bboltstorage.NewAccessKeyRepository(db)
	case config.BackendPostgres:
		db, err := pool.open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewAccessKeyRepository(db), nil
	}
	return nil, fmt.Errorf("%w: unknown access key backend %q", config.ErrInvalid, cfg.Backend)
}
