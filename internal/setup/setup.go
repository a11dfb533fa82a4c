// Package setup opens the collaborators shared by the server and the batch
// job from the loaded configuration.
package setup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/fof-nav/internal/audit"
	"github.com/atmx/fof-nav/internal/config"
	"github.com/atmx/fof-nav/internal/store"
)

// Deps holds the opened store and audit recorder.
type Deps struct {
	Store    store.Store
	Recorder audit.Recorder

	cleanup []func()
}

// Open connects the store (PostgreSQL with an optional Redis cache, else
// in-memory), seeds configured funds and opens the audit recorder.
func Open(ctx context.Context, cfg *config.Config) (*Deps, error) {
	d := &Deps{}

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		d.cleanup = append(d.cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		d.Store = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				d.Close()
				return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			d.cleanup = append(d.cleanup, func() { rdb.Close() })
			d.Store = store.NewCachedStore(d.Store, rdb, cfg.Redis.TTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		d.Store = store.NewMemoryStore()
	}

	for i := range cfg.Funds {
		f := cfg.Funds[i]
		if err := d.Store.SaveFundConfig(ctx, &f); err != nil {
			d.Close()
			return nil, fmt.Errorf("seed fund %s: %w", f.FofID, err)
		}
		slog.Info("fund config seeded", "manager", f.ManagerID, "fof", f.FofID)
	}

	if cfg.Database.SQLitePath != "" {
		rec, err := audit.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("audit recorder: %w", err)
		}
		d.Recorder = rec
		d.cleanup = append(d.cleanup, func() { rec.Close() })
	} else {
		d.Recorder = audit.NewNoopRecorder()
	}
	return d, nil
}

// Close releases everything Open acquired, in reverse order.
func (d *Deps) Close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
	d.cleanup = nil
}
