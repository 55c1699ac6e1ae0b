package app

import (
	"context"
	"fmt"
	"time"

	"calendar-service/internal/calendar"
	"calendar-service/internal/config"
	"calendar-service/internal/domain"
	"calendar-service/internal/logging"
	"calendar-service/internal/store"
)

// Store is what the HTTP layer needs from persistence: transactions for the
// orchestrator plus the read paths used by listings, conflict checks and
// quota counting.
type Store interface {
	calendar.Store
	Get(ctx context.Context, contextID, id int64) (domain.Appointment, error)
	ListOverlapping(ctx context.Context, contextID int64, users, resources []int64, from, to time.Time) ([]domain.Appointment, error)
	CountByCreator(ctx context.Context, contextID, userID int64) (int, error)
}

var (
	_ Store = (*store.Memory)(nil)
	_ Store = (*store.Postgres)(nil)
)

// OpenStore connects to Postgres and applies migrations, or falls back to
// the in-memory store when no URL is configured. The returned func releases
// the connection pool.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (Store, func(), error) {
	if cfg.URL == "" {
		logging.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	pg := store.NewPostgres(pool)
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
	}
	return pg, pool.Close, nil
}
