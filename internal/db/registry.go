package db

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry groups the platform repositories around a shared pgx pool. The
// entry point builds one Registry and hands the individual repositories to
// the handlers that need them; the HTTP chassis only sees Ping and Close.
type Registry struct {
	pool *pgxpool.Pool

	Users         *UserRepository
	Companions    *CompanionRepository
	Sessions      *SessionRepository
	Subscriptions *SubscriptionRepository
	Usage         *UsageRepository
}

// NewRegistry constructs all repositories over the given pool.
func NewRegistry(pool *pgxpool.Pool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		pool:          pool,
		Users:         NewUserRepository(pool),
		Companions:    NewCompanionRepository(pool),
		Sessions:      NewSessionRepository(pool),
		Subscriptions: NewSubscriptionRepository(pool, logger),
		Usage:         NewUsageRepository(pool),
	}
}

// Ping verifies database connectivity. Used by the health endpoint.
func (r *Registry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the underlying connection pool.
func (r *Registry) Close() error {
	r.pool.Close()
	return nil
}
