package db

import (
	"context"
	"time"

	"learnhub/internal/types"
)

// UsageRepository provides the count queries behind limit enforcement.
// It implements the billing.UsageCounter interface.
//
// These are intentionally separated from the entity repositories: they are
// read-only aggregation queries serving a single domain need (plan limit
// evaluation), and the boundary keeps the evaluator mockable.
type UsageRepository struct {
	db DBTX
}

// NewUsageRepository creates a new UsageRepository backed by the given
// database connection.
func NewUsageRepository(db DBTX) *UsageRepository {
	return &UsageRepository{db: db}
}

// CountCompanions performs the Direct Count query against the companions
// table. Companions count against the limit for the lifetime of the
// account, not per billing period.
func (u *UsageRepository) CountCompanions(ctx context.Context, userID string) (int, error) {
	var count int
	err := u.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM companions
		 WHERE author_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count companions", err)
	}
	return count, nil
}

// CountSessionsSince counts the user's sessions started at or after the
// given bound. The caller supplies the first instant of the current
// calendar month for monthly limit checks.
func (u *UsageRepository) CountSessionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := u.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM learning_sessions
		 WHERE user_id = $1
		   AND started_at >= $2`,
		userID,
		since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count sessions", err)
	}
	return count, nil
}
