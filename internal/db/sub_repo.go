package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"learnhub/internal/types"
)

// SubscriptionRepository manages the user_subscriptions table: the locally
// persisted view of billing-provider state.
//
// Key invariants:
//   - At most one subscription row per user (unique index on user_id).
//   - Cancel is a soft operation: the row keeps its period bounds and is
//     retained for audit; status flips to cancelled and cancel_at_period_end
//     is forced true.
//   - Upsert is keyed by user, which absorbs duplicate webhook deliveries
//     without an event ledger.
type SubscriptionRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed by
// the given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX, logger *slog.Logger) *SubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepository{db: db, logger: logger}
}

// subColumns defines the standard set of columns selected for subscription
// queries. Used consistently across all query methods to avoid column drift.
const subColumns = `s.id, s.user_id, s.plan_id, s.tier, s.status,
	s.current_period_start, s.current_period_end, s.cancel_at_period_end,
	s.clerk_customer_id, s.clerk_subscription_id, s.created_at, s.updated_at`

// scanSubscription scans a single subscription row. The columns must match
// the order defined in subColumns.
func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PlanID,
		&s.Tier,
		&s.Status,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.ClerkCustomerID,
		&s.ClerkSubscriptionID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByUser returns the user's subscription row, or (nil, nil) when the
// user has never subscribed. Absence is a normal state (free tier), not
// an error.
func (r *SubscriptionRepository) GetByUser(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subColumns+`
		 FROM user_subscriptions s
		 WHERE s.user_id = $1`,
		userID,
	)

	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}
	return s, nil
}

// GetTier resolves the user's effective tier: the subscription's tier when
// the row is active and unexpired, otherwise free. Implements
// billing.TierReader.
func (r *SubscriptionRepository) GetTier(ctx context.Context, userID string, now time.Time) (types.PlanTier, error) {
	sub, err := r.GetByUser(ctx, userID)
	if err != nil {
		return types.TierFree, err
	}
	if sub == nil || !sub.IsActive(now) {
		return types.TierFree, nil
	}
	return sub.Tier, nil
}

// Create inserts a new subscription row and fills in its generated id.
// Returns ErrCodeConflictSubscription if the user already has one.
func (r *SubscriptionRepository) Create(ctx context.Context, s *types.Subscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_subscriptions (id, user_id, plan_id, tier, status,
		 current_period_start, current_period_end, cancel_at_period_end,
		 clerk_customer_id, clerk_subscription_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`,
		s.ID,
		s.UserID,
		s.PlanID,
		s.Tier,
		s.Status,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd,
		s.ClerkCustomerID,
		s.ClerkSubscriptionID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictSubscription, "user already has a subscription", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create subscription", err)
	}
	return nil
}

// Update replaces the mutable billing fields of the user's subscription.
// Returns ErrCodeNotFoundSubscription if the user has no subscription row.
func (r *SubscriptionRepository) Update(ctx context.Context, s *types.Subscription) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE user_subscriptions
		 SET plan_id = $1, tier = $2, status = $3,
		     current_period_start = $4, current_period_end = $5,
		     cancel_at_period_end = $6,
		     clerk_customer_id = COALESCE($7, clerk_customer_id),
		     clerk_subscription_id = COALESCE($8, clerk_subscription_id),
		     updated_at = NOW()
		 WHERE user_id = $9`,
		s.PlanID,
		s.Tier,
		s.Status,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd,
		s.ClerkCustomerID,
		s.ClerkSubscriptionID,
		s.UserID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// Upsert converges the user's subscription row to the given state: create
// if absent, update otherwise. Keying on user_id makes duplicate webhook
// deliveries of the same provider state a no-op rewrite of identical values.
func (r *SubscriptionRepository) Upsert(ctx context.Context, s *types.Subscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_subscriptions (id, user_id, plan_id, tier, status,
		 current_period_start, current_period_end, cancel_at_period_end,
		 clerk_customer_id, clerk_subscription_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET plan_id = EXCLUDED.plan_id,
		     tier = EXCLUDED.tier,
		     status = EXCLUDED.status,
		     current_period_start = EXCLUDED.current_period_start,
		     current_period_end = EXCLUDED.current_period_end,
		     cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		     clerk_customer_id = COALESCE(EXCLUDED.clerk_customer_id, user_subscriptions.clerk_customer_id),
		     clerk_subscription_id = COALESCE(EXCLUDED.clerk_subscription_id, user_subscriptions.clerk_subscription_id),
		     updated_at = NOW()`,
		s.ID,
		s.UserID,
		s.PlanID,
		s.Tier,
		s.Status,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd,
		s.ClerkCustomerID,
		s.ClerkSubscriptionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	return nil
}

// Cancel soft-cancels the user's active subscription: status becomes
// cancelled and cancel_at_period_end is forced true. The row is retained.
// Returns ErrCodeNotFoundSubscription if the user has no active row.
func (r *SubscriptionRepository) Cancel(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE user_subscriptions
		 SET status = 'cancelled', cancel_at_period_end = TRUE, updated_at = NOW()
		 WHERE user_id = $1 AND status = 'active'`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel subscription", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Info("cancel requested with no active subscription",
			slog.String("user_id", userID))
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "no active subscription", nil)
	}
	return nil
}
