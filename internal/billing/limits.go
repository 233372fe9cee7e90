package billing

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"learnhub/internal/types"
)

// TierLimits defines the per-tier resource caps used for enforcement.
// These are tier-level numbers, not per-plan: the Core Learner limits are
// canonical for the whole Basic tier. Per-plan numbers remain on the
// catalog for display.
//
//	| Tier       | Companions | Sessions/mo |
//	|------------|------------|-------------|
//	| Free       | 3          | 10          |
//	| Basic      | 25         | 250         |
//	| Pro        | unlimited  | unlimited   |
//	| Enterprise | unlimited  | unlimited   |
type TierLimits struct {
	CompanionLimit int
	SessionLimit   int
}

var tierDefaults = map[types.PlanTier]TierLimits{
	types.TierFree:       {CompanionLimit: 3, SessionLimit: 10},
	types.TierBasic:      {CompanionLimit: 25, SessionLimit: 250},
	types.TierPro:        {CompanionLimit: types.UnlimitedLimit, SessionLimit: types.UnlimitedLimit},
	types.TierEnterprise: {CompanionLimit: types.UnlimitedLimit, SessionLimit: types.UnlimitedLimit},
}

// freeTierLimits is cached for the unknown-tier fallback path.
var freeTierLimits = tierDefaults[types.TierFree]

// LimitsForTier returns the enforcement limits for the given tier.
// Unknown tiers fall back to the Free limits to fail safely.
func LimitsForTier(tier types.PlanTier) TierLimits {
	if l, ok := tierDefaults[tier]; ok {
		return l
	}
	return freeTierLimits
}

// UpgradeTier returns the tier a user should be prompted toward when they
// hit a cap: Free -> Basic -> Pro; Pro and above stay at Pro.
func UpgradeTier(current types.PlanTier) types.PlanTier {
	switch current {
	case types.TierFree:
		return types.TierBasic
	case types.TierBasic:
		return types.TierPro
	default:
		return types.TierPro
	}
}

// TierReader resolves the effective tier for a user. Missing or expired
// subscriptions yield the free tier.
type TierReader interface {
	GetTier(ctx context.Context, userID string, now time.Time) (types.PlanTier, error)
}

// UsageCounter counts a user's consumption. Companions are counted all-time;
// sessions are counted from the first instant of the current calendar month.
type UsageCounter interface {
	CountCompanions(ctx context.Context, userID string) (int, error)
	CountSessionsSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Evaluator answers "may this user create another companion / start another
// session" and produces usage snapshots. Counting failures degrade to
// permissive defaults: a transient persistence error must never block a
// paying user from an action they are probably entitled to.
type Evaluator struct {
	tiers  TierReader
	usage  UsageCounter
	logger *slog.Logger
	now    func() time.Time
}

// NewEvaluator creates a limit Evaluator.
func NewEvaluator(tiers TierReader, usage UsageCounter, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		tiers:  tiers,
		usage:  usage,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the evaluator's time source. Used by tests.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// monthStart returns the first instant of the month containing t, in UTC.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// allowed applies the shared cap rule: -1 is unlimited, otherwise strictly
// under the cap.
func allowed(used, limit int) bool {
	return limit == types.UnlimitedLimit || used < limit
}

// effectiveTier resolves the user's tier, degrading to Free on error.
func (e *Evaluator) effectiveTier(ctx context.Context, userID string) types.PlanTier {
	tier, err := e.tiers.GetTier(ctx, userID, e.now())
	if err != nil {
		e.logger.Error("tier lookup failed, assuming free",
			"user_id", userID, "error", err)
		return types.TierFree
	}
	return tier
}

// CheckCompanionLimit reports whether the user may create another companion.
func (e *Evaluator) CheckCompanionLimit(ctx context.Context, userID string) types.LimitCheck {
	tier := e.effectiveTier(ctx, userID)
	limit := LimitsForTier(tier).CompanionLimit

	used, err := e.usage.CountCompanions(ctx, userID)
	if err != nil {
		e.logger.Error("companion count failed, permitting action",
			"user_id", userID, "error", err)
		return types.LimitCheck{Allowed: true, Used: 0, Limit: limit}
	}

	check := types.LimitCheck{Allowed: allowed(used, limit), Used: used, Limit: limit}
	if !check.Allowed {
		check.UpgradeTier = UpgradeTier(tier)
		check.UpgradePrompt = "Companion limit reached. Upgrade to " + string(check.UpgradeTier) + " to create more companions."
	}
	return check
}

// CheckSessionLimit reports whether the user may start another session
// this calendar month.
func (e *Evaluator) CheckSessionLimit(ctx context.Context, userID string) types.LimitCheck {
	tier := e.effectiveTier(ctx, userID)
	limit := LimitsForTier(tier).SessionLimit

	used, err := e.usage.CountSessionsSince(ctx, userID, monthStart(e.now()))
	if err != nil {
		e.logger.Error("session count failed, permitting action",
			"user_id", userID, "error", err)
		return types.LimitCheck{Allowed: true, Used: 0, Limit: limit}
	}

	check := types.LimitCheck{Allowed: allowed(used, limit), Used: used, Limit: limit}
	if !check.Allowed {
		check.UpgradeTier = UpgradeTier(tier)
		check.UpgradePrompt = "Monthly session limit reached. Upgrade to " + string(check.UpgradeTier) + " for more sessions."
	}
	return check
}

// Snapshot returns the user's current usage against their tier limits.
// The two counts run concurrently; either failing degrades that count to
// zero rather than failing the snapshot.
func (e *Evaluator) Snapshot(ctx context.Context, userID string) types.UsageSnapshot {
	tier := e.effectiveTier(ctx, userID)
	limits := LimitsForTier(tier)

	var companions, sessions int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.usage.CountCompanions(gctx, userID)
		if err != nil {
			e.logger.Error("companion count failed in snapshot", "user_id", userID, "error", err)
			return nil
		}
		companions = n
		return nil
	})
	g.Go(func() error {
		n, err := e.usage.CountSessionsSince(gctx, userID, monthStart(e.now()))
		if err != nil {
			e.logger.Error("session count failed in snapshot", "user_id", userID, "error", err)
			return nil
		}
		sessions = n
		return nil
	})
	_ = g.Wait() // goroutines never return errors; Wait is for joining only

	return types.UsageSnapshot{
		Tier:              tier,
		CompanionsUsed:    companions,
		CompanionLimit:    limits.CompanionLimit,
		SessionsThisMonth: sessions,
		SessionLimit:      limits.SessionLimit,
	}
}
