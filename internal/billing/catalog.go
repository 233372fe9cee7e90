// Package billing provides the plan catalog, plan resolution, and usage
// limit evaluation for the platform.
package billing

import (
	"learnhub/internal/types"
)

// Plan describes one subscription offering. Limits use -1 for "unlimited";
// enforcement code must treat -1 as no cap.
type Plan struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Tier           types.PlanTier        `json:"tier"`
	PriceCents     int                   `json:"price_cents"`
	Interval       types.BillingInterval `json:"interval"`
	CompanionLimit int                   `json:"companion_limit"`
	SessionLimit   int                   `json:"session_limit"`

	// ClerkPlanID is the billing provider's identifier for this plan.
	// Nil for plans that never appear in provider payloads (free).
	ClerkPlanID *string `json:"clerk_plan_id,omitempty"`

	Features  []string `json:"features"`
	IsPopular bool     `json:"is_popular"`
}

// Catalog is the authoritative, in-process list of offered plans.
// It is loaded once at startup; lookups never touch the database.
type Catalog interface {
	// Plans returns all offered plans in display order.
	Plans() []Plan

	// FindByID returns the plan with the given internal id.
	FindByID(id string) (Plan, bool)

	// FindByExternalID returns the plan whose billing-provider id matches.
	// Plans without an external id never match.
	FindByExternalID(externalID string) (Plan, bool)

	// FindByTier returns all plans of the given tier.
	FindByTier(tier types.PlanTier) []Plan

	// DefaultForTier returns the representative plan for a tier: the
	// monthly plan if one exists, otherwise the first plan of that tier.
	DefaultForTier(tier types.PlanTier) (Plan, bool)
}

func strPtr(s string) *string { return &s }

// planDefaults defines the hardcoded plan catalog:
//
//	| Plan         | Price  | Companions | Sessions/mo | Provider ID  |
//	|--------------|--------|------------|-------------|--------------|
//	| Free         | $0     | 3          | 10          | -            |
//	| Basic        | $9.99  | 15         | 100         | basic        |
//	| Core Learner | $19.99 | 25         | 250         | core_learner |
//	| Pro          | $39.99 | unlimited  | unlimited   | pro          |
var planDefaults = []Plan{
	{
		ID:             "free",
		Name:           "Free",
		Tier:           types.TierFree,
		PriceCents:     0,
		Interval:       types.IntervalMonthly,
		CompanionLimit: 3,
		SessionLimit:   10,
		Features: []string{
			"3 AI companions",
			"10 sessions per month",
			"Basic session recaps",
		},
	},
	{
		ID:             "basic",
		Name:           "Basic",
		Tier:           types.TierBasic,
		PriceCents:     999,
		Interval:       types.IntervalMonthly,
		CompanionLimit: 15,
		SessionLimit:   100,
		ClerkPlanID:    strPtr("basic"),
		Features: []string{
			"15 AI companions",
			"100 sessions per month",
			"Session history",
		},
	},
	{
		ID:             "core-learner",
		Name:           "Core Learner",
		Tier:           types.TierBasic,
		PriceCents:     1999,
		Interval:       types.IntervalMonthly,
		CompanionLimit: 25,
		SessionLimit:   250,
		ClerkPlanID:    strPtr("core_learner"),
		IsPopular:      true,
		Features: []string{
			"25 AI companions",
			"250 sessions per month",
			"Full session transcripts",
			"Progress tracking",
		},
	},
	{
		ID:             "pro",
		Name:           "Pro",
		Tier:           types.TierPro,
		PriceCents:     3999,
		Interval:       types.IntervalMonthly,
		CompanionLimit: types.UnlimitedLimit,
		SessionLimit:   types.UnlimitedLimit,
		ClerkPlanID:    strPtr("pro"),
		Features: []string{
			"Unlimited AI companions",
			"Unlimited sessions",
			"Full session transcripts",
			"Priority voice pipeline",
		},
	},
}

// staticCatalog is a compile-time catalog backed by an in-memory slice.
// The standard production implementation; no database is required.
type staticCatalog struct {
	plans      []Plan
	byID       map[string]Plan
	byExternal map[string]Plan
}

// NewStaticCatalog returns a Catalog backed by the hardcoded plan list.
func NewStaticCatalog() Catalog {
	return newCatalog(planDefaults)
}

// NewCatalog builds a Catalog from an explicit plan list. Used by tests and
// by deployments that override the default offering.
func NewCatalog(plans []Plan) Catalog {
	return newCatalog(plans)
}

func newCatalog(plans []Plan) *staticCatalog {
	// Copy the slice so callers cannot mutate the package-level defaults.
	c := &staticCatalog{
		plans:      make([]Plan, len(plans)),
		byID:       make(map[string]Plan, len(plans)),
		byExternal: make(map[string]Plan, len(plans)),
	}
	copy(c.plans, plans)
	for _, p := range c.plans {
		c.byID[p.ID] = p
		if p.ClerkPlanID != nil && *p.ClerkPlanID != "" {
			c.byExternal[*p.ClerkPlanID] = p
		}
	}
	return c
}

func (c *staticCatalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

func (c *staticCatalog) FindByID(id string) (Plan, bool) {
	p, ok := c.byID[id]
	return p, ok
}

func (c *staticCatalog) FindByExternalID(externalID string) (Plan, bool) {
	if externalID == "" {
		return Plan{}, false
	}
	p, ok := c.byExternal[externalID]
	return p, ok
}

func (c *staticCatalog) FindByTier(tier types.PlanTier) []Plan {
	var out []Plan
	for _, p := range c.plans {
		if p.Tier == tier {
			out = append(out, p)
		}
	}
	return out
}

func (c *staticCatalog) DefaultForTier(tier types.PlanTier) (Plan, bool) {
	matches := c.FindByTier(tier)
	if len(matches) == 0 {
		return Plan{}, false
	}
	for _, p := range matches {
		if p.Interval == types.IntervalMonthly {
			return p, true
		}
	}
	return matches[0], true
}
