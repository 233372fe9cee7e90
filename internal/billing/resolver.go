package billing

import (
	"log/slog"
	"strings"
)

// Resolver maps arbitrary plan identifiers from billing-provider payloads
// to catalog plans. Provider payloads are inconsistent about which id field
// they carry, so resolution degrades through four ordered strategies:
//
//  1. exact match on the provider's plan id
//  2. exact match on our internal plan id
//  3. case-insensitive substring heuristics
//  4. default to the Basic plan
//
// For non-empty input against a non-empty catalog, Resolve always returns
// a plan. Empty input resolves to nothing so callers can distinguish
// "no plan in payload" from "unrecognized plan".
type Resolver struct {
	catalog Catalog
	logger  *slog.Logger
}

// NewResolver creates a Resolver over the given catalog.
func NewResolver(catalog Catalog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: catalog, logger: logger}
}

// Resolve maps a raw plan identifier to a catalog plan. The fallback steps
// are logged at descending confidence; logging never alters the outcome.
func (r *Resolver) Resolve(raw string) (Plan, bool) {
	if raw == "" {
		return Plan{}, false
	}

	if p, ok := r.catalog.FindByExternalID(raw); ok {
		return p, true
	}

	if p, ok := r.catalog.FindByID(raw); ok {
		r.logger.Debug("plan resolved by internal id", "plan_id", raw)
		return p, true
	}

	lower := strings.ToLower(raw)

	// Substring heuristics. Order matters: identifiers like
	// "core_learner_pro_trial" must hit the core-learner branch, not pro.
	if strings.Contains(lower, "basic") ||
		strings.Contains(lower, "core") ||
		strings.Contains(lower, "cplan") ||
		strings.Contains(lower, "learner") {
		if p, ok := r.catalog.FindByID("core-learner"); ok {
			r.logger.Warn("plan resolved by substring heuristic",
				"raw", raw, "resolved", p.ID)
			return p, true
		}
	}
	if strings.Contains(lower, "pro") {
		if p, ok := r.catalog.FindByID("pro"); ok {
			r.logger.Warn("plan resolved by substring heuristic",
				"raw", raw, "resolved", p.ID)
			return p, true
		}
	}

	// Last resort: an unrecognized paid-plan id still grants Basic rather
	// than silently dropping the customer to free.
	if p, ok := r.catalog.FindByID("basic"); ok {
		r.logger.Warn("unrecognized plan id, defaulting", "raw", raw, "resolved", p.ID)
		return p, true
	}

	r.logger.Error("plan resolution failed: catalog has no default", "raw", raw)
	return Plan{}, false
}
