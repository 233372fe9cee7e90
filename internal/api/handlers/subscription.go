package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"learnhub/internal/billing"
	"learnhub/internal/core"
	"learnhub/internal/external"
	"learnhub/internal/types"
)

// SubscriptionRepo defines the data access contract for subscription
// operations. Mirrors the concrete db.SubscriptionRepository methods this
// handler uses.
type SubscriptionRepo interface {
	GetByUser(ctx context.Context, userID string) (*types.Subscription, error)
	Upsert(ctx context.Context, s *types.Subscription) error
	Cancel(ctx context.Context, userID string) error
}

// UsageEvaluator answers limit and usage questions for the usage endpoints.
// Satisfied by billing.Evaluator.
type UsageEvaluator interface {
	CheckCompanionLimit(ctx context.Context, userID string) types.LimitCheck
	CheckSessionLimit(ctx context.Context, userID string) types.LimitCheck
	Snapshot(ctx context.Context, userID string) types.UsageSnapshot
}

// SubscribeRequest is the request body for POST /v1/subscription.
type SubscribeRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// SubscriptionView is the response shape for subscription reads. Tier is
// always present; Subscription is nil for users on the implicit free tier.
type SubscriptionView struct {
	Subscription *types.Subscription `json:"subscription"`
	Tier         types.PlanTier      `json:"tier"`
}

// SubscriptionHandler serves the billing surface: the local subscription row,
// the plan catalog, explicit subscribe/cancel, provider refresh, and usage.
type SubscriptionHandler struct {
	subs      SubscriptionRepo
	catalog   billing.Catalog
	resolver  *billing.Resolver
	usage     UsageEvaluator
	provider  external.BillingProvider
	validator *core.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(
	subs SubscriptionRepo,
	catalog billing.Catalog,
	resolver *billing.Resolver,
	usage UsageEvaluator,
	provider external.BillingProvider,
	v *core.Validator,
	l *slog.Logger,
) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionHandler{
		subs:      subs,
		catalog:   catalog,
		resolver:  resolver,
		usage:     usage,
		provider:  provider,
		validator: v,
		logger:    l,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the handler's time source. Used by tests.
func (h *SubscriptionHandler) WithClock(now func() time.Time) *SubscriptionHandler {
	h.now = now
	return h
}

// RegisterRoutes mounts all billing and usage endpoints.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/subscription", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/plans", h.Plans)
		r.Post("/", h.Subscribe)
		r.Delete("/", h.Cancel)
		r.Post("/refresh", h.Refresh)
	})
	r.Route("/usage", func(r chi.Router) {
		r.Get("/", h.Usage)
		r.Get("/companion-limit", h.CompanionLimit)
		r.Get("/session-limit", h.SessionLimit)
	})
}

// Get handles GET /v1/subscription. Users without a subscription row are on
// the free tier; that is a 200 with a nil subscription, not a 404.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	sub, err := h.subs.GetByUser(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.view(sub)})
}

// view derives the effective tier from a possibly-nil subscription row.
func (h *SubscriptionHandler) view(sub *types.Subscription) SubscriptionView {
	v := SubscriptionView{Subscription: sub, Tier: types.TierFree}
	if sub != nil && sub.IsActive(h.now()) {
		v.Tier = sub.Tier
	}
	return v
}

// Plans handles GET /v1/subscription/plans.
func (h *SubscriptionHandler) Plans(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.catalog.Plans()})
}

// Subscribe handles POST /v1/subscription. Creates a local subscription for
// the named plan; rejected when an active one already exists.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req SubscribeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan, found := h.catalog.FindByID(req.PlanID)
	if !found {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundPlan,
			"unknown plan: "+req.PlanID,
			nil,
		))
		return
	}

	existing, err := h.subs.GetByUser(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if existing != nil && existing.IsActive(h.now()) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictSubscription,
			"an active subscription already exists",
			nil,
		))
		return
	}

	now := h.now()
	sub := &types.Subscription{
		UserID:             actor.ID,
		PlanID:             plan.ID,
		Tier:               plan.Tier,
		Status:             types.SubStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   addInterval(now, plan.Interval),
	}
	// Upsert rather than Create: a lapsed row from an earlier subscription
	// is converged instead of colliding on the user key.
	if err := h.subs.Upsert(r.Context(), sub); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("subscription created",
		slog.String("user_id", actor.ID),
		slog.String("plan_id", plan.ID),
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: h.view(sub)})
}

// addInterval advances t by one billing interval.
func addInterval(t time.Time, interval types.BillingInterval) time.Time {
	if interval == types.IntervalYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// Cancel handles DELETE /v1/subscription. Cancels at the provider
// best-effort, then soft-cancels locally.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	sub, err := h.subs.GetByUser(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if sub == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			"no subscription to cancel",
			nil,
		))
		return
	}

	if h.provider != nil && sub.ClerkSubscriptionID != nil {
		if err := h.provider.CancelSubscription(r.Context(), *sub.ClerkSubscriptionID); err != nil {
			h.logger.Warn("provider cancellation failed, cancelling locally anyway",
				slog.String("user_id", actor.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := h.subs.Cancel(r.Context(), actor.ID); err != nil {
		core.Error(w, r, err)
		return
	}

	sub.Status = types.SubStatusCancelled
	sub.CancelAtPeriodEnd = true
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.view(sub)})
}

// Refresh handles POST /v1/subscription/refresh: re-sync the local row from
// the provider's view of the user. A user with no provider subscription
// keeps (or returns to) the free tier.
func (h *SubscriptionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if h.provider == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookNotConfigured,
			"billing provider not configured",
			nil,
		))
		return
	}

	state, err := h.provider.GetBillingState(r.Context(), actor.ClerkID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if state == nil {
		// Nothing at the provider: report the local state untouched.
		sub, err := h.subs.GetByUser(r.Context(), actor.ID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.view(sub)})
		return
	}

	plan, found := h.resolver.Resolve(state.PlanID)
	if !found {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundPlan,
			"provider plan could not be resolved",
			nil,
		))
		return
	}

	sub := &types.Subscription{
		UserID:             actor.ID,
		PlanID:             plan.ID,
		Tier:               plan.Tier,
		Status:             mapProviderStatus(state.Status, h.logger),
		CurrentPeriodStart: state.CurrentPeriodStart,
		CurrentPeriodEnd:   state.CurrentPeriodEnd,
		CancelAtPeriodEnd:  state.CancelAtPeriodEnd,
	}
	if state.CustomerID != "" {
		sub.ClerkCustomerID = &state.CustomerID
	}
	if state.SubscriptionID != "" {
		sub.ClerkSubscriptionID = &state.SubscriptionID
	}

	if err := h.subs.Upsert(r.Context(), sub); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("subscription refreshed from provider",
		slog.String("user_id", actor.ID),
		slog.String("plan_id", plan.ID),
		slog.String("status", string(sub.Status)),
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.view(sub)})
}

// mapProviderStatus translates a provider status string to the local enum.
// Unknown statuses are treated as active: the provider asserted a
// subscription exists, and degrading a paying user is the worse failure.
func mapProviderStatus(status string, logger *slog.Logger) types.SubscriptionStatus {
	switch types.SubscriptionStatus(status) {
	case types.SubStatusActive, types.SubStatusCancelled, types.SubStatusPastDue, types.SubStatusTrialing:
		return types.SubscriptionStatus(status)
	}
	if logger != nil {
		logger.Warn("unknown provider subscription status, treating as active",
			slog.String("status", status))
	}
	return types.SubStatusActive
}

// Usage handles GET /v1/usage.
func (h *SubscriptionHandler) Usage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.usage.Snapshot(r.Context(), actor.ID)})
}

// CompanionLimit handles GET /v1/usage/companion-limit.
func (h *SubscriptionHandler) CompanionLimit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.usage.CheckCompanionLimit(r.Context(), actor.ID)})
}

// SessionLimit handles GET /v1/usage/session-limit.
func (h *SubscriptionHandler) SessionLimit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.usage.CheckSessionLimit(r.Context(), actor.ID)})
}
