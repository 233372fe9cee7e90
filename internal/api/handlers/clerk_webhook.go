package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"learnhub/internal/billing"
	"learnhub/internal/core"
	"learnhub/internal/external"
	"learnhub/internal/types"
)

// maxWebhookBodySize caps webhook payloads well below the general request
// limit; provider events are small JSON documents.
const maxWebhookBodySize = 64 << 10 // 64 KB

// WebhookUserRepo is the user access the webhook ingestor needs.
type WebhookUserRepo interface {
	GetByClerkID(ctx context.Context, clerkID string) (*types.User, error)
	MergeFromProvider(ctx context.Context, clerkID, email, name string, imageURL *string) (bool, error)
}

// WebhookSubscriptionRepo is the subscription access the webhook ingestor needs.
type WebhookSubscriptionRepo interface {
	Upsert(ctx context.Context, s *types.Subscription) error
	Cancel(ctx context.Context, userID string) error
}

// ClerkWebhookHandler ingests provider events pushed to POST /v1/webhooks/clerk.
//
// Every delivery moves through received -> verified -> dispatched ->
// acknowledged|rejected; each transition is logged with the svix message id
// so a delivery can be traced end to end.
//
// Retry contract with the provider:
//   - subscription.updated failures return 500 so the provider redelivers.
//   - user.* and subscription.created/cancelled failures are logged and
//     acknowledged; redelivery would not change the outcome, and the
//     periodic refresh endpoint re-converges state anyway.
type ClerkWebhookHandler struct {
	signingSecret string
	verifier      external.WebhookVerifier
	users         WebhookUserRepo
	subs          WebhookSubscriptionRepo
	resolver      *billing.Resolver
	logger        *slog.Logger
	now           func() time.Time
}

// NewClerkWebhookHandler creates a new ClerkWebhookHandler. An empty
// signingSecret leaves the endpoint mounted but answering 501: a
// misconfigured deployment must fail loudly, never accept unverified events.
func NewClerkWebhookHandler(
	signingSecret string,
	verifier external.WebhookVerifier,
	users WebhookUserRepo,
	subs WebhookSubscriptionRepo,
	resolver *billing.Resolver,
	l *slog.Logger,
) *ClerkWebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ClerkWebhookHandler{
		signingSecret: signingSecret,
		verifier:      verifier,
		users:         users,
		subs:          subs,
		resolver:      resolver,
		logger:        l,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the handler's time source. Used by tests.
func (h *ClerkWebhookHandler) WithClock(now func() time.Time) *ClerkWebhookHandler {
	h.now = now
	return h
}

// RegisterRoutes mounts the webhook endpoint. This route is listed in the
// auth middleware's public paths: the svix signature is the authentication.
func (h *ClerkWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/clerk", h.Handle)
}

// webhookEnvelope is the outer shape shared by all provider events.
type webhookEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handle processes one webhook delivery.
func (h *ClerkWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	msgID := r.Header.Get(external.HeaderSvixID)
	log := h.logger.With(slog.String("svix_id", msgID))

	log.Info("webhook received")

	if h.signingSecret == "" {
		log.Error("webhook rejected: no signing secret configured")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookNotConfigured,
			"webhook ingestion is not configured",
			nil,
		))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn("webhook rejected: unreadable body", slog.String("error", err.Error()))
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"request body could not be read",
			err,
		))
		return
	}

	if err := h.verifier.Verify(payload, r.Header, h.signingSecret); err != nil {
		h.rejectSignature(w, r, log, err)
		return
	}
	log.Info("webhook verified")

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		log.Warn("webhook rejected: malformed envelope", slog.String("error", err.Error()))
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"malformed webhook payload",
			err,
		))
		return
	}

	log.Info("webhook dispatched", slog.String("event_type", envelope.Type))

	if err := h.dispatch(r.Context(), log, envelope); err != nil {
		log.Error("webhook processing failed",
			slog.String("event_type", envelope.Type),
			slog.String("error", err.Error()),
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalWebhook,
			"event processing failed",
			err,
		))
		return
	}

	log.Info("webhook acknowledged", slog.String("event_type", envelope.Type))
	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}

// rejectSignature maps verifier failures onto the 400-range webhook codes.
func (h *ClerkWebhookHandler) rejectSignature(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, external.ErrMissingWebhookHeaders):
		log.Warn("webhook rejected: missing signing headers")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookMissingHeaders,
			"missing svix signing headers",
			err,
		))
	default:
		log.Warn("webhook rejected: signature verification failed", slog.String("error", err.Error()))
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookInvalidSignature,
			"webhook signature could not be verified",
			err,
		))
	}
}

// dispatch routes a verified event to its processor. A non-nil return turns
// into a 500 so the provider retries; processors that prefer to swallow
// failures log them and return nil.
func (h *ClerkWebhookHandler) dispatch(ctx context.Context, log *slog.Logger, envelope webhookEnvelope) error {
	switch envelope.Type {
	case external.EventClerkUserCreated:
		// Accounts are provisioned lazily on first authenticated request;
		// nothing to do here beyond acknowledging.
		return nil

	case external.EventClerkUserUpdated:
		h.processUserUpdated(ctx, log, envelope.Data)
		return nil

	case external.EventClerkSubCreated:
		if err := h.processSubscriptionChange(ctx, log, envelope.Data); err != nil {
			log.Warn("subscription.created processing failed, acknowledging anyway",
				slog.String("error", err.Error()))
		}
		return nil

	case external.EventClerkSubUpdated:
		return h.processSubscriptionChange(ctx, log, envelope.Data)

	case external.EventClerkSubCancelled:
		h.processSubscriptionCancelled(ctx, log, envelope.Data)
		return nil

	default:
		log.Info("unhandled webhook event type acknowledged",
			slog.String("event_type", envelope.Type))
		return nil
	}
}

// clerkUserEvent is the subset of the provider's user object the ingestor
// reads from user.* events.
type clerkUserEvent struct {
	ID                    string  `json:"id"`
	FirstName             string  `json:"first_name"`
	LastName              string  `json:"last_name"`
	ImageURL              *string `json:"image_url"`
	PrimaryEmailAddressID string  `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

func (u *clerkUserEvent) primaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

func (u *clerkUserEvent) fullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// processUserUpdated merges provider profile changes into the local row.
// A user we have never provisioned is not an error.
func (h *ClerkWebhookHandler) processUserUpdated(ctx context.Context, log *slog.Logger, data json.RawMessage) {
	var evt clerkUserEvent
	if err := json.Unmarshal(data, &evt); err != nil || evt.ID == "" {
		log.Warn("user.updated event with unusable payload, skipping")
		return
	}

	merged, err := h.users.MergeFromProvider(ctx, evt.ID, evt.primaryEmail(), evt.fullName(), evt.ImageURL)
	if err != nil {
		log.Error("user.updated merge failed",
			slog.String("clerk_id", evt.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !merged {
		log.Info("user.updated for unprovisioned account, skipped",
			slog.String("clerk_id", evt.ID))
	}
}

// clerkSubscriptionEvent tolerates the several shapes provider billing
// payloads have shipped in: the user reference may be flat or nested under
// payer, and the plan may be a flat id, a nested object, or carried on
// subscription items.
type clerkSubscriptionEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	UserID string `json:"user_id"`
	Payer  *struct {
		UserID string `json:"user_id"`
	} `json:"payer"`

	PlanID string `json:"plan_id"`
	Plan   *struct {
		ID string `json:"id"`
	} `json:"plan"`

	Items []clerkSubscriptionItem `json:"items"`

	CurrentPeriodStart unixMillis `json:"current_period_start"`
	CurrentPeriodEnd   unixMillis `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
}

// unixMillis decodes a provider period timestamp leniently. These have
// shipped as numbers, numeric strings, and occasionally junk; anything
// non-numeric decodes to zero so only the timestamp degrades to "now"
// downstream, never the whole event.
type unixMillis int64

func (m *unixMillis) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*m = unixMillis(v)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*m = unixMillis(f)
		return nil
	}
	*m = 0
	return nil
}

type clerkSubscriptionItem struct {
	Status string `json:"status"`
	PlanID string `json:"plan_id"`
	Plan   *struct {
		ID string `json:"id"`
	} `json:"plan"`
}

func (i *clerkSubscriptionItem) planID() string {
	if i.PlanID != "" {
		return i.PlanID
	}
	if i.Plan != nil {
		return i.Plan.ID
	}
	return ""
}

// userRef extracts the provider user id from whichever field carries it.
func (e *clerkSubscriptionEvent) userRef() string {
	if e.UserID != "" {
		return e.UserID
	}
	if e.Payer != nil {
		return e.Payer.UserID
	}
	return ""
}

// externalPlanID extracts the provider plan id: flat field first, then the
// nested plan object, then subscription items preferring active or upcoming
// ones over the rest.
func (e *clerkSubscriptionEvent) externalPlanID() string {
	if e.PlanID != "" {
		return e.PlanID
	}
	if e.Plan != nil && e.Plan.ID != "" {
		return e.Plan.ID
	}
	for _, item := range e.Items {
		if item.Status == "active" || item.Status == "upcoming" {
			if id := item.planID(); id != "" {
				return id
			}
		}
	}
	for _, item := range e.Items {
		if id := item.planID(); id != "" {
			return id
		}
	}
	return ""
}

// processSubscriptionChange converges the local subscription row to the
// provider state carried by a subscription.created/updated event.
func (h *ClerkWebhookHandler) processSubscriptionChange(ctx context.Context, log *slog.Logger, data json.RawMessage) error {
	var evt clerkSubscriptionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "malformed subscription event", err)
	}

	clerkUserID := evt.userRef()
	if clerkUserID == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "subscription event without a user reference", nil)
	}

	externalPlan := evt.externalPlanID()
	plan, found := h.resolver.Resolve(externalPlan)
	if !found {
		return types.NewAppError(types.ErrCodeNotFoundPlan, "subscription event plan could not be resolved", nil)
	}

	user, err := h.users.GetByClerkID(ctx, clerkUserID)
	if err != nil {
		return err
	}

	sub := &types.Subscription{
		UserID:             user.ID,
		PlanID:             plan.ID,
		Tier:               plan.Tier,
		Status:             mapProviderStatus(evt.Status, log),
		CurrentPeriodStart: h.msToTime(int64(evt.CurrentPeriodStart)),
		CurrentPeriodEnd:   h.msToTime(int64(evt.CurrentPeriodEnd)),
		CancelAtPeriodEnd:  evt.CancelAtPeriodEnd,
	}
	if evt.ID != "" {
		sub.ClerkSubscriptionID = &evt.ID
	}

	if err := h.subs.Upsert(ctx, sub); err != nil {
		return err
	}

	log.Info("subscription converged from webhook",
		slog.String("user_id", user.ID),
		slog.String("plan_id", plan.ID),
		slog.String("external_plan_id", externalPlan),
	)
	return nil
}

// processSubscriptionCancelled soft-cancels the local row. A user or
// subscription we do not know about is logged and swallowed.
func (h *ClerkWebhookHandler) processSubscriptionCancelled(ctx context.Context, log *slog.Logger, data json.RawMessage) {
	var evt clerkSubscriptionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		log.Warn("subscription.cancelled event with unusable payload, skipping")
		return
	}

	clerkUserID := evt.userRef()
	if clerkUserID == "" {
		log.Warn("subscription.cancelled event without a user reference, skipping")
		return
	}

	user, err := h.users.GetByClerkID(ctx, clerkUserID)
	if err != nil {
		log.Warn("subscription.cancelled for unknown user, skipping",
			slog.String("clerk_id", clerkUserID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := h.subs.Cancel(ctx, user.ID); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundSubscription {
			log.Info("subscription.cancelled with no active local row, skipping",
				slog.String("user_id", user.ID))
			return
		}
		log.Error("subscription.cancelled processing failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// msToTime converts a provider Unix-millisecond timestamp to UTC time.
// Nonpositive or implausible values (before 2000 or more than a century
// ahead) clamp to now: a broken period boundary must never poison the row.
func (h *ClerkWebhookHandler) msToTime(ms int64) time.Time {
	now := h.now()
	if ms <= 0 {
		return now
	}
	t := time.UnixMilli(ms).UTC()
	if t.Year() < 2000 || t.After(now.AddDate(100, 0, 0)) {
		return now
	}
	return t
}
