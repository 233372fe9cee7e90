package external

import (
	"context"
	"net/http"
	"time"

	"learnhub/internal/types"
)

// ---------------------------------------------------------------------------
// Voice Pipeline Integration (Vapi)
// ---------------------------------------------------------------------------

// AssistantService abstracts interactions with the voice tutoring provider (Vapi).
// Implementations translate between domain types and vendor-specific APIs.
type AssistantService interface {
	// CreateAssistant provisions a voice assistant configured for the given
	// companion (subject, topic, teaching style, voice). Returns the provider's
	// assistant ID for later call creation and cleanup.
	CreateAssistant(ctx context.Context, companion *types.Companion) (assistantID string, err error)

	// DeleteAssistant removes a previously provisioned assistant. Deleting an
	// assistant that no longer exists is not an error.
	DeleteAssistant(ctx context.Context, assistantID string) error

	// CreateWebCall starts a browser-based voice call against the assistant.
	// Overrides carry per-session template variables (user name, topic).
	CreateWebCall(ctx context.Context, assistantID string, overrides CallOverrides) (*CallInfo, error)

	// GetCall retrieves the current state of a call, including the transcript
	// and duration once the call has ended.
	GetCall(ctx context.Context, callID string) (*CallInfo, error)
}

// CallOverrides carries per-call template variable values injected into the
// assistant's instruction templates.
type CallOverrides struct {
	VariableValues map[string]string
}

// CallInfo is the provider-neutral view of a voice call.
type CallInfo struct {
	ID              string
	Status          string
	WebCallURL      string
	Transcript      string
	DurationSeconds int
	StartedAt       *time.Time
	EndedAt         *time.Time
}

// ---------------------------------------------------------------------------
// Identity & Billing Integration (Clerk)
// ---------------------------------------------------------------------------

// Authenticator resolves a bearer session token to the authenticated actor.
type Authenticator interface {
	// VerifyToken validates the session token and returns the actor it belongs
	// to. Returns an AppError with an auth_ code on invalid or expired tokens.
	VerifyToken(ctx context.Context, token string) (*types.Actor, error)
}

// BillingProvider abstracts the subscription state held by the billing vendor.
type BillingProvider interface {
	// GetBillingState fetches the vendor-side subscription snapshot for the
	// given provider user ID. Returns (nil, nil) when the user has no
	// subscription recorded with the vendor.
	GetBillingState(ctx context.Context, providerUserID string) (*BillingState, error)

	// CancelSubscription cancels the subscription on the vendor side.
	// Cancelling a subscription the vendor no longer knows is not an error.
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error
}

// BillingState is the provider-neutral view of a vendor subscription.
type BillingState struct {
	PlanID             string
	Status             string
	CustomerID         string
	SubscriptionID     string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// WebhookVerifier abstracts billing webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the signing headers and the
	// shared signing secret. Returns nil on success; ErrMissingWebhookHeaders
	// or ErrInvalidWebhookSignature on failure.
	Verify(payload []byte, headers http.Header, secret string) error
}

// Clerk event type constants prevent magic strings in webhook handlers.
const (
	EventClerkUserCreated  = "user.created"
	EventClerkUserUpdated  = "user.updated"
	EventClerkSubCreated   = "subscription.created"
	EventClerkSubUpdated   = "subscription.updated"
	EventClerkSubCancelled = "subscription.cancelled"
)
