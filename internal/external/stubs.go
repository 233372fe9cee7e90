package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"learnhub/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stub implementations allow the application to boot in local/test mode
// without requiring real external service credentials. They log all
// actions and return predictable, safe default values. Wiring them is an
// explicit configuration decision (IS_TEST_MODE); they are never a silent
// fallback in the production path.
// ---------------------------------------------------------------------------

// StubAssistantService implements AssistantService by logging calls and
// returning test-safe defaults. Used when config.IsTestMode is true.
type StubAssistantService struct {
	logger *slog.Logger
}

// NewStubAssistantService creates a new StubAssistantService.
func NewStubAssistantService(logger *slog.Logger) *StubAssistantService {
	return &StubAssistantService{logger: logger}
}

func (s *StubAssistantService) CreateAssistant(ctx context.Context, companion *types.Companion) (string, error) {
	s.logger.InfoContext(ctx, "stub: CreateAssistant called",
		"companion_id", companion.ID,
		"subject", companion.Subject,
	)
	return fmt.Sprintf("asst_stub_%s", companion.ID), nil
}

func (s *StubAssistantService) DeleteAssistant(ctx context.Context, assistantID string) error {
	s.logger.InfoContext(ctx, "stub: DeleteAssistant called",
		"assistant_id", assistantID,
	)
	return nil
}

func (s *StubAssistantService) CreateWebCall(ctx context.Context, assistantID string, overrides CallOverrides) (*CallInfo, error) {
	s.logger.InfoContext(ctx, "stub: CreateWebCall called",
		"assistant_id", assistantID,
		"variable_count", len(overrides.VariableValues),
	)
	return &CallInfo{
		ID:         fmt.Sprintf("call_stub_%s", assistantID),
		Status:     "queued",
		WebCallURL: "https://call.stub.local/session",
	}, nil
}

func (s *StubAssistantService) GetCall(ctx context.Context, callID string) (*CallInfo, error) {
	s.logger.InfoContext(ctx, "stub: GetCall called",
		"call_id", callID,
	)
	return &CallInfo{
		ID:              callID,
		Status:          "ended",
		Transcript:      "stub transcript",
		DurationSeconds: 300,
	}, nil
}

// StubAuthenticator implements Authenticator by accepting any non-empty token
// and returning a fixed test actor. Used when config.IsTestMode is true.
type StubAuthenticator struct {
	logger *slog.Logger
}

// NewStubAuthenticator creates a new StubAuthenticator.
func NewStubAuthenticator(logger *slog.Logger) *StubAuthenticator {
	return &StubAuthenticator{logger: logger}
}

func (s *StubAuthenticator) VerifyToken(ctx context.Context, token string) (*types.Actor, error) {
	if token == "" {
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"no session token provided",
			nil,
		)
	}
	s.logger.InfoContext(ctx, "stub: VerifyToken called")
	return &types.Actor{
		ClerkID: "user_stub_12345",
		Email:   "stub@example.com",
		Name:    "Stub User",
	}, nil
}

// StubBillingProvider implements BillingProvider by logging calls and
// reporting no vendor-side subscription. Used when config.IsTestMode is true.
type StubBillingProvider struct {
	logger *slog.Logger
}

// NewStubBillingProvider creates a new StubBillingProvider.
func NewStubBillingProvider(logger *slog.Logger) *StubBillingProvider {
	return &StubBillingProvider{logger: logger}
}

func (s *StubBillingProvider) GetBillingState(ctx context.Context, providerUserID string) (*BillingState, error) {
	s.logger.InfoContext(ctx, "stub: GetBillingState called",
		"provider_user_id", providerUserID,
	)
	return nil, nil
}

func (s *StubBillingProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	s.logger.InfoContext(ctx, "stub: CancelSubscription called",
		"subscription_id", providerSubscriptionID,
	)
	return nil
}

// StubWebhookVerifier implements WebhookVerifier by always succeeding.
// Used when config.IsTestMode is true.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, headers http.Header, secret string) error {
	s.logger.Info("stub: webhook Verify called",
		"payload_len", len(payload),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var _ AssistantService = (*StubAssistantService)(nil)
var _ Authenticator = (*StubAuthenticator)(nil)
var _ BillingProvider = (*StubBillingProvider)(nil)
var _ WebhookVerifier = (*StubWebhookVerifier)(nil)
