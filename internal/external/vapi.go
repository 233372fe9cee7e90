package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"learnhub/internal/types"
)

// vapiAPIBase is the default Vapi API base URL.
// Overridable in tests via VapiClientConfig.BaseURL.
const vapiAPIBase = "https://api.vapi.ai"

// VapiClientConfig holds the configuration for creating a VapiClient.
type VapiClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to vapiAPIBase
	Logger    *slog.Logger
}

// VapiClient implements AssistantService by making direct HTTP calls to the
// Vapi REST API through BaseClient. This routes all requests through the
// platform's resilience infrastructure (circuit breaker, retries, error
// mapping) and makes testing with httptest straightforward.
type VapiClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewVapiClient creates a new VapiClient.
func NewVapiClient(httpClient *http.Client, cfg VapiClientConfig) *VapiClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = vapiAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"vapi",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"LearnHub/1.0",
		WithSleepFunc(time.Sleep),
	)

	return &VapiClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// NewVapiClientWithBase creates a VapiClient with a pre-configured BaseClient.
// This is useful for testing when you want to control the BaseClient configuration.
func NewVapiClientWithBase(base *BaseClient, cfg VapiClientConfig) *VapiClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = vapiAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &VapiClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// AssistantService Implementation
// ---------------------------------------------------------------------------

// CreateAssistant provisions a Vapi assistant for the companion. The system
// prompt and first message are rendered from the companion's subject, topic,
// and teaching style; the voice maps to the provider's catalog by gender.
func (c *VapiClient) CreateAssistant(ctx context.Context, companion *types.Companion) (string, error) {
	body := vapiAssistantRequest{
		Name:         companion.Name,
		FirstMessage: assistantFirstMessage(companion),
		Voice: vapiVoice{
			Provider: "11labs",
			VoiceID:  voiceIDFor(companion.Voice),
		},
		Model: vapiModel{
			Provider: "openai",
			Model:    "gpt-4",
			Messages: []vapiMessage{
				{Role: "system", Content: assistantInstructions(companion)},
			},
		},
		Transcriber: vapiTranscriber{
			Provider: "deepgram",
			Model:    "nova-3",
			Language: "en",
		},
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/assistant", body)
	if err != nil {
		return "", c.wrapVapiError("CreateAssistant", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.handleErrorResponse(resp, "CreateAssistant")
	}

	var assistant vapiAssistant
	if err := json.NewDecoder(resp.Body).Decode(&assistant); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Vapi assistant creation response",
			err,
		)
	}

	return assistant.ID, nil
}

// DeleteAssistant removes the assistant. A 404 from the provider is treated
// as success so cleanup stays idempotent.
func (c *VapiClient) DeleteAssistant(ctx context.Context, assistantID string) error {
	resp, err := c.doJSON(ctx, http.MethodDelete, "/assistant/"+assistantID, nil)
	if err != nil {
		return c.wrapVapiError("DeleteAssistant", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.InfoContext(ctx, "assistant already deleted on provider",
			"assistant_id", assistantID,
		)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp, "DeleteAssistant")
	}

	return nil
}

// CreateWebCall starts a browser-based call against the assistant.
func (c *VapiClient) CreateWebCall(ctx context.Context, assistantID string, overrides CallOverrides) (*CallInfo, error) {
	body := vapiCallRequest{
		AssistantID: assistantID,
	}
	if len(overrides.VariableValues) > 0 {
		body.AssistantOverrides = &vapiAssistantOverrides{
			VariableValues: overrides.VariableValues,
		}
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/call/web", body)
	if err != nil {
		return nil, c.wrapVapiError("CreateWebCall", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.handleErrorResponse(resp, "CreateWebCall")
	}

	var call vapiCall
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Vapi call creation response",
			err,
		)
	}

	return mapVapiCall(&call), nil
}

// GetCall retrieves the current state of a call.
func (c *VapiClient) GetCall(ctx context.Context, callID string) (*CallInfo, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/call/"+callID, nil)
	if err != nil {
		return nil, c.wrapVapiError("GetCall", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundSession,
			fmt.Sprintf("call %s not found on provider", callID),
			nil,
		)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.handleErrorResponse(resp, "GetCall")
	}

	var call vapiCall
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Vapi call response",
			err,
		)
	}

	return mapVapiCall(&call), nil
}

// ---------------------------------------------------------------------------
// Assistant Templates
// ---------------------------------------------------------------------------

// assistantInstructions renders the system prompt for a companion. The
// {{topic}} placeholder is resolved per-call through variable overrides.
func assistantInstructions(companion *types.Companion) string {
	tone := "formal and professional"
	if companion.Style == types.StyleCasual {
		tone = "casual and friendly"
	}

	return fmt.Sprintf(
		"You are %s, a highly knowledgeable tutor teaching a real-time voice session about %s. "+
			"The session focuses on the topic: {{topic}}. "+
			"Keep your tone %s. "+
			"Guide the student through the material step by step, check their understanding regularly, "+
			"and keep responses short, as in a natural voice conversation. "+
			"Each session is planned for about %d minutes; pace the material accordingly. "+
			"Never mention that you are an AI unless asked directly.",
		companion.Name, companion.Subject, tone, companion.Duration,
	)
}

// assistantFirstMessage renders the greeting the assistant opens each call with.
func assistantFirstMessage(companion *types.Companion) string {
	return fmt.Sprintf(
		"Hello! I'm %s, your %s tutor. Today we'll be diving into {{topic}}. Ready to get started?",
		companion.Name, companion.Subject,
	)
}

// voiceIDFor maps the domain voice gender to the provider's voice catalog.
func voiceIDFor(voice types.VoiceGender) string {
	if voice == types.VoiceMale {
		return "adam"
	}
	return "sarah"
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doJSON performs an authenticated request to the Vapi API with an optional
// JSON body.
func (c *VapiClient) doJSON(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to encode Vapi request body",
				err,
			)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	return c.base.Do(req)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// vapiErrorResponse represents the JSON error body returned by the Vapi API.
type vapiErrorResponse struct {
	Message    any    `json:"message"` // string or []string
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

func (e *vapiErrorResponse) text() string {
	switch m := e.Message.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return e.Error
	}
}

// handleErrorResponse reads a Vapi error response and maps it to a types.AppError.
func (c *VapiClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamVoice,
			fmt.Sprintf("%s: Vapi returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var vapiErr vapiErrorResponse
	if jsonErr := json.Unmarshal(body, &vapiErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamVoice,
			fmt.Sprintf("%s: Vapi returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Vapi rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Vapi server error: %s", operation, vapiErr.text()),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamVoice,
			fmt.Sprintf("%s: Vapi error (%d): %s", operation, resp.StatusCode, vapiErr.text()),
			nil,
		)
	}
}

// wrapVapiError wraps a BaseClient transport error with context.
func (c *VapiClient) wrapVapiError(operation string, err error) error {
	// AppErrors from BaseClient (circuit breaker, retries exhausted) already
	// carry the right error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamVoice,
		fmt.Sprintf("%s: Vapi request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Vapi Request/Response Types (for JSON serialization)
// ---------------------------------------------------------------------------

type vapiAssistantRequest struct {
	Name         string          `json:"name"`
	FirstMessage string          `json:"firstMessage"`
	Voice        vapiVoice       `json:"voice"`
	Model        vapiModel       `json:"model"`
	Transcriber  vapiTranscriber `json:"transcriber"`
}

type vapiVoice struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

type vapiModel struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Messages []vapiMessage `json:"messages"`
}

type vapiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type vapiTranscriber struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type vapiAssistant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type vapiCallRequest struct {
	AssistantID        string                  `json:"assistantId"`
	AssistantOverrides *vapiAssistantOverrides `json:"assistantOverrides,omitempty"`
}

type vapiAssistantOverrides struct {
	VariableValues map[string]string `json:"variableValues,omitempty"`
}

type vapiCall struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	WebCallURL string     `json:"webCallUrl"`
	Transcript string     `json:"transcript"`
	StartedAt  *time.Time `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt"`
}

// ---------------------------------------------------------------------------
// Mapping Functions
// ---------------------------------------------------------------------------

// mapVapiCall converts a Vapi call to the provider-neutral CallInfo.
func mapVapiCall(call *vapiCall) *CallInfo {
	info := &CallInfo{
		ID:         call.ID,
		Status:     call.Status,
		WebCallURL: call.WebCallURL,
		Transcript: call.Transcript,
		StartedAt:  call.StartedAt,
		EndedAt:    call.EndedAt,
	}
	if call.StartedAt != nil && call.EndedAt != nil {
		info.DurationSeconds = int(call.EndedAt.Sub(*call.StartedAt).Seconds())
	}
	return info
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var _ AssistantService = (*VapiClient)(nil)
