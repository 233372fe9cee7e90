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

// clerkAPIBase is the default Clerk Backend API base URL.
// Overridable in tests via ClerkClientConfig.BaseURL.
const clerkAPIBase = "https://api.clerk.com"

// ClerkClientConfig holds the configuration for creating a ClerkClient.
type ClerkClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to clerkAPIBase
	Logger    *slog.Logger
}

// ClerkClient implements Authenticator and BillingProvider against the Clerk
// Backend API through BaseClient. Session tokens are verified server-side and
// billing state is read from the user's vendor-managed subscription metadata.
type ClerkClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewClerkClient creates a new ClerkClient.
func NewClerkClient(httpClient *http.Client, cfg ClerkClientConfig) *ClerkClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = clerkAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"clerk",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"LearnHub/1.0",
		WithSleepFunc(time.Sleep),
	)

	return &ClerkClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// NewClerkClientWithBase creates a ClerkClient with a pre-configured BaseClient.
// This is useful for testing when you want to control the BaseClient configuration.
func NewClerkClientWithBase(base *BaseClient, cfg ClerkClientConfig) *ClerkClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = clerkAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ClerkClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// Authenticator Implementation
// ---------------------------------------------------------------------------

// VerifyToken verifies a session token against Clerk and resolves the actor
// behind it. Verification happens in two steps:
//  1. POST /v1/clients/verify with the token; Clerk returns the client and
//     its sessions when the token is valid
//  2. GET /v1/users/{id} to resolve the session user's email and name
func (c *ClerkClient) VerifyToken(ctx context.Context, token string) (*types.Actor, error) {
	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to encode token verification request",
			err,
		)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/clients/verify", payload)
	if err != nil {
		return nil, c.wrapClerkError("VerifyToken", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		io.Copy(io.Discard, resp.Body)
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"session token rejected by identity provider",
			nil,
		)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, c.handleErrorResponse(resp, "VerifyToken")
	}

	var client clerkClient
	if err := json.NewDecoder(resp.Body).Decode(&client); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode token verification response",
			err,
		)
	}

	userID := client.activeUserID()
	if userID == "" {
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenExpired,
			"session token has no active session",
			nil,
		)
	}

	user, err := c.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &types.Actor{
		ClerkID: user.ID,
		Email:   user.primaryEmail(),
		Name:    user.fullName(),
	}, nil
}

// ---------------------------------------------------------------------------
// BillingProvider Implementation
// ---------------------------------------------------------------------------

// GetBillingState reads the subscription snapshot the billing vendor keeps in
// the user's public metadata. Returns (nil, nil) when no subscription is
// recorded there.
func (c *ClerkClient) GetBillingState(ctx context.Context, providerUserID string) (*BillingState, error) {
	user, err := c.getUser(ctx, providerUserID)
	if err != nil {
		return nil, err
	}

	sub := user.PublicMetadata.Subscription
	if sub == nil || sub.PlanID == "" {
		return nil, nil
	}

	return &BillingState{
		PlanID:             sub.PlanID,
		Status:             sub.Status,
		CustomerID:         sub.CustomerID,
		SubscriptionID:     sub.SubscriptionID,
		CurrentPeriodStart: msToTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   msToTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}, nil
}

// CancelSubscription cancels the subscription on the vendor side. A 404 is
// treated as success so retries stay idempotent.
func (c *ClerkClient) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	path := "/v1/commerce/subscriptions/" + providerSubscriptionID
	resp, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return c.wrapClerkError("CancelSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.InfoContext(ctx, "subscription already gone on billing provider",
			"subscription_id", providerSubscriptionID,
		)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp, "CancelSubscription")
	}

	return nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

func (c *ClerkClient) getUser(ctx context.Context, userID string) (*clerkUser, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/users/"+userID, nil)
	if err != nil {
		return nil, c.wrapClerkError("getUser", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(
			types.ErrCodeAuthUserNotFound,
			fmt.Sprintf("user %s not found at identity provider", userID),
			nil,
		)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.handleErrorResponse(resp, "getUser")
	}

	var user clerkUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode user response",
			err,
		)
	}

	return &user, nil
}

// doRequest performs an authenticated request to the Clerk API with an
// optional JSON body.
func (c *ClerkClient) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
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

// clerkErrorResponse represents the JSON error body returned by the Clerk API.
type clerkErrorResponse struct {
	Errors []clerkErrorBody `json:"errors"`
}

type clerkErrorBody struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	LongMessage string `json:"long_message"`
}

func (e *clerkErrorResponse) text() string {
	if len(e.Errors) == 0 {
		return "unknown error"
	}
	return e.Errors[0].Message
}

// handleErrorResponse reads a Clerk error response and maps it to a types.AppError.
func (c *ClerkClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("%s: Clerk returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var clerkErr clerkErrorResponse
	if jsonErr := json.Unmarshal(body, &clerkErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("%s: Clerk returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Clerk rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Clerk server error: %s", operation, clerkErr.text()),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("%s: Clerk error (%d): %s", operation, resp.StatusCode, clerkErr.text()),
			nil,
		)
	}
}

// wrapClerkError wraps a BaseClient transport error with context.
func (c *ClerkClient) wrapClerkError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamBilling,
		fmt.Sprintf("%s: Clerk request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Clerk Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type clerkClient struct {
	ID                  string         `json:"id"`
	LastActiveSessionID string         `json:"last_active_session_id"`
	Sessions            []clerkSession `json:"sessions"`
}

// activeUserID returns the user behind the client's last active session,
// falling back to the first active session.
func (c *clerkClient) activeUserID() string {
	for _, s := range c.Sessions {
		if s.ID == c.LastActiveSessionID {
			return s.UserID
		}
	}
	for _, s := range c.Sessions {
		if s.Status == "active" {
			return s.UserID
		}
	}
	return ""
}

type clerkSession struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

type clerkUser struct {
	ID                    string              `json:"id"`
	FirstName             string              `json:"first_name"`
	LastName              string              `json:"last_name"`
	ImageURL              string              `json:"image_url"`
	PrimaryEmailAddressID string              `json:"primary_email_address_id"`
	EmailAddresses        []clerkEmailAddress `json:"email_addresses"`
	PublicMetadata        clerkPublicMetadata `json:"public_metadata"`
}

func (u *clerkUser) primaryEmail() string {
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

func (u *clerkUser) fullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type clerkEmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type clerkPublicMetadata struct {
	Subscription *clerkSubscriptionMeta `json:"subscription"`
}

type clerkSubscriptionMeta struct {
	PlanID             string `json:"plan_id"`
	Status             string `json:"status"`
	CustomerID         string `json:"customer_id"`
	SubscriptionID     string `json:"subscription_id"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
}

// msToTime converts a Unix-milliseconds timestamp to UTC time. Nonpositive or
// implausible values (before 2000 or more than a century ahead) collapse to
// now rather than propagating a corrupt time.
func msToTime(ms int64) time.Time {
	now := time.Now().UTC()
	if ms <= 0 {
		return now
	}
	t := time.UnixMilli(ms).UTC()
	if t.Year() < 2000 || t.After(now.AddDate(100, 0, 0)) {
		return now
	}
	return t
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var _ Authenticator = (*ClerkClient)(nil)
var _ BillingProvider = (*ClerkClient)(nil)
