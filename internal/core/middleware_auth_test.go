package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"learnhub/internal/types"
)

// mockAuthenticator resolves a fixed token to a fixed actor.
type mockAuthenticator struct {
	actor *types.Actor
	err   error

	gotToken string
}

func (m *mockAuthenticator) VerifyToken(ctx context.Context, token string) (*types.Actor, error) {
	m.gotToken = token
	if m.err != nil {
		return nil, m.err
	}
	return m.actor, nil
}

// mockProvisioner records provisioning calls and returns a fixed user.
type mockProvisioner struct {
	user *types.User
	err  error

	calls int
}

func (m *mockProvisioner) Provision(ctx context.Context, clerkID, email, name string, imageURL *string) (*types.User, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

// captureHandler records the actor observed by the downstream handler.
type captureHandler struct {
	called bool
	actor  types.Actor
	hasOne bool
}

func (c *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.called = true
	c.actor, c.hasOne = types.GetActor(r.Context())
	w.WriteHeader(http.StatusOK)
}

func authTestServer(t *testing.T, auth Authenticator, users UserProvisioner) *Server {
	t.Helper()
	s := newChassisServer(t)
	s.Authenticator = auth
	s.Users = users
	return s
}

func TestAuthMiddleware_Success(t *testing.T) {
	auth := &mockAuthenticator{actor: &types.Actor{
		ClerkID: "user_2abc",
		Email:   "ada@example.com",
		Name:    "Ada Lovelace",
	}}
	users := &mockProvisioner{user: &types.User{ID: "u-local-1", ClerkID: "user_2abc"}}
	s := authTestServer(t, auth, users)

	capture := &captureHandler{}
	rec := httptest.NewRecorder()
	r := newTestRequest(http.MethodGet, "/v1/me", "")
	r.Header.Set("Authorization", "Bearer sess_token_xyz")

	s.AuthMiddleware(capture).ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if auth.gotToken != "sess_token_xyz" {
		t.Errorf("expected token forwarded to authenticator, got %q", auth.gotToken)
	}
	if users.calls != 1 {
		t.Errorf("expected exactly one provisioning call, got %d", users.calls)
	}
	if !capture.hasOne {
		t.Fatal("expected actor in downstream context")
	}
	if capture.actor.ID != "u-local-1" {
		t.Errorf("expected local user ID on actor, got %q", capture.actor.ID)
	}
	if capture.actor.ClerkID != "user_2abc" {
		t.Errorf("expected clerk ID on actor, got %q", capture.actor.ClerkID)
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	s := authTestServer(t, &mockAuthenticator{}, nil)

	rec := httptest.NewRecorder()
	s.AuthMiddleware(&captureHandler{}).ServeHTTP(rec, newTestRequest(http.MethodGet, "/v1/me", ""))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	resp := decodeErrorResponse(t, rec)
	if resp.Error.Code != string(types.ErrCodeAuthTokenMissing) {
		t.Errorf("expected auth_token_missing, got %s", resp.Error.Code)
	}
}

func TestAuthMiddleware_BadScheme(t *testing.T) {
	s := authTestServer(t, &mockAuthenticator{}, nil)

	rec := httptest.NewRecorder()
	r := newTestRequest(http.MethodGet, "/v1/me", "")
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	s.AuthMiddleware(&captureHandler{}).ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	resp := decodeErrorResponse(t, rec)
	if resp.Error.Code != string(types.ErrCodeAuthTokenMissing) {
		t.Errorf("expected auth_token_missing for non-Bearer scheme, got %s", resp.Error.Code)
	}
}

func TestAuthMiddleware_ErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode types.ErrorCode
		wantHTTP int
	}{
		{
			name:     "invalid token",
			err:      types.NewAppError(types.ErrCodeAuthTokenInvalid, "bad token", nil),
			wantCode: types.ErrCodeAuthTokenInvalid,
			wantHTTP: http.StatusUnauthorized,
		},
		{
			name:     "expired session",
			err:      types.NewAppError(types.ErrCodeAuthTokenExpired, "stale", nil),
			wantCode: types.ErrCodeAuthTokenExpired,
			wantHTTP: http.StatusUnauthorized,
		},
		{
			name:     "user deleted at provider",
			err:      types.NewAppError(types.ErrCodeAuthUserNotFound, "gone", nil),
			wantCode: types.ErrCodeAuthUserNotFound,
			wantHTTP: http.StatusUnauthorized,
		},
		{
			name:     "provider outage surfaces as upstream",
			err:      types.NewAppError(types.ErrCodeUpstreamUnavailable, "clerk down", nil),
			wantCode: types.ErrCodeUpstreamUnavailable,
			wantHTTP: http.StatusBadGateway,
		},
		{
			name:     "unexpected error collapses to invalid",
			err:      context.DeadlineExceeded,
			wantCode: types.ErrCodeAuthTokenInvalid,
			wantHTTP: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := authTestServer(t, &mockAuthenticator{err: tt.err}, nil)

			rec := httptest.NewRecorder()
			r := newTestRequest(http.MethodGet, "/v1/me", "")
			r.Header.Set("Authorization", "Bearer whatever")

			s.AuthMiddleware(&captureHandler{}).ServeHTTP(rec, r)

			if rec.Code != tt.wantHTTP {
				t.Fatalf("expected %d, got %d", tt.wantHTTP, rec.Code)
			}
			resp := decodeErrorResponse(t, rec)
			if resp.Error.Code != string(tt.wantCode) {
				t.Errorf("expected %s, got %s", tt.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestAuthMiddleware_ProvisioningFailure(t *testing.T) {
	auth := &mockAuthenticator{actor: &types.Actor{ClerkID: "user_2abc"}}
	users := &mockProvisioner{err: context.DeadlineExceeded}
	s := authTestServer(t, auth, users)

	rec := httptest.NewRecorder()
	r := newTestRequest(http.MethodGet, "/v1/me", "")
	r.Header.Set("Authorization", "Bearer tok")

	capture := &captureHandler{}
	s.AuthMiddleware(capture).ServeHTTP(rec, r)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on provisioning failure, got %d", rec.Code)
	}
	if capture.called {
		t.Error("handler must not run when provisioning fails")
	}
	resp := decodeErrorResponse(t, rec)
	if resp.Error.Code != string(types.ErrCodeInternalDB) {
		t.Errorf("expected internal_database_error, got %s", resp.Error.Code)
	}
}

func TestAuthMiddleware_PublicPaths(t *testing.T) {
	for _, path := range []string{"/health", "/v1/webhooks/clerk"} {
		t.Run(path, func(t *testing.T) {
			s := authTestServer(t, &mockAuthenticator{err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "should not run", nil)}, nil)

			capture := &captureHandler{}
			rec := httptest.NewRecorder()
			s.AuthMiddleware(capture).ServeHTTP(rec, newTestRequest(http.MethodPost, path, ""))

			if !capture.called {
				t.Errorf("expected %s to bypass authentication", path)
			}
		})
	}
}

func TestAuthMiddleware_NilAuthenticatorPassesThrough(t *testing.T) {
	s := newChassisServer(t)

	capture := &captureHandler{}
	rec := httptest.NewRecorder()
	s.AuthMiddleware(capture).ServeHTTP(rec, newTestRequest(http.MethodGet, "/v1/me", ""))

	if !capture.called {
		t.Error("expected pass-through when no authenticator configured")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"surrounding whitespace", "Bearer   abc123  ", "abc123"},
		{"wrong scheme", "Basic abc123", ""},
		{"empty", "", ""},
		{"scheme only", "Bearer ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBearerToken(tt.header); got != tt.want {
				t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
