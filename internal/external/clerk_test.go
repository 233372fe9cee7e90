package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"learnhub/internal/types"
)

func newTestClerkClient(serverURL string) *ClerkClient {
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"clerk-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"LearnHub-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewClerkClientWithBase(base, ClerkClientConfig{
		SecretKey: "sk_test_clerk",
		BaseURL:   serverURL,
	})
}

const clerkUserJSON = `{
	"id": "user_2abc",
	"first_name": "Ada",
	"last_name": "Lovelace",
	"image_url": "https://img.clerk.com/ada.png",
	"primary_email_address_id": "idn_1",
	"email_addresses": [
		{"id": "idn_2", "email_address": "ada.secondary@example.com"},
		{"id": "idn_1", "email_address": "ada@example.com"}
	],
	"public_metadata": {}
}`

func TestClerkVerifyToken_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/clients/verify":
			if r.Header.Get("Authorization") != "Bearer sk_test_clerk" {
				t.Errorf("unexpected Authorization header: %s", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{
				"id": "client_1",
				"last_active_session_id": "sess_2",
				"sessions": [
					{"id": "sess_1", "status": "ended", "user_id": "user_old"},
					{"id": "sess_2", "status": "active", "user_id": "user_2abc"}
				]
			}`))
		case "/v1/users/user_2abc":
			w.Write([]byte(clerkUserJSON))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	actor, err := newTestClerkClient(server.URL).VerifyToken(context.Background(), "sess_token")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if actor.ClerkID != "user_2abc" {
		t.Errorf("expected clerk ID 'user_2abc', got '%s'", actor.ClerkID)
	}
	if actor.Email != "ada@example.com" {
		t.Errorf("expected primary email 'ada@example.com', got '%s'", actor.Email)
	}
	if actor.Name != "Ada Lovelace" {
		t.Errorf("expected name 'Ada Lovelace', got '%s'", actor.Name)
	}
}

func TestClerkVerifyToken_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"code":"client_not_found","message":"Client not found"}]}`))
	}))
	defer server.Close()

	_, err := newTestClerkClient(server.URL).VerifyToken(context.Background(), "bad_token")

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeAuthTokenInvalid {
		t.Errorf("expected %s, got %s", types.ErrCodeAuthTokenInvalid, appErr.Code)
	}
}

func TestClerkVerifyToken_NoActiveSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"client_1","last_active_session_id":"","sessions":[{"id":"sess_1","status":"ended","user_id":"user_1"}]}`))
	}))
	defer server.Close()

	_, err := newTestClerkClient(server.URL).VerifyToken(context.Background(), "stale_token")

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeAuthTokenExpired {
		t.Errorf("expected %s, got %s", types.ErrCodeAuthTokenExpired, appErr.Code)
	}
}

func TestClerkGetBillingState_WithSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users/user_2abc" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"id": "user_2abc",
			"email_addresses": [],
			"public_metadata": {
				"subscription": {
					"plan_id": "cplan_core_monthly",
					"status": "active",
					"customer_id": "cus_1",
					"subscription_id": "sub_1",
					"current_period_start": 1773792000000,
					"current_period_end": 1776470400000,
					"cancel_at_period_end": false
				}
			}
		}`))
	}))
	defer server.Close()

	state, err := newTestClerkClient(server.URL).GetBillingState(context.Background(), "user_2abc")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if state == nil {
		t.Fatal("expected a billing state, got nil")
	}

	if state.PlanID != "cplan_core_monthly" {
		t.Errorf("expected plan 'cplan_core_monthly', got '%s'", state.PlanID)
	}
	if state.Status != "active" || state.SubscriptionID != "sub_1" {
		t.Errorf("unexpected state: %+v", state)
	}
	if state.CurrentPeriodStart != time.UnixMilli(1773792000000).UTC() {
		t.Errorf("unexpected period start: %v", state.CurrentPeriodStart)
	}
}

func TestClerkGetBillingState_NoSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(clerkUserJSON))
	}))
	defer server.Close()

	state, err := newTestClerkClient(server.URL).GetBillingState(context.Background(), "user_2abc")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil state for user without subscription, got %+v", state)
	}
}

func TestClerkGetBillingState_UserNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"code":"resource_not_found","message":"User not found"}]}`))
	}))
	defer server.Close()

	_, err := newTestClerkClient(server.URL).GetBillingState(context.Background(), "user_missing")

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeAuthUserNotFound {
		t.Errorf("expected %s, got %s", types.ErrCodeAuthUserNotFound, appErr.Code)
	}
}

func TestClerkCancelSubscription_NotFoundIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"code":"resource_not_found","message":"Not found"}]}`))
	}))
	defer server.Close()

	if err := newTestClerkClient(server.URL).CancelSubscription(context.Background(), "sub_gone"); err != nil {
		t.Errorf("expected 404 on cancel to be success, got: %v", err)
	}
}

func TestClerkErrorMapping_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errors":[{"code":"internal","message":"boom"}]}`))
	}))
	defer server.Close()

	err := newTestClerkClient(server.URL).CancelSubscription(context.Background(), "sub_1")

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamUnavailable, appErr.Code)
	}
}

func TestMsToTime_Clamping(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name      string
		ms        int64
		wantClamp bool
	}{
		{"zero", 0, true},
		{"negative", -1000, true},
		{"before 2000", 631152000000, true}, // 1990-01-01
		{"far future", now.AddDate(150, 0, 0).UnixMilli(), true},
		{"plausible", 1773792000000, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := msToTime(tc.ms)
			if tc.wantClamp {
				if time.Since(got) > time.Minute || time.Since(got) < -time.Minute {
					t.Errorf("expected clamp to now, got %v", got)
				}
			} else {
				if got != time.UnixMilli(tc.ms).UTC() {
					t.Errorf("expected exact conversion, got %v", got)
				}
			}
		})
	}
}
