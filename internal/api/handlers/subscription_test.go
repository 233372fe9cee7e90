package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"learnhub/internal/billing"
	"learnhub/internal/external"
	"learnhub/internal/types"
)

type fakeSubscriptionRepo struct {
	sub *types.Subscription
	err error

	upserted    *types.Subscription
	cancelledID string
}

func (f *fakeSubscriptionRepo) GetByUser(ctx context.Context, userID string) (*types.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func (f *fakeSubscriptionRepo) Upsert(ctx context.Context, s *types.Subscription) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = s
	return nil
}

func (f *fakeSubscriptionRepo) Cancel(ctx context.Context, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelledID = userID
	return nil
}

type fakeUsageEvaluator struct {
	companionCheck types.LimitCheck
	sessionCheck   types.LimitCheck
	snapshot       types.UsageSnapshot
}

func (f *fakeUsageEvaluator) CheckCompanionLimit(ctx context.Context, userID string) types.LimitCheck {
	return f.companionCheck
}

func (f *fakeUsageEvaluator) CheckSessionLimit(ctx context.Context, userID string) types.LimitCheck {
	return f.sessionCheck
}

func (f *fakeUsageEvaluator) Snapshot(ctx context.Context, userID string) types.UsageSnapshot {
	return f.snapshot
}

type fakeBillingProvider struct {
	state *external.BillingState
	err   error

	cancelledSubID string
	cancelErr      error
}

func (f *fakeBillingProvider) GetBillingState(ctx context.Context, providerUserID string) (*external.BillingState, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeBillingProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	f.cancelledSubID = providerSubscriptionID
	return f.cancelErr
}

var subTestNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeTestSubscription() *types.Subscription {
	subID := "sub_clerk_1"
	return &types.Subscription{
		ID:                  "sub-1",
		UserID:              "u-1",
		PlanID:              "basic",
		Tier:                types.TierBasic,
		Status:              types.SubStatusActive,
		CurrentPeriodStart:  subTestNow.AddDate(0, 0, -10),
		CurrentPeriodEnd:    subTestNow.AddDate(0, 0, 20),
		ClerkSubscriptionID: &subID,
	}
}

func newSubscriptionHandler(
	subs *fakeSubscriptionRepo,
	usage *fakeUsageEvaluator,
	provider external.BillingProvider,
) *SubscriptionHandler {
	catalog := billing.NewStaticCatalog()
	resolver := billing.NewResolver(catalog, testLogger())
	h := NewSubscriptionHandler(subs, catalog, resolver, usage, provider, testValidator(), testLogger())
	return h.WithClock(func() time.Time { return subTestNow })
}

func TestGetSubscription_Active(t *testing.T) {
	h := newSubscriptionHandler(&fakeSubscriptionRepo{sub: activeTestSubscription()}, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodGet, "/subscription", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got SubscriptionView
	decodeData(t, rec, &got)
	if got.Tier != types.TierBasic {
		t.Errorf("expected basic tier, got %q", got.Tier)
	}
	if got.Subscription == nil || got.Subscription.PlanID != "basic" {
		t.Errorf("expected subscription in view, got %+v", got.Subscription)
	}
}

func TestGetSubscription_NoneIsFreeTier(t *testing.T) {
	h := newSubscriptionHandler(&fakeSubscriptionRepo{}, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodGet, "/subscription", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for missing subscription, got %d", rec.Code)
	}
	var got SubscriptionView
	decodeData(t, rec, &got)
	if got.Tier != types.TierFree {
		t.Errorf("expected free tier, got %q", got.Tier)
	}
	if got.Subscription != nil {
		t.Errorf("expected nil subscription, got %+v", got.Subscription)
	}
}

func TestGetSubscription_LapsedFallsBackToFree(t *testing.T) {
	sub := activeTestSubscription()
	sub.CurrentPeriodEnd = subTestNow.AddDate(0, 0, -1)
	h := newSubscriptionHandler(&fakeSubscriptionRepo{sub: sub}, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodGet, "/subscription", ""))

	var got SubscriptionView
	decodeData(t, rec, &got)
	if got.Tier != types.TierFree {
		t.Errorf("lapsed subscription must read as free, got %q", got.Tier)
	}
}

func TestListPlans(t *testing.T) {
	h := newSubscriptionHandler(&fakeSubscriptionRepo{}, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodGet, "/subscription/plans", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []billing.Plan
	decodeData(t, rec, &got)
	if len(got) != 4 {
		t.Fatalf("expected 4 plans, got %d", len(got))
	}
}

func TestSubscribe(t *testing.T) {
	subs := &fakeSubscriptionRepo{}
	h := newSubscriptionHandler(subs, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodPost, "/subscription", `{"plan_id":"basic"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if subs.upserted == nil {
		t.Fatal("expected subscription persisted")
	}
	if subs.upserted.Tier != types.TierBasic || subs.upserted.Status != types.SubStatusActive {
		t.Errorf("unexpected persisted subscription: %+v", subs.upserted)
	}
	wantEnd := subTestNow.AddDate(0, 1, 0)
	if !subs.upserted.CurrentPeriodEnd.Equal(wantEnd) {
		t.Errorf("expected monthly period end %v, got %v", wantEnd, subs.upserted.CurrentPeriodEnd)
	}
}

func TestSubscribe_YearlyInterval(t *testing.T) {
	subs := &fakeSubscriptionRepo{}
	catalog := billing.NewCatalog([]billing.Plan{{
		ID:       "annual",
		Name:     "Annual",
		Tier:     types.TierPro,
		Interval: types.IntervalYearly,
	}})
	resolver := billing.NewResolver(catalog, testLogger())
	h := NewSubscriptionHandler(subs, catalog, resolver, &fakeUsageEvaluator{}, nil, testValidator(), testLogger()).
		WithClock(func() time.Time { return subTestNow })

	rec := serve(h, authedRequest(http.MethodPost, "/subscription", `{"plan_id":"annual"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	wantEnd := subTestNow.AddDate(1, 0, 0)
	if !subs.upserted.CurrentPeriodEnd.Equal(wantEnd) {
		t.Errorf("expected yearly period end %v, got %v", wantEnd, subs.upserted.CurrentPeriodEnd)
	}
}

func TestSubscribe_UnknownPlan(t *testing.T) {
	h := newSubscriptionHandler(&fakeSubscriptionRepo{}, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodPost, "/subscription", `{"plan_id":"platinum"}`))

	wantErrorCode(t, rec, http.StatusNotFound, types.ErrCodeNotFoundPlan)
}

func TestSubscribe_ConflictWhenActive(t *testing.T) {
	subs := &fakeSubscriptionRepo{sub: activeTestSubscription()}
	h := newSubscriptionHandler(subs, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodPost, "/subscription", `{"plan_id":"pro"}`))

	wantErrorCode(t, rec, http.StatusConflict, types.ErrCodeConflictSubscription)
	if subs.upserted != nil {
		t.Error("no write should happen on conflict")
	}
}

func TestSubscribe_LapsedRowIsReplaced(t *testing.T) {
	sub := activeTestSubscription()
	sub.Status = types.SubStatusCancelled
	subs := &fakeSubscriptionRepo{sub: sub}
	h := newSubscriptionHandler(subs, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodPost, "/subscription", `{"plan_id":"pro"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 over a lapsed row, got %d", rec.Code)
	}
	if subs.upserted == nil || subs.upserted.Tier != types.TierPro {
		t.Errorf("expected pro subscription persisted, got %+v", subs.upserted)
	}
}

func TestCancelSubscription(t *testing.T) {
	subs := &fakeSubscriptionRepo{sub: activeTestSubscription()}
	provider := &fakeBillingProvider{}
	h := newSubscriptionHandler(subs, &fakeUsageEvaluator{}, provider)

	rec := serve(h, authedRequest(http.MethodDelete, "/subscription", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if subs.cancelledID != "u-1" {
		t.Errorf("expected local cancellation, got %q", subs.cancelledID)
	}
	if provider.cancelledSubID != "sub_clerk_1" {
		t.Errorf("expected provider cancellation, got %q", provider.cancelledSubID)
	}
}

func TestCancelSubscription_ProviderFailureStillCancelsLocally(t *testing.T) {
	subs := &fakeSubscriptionRepo{sub: activeTestSubscription()}
	provider := &fakeBillingProvider{cancelErr: errors.New("clerk down")}
	h := newSubscriptionHandler(subs, &fakeUsageEvaluator{}, provider)

	rec := serve(h, authedRequest(http.MethodDelete, "/subscription", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite provider failure, got %d", rec.Code)
	}
	if subs.cancelledID != "u-1" {
		t.Error("local cancellation must still run")
	}
}

func TestCancelSubscription_NoneToCancel(t *testing.T) {
	h := newSubscriptionHandler(&fakeSubscriptionRepo{}, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodDelete, "/subscription", ""))

	wantErrorCode(t, rec, http.StatusNotFound, types.ErrCodeNotFoundSubscription)
}

func TestRefreshSubscription(t *testing.T) {
	subs := &fakeSubscriptionRepo{}
	provider := &fakeBillingProvider{state: &external.BillingState{
		PlanID:             "pro",
		Status:             "active",
		CustomerID:         "cus_1",
		SubscriptionID:     "sub_clerk_2",
		CurrentPeriodStart: subTestNow.AddDate(0, 0, -5),
		CurrentPeriodEnd:   subTestNow.AddDate(0, 0, 25),
	}}
	h := newSubscriptionHandler(subs, &fakeUsageEvaluator{}, provider)

	rec := serve(h, authedRequest(http.MethodPost, "/subscription/refresh", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if subs.upserted == nil {
		t.Fatal("expected row converged")
	}
	if subs.upserted.Tier != types.TierPro {
		t.Errorf("expected pro tier, got %q", subs.upserted.Tier)
	}
	if subs.upserted.ClerkSubscriptionID == nil || *subs.upserted.ClerkSubscriptionID != "sub_clerk_2" {
		t.Errorf("expected provider subscription id stored, got %v", subs.upserted.ClerkSubscriptionID)
	}
}

func TestRefreshSubscription_NoProviderState(t *testing.T) {
	subs := &fakeSubscriptionRepo{}
	h := newSubscriptionHandler(subs, &fakeUsageEvaluator{}, &fakeBillingProvider{})

	rec := serve(h, authedRequest(http.MethodPost, "/subscription/refresh", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if subs.upserted != nil {
		t.Error("no write should happen without provider state")
	}
	var got SubscriptionView
	decodeData(t, rec, &got)
	if got.Tier != types.TierFree {
		t.Errorf("expected free tier, got %q", got.Tier)
	}
}

func TestRefreshSubscription_NotConfigured(t *testing.T) {
	h := newSubscriptionHandler(&fakeSubscriptionRepo{}, &fakeUsageEvaluator{}, nil)

	rec := serve(h, authedRequest(http.MethodPost, "/subscription/refresh", ""))

	wantErrorCode(t, rec, http.StatusNotImplemented, types.ErrCodeWebhookNotConfigured)
}

func TestRefreshSubscription_MissingPlanID(t *testing.T) {
	provider := &fakeBillingProvider{state: &external.BillingState{Status: "active"}}
	h := newSubscriptionHandler(&fakeSubscriptionRepo{}, &fakeUsageEvaluator{}, provider)

	rec := serve(h, authedRequest(http.MethodPost, "/subscription/refresh", ""))

	wantErrorCode(t, rec, http.StatusNotFound, types.ErrCodeNotFoundPlan)
}

func TestRefreshSubscription_UnrecognizedPlanDefaultsToBasic(t *testing.T) {
	subs := &fakeSubscriptionRepo{}
	provider := &fakeBillingProvider{state: &external.BillingState{
		PlanID: "mystery_paid_tier",
		Status: "active",
	}}
	h := newSubscriptionHandler(subs, &fakeUsageEvaluator{}, provider)

	rec := serve(h, authedRequest(http.MethodPost, "/subscription/refresh", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if subs.upserted == nil || subs.upserted.Tier != types.TierBasic {
		t.Errorf("unrecognized paid plan must land on basic, got %+v", subs.upserted)
	}
}

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		in   string
		want types.SubscriptionStatus
	}{
		{"active", types.SubStatusActive},
		{"cancelled", types.SubStatusCancelled},
		{"past_due", types.SubStatusPastDue},
		{"trialing", types.SubStatusTrialing},
		{"incomplete", types.SubStatusActive},
		{"", types.SubStatusActive},
	}
	for _, tt := range tests {
		if got := mapProviderStatus(tt.in, testLogger()); got != tt.want {
			t.Errorf("mapProviderStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUsageEndpoints(t *testing.T) {
	usage := &fakeUsageEvaluator{
		companionCheck: types.LimitCheck{Allowed: true, Used: 2, Limit: 3},
		sessionCheck:   types.LimitCheck{Allowed: false, Used: 10, Limit: 10, UpgradeTier: types.TierBasic},
		snapshot: types.UsageSnapshot{
			Tier:              types.TierFree,
			CompanionsUsed:    2,
			CompanionLimit:    3,
			SessionsThisMonth: 10,
			SessionLimit:      10,
		},
	}
	h := newSubscriptionHandler(&fakeSubscriptionRepo{}, usage, nil)

	rec := serve(h, authedRequest(http.MethodGet, "/usage", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("usage: expected 200, got %d", rec.Code)
	}
	var snap types.UsageSnapshot
	decodeData(t, rec, &snap)
	if snap.CompanionsUsed != 2 || snap.SessionLimit != 10 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	rec = serve(h, authedRequest(http.MethodGet, "/usage/companion-limit", ""))
	var check types.LimitCheck
	decodeData(t, rec, &check)
	if !check.Allowed || check.Used != 2 {
		t.Errorf("unexpected companion check: %+v", check)
	}

	rec = serve(h, authedRequest(http.MethodGet, "/usage/session-limit", ""))
	decodeData(t, rec, &check)
	if check.Allowed || check.UpgradeTier != types.TierBasic {
		t.Errorf("unexpected session check: %+v", check)
	}
}
