package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"learnhub/internal/core"
	"learnhub/internal/types"
)

// Shared fixtures for the handler tests. Each handler file carries its own
// fakes for the narrow repo interfaces it declares; the helpers here cover
// request construction and response decoding.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(testLogger())
}

func testActor() types.Actor {
	return types.Actor{
		ID:      "u-1",
		ClerkID: "clerk_u1",
		Email:   "ada@example.com",
		Name:    "Ada Lovelace",
	}
}

// authedRequest builds a request carrying the test actor, the way the auth
// middleware would hand it to a handler.
func authedRequest(method, path, body string) *http.Request {
	return authedRequestAs(testActor(), method, path, body)
}

func authedRequestAs(actor types.Actor, method, path, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	ctx := types.WithRequestID(r.Context(), "req-test-1")
	ctx = types.WithActor(ctx, actor)
	return r.WithContext(ctx)
}

// anonRequest builds a request with no actor in context.
func anonRequest(method, path, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	return r.WithContext(types.WithRequestID(r.Context(), "req-test-1"))
}

// serve routes the request through a router with the handler's routes
// mounted, so chi URL params resolve.
func serve(registrar interface{ RegisterRoutes(chi.Router) }, r *http.Request) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	registrar.RegisterRoutes(router)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) core.APIErrorResponse {
	t.Helper()
	var resp core.APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

// decodeData unmarshals the "data" field of a success envelope into out.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v (body: %s)", err, rec.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("failed to decode data: %v (data: %s)", err, envelope.Data)
	}
}

func wantErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code types.ErrorCode) {
	t.Helper()
	if rec.Code != status {
		t.Errorf("expected status %d, got %d (body: %s)", status, rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Error.Code != string(code) {
		t.Errorf("expected error code %q, got %q", code, resp.Error.Code)
	}
}
