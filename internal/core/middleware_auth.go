package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"learnhub/internal/types"
)

// authPublicPaths lists URL paths that are exempt from authentication.
// Requests to these paths bypass the AuthMiddleware entirely. The billing
// webhook authenticates itself via its svix signature, not a bearer token.
var authPublicPaths = map[string]bool{
	"/health":            true,
	"/v1/webhooks/clerk": true,
}

// AuthMiddleware wraps handlers requiring authentication.
//
//  1. Extracts the Bearer token from the Authorization header.
//  2. Calls Authenticator.VerifyToken to resolve the token to an Actor.
//  3. Lazily provisions the local account row for the Actor's identity on
//     first sight (create-or-get with default preferences).
//  4. Injects the Actor (with the local user ID populated) into the request
//     context via types.WithActor.
//  5. Returns 401 Unauthorized on failure with distinct error codes:
//     - auth_token_missing: No Authorization header or empty Bearer token.
//     - auth_token_invalid: Token is malformed, not found, or revoked.
//     - auth_token_expired: Token resolved but its session is no longer active.
//     - auth_user_not_found: The provider no longer knows the token's user.
//
// If the Authenticator field on Server is nil (e.g., during tests that don't
// inject one), the middleware passes through without authentication.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no authenticator is configured, pass through.
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		// Skip authentication for public paths.
		if authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		// Extract the Authorization header.
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		// Parse the Bearer token.
		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		// Resolve the token to an Actor.
		actor, err := s.Authenticator.VerifyToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}

		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		// Provision the local account lazily. The Actor from the identity
		// provider only carries the external user ID; the local row anchors
		// ownership and usage counting.
		if s.Users != nil {
			user, err := s.Users.Provision(r.Context(), actor.ClerkID, actor.Email, actor.Name, nil)
			if err != nil {
				s.Logger.Error("account provisioning failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("clerk_id", actor.ClerkID),
					slog.String("error", err.Error()),
				)
				Error(w, r, types.NewAppError(
					types.ErrCodeInternalDB,
					"failed to resolve account",
					err,
				))
				return
			}
			actor.ID = user.ID
		}

		// Inject the Actor into the request context.
		ctx := types.WithActor(r.Context(), *actor)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken parses the Authorization header value and returns
// the token string. It expects the format "Bearer <token>" (case-insensitive
// scheme per RFC 7235). Returns empty string if the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	// Case-insensitive comparison of the "Bearer " scheme prefix per RFC 7235.
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	token := authHeader[len(prefix):]
	return strings.TrimSpace(token)
}

// handleAuthError inspects the error from Authenticator.VerifyToken and
// writes the appropriate 401 response with the correct error code.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			s.Logger.Warn("authentication failed: token expired",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenExpired, "Authentication token has expired")
			return
		case types.ErrCodeAuthUserNotFound:
			s.Logger.Warn("authentication failed: user not found",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthUserNotFound, "Authenticated user no longer exists")
			return
		case types.ErrCodeAuthTokenInvalid:
			s.Logger.Warn("authentication failed: token invalid",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		case types.ErrCodeUpstreamUnavailable, types.ErrCodeUpstreamRateLimited:
			// The identity provider itself is failing; surface that rather
			// than blaming the caller's token.
			s.Logger.Error("authentication failed: identity provider unavailable",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error_code", string(appErr.Code)),
			)
			Error(w, r, appErr)
			return
		}
	}

	// Generic error: log it but don't leak internal details.
	s.Logger.Error("authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

// writeAuthError writes a 401 Unauthorized JSON response with the given error code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	requestID := types.GetRequestID(r.Context())
	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: requestID,
		},
	}
	JSON(w, r, http.StatusUnauthorized, resp)
}
