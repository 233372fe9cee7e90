package core

import (
	"context"

	"learnhub/internal/types"
)

// Authenticator decouples the HTTP layer from the identity provider,
// allowing for easy mocking in tests. The external package's Clerk client
// satisfies it.
//
// VerifyToken resolves a bearer session token to the Actor that presented it.
//
// Distinct Error Codes:
//   - ErrCodeAuthTokenInvalid if the token is malformed, not found, or revoked.
//   - ErrCodeAuthTokenExpired if the token resolved but its session is no
//     longer active.
//   - ErrCodeAuthUserNotFound if the token resolved to a user the provider
//     no longer knows about.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (*types.Actor, error)
}

// UserProvisioner creates-or-fetches the local account row for an
// authenticated identity. Accounts are provisioned lazily: the first
// authenticated request from a new identity creates the row with default
// preferences. The db package's UserRepository satisfies it.
type UserProvisioner interface {
	Provision(ctx context.Context, clerkID, email, name string, imageURL *string) (*types.User, error)
}

// RepositoryRegistry is the minimal view of the persistence layer the HTTP
// chassis needs: a liveness probe for the health endpoint. Shutdown
// additionally closes the registry when it exposes a Close method.
type RepositoryRegistry interface {
	Ping(ctx context.Context) error
}
