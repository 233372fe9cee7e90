package config

import "context"

// SecretProvider abstracts the retrieval of secrets to support both an
// external secret store (production) and environment variables (local
// development). This interface enables dependency injection for testing and
// environment-specific secret resolution.
type SecretProvider interface {
	// GetParametersBatch retrieves multiple secret values in one call to
	// avoid throttling. The keys slice contains the secret-store keys to
	// resolve. Returns a map of key -> plaintext value for all successfully
	// resolved secrets; missing keys are omitted rather than erroring.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
