package config

import "context"

// SecretProvider resolves secret references to plaintext. The loader uses it
// for variables declared as NAME_SECRET_PARAM=<reference>.
type SecretProvider interface {
	// GetParametersBatch resolves every key it can. Keys it cannot resolve are
	// omitted from the result rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
