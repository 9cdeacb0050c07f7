package config

import (
	"context"
	"os"
)

// EnvProvider retrieves secrets from environment variables. With a prefix
// set, INSIGHTS_PORT is preferred over PORT.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment variable provider
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{prefix: "INSIGHTS_"}
}

// GetSecret retrieves a secret from environment variables
func (e *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value, _, err := e.Lookup(ctx, key)
	return value, err
}

// Lookup returns the value for key and the variable that held it
func (e *EnvProvider) Lookup(ctx context.Context, key string) (string, string, error) {
	if e.prefix != "" {
		if v, ok := os.LookupEnv(e.prefix + key); ok {
			return v, "env:" + e.prefix + key, nil
		}
	}
	return os.Getenv(key), "env:" + key, nil
}

// Name returns the provider name
func (e *EnvProvider) Name() string {
	return "env"
}

// IsAvailable always returns true as env vars are always available
func (e *EnvProvider) IsAvailable(ctx context.Context) bool {
	return true
}
