package config

import (
	"context"
	"errors"
	"fmt"
)

// SecretProvider is one source of configuration values. A provider that
// does not hold a key returns an empty value and a nil error.
type SecretProvider interface {
	GetSecret(ctx context.Context, key string) (string, error)

	// Name identifies the provider in logs
	Name() string

	// IsAvailable reports whether the provider can be consulted at all
	IsAvailable(ctx context.Context) bool
}

// Resolver is implemented by providers that can say exactly where a value
// came from, e.g. "env:INSIGHTS_PORT" or "file:/var/secrets/jwt-secret"
type Resolver interface {
	Lookup(ctx context.Context, key string) (value, source string, err error)
}

// ChainProvider consults providers in order and returns the first
// non-empty value
type ChainProvider struct {
	providers []SecretProvider
}

// NewChainProvider creates a chain. Earlier providers take precedence.
func NewChainProvider(providers ...SecretProvider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

// GetSecret returns the first non-empty value in the chain
func (c *ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value, _, err := c.Lookup(ctx, key)
	return value, err
}

// Lookup returns the first non-empty value and its source. A provider that
// fails to read does not hide a value held further down the chain; its
// error is only returned when no provider has the key.
func (c *ChainProvider) Lookup(ctx context.Context, key string) (string, string, error) {
	var errs []error
	available := false

	for _, provider := range c.providers {
		if !provider.IsAvailable(ctx) {
			continue
		}
		available = true

		value, source, err := lookup(ctx, provider, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
			continue
		}
		if value != "" {
			return value, source, nil
		}
	}

	if !available {
		return "", "", fmt.Errorf("no available provider for key %s", key)
	}
	if len(errs) > 0 {
		return "", "", fmt.Errorf("no provider could read %s: %w", key, errors.Join(errs...))
	}
	return "", "", nil
}

// Name returns the chain provider name
func (c *ChainProvider) Name() string {
	return "chain"
}

// IsAvailable reports whether any provider in the chain is available
func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, provider := range c.providers {
		if provider.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// lookup asks p for key, using its own source description when it has one
func lookup(ctx context.Context, p SecretProvider, key string) (string, string, error) {
	if r, ok := p.(Resolver); ok {
		return r.Lookup(ctx, key)
	}
	value, err := p.GetSecret(ctx, key)
	return value, p.Name(), err
}
