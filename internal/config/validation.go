package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation error(s):\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate performs comprehensive validation on the configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateLLM()...)
	errors = append(errors, c.validateAuth()...)
	errors = append(errors, c.validateRateLimit()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateQuery()...)
	errors = append(errors, c.validateHistory()...)

	if errors.HasErrors() {
		return errors
	}
	return nil
}

func (c *Config) validateDatabase() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Database.Path) == "" {
		errors = append(errors, ValidationError{
			Field:   "Database.Path",
			Message: "database path is required",
		})
	}

	if c.Database.MaxOpenConns <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Database.MaxOpenConns",
			Message: "max open connections must be positive",
		})
	}

	if c.Database.BusyTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "Database.BusyTimeoutMs",
			Message: "busy timeout must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateRedis() []ValidationError {
	var errors []ValidationError

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "Redis.Addr",
			Message: "redis address is required when the cache is enabled",
		})
	}

	return errors
}

func (c *Config) validateLLM() []ValidationError {
	var errors []ValidationError

	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "LLM.BaseURL",
			Message: "Ollama base URL is required",
		})
	} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "LLM.BaseURL",
			Message: fmt.Sprintf("invalid Ollama base URL: %s", c.LLM.BaseURL),
		})
	}

	if c.LLM.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "LLM.Model",
			Message: "model name is required",
		})
	}

	if c.LLM.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "LLM.Timeout",
			Message: "LLM timeout must be positive",
		})
	}

	if c.LLM.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "LLM.MaxRetries",
			Message: "max retries must be non-negative",
		})
	}

	if c.LLM.NarrativeTemperature < 0 || c.LLM.NarrativeTemperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "LLM.NarrativeTemperature",
			Message: "narrative temperature must be between 0 and 2",
		})
	}

	return errors
}

func (c *Config) validateAuth() []ValidationError {
	var errors []ValidationError

	if c.Auth.JWTSecret == "" {
		errors = append(errors, ValidationError{
			Field:   "Auth.JWTSecret",
			Message: "JWT secret is required",
		})
	}

	if c.Auth.JWTExpiry <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Auth.JWTExpiry",
			Message: "JWT expiry must be positive",
		})
	}

	if c.Auth.SessionExpiry <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Auth.SessionExpiry",
			Message: "session expiry must be positive",
		})
	}

	return errors
}

func (c *Config) validateRateLimit() []ValidationError {
	var errors []ValidationError

	if !c.RateLimit.Enabled {
		return errors
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		errors = append(errors, ValidationError{
			Field:   "RateLimit.RequestsPerSecond",
			Message: "requests per second must be positive",
		})
	}

	if c.RateLimit.Burst <= 0 {
		errors = append(errors, ValidationError{
			Field:   "RateLimit.Burst",
			Message: "burst must be positive",
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port == "" {
		errors = append(errors, ValidationError{
			Field:   "Server.Port",
			Message: "server port is required",
		})
	}

	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		errors = append(errors, ValidationError{
			Field:   "Server.GinMode",
			Message: fmt.Sprintf("invalid gin mode: %s (must be 'debug', 'release', or 'test')", c.Server.GinMode),
		})
	}

	return errors
}

func (c *Config) validateQuery() []ValidationError {
	var errors []ValidationError

	if c.Query.MaxQuestionLength <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Query.MaxQuestionLength",
			Message: "max question length must be positive",
		})
	}

	if c.Query.MaxSQLLength <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Query.MaxSQLLength",
			Message: "max SQL length must be positive",
		})
	}

	if c.Query.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Query.Timeout",
			Message: "query timeout must be positive",
		})
	}

	if c.Query.CacheTTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "Query.CacheTTL",
			Message: "cache TTL must be non-negative",
		})
	}

	if c.Query.MaxChartItems <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Query.MaxChartItems",
			Message: "max chart items must be positive",
		})
	}

	if c.Query.MaxBatchSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Query.MaxBatchSize",
			Message: "max batch size must be positive",
		})
	}

	return errors
}

func (c *Config) validateHistory() []ValidationError {
	var errors []ValidationError

	if c.History.Enabled && c.History.DSN == "" {
		errors = append(errors, ValidationError{
			Field:   "History.DSN",
			Message: "history database URL is required when history is enabled",
		})
	}

	return errors
}

// ValidateProduction checks for insecure defaults that must not reach production
func (c *Config) ValidateProduction() error {
	var errors ValidationErrors

	if c.Redis.Enabled && (c.Redis.Password == "" || c.Redis.Password == "changeme") {
		errors = append(errors, ValidationError{
			Field:   "Redis.Password",
			Message: "production deployment must not use default or empty Redis password",
		})
	}

	insecureJWTSecrets := []string{
		"",
		"change-this-in-production",
		"secret",
		"jwt-secret",
	}
	for _, insecure := range insecureJWTSecrets {
		if c.Auth.JWTSecret == insecure {
			errors = append(errors, ValidationError{
				Field:   "Auth.JWTSecret",
				Message: "production deployment must not use default or insecure JWT secret",
			})
			break
		}
	}

	if len(c.Auth.JWTSecret) < 32 {
		errors = append(errors, ValidationError{
			Field:   "Auth.JWTSecret",
			Message: "JWT secret should be at least 32 characters for production use",
		})
	}

	if c.Auth.AdminPassword == "" {
		errors = append(errors, ValidationError{
			Field:   "Auth.AdminPassword",
			Message: "production deployment requires an admin password",
		})
	}

	if c.Server.GinMode != "release" {
		errors = append(errors, ValidationError{
			Field:   "Server.GinMode",
			Message: "production deployment should use 'release' mode",
		})
	}

	if c.Auth.AllowAnonymous {
		errors = append(errors, ValidationError{
			Field:   "Auth.AllowAnonymous",
			Message: "production deployment should not allow anonymous access",
		})
	}

	if !c.RateLimit.Enabled {
		errors = append(errors, ValidationError{
			Field:   "RateLimit.Enabled",
			Message: "production deployment should have rate limiting enabled",
		})
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// IsProduction determines if the current environment is production
func (c *Config) IsProduction() bool {
	return c.Server.GinMode == "release"
}

// ValidateWithContext validates configuration and runs production checks if appropriate
func (c *Config) ValidateWithContext() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.IsProduction() {
		if err := c.ValidateProduction(); err != nil {
			return fmt.Errorf("production validation failed: %w", err)
		}
	}

	return nil
}
