package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          "data/test.db",
			MaxOpenConns:  4,
			AutoMigrate:   true,
			BusyTimeoutMs: 5000,
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
		},
		LLM: LLMConfig{
			BaseURL:              "http://localhost:11434",
			Model:                "mistral:7b-instruct",
			Timeout:              30 * time.Second,
			MaxRetries:           2,
			NarrativeTemperature: 0.3,
		},
		Auth: AuthConfig{
			JWTSecret:     "test-secret-key",
			JWTExpiry:     24 * time.Hour,
			SessionExpiry: 7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             20,
		},
		Server: ServerConfig{
			Port:    "8000",
			GinMode: "debug",
		},
		Query: QueryConfig{
			MaxQuestionLength: 1000,
			MaxSQLLength:      1000,
			Timeout:           30 * time.Second,
			CacheTTL:          5 * time.Minute,
			MaxChartItems:     20,
			MaxBatchSize:      10,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("valid config passes validation", func(t *testing.T) {
		if err := validConfig().Validate(); err != nil {
			t.Errorf("expected no validation errors, got: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing database path", func(c *Config) { c.Database.Path = "  " }, "Database.Path"},
		{"non-positive pool", func(c *Config) { c.Database.MaxOpenConns = 0 }, "Database.MaxOpenConns"},
		{"redis enabled without addr", func(c *Config) { c.Redis.Addr = "" }, "Redis.Addr"},
		{"missing ollama url", func(c *Config) { c.LLM.BaseURL = "" }, "LLM.BaseURL"},
		{"malformed ollama url", func(c *Config) { c.LLM.BaseURL = "localhost" }, "LLM.BaseURL"},
		{"missing model", func(c *Config) { c.LLM.Model = "" }, "LLM.Model"},
		{"temperature out of range", func(c *Config) { c.LLM.NarrativeTemperature = 3 }, "LLM.NarrativeTemperature"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "Auth.JWTSecret"},
		{"zero rps", func(c *Config) { c.RateLimit.RequestsPerSecond = 0 }, "RateLimit.RequestsPerSecond"},
		{"invalid gin mode", func(c *Config) { c.Server.GinMode = "production" }, "Server.GinMode"},
		{"zero question length", func(c *Config) { c.Query.MaxQuestionLength = 0 }, "Query.MaxQuestionLength"},
		{"negative cache ttl", func(c *Config) { c.Query.CacheTTL = -time.Second }, "Query.CacheTTL"},
		{"zero batch size", func(c *Config) { c.Query.MaxBatchSize = 0 }, "Query.MaxBatchSize"},
		{"history without dsn", func(c *Config) { c.History.Enabled = true }, "History.DSN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error mentioning %s, got: %v", tt.field, err)
			}
		})
	}

	t.Run("disabled subsystems skip their checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.Redis.Enabled = false
		cfg.Redis.Addr = ""
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.RequestsPerSecond = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no errors, got: %v", err)
		}
	})
}

func TestValidateProduction(t *testing.T) {
	t.Run("development config fails production checks", func(t *testing.T) {
		err := validConfig().ValidateProduction()
		if err == nil {
			t.Fatal("expected production validation errors")
		}
		errs, ok := err.(ValidationErrors)
		if !ok {
			t.Fatalf("expected ValidationErrors, got %T", err)
		}
		fields := map[string]bool{}
		for _, e := range errs {
			fields[e.Field] = true
		}
		for _, f := range []string{"Redis.Password", "Auth.JWTSecret", "Auth.AdminPassword", "Server.GinMode"} {
			if !fields[f] {
				t.Errorf("expected production error for %s", f)
			}
		}
	})

	t.Run("hardened config passes", func(t *testing.T) {
		cfg := validConfig()
		cfg.Redis.Password = "a-real-redis-password"
		cfg.Auth.JWTSecret = strings.Repeat("k", 40)
		cfg.Auth.AdminPassword = "admin-pass"
		cfg.Server.GinMode = "release"
		if err := cfg.ValidateProduction(); err != nil {
			t.Errorf("expected no errors, got: %v", err)
		}
		if err := cfg.ValidateWithContext(); err != nil {
			t.Errorf("expected no errors, got: %v", err)
		}
	})

	t.Run("release mode triggers production checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.GinMode = "release"
		if !cfg.IsProduction() {
			t.Fatal("release mode should be production")
		}
		err := cfg.ValidateWithContext()
		if err == nil || !strings.Contains(err.Error(), "production validation failed") {
			t.Errorf("expected production validation failure, got: %v", err)
		}
	})
}
