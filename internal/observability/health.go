package observability

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check for a component
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration_ms"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheckFunc is a function that performs a health check
type HealthCheckFunc func(context.Context) *HealthCheck

// HealthChecker runs registered checks and caches their results briefly
type HealthChecker struct {
	checks  map[string]HealthCheckFunc
	cache   map[string]*HealthCheck
	mu      sync.Mutex
	ttl     time.Duration
	service string
	version string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]HealthCheckFunc),
		cache:   make(map[string]*HealthCheck),
		ttl:     5 * time.Second,
		service: service,
		version: version,
	}
}

// Register registers a health check
func (hc *HealthChecker) Register(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
	delete(hc.cache, name)
}

// Check performs all health checks, reusing results younger than the TTL
func (hc *HealthChecker) Check(ctx context.Context) map[string]*HealthCheck {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	results := make(map[string]*HealthCheck, len(hc.checks))
	now := time.Now()

	for name, checkFunc := range hc.checks {
		if cached, exists := hc.cache[name]; exists && now.Sub(cached.LastChecked) < hc.ttl {
			results[name] = cached
			continue
		}

		result := checkFunc(ctx)
		result.LastChecked = time.Now()
		hc.cache[name] = result
		results[name] = result
	}

	return results
}

// OverallStatus folds individual results into one status
func OverallStatus(checks map[string]*HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus            `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*HealthCheck `json:"checks"`
	Metadata  map[string]interface{}  `json:"metadata,omitempty"`
}

// GetHealthResponse returns a complete health response
func (hc *HealthChecker) GetHealthResponse(ctx context.Context) *HealthResponse {
	checks := hc.Check(ctx)

	return &HealthResponse{
		Status:    OverallStatus(checks),
		Timestamp: time.Now(),
		Checks:    checks,
		Metadata: map[string]interface{}{
			"version": hc.version,
			"service": hc.service,
		},
	}
}

// pingCheck wraps a ping function; failures report failStatus
func pingCheck(name string, timeout time.Duration, failStatus HealthStatus, label string, ping func(context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		start := time.Now()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := ping(ctx)
		duration := time.Since(start)

		if err != nil {
			return &HealthCheck{
				Name:     name,
				Status:   failStatus,
				Message:  fmt.Sprintf("%s unavailable: %v", label, err),
				Duration: duration,
			}
		}

		return &HealthCheck{
			Name:     name,
			Status:   HealthStatusHealthy,
			Message:  fmt.Sprintf("%s available", label),
			Duration: duration,
			Metadata: map[string]interface{}{
				"response_time_ms": duration.Milliseconds(),
			},
		}
	}
}

// StoreHealthCheck checks the relational store and that the required tables exist
func StoreHealthCheck(ping func(context.Context) error, tables func(context.Context) ([]string, error), required []string) HealthCheckFunc {
	base := pingCheck("store", 2*time.Second, HealthStatusUnhealthy, "Store", ping)
	return func(ctx context.Context) *HealthCheck {
		result := base(ctx)
		if result.Status != HealthStatusHealthy {
			return result
		}

		present, err := tables(ctx)
		if err != nil {
			result.Status = HealthStatusUnhealthy
			result.Message = fmt.Sprintf("Could not list tables: %v", err)
			return result
		}

		have := make(map[string]bool, len(present))
		for _, t := range present {
			have[t] = true
		}
		var missing []string
		for _, t := range required {
			if !have[t] {
				missing = append(missing, t)
			}
		}

		result.Metadata["tables"] = present
		if len(missing) > 0 {
			result.Status = HealthStatusUnhealthy
			result.Message = fmt.Sprintf("Missing tables: %v", missing)
			result.Metadata["missing_tables"] = missing
		}
		return result
	}
}

// RedisHealthCheck creates a health check for the response cache. A dead cache
// only slows answers down, so it reports degraded.
func RedisHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("redis", 2*time.Second, HealthStatusDegraded, "Redis", ping)
}

// LLMHealthCheck creates a health check for the text-completion service.
// Planner fallback keeps answering when it is down.
func LLMHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("llm_service", 5*time.Second, HealthStatusDegraded, "LLM service", ping)
}

// HistoryHealthCheck creates a health check for the question history database
func HistoryHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("history", 2*time.Second, HealthStatusDegraded, "History store", ping)
}

// MemoryHealthCheck reports heap usage against a soft limit in bytes
func MemoryHealthCheck(limit uint64) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)

		usagePercent := float64(stats.HeapAlloc) / float64(limit) * 100

		status := HealthStatusHealthy
		message := "Memory usage normal"
		if usagePercent > 90 {
			status = HealthStatusUnhealthy
			message = "Memory usage critical"
		} else if usagePercent > 75 {
			status = HealthStatusDegraded
			message = "Memory usage high"
		}

		return &HealthCheck{
			Name:    "memory",
			Status:  status,
			Message: message,
			Metadata: map[string]interface{}{
				"heap_alloc_bytes": stats.HeapAlloc,
				"limit_bytes":      limit,
				"usage_percent":    usagePercent,
				"goroutines":       runtime.NumGoroutine(),
			},
		}
	}
}
