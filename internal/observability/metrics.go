package observability

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric represents a single metric
type Metric struct {
	Name      string                 `json:"name"`
	Type      MetricType             `json:"type"`
	Value     float64                `json:"value"`
	Labels    map[string]string      `json:"labels,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// MetricsCollector collects and stores application metrics
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*Metric),
	}
}

// metricKey builds a stable key; labels are sorted so map order does not matter
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteString("." + k + "=" + labels[k])
	}
	return sb.String()
}

// Inc increments a counter metric
func (mc *MetricsCollector) Inc(name string, labels map[string]string) {
	mc.Add(name, 1, labels)
}

// Add adds a value to a counter metric
func (mc *MetricsCollector) Add(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	if metric, exists := mc.metrics[key]; exists {
		metric.Value += value
		metric.Timestamp = time.Now()
		return
	}
	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      MetricTypeCounter,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Set sets a gauge metric value
func (mc *MetricsCollector) Set(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics[metricKey(name, labels)] = &Metric{
		Name:      name,
		Type:      MetricTypeGauge,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Observe records a histogram observation. Value holds the running mean;
// count, sum and max are kept in Extra.
func (mc *MetricsCollector) Observe(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	metric, exists := mc.metrics[key]
	if !exists {
		mc.metrics[key] = &Metric{
			Name:      name,
			Type:      MetricTypeHistogram,
			Value:     value,
			Labels:    labels,
			Timestamp: time.Now(),
			Extra: map[string]interface{}{
				"count": 1.0,
				"sum":   value,
				"max":   value,
			},
		}
		return
	}

	count, _ := metric.Extra["count"].(float64)
	sum, _ := metric.Extra["sum"].(float64)
	max, _ := metric.Extra["max"].(float64)
	count++
	sum += value
	if value > max {
		max = value
	}
	metric.Extra["count"] = count
	metric.Extra["sum"] = sum
	metric.Extra["max"] = max
	metric.Value = sum / count
	metric.Timestamp = time.Now()
}

// Get retrieves a metric by name and labels
func (mc *MetricsCollector) Get(name string, labels map[string]string) (*Metric, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	metric, exists := mc.metrics[metricKey(name, labels)]
	return metric, exists
}

// GetAll returns a copy of all metrics
func (mc *MetricsCollector) GetAll() map[string]*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]*Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		copied := *v
		result[k] = &copied
	}
	return result
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
}

// Standard metric names
const (
	// Question pipeline
	MetricQuestionsTotal     = "insights_questions_total"
	MetricQuestionDuration   = "insights_question_duration_seconds"
	MetricQuestionSuccess    = "insights_questions_success_total"
	MetricQuestionFailure    = "insights_questions_failure_total"
	MetricCacheHits          = "insights_cache_hits_total"
	MetricCacheMisses        = "insights_cache_misses_total"
	MetricPlannerFallbacks   = "insights_planner_fallbacks_total"
	MetricUnsafeSQL          = "insights_unsafe_sql_total"
	MetricExecutionRetries   = "insights_execution_retries_total"
	MetricSlowQueries        = "insights_slow_queries_total"
	MetricNarrativeFallbacks = "insights_narrative_fallbacks_total"

	// LLM metrics
	MetricLLMRequests = "llm_requests_total"
	MetricLLMDuration = "llm_request_duration_seconds"
	MetricLLMErrors   = "llm_errors_total"

	// Database metrics
	MetricDBQueries  = "database_queries_total"
	MetricDBDuration = "database_query_duration_seconds"
	MetricDBErrors   = "database_errors_total"

	// Auth metrics
	MetricAuthAttempts    = "auth_attempts_total"
	MetricAuthFailure     = "auth_failure_total"
	MetricAuthRateLimited = "auth_rate_limited_total"

	// HTTP metrics
	MetricHTTPRequests     = "http_requests_total"
	MetricHTTPDuration     = "http_request_duration_seconds"
	MetricHTTPErrors       = "http_errors_total"
	MetricHTTPResponseSize = "http_response_size_bytes"
)

var globalMetrics = NewMetricsCollector()

// GetGlobalMetrics returns the global metrics collector
func GetGlobalMetrics() *MetricsCollector {
	return globalMetrics
}

// RecordQuestionMetrics records metrics for one pass through the question pipeline
func RecordQuestionMetrics(duration time.Duration, success bool, cached bool, source string, errorType string) {
	metrics := GetGlobalMetrics()

	metrics.Inc(MetricQuestionsTotal, nil)
	if success {
		metrics.Inc(MetricQuestionSuccess, map[string]string{"source": source})
	} else {
		metrics.Inc(MetricQuestionFailure, map[string]string{"error_type": errorType})
	}

	if cached {
		metrics.Inc(MetricCacheHits, nil)
	} else {
		metrics.Inc(MetricCacheMisses, nil)
	}

	metrics.Observe(MetricQuestionDuration, duration.Seconds(), nil)
}

// RecordFallback counts a substitution of planner SQL for generated SQL
func RecordFallback(reason string) {
	GetGlobalMetrics().Inc(MetricPlannerFallbacks, map[string]string{"reason": reason})
}

// RecordLLMMetrics records metrics for LLM operations
func RecordLLMMetrics(operation string, duration time.Duration, err error) {
	metrics := GetGlobalMetrics()
	labels := map[string]string{"operation": operation}

	metrics.Inc(MetricLLMRequests, labels)
	metrics.Observe(MetricLLMDuration, duration.Seconds(), labels)
	if err != nil {
		metrics.Inc(MetricLLMErrors, labels)
	}
}

// RecordDBMetrics records metrics for database operations
func RecordDBMetrics(operation string, duration time.Duration, err error) {
	metrics := GetGlobalMetrics()
	labels := map[string]string{"operation": operation}

	metrics.Inc(MetricDBQueries, labels)
	metrics.Observe(MetricDBDuration, duration.Seconds(), labels)
	if err != nil {
		metrics.Inc(MetricDBErrors, labels)
	}
}

// RecordHTTPMetrics records metrics for HTTP requests
func RecordHTTPMetrics(method, path string, statusCode int, duration time.Duration, responseSize int) {
	metrics := GetGlobalMetrics()
	labels := map[string]string{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(statusCode),
	}

	metrics.Inc(MetricHTTPRequests, labels)
	metrics.Observe(MetricHTTPDuration, duration.Seconds(), labels)
	if statusCode >= 400 {
		metrics.Inc(MetricHTTPErrors, labels)
	}
	if responseSize > 0 {
		metrics.Observe(MetricHTTPResponseSize, float64(responseSize), map[string]string{"path": path})
	}
}
