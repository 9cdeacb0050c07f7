// Package errors provides enhanced error types with helpful context and suggestions
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Question pipeline errors
	ErrCodeInvalidQuestion ErrorCode = "INVALID_QUESTION"
	ErrCodeUnsafeSQL       ErrorCode = "UNSAFE_SQL"
	ErrCodeQueryExecution  ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout    ErrorCode = "QUERY_TIMEOUT"
	ErrCodeBatchLimit      ErrorCode = "BATCH_LIMIT_EXCEEDED"

	// Data lookups
	ErrCodeProductNotFound ErrorCode = "PRODUCT_NOT_FOUND"
	ErrCodeHistoryDisabled ErrorCode = "HISTORY_DISABLED"

	// Database errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY_FAILED"

	// Authentication errors
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenCreation      ErrorCode = "TOKEN_CREATION_FAILED"
	ErrCodeSessionCreation    ErrorCode = "SESSION_CREATION_FAILED"
	ErrCodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeInsufficientPerms  ErrorCode = "INSUFFICIENT_PERMISSIONS"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"

	// Input validation errors
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code          ErrorCode              `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	Suggestion    string                 `json:"suggestion,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly error message with suggestions
func (e *EnhancedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}
	return sb.String()
}

// New creates a new EnhancedError
func New(code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error, code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *EnhancedError) WithDetails(details string) *EnhancedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *EnhancedError) WithSuggestion(suggestion string) *EnhancedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// As returns the EnhancedError in err's chain, if any.
func As(err error) (*EnhancedError, bool) {
	for err != nil {
		if e, ok := err.(*EnhancedError); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// Common error constructors with pre-configured messages

// NewInvalidQuestionError creates an error for questions that fail input sanitation
func NewInvalidQuestionError(reason string) *EnhancedError {
	return New(ErrCodeInvalidQuestion, "Question rejected").
		WithDetails(reason).
		WithSuggestion("Ask a plain business question such as 'What is my total sales?' or 'Which product had the highest CPC?'")
}

// NewUnsafeSQLError creates an error for SQL rejected by the safety validator
func NewUnsafeSQLError(violations []string) *EnhancedError {
	return New(ErrCodeUnsafeSQL, "Query rejected by safety validation").
		WithDetails(strings.Join(violations, "; ")).
		WithSuggestion("Only read-only SELECT or WITH statements are allowed. Remove any data modification or schema statements.").
		WithMetadata("violations", violations)
}

// NewQueryExecutionError creates an error for SQL the store could not run.
// The suggestion depends on the class of failure reported by the driver.
func NewQueryExecutionError(err error, sql string) *EnhancedError {
	return Wrap(err, ErrCodeQueryExecution, "Query execution failed").
		WithDetails(fmt.Sprintf("Failed to execute query: %v", err)).
		WithSuggestion(executionSuggestion(err)).
		WithMetadata("sql_query", sql)
}

func executionSuggestion(err error) string {
	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}
	switch {
	case strings.Contains(msg, "no such table"):
		return "Check that the data has been loaded. Available tables: product_eligibility, ad_sales_metrics, total_sales_metrics."
	case strings.Contains(msg, "no such column"):
		return "Check the column names in your query against the table schema."
	case strings.Contains(msg, "syntax error"):
		return "The SQL query has a syntax error. Try rephrasing your question."
	default:
		return "Try rephrasing your question or check that the data is available."
	}
}

// NewQueryTimeoutError creates an error for queries that exceeded their deadline
func NewQueryTimeoutError(err error, timeout string) *EnhancedError {
	return Wrap(err, ErrCodeQueryTimeout, "Query timed out").
		WithDetails(fmt.Sprintf("The query did not finish within %s", timeout)).
		WithSuggestion("Narrow the question, for example by asking for a top 10 instead of all products.").
		WithMetadata("retryable", true)
}

// NewBatchLimitError creates an error for oversized batch requests
func NewBatchLimitError(got, max int) *EnhancedError {
	return New(ErrCodeBatchLimit, "Too many questions in batch").
		WithDetails(fmt.Sprintf("Received %d questions, the maximum is %d", got, max)).
		WithSuggestion("Split the batch into smaller requests.")
}

// NewProductNotFoundError creates an error for unknown item ids
func NewProductNotFoundError(itemID int64) *EnhancedError {
	return New(ErrCodeProductNotFound, "Product not found").
		WithDetails(fmt.Sprintf("No data found for item_id %d", itemID)).
		WithSuggestion("Use /api/v1/metrics/performance to list products that have data.").
		WithMetadata("item_id", itemID)
}

// NewHistoryDisabledError creates an error for history lookups without a history store
func NewHistoryDisabledError() *EnhancedError {
	return New(ErrCodeHistoryDisabled, "Question history is not enabled").
		WithSuggestion("Set HISTORY_DSN to a Postgres database with the pgvector extension.")
}

// NewRateLimitedError creates an error for clients over their request budget
func NewRateLimitedError(retryAfter string) *EnhancedError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").
		WithDetails(fmt.Sprintf("Retry after %s", retryAfter)).
		WithMetadata("retry_after", retryAfter)
}

// NewInvalidCredentialsError creates an error for authentication failures
func NewInvalidCredentialsError() *EnhancedError {
	return New(ErrCodeInvalidCredentials, "Invalid username or password").
		WithDetails("Authentication failed with the provided credentials").
		WithSuggestion("Please check your username and password and try again.")
}

// NewTokenCreationError creates an error for token creation failures
func NewTokenCreationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeTokenCreation, "Failed to create authentication token").
		WithSuggestion("This is an internal server error. Please try logging in again.").
		WithMetadata("retryable", true)
}

// NewSessionCreationError creates an error for session creation failures
func NewSessionCreationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeSessionCreation, "Failed to create session").
		WithSuggestion("This is an internal server error. Please try logging in again.").
		WithMetadata("retryable", true)
}

// NewNotAuthenticatedError creates an error for unauthenticated requests
func NewNotAuthenticatedError() *EnhancedError {
	return New(ErrCodeNotAuthenticated, "Authentication required").
		WithDetails("This endpoint requires authentication").
		WithSuggestion("Log in using /api/v1/auth/login, or include a valid API key in the 'X-API-Key' header.")
}

// NewInsufficientPermissionsError creates an error for missing roles
func NewInsufficientPermissionsError(roles []string) *EnhancedError {
	return New(ErrCodeInsufficientPerms, "Insufficient permissions").
		WithDetails(fmt.Sprintf("One of the roles %v is required", roles)).
		WithMetadata("required_roles", roles)
}

// NewInvalidInputError creates an error for invalid input
func NewInvalidInputError(field string, reason string) *EnhancedError {
	return New(ErrCodeInvalidInput, "Invalid input").
		WithDetails(fmt.Sprintf("Field '%s' is invalid: %s", field, reason)).
		WithSuggestion("Please check the API documentation for the expected format and try again.")
}

// NewDatabaseConnectionError creates an error for database connection failures
func NewDatabaseConnectionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseConnection, "Database connection failed").
		WithDetails("Unable to connect to the database").
		WithSuggestion("The service may be experiencing issues. Please try again in a moment.").
		WithMetadata("retryable", true)
}

// NewDatabaseQueryError creates an error for database query failures
func NewDatabaseQueryError(err error, operation string) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseQuery, "Database query failed").
		WithDetails(fmt.Sprintf("Failed to execute database operation: %s", operation)).
		WithSuggestion("This is an internal server error. If the problem persists, contact support.").
		WithMetadata("retryable", true)
}
