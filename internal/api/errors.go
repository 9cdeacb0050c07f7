package api

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/ecommerce-insights/internal/errors"
)

// formatErrorResponse renders err as {"error": {code, message, ...}}
func formatErrorResponse(err error) gin.H {
	if enhancedErr, ok := errors.As(err); ok {
		body := gin.H{
			"code":    enhancedErr.Code,
			"message": enhancedErr.Message,
		}
		if enhancedErr.Details != "" {
			body["details"] = enhancedErr.Details
		}
		if enhancedErr.Suggestion != "" {
			body["suggestion"] = enhancedErr.Suggestion
		}
		if enhancedErr.Documentation != "" {
			body["documentation"] = enhancedErr.Documentation
		}
		if len(enhancedErr.Metadata) > 0 {
			body["metadata"] = enhancedErr.Metadata
		}
		return gin.H{"error": body}
	}

	if stderrors.Is(err, context.Canceled) {
		return gin.H{"error": gin.H{"code": "REQUEST_CANCELED", "message": "Request canceled"}}
	}

	return gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	}
}

// getErrorStatusCode returns the HTTP status for an error
func getErrorStatusCode(err error) int {
	enhancedErr, ok := errors.As(err)
	if !ok {
		if stderrors.Is(err, context.Canceled) {
			return 499
		}
		return http.StatusInternalServerError
	}

	switch enhancedErr.Code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeMissingRequired,
		errors.ErrCodeInvalidQuestion, errors.ErrCodeUnsafeSQL, errors.ErrCodeBatchLimit:
		return http.StatusBadRequest
	case errors.ErrCodeInvalidCredentials, errors.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case errors.ErrCodeInsufficientPerms:
		return http.StatusForbidden
	case errors.ErrCodeProductNotFound, errors.ErrCodeHistoryDisabled:
		return http.StatusNotFound
	case errors.ErrCodeQueryExecution:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeQueryTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
}
