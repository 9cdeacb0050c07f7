// internal/auth/handlers.go
package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/ecommerce-insights/internal/errors"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/session"
)

const defaultAPIKeyExpiry = 30 * 24 * time.Hour

// Handlers provides HTTP handlers for authentication endpoints
type Handlers struct {
	manager *Manager
	limiter *RateLimiter
	logger  *observability.Logger
}

// NewHandlers creates auth handlers. limiter may be nil.
func NewHandlers(manager *Manager, limiter *RateLimiter, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{manager: manager, limiter: limiter, logger: logger}
}

// SetupRoutes mounts login on public and everything else on protected,
// which must already run the auth middleware
func (h *Handlers) SetupRoutes(public, protected *gin.RouterGroup) {
	public.POST("/auth/login", h.Login)
	public.POST("/auth/logout", h.Logout)
	public.GET("/auth/status", h.Status)

	protected.GET("/auth/me", h.Me)
	protected.GET("/auth/apikeys", h.ListAPIKeys)
	protected.POST("/auth/apikeys", h.CreateAPIKey)
	protected.DELETE("/auth/apikeys/:id", h.RevokeAPIKey)

	admin := protected.Group("/admin", h.manager.RequireRole(RoleAdmin))
	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.GET("/rate-limit", h.RateLimitStats)
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      *User  `json:"user"`
}

// Login exchanges a username and password for a token and, with Redis
// available, a session cookie
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, errors.NewInvalidInputError("request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	user, err := h.manager.Authenticate(req.Username, req.Password)
	if err != nil {
		h.logger.Warn(ctx, "Login failed", map[string]interface{}{"username": req.Username})
		abortWithError(c, http.StatusUnauthorized, errors.NewInvalidCredentialsError())
		return
	}

	token, expiresAt, err := h.manager.CreateJWTToken(user)
	if err != nil {
		h.logger.Error(ctx, "Failed to create token", err, nil)
		abortWithError(c, http.StatusInternalServerError, errors.NewTokenCreationError(err))
		return
	}

	if h.manager.SessionsEnabled() {
		sess, err := h.manager.CreateSession(ctx, user)
		if err != nil {
			h.logger.Error(ctx, "Failed to create session", err, nil)
			abortWithError(c, http.StatusInternalServerError, errors.NewSessionCreationError(err))
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(session.CookieName, sess.ID, int(h.manager.config.SessionExpiry.Seconds()), "/", "", c.Request.TLS != nil, true)
	}

	h.logger.Info(ctx, "User logged in", map[string]interface{}{"user_id": user.ID})
	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		User:      user,
	})
}

// Logout deletes the session behind the cookie, if any
func (h *Handlers) Logout(c *gin.Context) {
	if sessionID, err := c.Cookie(session.CookieName); err == nil && sessionID != "" {
		if err := h.manager.RevokeSession(c.Request.Context(), sessionID); err != nil {
			h.logger.Warn(c.Request.Context(), "Failed to revoke session", map[string]interface{}{"error": err.Error()})
		}
	}
	c.SetCookie(session.CookieName, "", -1, "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Status reports the authentication settings
func (h *Handlers) Status(c *gin.Context) {
	cfg := h.manager.Config()
	c.JSON(http.StatusOK, gin.H{
		"allow_anonymous":  cfg.AllowAnonymous,
		"sessions_enabled": h.manager.SessionsEnabled(),
		"jwt_expiry":       cfg.JWTExpiry.String(),
		"session_expiry":   cfg.SessionExpiry.String(),
	})
}

// Me returns the current user
func (h *Handlers) Me(c *gin.Context) {
	user, ok := GetCurrentUser(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError())
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "auth_type": GetAuthType(c)})
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Name      string `json:"name" binding:"required"`
	ExpiresIn string `json:"expires_in"` // e.g. "30d", "2w", "1y", "720h"
}

// CreateAPIKey creates a key for the current user
func (h *Handlers) CreateAPIKey(c *gin.Context) {
	user, ok := GetCurrentUser(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError())
		return
	}

	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, errors.NewInvalidInputError("request body", err.Error()))
		return
	}

	expiresIn, err := parseDuration(req.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		abortWithError(c, http.StatusBadRequest, errors.NewInvalidInputError("expires_in", "use a duration such as 30d, 2w, 1y or 720h"))
		return
	}

	key, err := h.manager.CreateAPIKey(user.ID, req.Name, expiresIn)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, errors.Wrap(err, errors.ErrCodeTokenCreation, "Failed to create API key"))
		return
	}

	h.logger.Info(c.Request.Context(), "API key created", map[string]interface{}{"key_id": key.ID})
	c.JSON(http.StatusCreated, key)
}

// ListAPIKeys lists the current user's keys without their secrets
func (h *Handlers) ListAPIKeys(c *gin.Context) {
	userID, ok := GetCurrentUserID(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError())
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": h.manager.ListAPIKeys(userID)})
}

// RevokeAPIKey deactivates a key
func (h *Handlers) RevokeAPIKey(c *gin.Context) {
	user, ok := GetCurrentUser(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError())
		return
	}

	if err := h.manager.RevokeAPIKey(user, c.Param("id")); err != nil {
		status := http.StatusNotFound
		if errors.HasCode(err, errors.ErrCodeInsufficientPerms) {
			status = http.StatusForbidden
		}
		enhanced, _ := errors.As(err)
		abortWithError(c, status, enhanced)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}

// CreateUserRequest represents a request to create a user
type CreateUserRequest struct {
	Username string   `json:"username" binding:"required"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// CreateUser creates a user (admin only)
func (h *Handlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, errors.NewInvalidInputError("request body", err.Error()))
		return
	}

	user, err := h.manager.CreateUser(req.Username, req.Email, req.Password, req.Roles)
	if err != nil {
		if enhanced, ok := errors.As(err); ok {
			abortWithError(c, http.StatusBadRequest, enhanced)
			return
		}
		abortWithError(c, http.StatusInternalServerError, errors.Wrap(err, errors.ErrCodeInvalidInput, "Failed to create user"))
		return
	}
	c.JSON(http.StatusCreated, user)
}

// ListUsers returns all users (admin only)
func (h *Handlers) ListUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.manager.ListUsers()})
}

// RateLimitStats returns limiter statistics (admin only)
func (h *Handlers) RateLimitStats(c *gin.Context) {
	if h.limiter == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	stats := h.limiter.Stats()
	stats["enabled"] = true
	c.JSON(http.StatusOK, stats)
}

// parseDuration parses durations like "30d", "2w", "1y" and anything
// time.ParseDuration accepts. Empty means 30 days.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return defaultAPIKeyExpiry, nil
	}

	units := map[string]time.Duration{
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
		"y": 365 * 24 * time.Hour,
	}
	for suffix, unit := range units {
		if strings.HasSuffix(s, suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
			if err != nil {
				return 0, err
			}
			return time.Duration(n) * unit, nil
		}
	}
	return time.ParseDuration(s)
}
