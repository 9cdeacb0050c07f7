// internal/auth/middleware_test.go
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter(m *Manager, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{m.Middleware()}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		id, _ := GetCurrentUserID(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":     id,
			"ctx_user_id": observability.GetUserID(c.Request.Context()),
			"auth_type":   GetAuthType(c),
		})
	})
	r.GET("/api/v1/protected", handlers...)
	return r
}

func TestMiddleware(t *testing.T) {
	m, mr := NewTestManager(Config{JWTSecret: "test-secret"})
	defer mr.Close()

	user, err := m.CreateUser("ana", "", "pw", []string{RoleAnalyst})
	require.NoError(t, err)
	token, _, err := m.CreateJWTToken(user)
	require.NoError(t, err)
	apiKey, err := m.CreateAPIKey(user.ID, "k", time.Hour)
	require.NoError(t, err)
	sess, err := m.CreateSession(context.Background(), user)
	require.NoError(t, err)

	tests := []struct {
		name           string
		setupRequest   func(*http.Request)
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "bearer token",
			setupRequest:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
			expectedStatus: http.StatusOK,
			expectedType:   "jwt",
		},
		{
			name:           "lowercase bearer",
			setupRequest:   func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) },
			expectedStatus: http.StatusOK,
			expectedType:   "jwt",
		},
		{
			name:           "api key",
			setupRequest:   func(r *http.Request) { r.Header.Set("X-API-Key", apiKey.Key) },
			expectedStatus: http.StatusOK,
			expectedType:   "api_key",
		},
		{
			name: "session cookie",
			setupRequest: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: session.CookieName, Value: sess.ID})
			},
			expectedStatus: http.StatusOK,
			expectedType:   "session",
		},
		{
			name: "bad token falls through to valid api key",
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer nope")
				r.Header.Set("X-API-Key", apiKey.Key)
			},
			expectedStatus: http.StatusOK,
			expectedType:   "api_key",
		},
		{
			name:           "no credentials",
			setupRequest:   func(r *http.Request) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid api key",
			setupRequest:   func(r *http.Request) { r.Header.Set("X-API-Key", "eci_invalid") },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "basic auth is not accepted",
			setupRequest:   func(r *http.Request) { r.Header.Set("Authorization", "Basic YWRtaW46eA==") },
			expectedStatus: http.StatusUnauthorized,
		},
	}

	router := protectedRouter(m)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/protected", nil)
			tt.setupRequest(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, user.ID, body["user_id"])
				assert.Equal(t, user.ID, body["ctx_user_id"])
				assert.Equal(t, tt.expectedType, body["auth_type"])
				return
			}
			errBody, ok := body["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "NOT_AUTHENTICATED", errBody["code"])
		})
	}
}

func TestMiddleware_AnonymousAccess(t *testing.T) {
	m := NewManager(Config{JWTSecret: "s", AllowAnonymous: true}, nil, observability.NopLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/protected", nil)
	w := httptest.NewRecorder()
	protectedRouter(m).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"auth_type":"anonymous"`)

	// role checks still apply to anonymous callers
	w = httptest.NewRecorder()
	protectedRouter(m, m.RequireRole(RoleAnalyst)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	m := NewManager(Config{JWTSecret: "s"}, nil, observability.NopLogger())
	viewer, err := m.CreateUser("vic", "", "pw", []string{RoleViewer})
	require.NoError(t, err)
	analyst, err := m.CreateUser("ana", "", "pw", []string{RoleAnalyst})
	require.NoError(t, err)
	admin, err := m.GetUserByUsername("admin")
	require.NoError(t, err)

	tests := []struct {
		name           string
		user           *User
		roles          []string
		expectedStatus int
	}{
		{name: "viewer denied", user: viewer, roles: []string{RoleAnalyst, RoleAdmin}, expectedStatus: http.StatusForbidden},
		{name: "analyst allowed", user: analyst, roles: []string{RoleAnalyst, RoleAdmin}, expectedStatus: http.StatusOK},
		{name: "admin allowed", user: admin, roles: []string{RoleAnalyst, RoleAdmin}, expectedStatus: http.StatusOK},
		{name: "analyst is not admin", user: analyst, roles: []string{RoleAdmin}, expectedStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _, err := m.CreateJWTToken(tt.user)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/protected", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			protectedRouter(m, m.RequireRole(tt.roles...)).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusForbidden {
				assert.Contains(t, w.Body.String(), "INSUFFICIENT_PERMISSIONS")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc", "abc"},
		{"case insensitive", "BEARER abc", "abc"},
		{"missing token", "Bearer", ""},
		{"other scheme", "Basic abc", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bearerToken(tt.header))
		})
	}
}

func TestGetCurrentUser_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := GetCurrentUser(c)
	assert.False(t, ok)
	_, ok = GetCurrentUserID(c)
	assert.False(t, ok)
	assert.Empty(t, GetAuthType(c))
}
