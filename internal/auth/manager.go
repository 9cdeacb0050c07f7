// internal/auth/manager.go
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/seanankenbruck/ecommerce-insights/internal/errors"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/session"
)

// Roles understood by the API
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleViewer  = "viewer"
)

const (
	tokenIssuer   = "ecommerce-insights"
	apiKeyPrefix  = "eci_"
	adminID       = "00000000-0000-0000-0000-000000000001"
	adminUsername = "admin"
)

// User represents a user in the system
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasRole reports whether the user holds any of roles
func (u *User) HasRole(roles ...string) bool {
	for _, required := range roles {
		for _, r := range u.Roles {
			if r == required {
				return true
			}
		}
	}
	return false
}

// APIKey represents an API key for authentication
type APIKey struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key,omitempty"` // plaintext, only set on creation
	HashedKey  string    `json:"-"`
	UserID     string    `json:"user_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	Active     bool      `json:"active"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	SessionExpiry  time.Duration
	AllowAnonymous bool
	AdminPassword  string
}

// Manager handles users, API keys, tokens and sessions
type Manager struct {
	config         Config
	users          map[string]*User   // userID -> User
	apiKeys        map[string]*APIKey // hashedKey -> APIKey
	userByUsername map[string]*User
	sessions       *session.Manager
	logger         *observability.Logger
	mu             sync.RWMutex
}

// NewManager creates an auth manager with the default admin user. When no
// admin password is configured the admin can only use API keys created for it.
func NewManager(config Config, sessions *session.Manager, logger *observability.Logger) *Manager {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	if config.SessionExpiry == 0 {
		config.SessionExpiry = session.DefaultTTL
	}
	if logger == nil {
		logger = observability.NewLogger("auth")
	}
	if config.JWTSecret == "" {
		config.JWTSecret = randomHex(32)
		logger.Warn(context.Background(), "JWT_SECRET not set, using a random secret; tokens will not survive a restart", nil)
	}

	m := &Manager{
		config:         config,
		users:          make(map[string]*User),
		apiKeys:        make(map[string]*APIKey),
		userByUsername: make(map[string]*User),
		sessions:       sessions,
		logger:         logger,
	}
	m.createAdmin()
	return m
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.config
}

// CreateUser creates a user. An empty password disables password login for it.
func (m *Manager) CreateUser(username, email, password string, roles []string) (*User, error) {
	if username == "" {
		return nil, errors.NewInvalidInputError("username", "must not be empty")
	}
	for _, r := range roles {
		if !validRole(r) {
			return nil, errors.NewInvalidInputError("roles", fmt.Sprintf("unknown role %q", r))
		}
	}
	if len(roles) == 0 {
		roles = []string{RoleViewer}
	}

	var hash string
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		hash = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.userByUsername[username]; exists {
		return nil, errors.NewInvalidInputError("username", fmt.Sprintf("user %q already exists", username))
	}

	user := &User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[user.ID] = user
	m.userByUsername[username] = user
	return user, nil
}

// Authenticate checks a username and password
func (m *Manager) Authenticate(username, password string) (*User, error) {
	m.mu.RLock()
	user, exists := m.userByUsername[username]
	m.mu.RUnlock()

	if !exists || !user.Active || user.PasswordHash == "" {
		return nil, errors.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.NewInvalidCredentialsError()
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (m *Manager) GetUser(userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, exists := m.users[userID]
	if !exists {
		return nil, fmt.Errorf("user not found: %s", userID)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (m *Manager) GetUserByUsername(username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, exists := m.userByUsername[username]
	if !exists {
		return nil, fmt.Errorf("user not found: %s", username)
	}
	return user, nil
}

// ListUsers returns all users ordered by username
func (m *Manager) ListUsers() []*User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// CreateAPIKey creates a key for a user. The plaintext key is only returned here.
func (m *Manager) CreateAPIKey(userID, name string, expiresIn time.Duration) (*APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[userID]; !exists {
		return nil, fmt.Errorf("user not found: %s", userID)
	}

	key := apiKeyPrefix + randomHex(32)
	now := time.Now()
	apiKey := &APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		Key:       key,
		HashedKey: hashAPIKey(key),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
		Active:    true,
	}

	stored := *apiKey
	stored.Key = ""
	m.apiKeys[apiKey.HashedKey] = &stored
	return apiKey, nil
}

// ValidateAPIKey validates an API key and returns the associated user
func (m *Manager) ValidateAPIKey(key string) (*User, *APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	apiKey, exists := m.apiKeys[hashAPIKey(key)]
	if !exists {
		return nil, nil, fmt.Errorf("invalid API key")
	}
	if !apiKey.Active {
		return nil, nil, fmt.Errorf("API key is inactive")
	}
	if time.Now().After(apiKey.ExpiresAt) {
		return nil, nil, fmt.Errorf("API key has expired")
	}

	user, exists := m.users[apiKey.UserID]
	if !exists || !user.Active {
		return nil, nil, fmt.Errorf("user not found or inactive for API key")
	}

	apiKey.LastUsedAt = time.Now()
	return user, apiKey, nil
}

// ListAPIKeys returns the keys owned by a user, newest first
func (m *Manager) ListAPIKeys(userID string) []*APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*APIKey, 0)
	for _, k := range m.apiKeys {
		if k.UserID == userID {
			c := *k
			keys = append(keys, &c)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys
}

// RevokeAPIKey deactivates a key. Only the owner or an admin may revoke it.
func (m *Manager) RevokeAPIKey(actor *User, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range m.apiKeys {
		if k.ID != keyID {
			continue
		}
		if k.UserID != actor.ID && !actor.HasRole(RoleAdmin) {
			return errors.NewInsufficientPermissionsError([]string{RoleAdmin})
		}
		k.Active = false
		return nil
	}
	return errors.NewInvalidInputError("id", fmt.Sprintf("API key %s not found", keyID))
}

// CleanupExpired removes expired API keys; sessions expire through Redis TTLs
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for hash, k := range m.apiKeys {
		if now.After(k.ExpiresAt) {
			delete(m.apiKeys, hash)
			removed++
		}
	}
	return removed
}

// CreateJWTToken creates a signed token for a user
func (m *Manager) CreateJWTToken(user *User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.JWTExpiry)

	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, errors.NewTokenCreationError(err)
	}
	return signed, expiresAt, nil
}

// ValidateJWTToken validates a token and returns its user
func (m *Manager) ValidateJWTToken(tokenString string) (*User, *Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, nil, fmt.Errorf("invalid token")
	}

	user, err := m.GetUser(claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if !user.Active {
		return nil, nil, fmt.Errorf("user is inactive")
	}
	return user, claims, nil
}

// SessionsEnabled reports whether cookie sessions are available
func (m *Manager) SessionsEnabled() bool {
	return m.sessions != nil
}

// CreateSession stores a new session for a user
func (m *Manager) CreateSession(ctx context.Context, user *User) (*session.Session, error) {
	if m.sessions == nil {
		return nil, errors.NewSessionCreationError(fmt.Errorf("sessions require Redis"))
	}
	sess, err := m.sessions.Create(ctx, user.ID, user.Username, user.Roles)
	if err != nil {
		return nil, errors.NewSessionCreationError(err)
	}
	return sess, nil
}

// ValidateSession loads a session, refreshes its TTL and returns its user
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (*User, error) {
	if m.sessions == nil {
		return nil, fmt.Errorf("sessions are not enabled")
	}
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}

	user, err := m.GetUser(sess.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, fmt.Errorf("user is inactive")
	}

	if err := m.sessions.Refresh(ctx, sessionID); err != nil {
		m.logger.Warn(ctx, "Failed to refresh session", map[string]interface{}{"error": err.Error()})
	}
	return user, nil
}

// RevokeSession deletes a session
func (m *Manager) RevokeSession(ctx context.Context, sessionID string) error {
	if m.sessions == nil {
		return nil
	}
	return m.sessions.Delete(ctx, sessionID)
}

func (m *Manager) createAdmin() {
	admin := &User{
		ID:        adminID,
		Username:  adminUsername,
		Email:     "admin@localhost",
		Roles:     []string{RoleAdmin, RoleAnalyst},
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	if m.config.AdminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(m.config.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			m.logger.Error(context.Background(), "Failed to hash admin password", err, nil)
		} else {
			admin.PasswordHash = string(hash)
		}
	}
	if admin.PasswordHash == "" {
		m.logger.Warn(context.Background(), "ADMIN_PASSWORD not set, password login disabled for admin", nil)
	}

	m.users[admin.ID] = admin
	m.userByUsername[admin.Username] = admin
}

func validRole(r string) bool {
	switch r {
	case RoleAdmin, RoleAnalyst, RoleViewer:
		return true
	}
	return false
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
