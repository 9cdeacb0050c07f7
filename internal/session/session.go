package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix  = "eci:session:"
	idBytes    = 32
	CookieName = "eci_session"
	DefaultTTL = 7 * 24 * time.Hour
)

// ErrNotFound is returned for unknown or expired sessions
var ErrNotFound = fmt.Errorf("session not found")

// Session is the server side state behind a session cookie
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager stores sessions in Redis with a sliding TTL
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a session manager. A non-positive ttl uses DefaultTTL.
func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{redis: client, ttl: ttl}
}

// TTL returns the session lifetime
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create stores a new session for the user
func (m *Manager) Create(ctx context.Context, userID, username string, roles []string) (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        id,
		UserID:    userID,
		Username:  username,
		Roles:     roles,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	data, err := m.redis.Get(ctx, keyPrefix+id).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = m.Delete(ctx, id)
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Refresh extends a session by the full TTL
func (m *Manager) Refresh(ctx context.Context, id string) error {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.ExpiresAt = time.Now().UTC().Add(m.ttl)
	return m.save(ctx, sess)
}

// Delete removes a session; deleting an unknown session is not an error
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.redis.Del(ctx, keyPrefix+id).Err()
}

func (m *Manager) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := m.redis.Set(ctx, keyPrefix+sess.ID, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
