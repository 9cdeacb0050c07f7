// internal/auth/testing_helper.go
package auth

import (
	"log"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/session"
)

// NewTestManager creates a manager whose sessions live in an in-memory Redis.
// The returned miniredis lets tests fast-forward session expiry.
func NewTestManager(config Config) (*Manager, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatalf("Failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := session.NewManager(rdb, config.SessionExpiry)

	return NewManager(config, sessions, observability.NopLogger()), mr
}
