package testsupport

import (
	"context"
	"testing"

	"voiceloom/internal/config"
	"voiceloom/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// NewUser creates a user for tests using the provided store.
func NewUser(t testing.TB, s *store.Store, uid string, tier store.Tier, credits float64) *store.User {
	t.Helper()

	user, err := s.CreateUser(context.Background(), uid, tier, credits)
	if err != nil {
		t.Fatalf("store.CreateUser: %v", err)
	}
	return user
}
