package auth

import (
	"testing"
	"time"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

func TestInMemoryStore_RegisterAndLookup(t *testing.T) {
	store := NewInMemoryStore()

	identity, err := store.Register(dispatch.RoleDriver, time.Hour)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if identity.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	found, ok := store.Lookup(identity.Token)
	if !ok {
		t.Fatal("expected token to resolve")
	}
	if found.ID != identity.ID || found.Role != dispatch.RoleDriver {
		t.Errorf("Lookup() = %+v, want ID=%s Role=%s", found, identity.ID, dispatch.RoleDriver)
	}
}

func TestInMemoryStore_RegisterRejectsUnknownRole(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.Register(dispatch.IdentityRole("ghost"), time.Hour); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestInMemoryStore_LookupMissReturnsFalse(t *testing.T) {
	store := NewInMemoryStore()
	if _, ok := store.Lookup("nope"); ok {
		t.Fatal("expected miss for unknown token")
	}
}

func TestInMemoryStore_LookupExpiredTokenFails(t *testing.T) {
	store := NewInMemoryStore()
	identity, _ := store.Register(dispatch.RoleRider, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := store.Lookup(identity.Token); ok {
		t.Fatal("expected expired token to fail lookup")
	}
}

func TestInMemoryStore_NoTTLNeverExpires(t *testing.T) {
	store := NewInMemoryStore()
	identity, _ := store.Register(dispatch.RoleAdmin, 0)

	found, ok := store.Lookup(identity.Token)
	if !ok {
		t.Fatal("expected zero-TTL token to resolve")
	}
	if found.ExpiresAt != nil {
		t.Error("expected no expiry for zero-TTL registration")
	}
}

func TestInMemoryStore_SeedHydratesToken(t *testing.T) {
	store := NewInMemoryStore()
	expiry := time.Now().Add(time.Hour)
	store.Seed(dispatch.Identity{ID: "rider_seeded", Role: dispatch.RoleRider, Token: "seeded-token", ExpiresAt: &expiry})

	found, ok := store.Lookup("seeded-token")
	if !ok || found.ID != "rider_seeded" {
		t.Fatalf("Lookup() = %+v, %v; want rider_seeded, true", found, ok)
	}
}

func TestInMemoryStore_SeedIgnoresExpiredIdentity(t *testing.T) {
	store := NewInMemoryStore()
	past := time.Now().Add(-time.Hour)
	store.Seed(dispatch.Identity{ID: "rider_stale", Role: dispatch.RoleRider, Token: "stale-token", ExpiresAt: &past})

	if _, ok := store.Lookup("stale-token"); ok {
		t.Fatal("expected expired seed to be skipped")
	}
}

func TestInMemoryStore_SeedIgnoresEmptyToken(t *testing.T) {
	store := NewInMemoryStore()
	store.Seed(dispatch.Identity{ID: "rider_no_token", Role: dispatch.RoleRider})

	if _, ok := store.Lookup(""); ok {
		t.Fatal("expected empty-token seed to be a no-op")
	}
}
