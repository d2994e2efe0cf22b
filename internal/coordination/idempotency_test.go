package coordination

import (
	"testing"
	"time"
)

func TestIdempotencyCache_RememberAndLookup(t *testing.T) {
	cache := NewIdempotencyCache(time.Minute)
	cache.Remember("key_1", "ride_1")

	value, ok := cache.Lookup("key_1")
	if !ok || value != "ride_1" {
		t.Fatalf("Lookup() = %q, %v; want ride_1, true", value, ok)
	}
}

func TestIdempotencyCache_LookupMiss(t *testing.T) {
	cache := NewIdempotencyCache(time.Minute)
	_, ok := cache.Lookup("missing")
	if ok {
		t.Error("expected miss for unknown key")
	}
}

func TestIdempotencyCache_ExpiresEntries(t *testing.T) {
	cache := NewIdempotencyCache(10 * time.Millisecond)
	cache.Remember("key_1", "ride_1")
	time.Sleep(20 * time.Millisecond)

	_, ok := cache.Lookup("key_1")
	if ok {
		t.Error("expected entry to have expired")
	}
}

func TestIdempotencyCache_IgnoresEmptyKeyOrValue(t *testing.T) {
	cache := NewIdempotencyCache(time.Minute)
	cache.Remember("", "ride_1")
	cache.Remember("key_1", "")

	if _, ok := cache.Lookup(""); ok {
		t.Error("expected empty key to never be remembered")
	}
	if _, ok := cache.Lookup("key_1"); ok {
		t.Error("expected empty value to never be remembered")
	}
}
