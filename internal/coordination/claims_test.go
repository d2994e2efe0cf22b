package coordination

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryClaimStore_FirstClaimWins(t *testing.T) {
	store := NewInMemoryClaimStore()
	ctx := context.Background()

	won, err := store.Claim(ctx, "ride_1", "driver_a", time.Minute)
	if err != nil || !won {
		t.Fatalf("expected first claim to win, got won=%v err=%v", won, err)
	}

	won, err = store.Claim(ctx, "ride_1", "driver_b", time.Minute)
	if err != nil || won {
		t.Fatalf("expected second claim to lose, got won=%v err=%v", won, err)
	}

	winner, ok, err := store.Winner(ctx, "ride_1")
	if err != nil || !ok || winner != "driver_a" {
		t.Fatalf("Winner() = %q, %v, %v; want driver_a, true, nil", winner, ok, err)
	}
}

func TestInMemoryClaimStore_ExpiredClaimCanBeReclaimed(t *testing.T) {
	store := NewInMemoryClaimStore()
	ctx := context.Background()

	won, _ := store.Claim(ctx, "ride_2", "driver_a", 10*time.Millisecond)
	if !won {
		t.Fatal("expected first claim to win")
	}
	time.Sleep(20 * time.Millisecond)

	won, err := store.Claim(ctx, "ride_2", "driver_b", time.Minute)
	if err != nil || !won {
		t.Fatalf("expected claim to be reclaimable after expiry, got won=%v err=%v", won, err)
	}
}

func TestInMemoryClaimStore_Release(t *testing.T) {
	store := NewInMemoryClaimStore()
	ctx := context.Background()

	_, _ = store.Claim(ctx, "ride_3", "driver_a", time.Minute)
	if err := store.Release(ctx, "ride_3"); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	_, ok, _ := store.Winner(ctx, "ride_3")
	if ok {
		t.Error("expected no winner after release")
	}
}

func TestInMemoryClaimStore_NoClaimNoWinner(t *testing.T) {
	store := NewInMemoryClaimStore()
	_, ok, err := store.Winner(context.Background(), "never_claimed")
	if err != nil || ok {
		t.Fatalf("expected no winner, got ok=%v err=%v", ok, err)
	}
}
