package storage

import (
	"context"
	"testing"
	"time"
)

func TestClaimTick(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	boundary := time.Date(2025, 6, 30, 19, 0, 0, 0, time.UTC)

	ok, err := repo.ClaimTick(ctx, boundary, "run-a")
	if err != nil || !ok {
		t.Fatalf("ClaimTick(run-a) = %v, %v, want true", ok, err)
	}
	ok, err = repo.ClaimTick(ctx, boundary, "run-b")
	if err != nil || ok {
		t.Fatalf("ClaimTick(run-b) = %v, %v, want false", ok, err)
	}
	if ok, _ := repo.ClaimTick(ctx, boundary.Add(time.Hour), "run-b"); !ok {
		t.Errorf("next boundary should be claimable")
	}

	if err := repo.FinishTick(ctx, boundary, "run-a", "ok"); err != nil {
		t.Fatalf("FinishTick() error = %v", err)
	}

	// Someone else's release leaves the claim in place.
	if err := repo.ReleaseTick(ctx, boundary, "run-b"); err != nil {
		t.Fatalf("ReleaseTick(run-b) error = %v", err)
	}
	if ok, _ := repo.ClaimTick(ctx, boundary, "run-c"); ok {
		t.Fatalf("boundary claimable after a foreign release")
	}

	if err := repo.ReleaseTick(ctx, boundary, "run-a"); err != nil {
		t.Fatalf("ReleaseTick(run-a) error = %v", err)
	}
	if ok, _ := repo.ClaimTick(ctx, boundary, "run-c"); !ok {
		t.Errorf("boundary should be claimable after its owner released it")
	}
}
