package services

import (
	"context"
	"testing"
	"time"

	"kassa/internal/delivery"
	"kassa/internal/log"
)

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	if _, err := NewScheduler(nil, "every hour", log.Discard()); err == nil {
		t.Error("NewScheduler() should reject an invalid cron spec")
	}
}

func TestScheduler_Lifecycle(t *testing.T) {
	repo := newTestRepo(t)
	seq := newTestSequencer(repo, SenderPublisher{Sender: delivery.NewMemorySender()}, nil)
	s, err := NewScheduler(seq, "0 * * * *", log.Discard())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	ctx := context.Background()
	if s.IsRunning() {
		t.Error("scheduler should not be running initially")
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() before Start() error = %v", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("expected error when starting an already running scheduler")
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running after Start()")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler should not be running after Stop()")
	}
}

func TestScheduler_Tick(t *testing.T) {
	repo := newTestRepo(t)
	seedTenant(t, repo, 1, 300)
	food := seedCategory(t, repo, 1, "Food", true)
	seedTransaction(t, repo, 1, food, "12", "", utc(2025, 6, 15, 9, 0))

	sender := delivery.NewMemorySender()
	seq := newTestSequencer(repo, SenderPublisher{Sender: sender}, nil)
	s, err := NewScheduler(seq, "0 * * * *", log.Discard())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.now = func() time.Time { return utc(2025, 6, 15, 19, 0).Add(3 * time.Second) }

	s.Tick(context.Background())

	counts, err := repo.CountSummaries(context.Background())
	if err != nil || counts.Daily != 1 {
		t.Errorf("CountSummaries() = %+v, %v; want one daily row", counts, err)
	}
	if len(sender.Messages()) != 1 {
		t.Errorf("messages = %d, want 1", len(sender.Messages()))
	}
}
