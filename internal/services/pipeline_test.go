package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kassa/internal/delivery"
	"kassa/internal/i18n"
	"kassa/internal/lock"
	"kassa/internal/log"
	"kassa/internal/storage"
)

func newTestSequencer(repo *storage.Repository, pub Publisher, locker lock.Locker) *Sequencer {
	opts := testOptions()
	return NewSequencer(
		NewResolver(repo),
		NewDailyAggregator(repo, opts),
		NewRollupAggregator(repo, StrictYearly{}, opts),
		NewNotifier(repo, i18n.MustDefault(), pub, opts),
		locker,
		DefaultSchedule(),
		opts,
		log.Discard(),
	)
}

func TestSequencer_RunTickTwice(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedTenant(t, repo, 7, 300)
	food := seedCategory(t, repo, 7, "Food", true)
	salary := seedCategory(t, repo, 7, "Salary", false)

	// Earlier in June, already summarized.
	seedDaily(t, repo, 7, food, utc(2025, 6, 10, 0, 0), "40")
	// The local day that closes with this tick.
	seedTransaction(t, repo, 7, food, "10", "", utc(2025, 6, 30, 9, 0))
	seedTransaction(t, repo, 7, food, "20", "", utc(2025, 6, 30, 13, 0))
	seedTransaction(t, repo, 7, food, "5", "", utc(2025, 6, 30, 19, 0))
	seedTransaction(t, repo, 7, salary, "100", "", utc(2025, 6, 30, 12, 0))

	sender := delivery.NewMemorySender()
	seq := newTestSequencer(repo, SenderPublisher{Sender: sender}, nil)
	// Local midnight of July 1st at +05:00.
	now := utc(2025, 6, 30, 19, 0)

	first, err := seq.RunTick(ctx, now)
	if err != nil {
		t.Fatalf("RunTick() error = %v", err)
	}
	if first.Result() != "ok" || first.Tenants != 1 {
		t.Fatalf("RunTick() = %+v", first)
	}
	if first.Daily.Written != 2 || first.Monthly.Written != 2 || first.Yearly.Written != 0 {
		t.Errorf("written daily/monthly/yearly = %d/%d/%d, want 2/2/0",
			first.Daily.Written, first.Monthly.Written, first.Yearly.Written)
	}
	if first.RunID == "" {
		t.Error("RunTick() should assign a run id")
	}
	if seq.State() != Idle {
		t.Errorf("State() = %v after tick, want idle", seq.State())
	}

	counts, err := repo.CountSummaries(ctx)
	if err != nil {
		t.Fatalf("CountSummaries() error = %v", err)
	}
	monthly, _ := repo.ListMonthlySummaries(ctx, 7)

	second, err := seq.RunTick(ctx, now)
	if err != nil {
		t.Fatalf("second RunTick() error = %v", err)
	}
	if second.Daily.Written != 0 || second.Monthly.Written != 0 {
		t.Errorf("second tick wrote daily/monthly = %d/%d, want 0/0", second.Daily.Written, second.Monthly.Written)
	}

	again, _ := repo.CountSummaries(ctx)
	if again != counts || counts != (storage.SummaryCounts{Daily: 3, Monthly: 2}) {
		t.Errorf("counts = %+v then %+v, want {3 2 0} both times", counts, again)
	}
	monthlyAgain, _ := repo.ListMonthlySummaries(ctx, 7)
	sums := map[int64]string{food: "75", salary: "100"}
	for i, m := range monthlyAgain {
		if !m.Amount.Equal(monthly[i].Amount) || !m.Amount.Equal(dec(sums[m.CategoryID])) {
			t.Errorf("monthly %d = %s, first run %s, want %s", m.ID, m.Amount, monthly[i].Amount, sums[m.CategoryID])
		}
	}

	msgs := sender.Messages()
	if len(msgs) == 0 || !strings.Contains(msgs[0].Text, "<b>Total:</b> UZS 135") {
		t.Errorf("daily statistics = %+v", msgs)
	}
}

func TestSequencer_SkipsOverlappingTick(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	held := lock.NewLocal()
	release, err := held.TryLock(ctx)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	defer release(ctx)

	seq := newTestSequencer(repo, SenderPublisher{Sender: delivery.NewMemorySender()}, held)
	if _, err := seq.RunTick(ctx, utc(2025, 6, 15, 19, 0)); !errors.Is(err, ErrTickInProgress) {
		t.Errorf("RunTick() error = %v, want ErrTickInProgress", err)
	}
}

func TestSequencer_ReplicasShareTickBoundary(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedTenant(t, repo, 1, 300)
	food := seedCategory(t, repo, 1, "Food", true)
	seedTransaction(t, repo, 1, food, "10", "", utc(2025, 6, 15, 9, 0))

	sender := delivery.NewMemorySender()
	pub := SenderPublisher{Sender: sender}
	// Two replicas: separate process locks, one database.
	a := newTestSequencer(repo, pub, lock.NewLocal()).WithClaims(repo)
	b := newTestSequencer(repo, pub, lock.NewLocal()).WithClaims(repo)

	now := utc(2025, 6, 15, 19, 0)
	if _, err := a.RunTick(ctx, now); err != nil {
		t.Fatalf("replica a RunTick() error = %v", err)
	}
	if _, err := b.RunTick(ctx, now.Add(2*time.Second)); !errors.Is(err, ErrTickAlreadyRun) {
		t.Fatalf("replica b RunTick() error = %v, want ErrTickAlreadyRun", err)
	}
	if got := len(sender.Messages()); got != 1 {
		t.Errorf("messages for one boundary = %d, want 1", got)
	}

	// The next hour belongs to whichever replica fires first.
	if _, err := b.RunTick(ctx, now.Add(time.Hour)); err != nil {
		t.Errorf("replica b next hour RunTick() error = %v", err)
	}
}

func TestTickBoundary(t *testing.T) {
	want := utc(2025, 6, 15, 19, 0)
	for _, now := range []time.Time{
		want,
		want.Add(2 * time.Second),
		want.Add(-25 * time.Second),
	} {
		if got := TickBoundary(now); !got.Equal(want) {
			t.Errorf("TickBoundary(%s) = %s, want %s", now, got, want)
		}
	}
}

func TestSequencer_NotifiesAfterRollups(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedTenant(t, repo, 1, 300)
	food := seedCategory(t, repo, 1, "Food", true)
	seedTransaction(t, repo, 1, food, "10", "", utc(2025, 6, 15, 9, 0))

	var (
		mu     sync.Mutex
		states []State
		seq    *Sequencer
	)
	pub := publisherFunc(func(context.Context, int64, string, string) error {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, seq.State())
		return nil
	})
	seq = newTestSequencer(repo, pub, nil)

	report, err := seq.RunTick(ctx, utc(2025, 6, 15, 19, 0))
	if err != nil {
		t.Fatalf("RunTick() error = %v", err)
	}
	if report.Stats.Written != 1 {
		t.Fatalf("Stats = %+v, want one message", report.Stats)
	}
	for _, s := range states {
		if s != Notifying {
			t.Errorf("published while %v, want notifying", s)
		}
	}
}

func TestSequencer_NoTenants(t *testing.T) {
	repo := newTestRepo(t)
	seedTenant(t, repo, 1, 300)

	report, err := newTestSequencer(repo, SenderPublisher{Sender: delivery.NewMemorySender()}, nil).
		RunTick(context.Background(), utc(2025, 6, 15, 7, 0))
	if err != nil {
		t.Fatalf("RunTick() error = %v", err)
	}
	if report.Tenants != 0 || report.Result() != "ok" {
		t.Errorf("RunTick() = %+v, want an empty ok tick", report)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Idle:             "idle",
		ResolvingTenants: "resolving_tenants",
		AggregatingDaily: "aggregating_daily",
		RollingMonthly:   "rolling_monthly",
		RollingYearly:    "rolling_yearly",
		Notifying:        "notifying",
		State(42):        "state(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}

func TestSequencer_NotifyBudgetBoundsTick(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedTenant(t, repo, 1, 300)
	food := seedCategory(t, repo, 1, "Food", true)
	seedTransaction(t, repo, 1, food, "10", "", utc(2025, 6, 15, 9, 0))

	pub := publisherFunc(func(ctx context.Context, _ int64, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	opts := testOptions()
	opts.NotifyBudget = 30 * time.Millisecond
	seq := NewSequencer(
		NewResolver(repo),
		NewDailyAggregator(repo, opts),
		NewRollupAggregator(repo, StrictYearly{}, opts),
		NewNotifier(repo, i18n.MustDefault(), pub, opts),
		nil,
		DefaultSchedule(),
		opts,
		log.Discard(),
	)

	started := time.Now()
	report, err := seq.RunTick(ctx, utc(2025, 6, 15, 19, 0))
	if err != nil {
		t.Fatalf("RunTick() error = %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Errorf("RunTick() took %v with a 30ms notify budget", elapsed)
	}
	if report.Daily.Written != 1 {
		t.Errorf("Daily.Written = %d, want 1", report.Daily.Written)
	}
	if len(report.Stats.Failures) != 1 || !errors.Is(report.Stats.Failures[0].Err, context.DeadlineExceeded) {
		t.Errorf("Stats.Failures = %+v, want one deadline failure", report.Stats.Failures)
	}
	if seq.State() != Idle {
		t.Errorf("State() = %v after tick, want idle", seq.State())
	}
}
