package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kassa/internal/amqp"
	"kassa/internal/core"
	"kassa/internal/delivery"
	"kassa/internal/i18n"
)

func sampleEntries() []core.DayEntry {
	return []core.DayEntry{
		{Amount: dec("10"), CategoryName: "Food", Comment: "lunch", LocalTime: utc(2025, 6, 15, 9, 0), Currency: "UZS"},
		{Amount: dec("1250.5"), CategoryName: "Rent", LocalTime: utc(2025, 6, 15, 11, 30), Currency: "UZS"},
		{Amount: dec("20"), CategoryName: "Food", LocalTime: utc(2025, 6, 15, 13, 5), Currency: "UZS"},
	}
}

func TestRenderDailyStats(t *testing.T) {
	got := RenderDailyStats(i18n.MustDefault(), "en", sampleEntries())
	want := "📊 <b>Your day in numbers</b>\n\n" +
		"⏰ 09:00 — UZS 10 — Food (lunch)\n" +
		"⏰ 11:30 — UZS 1 250.50 — Rent\n" +
		"⏰ 13:05 — UZS 20 — Food\n\n" +
		"<b>Total:</b> UZS 1 280.50\n" +
		"<b>By category:</b>\n" +
		"• Food: UZS 30\n" +
		"• Rent: UZS 1 250.50"
	if got != want {
		t.Errorf("RenderDailyStats() =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderReminder(t *testing.T) {
	catalog := i18n.MustDefault()
	reminder := catalog.Text("ru", "reminder")

	if got := RenderReminder(catalog, "ru", nil); got != reminder {
		t.Errorf("RenderReminder(empty) = %q, want %q", got, reminder)
	}

	got := RenderReminder(catalog, "ru", sampleEntries()[:2])
	want := reminder + "\n\n09:00 - Food (10.00 - lunch)\n11:30 - Rent (1250.50)"
	if got != want {
		t.Errorf("RenderReminder() = %q, want %q", got, want)
	}
}

func TestNotifyDailyStats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	active := seedTenant(t, repo, 1, 300)
	quiet := seedTenant(t, repo, 2, 300)
	food := seedCategory(t, repo, 1, "Food", true)
	seedTransaction(t, repo, 1, food, "10", "lunch", utc(2025, 6, 15, 9, 0))

	sender := delivery.NewMemorySender()
	n := NewNotifier(repo, i18n.MustDefault(), SenderPublisher{Sender: sender}, testOptions())
	r := n.NotifyDailyStats(ctx, utc(2025, 6, 15, 19, 0), []core.Tenant{active, quiet})

	if !r.OK() || r.Written != 1 || r.Skipped != 1 {
		t.Fatalf("NotifyDailyStats() = %+v, want 1 sent and 1 empty", r)
	}
	msgs := sender.Messages()
	if len(msgs) != 1 || msgs[0].ChatID != 1 {
		t.Fatalf("messages = %+v, want one for chat 1", msgs)
	}
	if !strings.Contains(msgs[0].Text, "⏰ 09:00 — UZS 10 — Food (lunch)") {
		t.Errorf("message = %q", msgs[0].Text)
	}
}

func TestNotifyReminders_ChunksLongDays(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenant := seedTenant(t, repo, 1, 0)
	food := seedCategory(t, repo, 1, "Food", true)
	comment := strings.Repeat("x", core.MaxCommentLength)
	for i := 0; i < 150; i++ {
		seedTransaction(t, repo, 1, food, "1", comment, utc(2025, 6, 15, 8, i%60))
	}

	var (
		mu     sync.Mutex
		chunks []string
	)
	pub := publisherFunc(func(_ context.Context, chatID int64, text, kind string) error {
		mu.Lock()
		defer mu.Unlock()
		if kind != amqp.KindReminder {
			t.Errorf("kind = %q, want %q", kind, amqp.KindReminder)
		}
		chunks = append(chunks, text)
		return nil
	})

	r := NewNotifier(repo, i18n.MustDefault(), pub, testOptions()).NotifyReminders(ctx, utc(2025, 6, 15, 21, 0), []core.Tenant{tenant})
	if !r.OK() || r.Written != 1 {
		t.Fatalf("NotifyReminders() = %+v", r)
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want the reminder split", len(chunks))
	}
	lines := 0
	for _, c := range chunks {
		if n := len([]rune(c)); n > delivery.MaxMessageLength {
			t.Errorf("chunk of %d runes exceeds limit", n)
		}
		lines += strings.Count(c, " - Food (")
	}
	if lines != 150 {
		t.Errorf("lines delivered = %d, want 150", lines)
	}
}

func TestNotify_PublishFailureIsReported(t *testing.T) {
	repo := newTestRepo(t)
	tenant := seedTenant(t, repo, 1, 0)

	pub := publisherFunc(func(context.Context, int64, string, string) error {
		return delivery.ErrDropped
	})
	r := NewNotifier(repo, i18n.MustDefault(), pub, testOptions()).NotifyReminders(context.Background(), utc(2025, 6, 15, 21, 0), []core.Tenant{tenant})
	if len(r.Failures) != 1 || !errors.Is(r.Failures[0].Err, delivery.ErrDropped) {
		t.Errorf("failures = %+v, want dropped delivery", r.Failures)
	}
}

func TestNotify_StopsAtStageDeadline(t *testing.T) {
	repo := newTestRepo(t)
	tenants := []core.Tenant{seedTenant(t, repo, 1, 0), seedTenant(t, repo, 2, 0), seedTenant(t, repo, 3, 0)}

	// Stands in for a sender sleeping out a long flood-control wait.
	pub := publisherFunc(func(ctx context.Context, _ int64, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	started := time.Now()
	r := NewNotifier(repo, i18n.MustDefault(), pub, testOptions()).NotifyReminders(ctx, utc(2025, 6, 15, 21, 0), tenants)
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("NotifyReminders() took %v past its deadline", elapsed)
	}
	if len(r.Failures) != len(tenants) {
		t.Fatalf("failures = %+v, want one per tenant", r.Failures)
	}
	for _, f := range r.Failures {
		if !errors.Is(f.Err, context.DeadlineExceeded) {
			t.Errorf("tenant %d error = %v, want deadline exceeded", f.TenantID, f.Err)
		}
	}
}
