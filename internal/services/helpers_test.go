package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kassa/internal/core"
	"kassa/internal/storage"
)

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "kassa.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testOptions() Options {
	return Options{Workers: 4, StorageRetries: 1, RetryBase: time.Millisecond}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func seedTenant(t *testing.T, repo *storage.Repository, id int64, offset core.Offset) core.Tenant {
	t.Helper()
	ctx := context.Background()
	if err := repo.UpsertTenant(ctx, core.Tenant{ID: id, FirstName: "T", Language: "en"}); err != nil {
		t.Fatalf("UpsertTenant() error = %v", err)
	}
	balance := dec("1000000")
	if err := repo.UpdateTenantProfile(ctx, id, offset, "UZS", &balance); err != nil {
		t.Fatalf("UpdateTenantProfile() error = %v", err)
	}
	tenant, err := repo.GetTenant(ctx, id)
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	return tenant
}

func seedCategory(t *testing.T, repo *storage.Repository, tenantID int64, title string, isExpense bool) int64 {
	t.Helper()
	var c core.Category
	err := repo.WithTx(context.Background(), func(q *storage.Queries) (err error) {
		c, err = q.CreateCategory(context.Background(), tenantID, title, isExpense, core.MaxCategories)
		return err
	})
	if err != nil {
		t.Fatalf("CreateCategory(%q) error = %v", title, err)
	}
	return c.ID
}

// seedTransaction stores a record at the given tenant-local wall clock.
func seedTransaction(t *testing.T, repo *storage.Repository, tenantID, categoryID int64, amount, comment string, local time.Time) {
	t.Helper()
	err := repo.WithTx(context.Background(), func(q *storage.Queries) error {
		_, err := q.InsertTransaction(context.Background(), core.Transaction{
			TenantID:   tenantID,
			CategoryID: categoryID,
			Amount:     dec(amount),
			Comment:    comment,
			CreatedAt:  local,
		})
		return err
	})
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}
}

func seedDaily(t *testing.T, repo *storage.Repository, tenantID, categoryID int64, day time.Time, amount string) {
	t.Helper()
	if _, err := repo.UpsertDailySummary(context.Background(), tenantID, categoryID, core.DayOf(day), dec(amount)); err != nil {
		t.Fatalf("UpsertDailySummary() error = %v", err)
	}
}

func seedMonthly(t *testing.T, repo *storage.Repository, tenantID, categoryID int64, month time.Time, amount string) {
	t.Helper()
	if _, err := repo.InsertTarget(context.Background(), storage.MonthlyTier, tenantID, categoryID, core.MonthOf(month), dec(amount)); err != nil {
		t.Fatalf("InsertTarget() error = %v", err)
	}
}

func dailyByCategory(t *testing.T, repo *storage.Repository, tenantID int64) map[int64][]core.DailySummary {
	t.Helper()
	rows, err := repo.ListDailySummaries(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("ListDailySummaries() error = %v", err)
	}
	out := make(map[int64][]core.DailySummary)
	for _, r := range rows {
		out[r.CategoryID] = append(out[r.CategoryID], r)
	}
	return out
}

type publisherFunc func(ctx context.Context, chatID int64, text, kind string) error

func (f publisherFunc) Publish(ctx context.Context, chatID int64, text, kind string) error {
	return f(ctx, chatID, text, kind)
}
