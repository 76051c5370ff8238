package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kassa/internal/core"
)

// RollupTier describes one fine-to-coarse step: which rows are absorbed,
// where their sum lands and which column points back.
type RollupTier struct {
	Name            string
	Source          string
	SourcePeriodCol string
	Backref         string
	Target          string
	TargetPeriodCol string
	Granularity     core.Granularity
}

var (
	MonthlyTier = RollupTier{
		Name:            "monthly",
		Source:          "daily_summaries",
		SourcePeriodCol: "day",
		Backref:         "monthly_id",
		Target:          "monthly_summaries",
		TargetPeriodCol: "month",
		Granularity:     core.Month,
	}
	YearlyTier = RollupTier{
		Name:            "yearly",
		Source:          "monthly_summaries",
		SourcePeriodCol: "month",
		Backref:         "yearly_id",
		Target:          "yearly_summaries",
		TargetPeriodCol: "year",
		Granularity:     core.Year,
	}
)

func (t RollupTier) String() string { return t.Name }

// SourceRow is a fine-grained row that has not been claimed yet.
type SourceRow struct {
	ID         int64
	CategoryID int64
	Amount     decimal.Decimal
}

// RollupQuerier is the transaction-scoped surface of one rollup unit.
type RollupQuerier interface {
	SelectUnabsorbed(ctx context.Context, tier RollupTier, tenantID, categoryID int64, p core.Period) ([]SourceRow, error)
	InsertTarget(ctx context.Context, tier RollupTier, tenantID, categoryID int64, p core.Period, amount decimal.Decimal) (int64, error)
	Backlink(ctx context.Context, tier RollupTier, ids []int64, targetID int64) (int64, error)
}

var _ RollupQuerier = (*Queries)(nil)

func (q *Queries) targetKey(tier RollupTier, p core.Period) any {
	if tier.Granularity == core.Year {
		return p.Year()
	}
	return q.dateArg(p.Start)
}

// PendingCategories lists categories that still have unclaimed source rows
// inside p.
func (q *Queries) PendingCategories(ctx context.Context, tier RollupTier, tenantID int64, p core.Period) ([]int64, error) {
	rows, err := q.query(ctx, fmt.Sprintf(`
SELECT DISTINCT category_id FROM %s
WHERE user_id = ? AND %s >= ? AND %s < ? AND %s IS NULL
ORDER BY category_id`, tier.Source, tier.SourcePeriodCol, tier.SourcePeriodCol, tier.Backref),
		tenantID, q.dateArg(p.Start), q.dateArg(p.End()))
	if err != nil {
		return nil, fmt.Errorf("pending %s categories: %w", tier, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan category id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *Queries) SelectUnabsorbed(ctx context.Context, tier RollupTier, tenantID, categoryID int64, p core.Period) ([]SourceRow, error) {
	rows, err := q.query(ctx, fmt.Sprintf(`
SELECT id, category_id, amount FROM %s
WHERE user_id = ? AND category_id = ? AND %s >= ? AND %s < ? AND %s IS NULL
ORDER BY id`, tier.Source, tier.SourcePeriodCol, tier.SourcePeriodCol, tier.Backref)+q.forUpdate(),
		tenantID, categoryID, q.dateArg(p.Start), q.dateArg(p.End()))
	if err != nil {
		return nil, fmt.Errorf("select unabsorbed %s: %w", tier.Source, err)
	}
	defer rows.Close()

	var out []SourceRow
	for rows.Next() {
		var r SourceRow
		if err := rows.Scan(&r.ID, &r.CategoryID, &r.Amount); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", tier.Source, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertTarget writes the coarse row and returns its id, or
// ErrAlreadyRolledUp when the (tenant, category, period) row exists.
func (q *Queries) InsertTarget(ctx context.Context, tier RollupTier, tenantID, categoryID int64, p core.Period, amount decimal.Decimal) (int64, error) {
	var id int64
	err := q.queryRow(ctx, fmt.Sprintf(`
INSERT INTO %s (user_id, category_id, %s, amount)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, category_id, %s) DO NOTHING
RETURNING id`, tier.Target, tier.TargetPeriodCol, tier.TargetPeriodCol),
		tenantID, categoryID, q.targetKey(tier, p), amount).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s %s for category %d: %w", tier, p, categoryID, ErrAlreadyRolledUp)
	}
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", tier.Target, err)
	}
	return id, nil
}

// Backlink claims source rows for targetID. Rows that are already claimed
// are left alone, so the returned count can be lower than len(ids).
func (q *Queries) Backlink(ctx context.Context, tier RollupTier, ids []int64, targetID int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, targetID)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := q.exec(ctx, fmt.Sprintf(`
UPDATE %s SET %s = ?
WHERE %s IS NULL AND id IN (%s)`, tier.Source, tier.Backref, tier.Backref, placeholders(len(ids))), args...)
	if err != nil {
		return 0, fmt.Errorf("backlink %s: %w", tier.Source, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// SelectUnabsorbedYears lists years before beforeYear that still hold
// monthly rows without a yearly parent.
func (q *Queries) SelectUnabsorbedYears(ctx context.Context, tenantID int64, beforeYear int) ([]int, error) {
	before := time.Date(beforeYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows, err := q.query(ctx, `
SELECT DISTINCT month FROM monthly_summaries
WHERE user_id = ? AND month < ? AND yearly_id IS NULL
ORDER BY month`, tenantID, q.dateArg(before))
	if err != nil {
		return nil, fmt.Errorf("select unabsorbed years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var m dbTime
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan month: %w", err)
		}
		if y := m.Time.Year(); len(years) == 0 || years[len(years)-1] != y {
			years = append(years, y)
		}
	}
	return years, rows.Err()
}
