package storage

import (
	"context"
	"fmt"

	"kassa/internal/core"
)

func (q *Queries) ListDailySummaries(ctx context.Context, tenantID int64) ([]core.DailySummary, error) {
	rows, err := q.query(ctx, `
SELECT id, user_id, category_id, day, amount, monthly_id FROM daily_summaries
WHERE user_id = ? ORDER BY day, category_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list daily summaries: %w", err)
	}
	defer rows.Close()

	var out []core.DailySummary
	for rows.Next() {
		var (
			s   core.DailySummary
			day dbTime
		)
		if err := rows.Scan(&s.ID, &s.TenantID, &s.CategoryID, &day, &s.Amount, &s.MonthlyID); err != nil {
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}
		s.Day = day.Time
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) ListMonthlySummaries(ctx context.Context, tenantID int64) ([]core.MonthlySummary, error) {
	rows, err := q.query(ctx, `
SELECT id, user_id, category_id, month, amount, yearly_id FROM monthly_summaries
WHERE user_id = ? ORDER BY month, category_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list monthly summaries: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlySummary
	for rows.Next() {
		var (
			s     core.MonthlySummary
			month dbTime
		)
		if err := rows.Scan(&s.ID, &s.TenantID, &s.CategoryID, &month, &s.Amount, &s.YearlyID); err != nil {
			return nil, fmt.Errorf("scan monthly summary: %w", err)
		}
		s.Month = month.Time
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) ListYearlySummaries(ctx context.Context, tenantID int64) ([]core.YearlySummary, error) {
	rows, err := q.query(ctx, `
SELECT id, user_id, category_id, year, amount FROM yearly_summaries
WHERE user_id = ? ORDER BY year, category_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list yearly summaries: %w", err)
	}
	defer rows.Close()

	var out []core.YearlySummary
	for rows.Next() {
		var s core.YearlySummary
		if err := rows.Scan(&s.ID, &s.TenantID, &s.CategoryID, &s.Year, &s.Amount); err != nil {
			return nil, fmt.Errorf("scan yearly summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SummaryCounts is a cheap snapshot used by health output and tests.
type SummaryCounts struct {
	Daily, Monthly, Yearly int
}

func (q *Queries) CountSummaries(ctx context.Context) (SummaryCounts, error) {
	var c SummaryCounts
	err := q.queryRow(ctx, `
SELECT (SELECT COUNT(*) FROM daily_summaries),
       (SELECT COUNT(*) FROM monthly_summaries),
       (SELECT COUNT(*) FROM yearly_summaries)`).Scan(&c.Daily, &c.Monthly, &c.Yearly)
	if err != nil {
		return SummaryCounts{}, fmt.Errorf("count summaries: %w", err)
	}
	return c, nil
}
