package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"kassa/internal/core"
)

// CategoryAmount is one raw amount tagged with its category.
type CategoryAmount struct {
	CategoryID int64
	Amount     decimal.Decimal
}

// DailyQuerier is the transaction-scoped surface of daily aggregation.
type DailyQuerier interface {
	SelectDayAmounts(ctx context.Context, tenantID int64, day core.Period) ([]CategoryAmount, error)
	UpsertDailySummary(ctx context.Context, tenantID, categoryID int64, day core.Period, amount decimal.Decimal) (bool, error)
}

var _ DailyQuerier = (*Queries)(nil)

// SelectDayAmounts returns the raw amounts recorded on the local day.
func (q *Queries) SelectDayAmounts(ctx context.Context, tenantID int64, day core.Period) ([]CategoryAmount, error) {
	rows, err := q.query(ctx, `
SELECT category_id, amount FROM transactions
WHERE user_id = ? AND created_at >= ? AND created_at < ?
ORDER BY id`, tenantID, q.timeArg(day.Start), q.timeArg(day.End()))
	if err != nil {
		return nil, fmt.Errorf("select day amounts: %w", err)
	}
	defer rows.Close()

	var out []CategoryAmount
	for rows.Next() {
		var ca CategoryAmount
		if err := rows.Scan(&ca.CategoryID, &ca.Amount); err != nil {
			return nil, fmt.Errorf("scan day amount: %w", err)
		}
		out = append(out, ca)
	}
	return out, rows.Err()
}

// UpsertDailySummary inserts the (tenant, category, day) row unless it
// already exists. It reports whether a row was written.
func (q *Queries) UpsertDailySummary(ctx context.Context, tenantID, categoryID int64, day core.Period, amount decimal.Decimal) (bool, error) {
	res, err := q.exec(ctx, `
INSERT INTO daily_summaries (user_id, category_id, day, amount)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, category_id, day) DO NOTHING`,
		tenantID, categoryID, q.dateArg(day.Start), amount)
	if err != nil {
		return false, fmt.Errorf("upsert daily summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SelectTransactionsForLocalDay lists a tenant's records on the local day in
// the order they were made, with what a notification needs to render them.
func (q *Queries) SelectTransactionsForLocalDay(ctx context.Context, tenantID int64, day core.Period) ([]core.DayEntry, error) {
	rows, err := q.query(ctx, `
SELECT t.amount, t.category_id, c.title, t.comment, t.created_at, u.currency
FROM transactions t
JOIN categories c ON c.id = t.category_id
JOIN users u ON u.id = t.user_id
WHERE t.user_id = ? AND t.created_at >= ? AND t.created_at < ?
ORDER BY t.created_at, t.id`, tenantID, q.timeArg(day.Start), q.timeArg(day.End()))
	if err != nil {
		return nil, fmt.Errorf("select transactions for day: %w", err)
	}
	defer rows.Close()

	var out []core.DayEntry
	for rows.Next() {
		var (
			e  core.DayEntry
			at dbTime
		)
		if err := rows.Scan(&e.Amount, &e.CategoryID, &e.CategoryName, &e.Comment, &at, &e.Currency); err != nil {
			return nil, fmt.Errorf("scan day entry: %w", err)
		}
		e.LocalTime = at.Time
		out = append(out, e)
	}
	return out, rows.Err()
}
