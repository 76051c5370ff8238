package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"kassa/internal/core"
)

func (q *Queries) ListCategories(ctx context.Context, tenantID int64, isExpense bool) ([]core.Category, error) {
	rows, err := q.query(ctx, `
SELECT id, user_id, title, is_expense, is_active FROM categories
WHERE user_id = ? AND is_expense = ? AND is_active = ?
ORDER BY id`, tenantID, isExpense, true)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Title, &c.IsExpense, &c.IsActive); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) getCategory(ctx context.Context, tenantID, id int64) (core.Category, error) {
	var c core.Category
	err := q.queryRow(ctx, `
SELECT id, user_id, title, is_expense, is_active FROM categories
WHERE id = ? AND user_id = ?`, id, tenantID).
		Scan(&c.ID, &c.TenantID, &c.Title, &c.IsExpense, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %d: %w", id, err)
	}
	return c, nil
}

// CreateCategory adds a category, or reactivates a soft-deleted one with the
// same title and kind. Must run inside WithTx.
func (q *Queries) CreateCategory(ctx context.Context, tenantID int64, title string, isExpense bool, maxActive int) (core.Category, error) {
	var active int
	if err := q.queryRow(ctx, `
SELECT COUNT(*) FROM categories WHERE user_id = ? AND is_expense = ? AND is_active = ?`,
		tenantID, isExpense, true).Scan(&active); err != nil {
		return core.Category{}, fmt.Errorf("count categories: %w", err)
	}

	c := core.Category{TenantID: tenantID, Title: title, IsExpense: isExpense, IsActive: true}
	err := q.queryRow(ctx, `
SELECT id, is_active FROM categories WHERE user_id = ? AND is_expense = ? AND title = ?`,
		tenantID, isExpense, title).Scan(&c.ID, &c.IsActive)
	switch {
	case err == nil && c.IsActive:
		return core.Category{}, fmt.Errorf("category %q: %w", title, ErrDuplicateCategory)
	case err == nil:
		if active >= maxActive {
			return core.Category{}, ErrTooManyCategories
		}
		if _, err := q.exec(ctx, `UPDATE categories SET is_active = ? WHERE id = ?`, true, c.ID); err != nil {
			return core.Category{}, fmt.Errorf("reactivate category %d: %w", c.ID, err)
		}
		c.IsActive = true
		return c, nil
	case !errors.Is(err, sql.ErrNoRows):
		return core.Category{}, fmt.Errorf("find category %q: %w", title, err)
	}

	if active >= maxActive {
		return core.Category{}, ErrTooManyCategories
	}
	if err := q.queryRow(ctx, `
INSERT INTO categories (user_id, title, is_expense, is_active) VALUES (?, ?, ?, ?)
RETURNING id`, tenantID, title, isExpense, true).Scan(&c.ID); err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (q *Queries) DeactivateCategory(ctx context.Context, tenantID, id int64) error {
	res, err := q.exec(ctx, `UPDATE categories SET is_active = ? WHERE id = ? AND user_id = ?`, false, id, tenantID)
	if err != nil {
		return fmt.Errorf("deactivate category %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("category %d", id))
}

// InsertTransaction appends a record and moves the tenant balance. Must run
// inside WithTx so both land together.
func (q *Queries) InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	cat, err := q.getCategory(ctx, tx.TenantID, tx.CategoryID)
	if err != nil {
		return 0, err
	}
	if !cat.IsActive {
		return 0, fmt.Errorf("category %d: %w", cat.ID, ErrInactiveCategory)
	}

	var balance decimal.Decimal
	err = q.queryRow(ctx, `SELECT balance FROM users WHERE id = ?`+q.forUpdate(), tx.TenantID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("tenant %d: %w", tx.TenantID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	if cat.IsExpense {
		balance = balance.Sub(tx.Amount)
		if balance.IsNegative() {
			return 0, ErrInsufficientBalance
		}
	} else {
		balance = balance.Add(tx.Amount)
	}
	if _, err := q.exec(ctx, `UPDATE users SET balance = ? WHERE id = ?`, balance, tx.TenantID); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	var id int64
	if err := q.queryRow(ctx, `
INSERT INTO transactions (user_id, category_id, amount, comment, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id`, tx.TenantID, tx.CategoryID, tx.Amount, tx.Comment, q.timeArg(tx.CreatedAt)).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

// PeriodTotals sums expense and income transactions with created_at in p.
func (q *Queries) PeriodTotals(ctx context.Context, tenantID int64, p core.Period) (expenses, income decimal.Decimal, err error) {
	rows, err := q.query(ctx, `
SELECT t.amount, c.is_expense FROM transactions t
JOIN categories c ON c.id = t.category_id
WHERE t.user_id = ? AND t.created_at >= ? AND t.created_at < ?`,
		tenantID, q.timeArg(p.Start), q.timeArg(p.End()))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("period totals: %w", err)
	}
	defer rows.Close()

	expenses, income = decimal.Zero, decimal.Zero
	for rows.Next() {
		var (
			amount    decimal.Decimal
			isExpense bool
		)
		if err := rows.Scan(&amount, &isExpense); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		if isExpense {
			expenses = expenses.Add(amount)
		} else {
			income = income.Add(amount)
		}
	}
	return expenses, income, rows.Err()
}
