package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"kassa/internal/core"
)

const tenantColumns = `id, first_name, username, lang, utc_offset_minutes, balance, currency, is_premium, premium_until`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (core.Tenant, error) {
	var (
		t      core.Tenant
		offset int
		until  dbTime
	)
	if err := row.Scan(&t.ID, &t.FirstName, &t.Username, &t.Language, &offset,
		&t.Balance, &t.Currency, &t.IsPremium, &until); err != nil {
		return core.Tenant{}, err
	}
	t.Offset = core.Offset(offset)
	t.PremiumUntil = until.ptr()
	return t, nil
}

// UpsertTenant registers a tenant or refreshes its display fields. Offset,
// balance and currency are left alone on an existing row.
func (q *Queries) UpsertTenant(ctx context.Context, t core.Tenant) error {
	lang := t.Language
	if lang == "" {
		lang = "en"
	}
	_, err := q.exec(ctx, `
INSERT INTO users (id, first_name, username, lang)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE
SET first_name = excluded.first_name,
    username   = excluded.username,
    lang       = excluded.lang`,
		t.ID, t.FirstName, t.Username, lang)
	if err != nil {
		return fmt.Errorf("upsert tenant %d: %w", t.ID, err)
	}
	return nil
}

func (q *Queries) GetTenant(ctx context.Context, id int64) (core.Tenant, error) {
	t, err := scanTenant(q.queryRow(ctx, `SELECT `+tenantColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Tenant{}, fmt.Errorf("tenant %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Tenant{}, fmt.Errorf("get tenant %d: %w", id, err)
	}
	return t, nil
}

// UpdateTenantProfile sets offset and currency, and the balance when given.
func (q *Queries) UpdateTenantProfile(ctx context.Context, id int64, offset core.Offset, currency string, balance *decimal.Decimal) error {
	var (
		res sql.Result
		err error
	)
	if balance != nil {
		res, err = q.exec(ctx, `UPDATE users SET utc_offset_minutes = ?, currency = ?, balance = ? WHERE id = ?`,
			int(offset), currency, *balance, id)
	} else {
		res, err = q.exec(ctx, `UPDATE users SET utc_offset_minutes = ?, currency = ? WHERE id = ?`,
			int(offset), currency, id)
	}
	if err != nil {
		return fmt.Errorf("update tenant %d profile: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("tenant %d", id))
}

func (q *Queries) SetLanguage(ctx context.Context, id int64, lang string) error {
	res, err := q.exec(ctx, `UPDATE users SET lang = ? WHERE id = ?`, lang, id)
	if err != nil {
		return fmt.Errorf("set tenant %d language: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("tenant %d", id))
}

// SelectTenantsByOffset returns every tenant whose stored offset is one of
// offsets, ordered by id.
func (q *Queries) SelectTenantsByOffset(ctx context.Context, offsets []core.Offset) ([]core.Tenant, error) {
	if len(offsets) == 0 {
		return nil, nil
	}
	args := make([]any, len(offsets))
	for i, o := range offsets {
		args[i] = int(o)
	}

	rows, err := q.query(ctx, `SELECT `+tenantColumns+` FROM users
WHERE utc_offset_minutes IN (`+placeholders(len(offsets))+`)
ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("select tenants by offset: %w", err)
	}
	defer rows.Close()

	var out []core.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
