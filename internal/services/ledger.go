package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kassa/internal/core"
	"kassa/internal/log"
	"kassa/internal/storage"
)

// Ledger is the write side the bot front-end talks to: tenants, categories
// and raw records. It is the only place tenant rows change.
type Ledger struct {
	repo          *storage.Repository
	maxCategories int
	now           func() time.Time
	logger        *log.Logger
}

func NewLedger(repo *storage.Repository, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Ledger{
		repo:          repo,
		maxCategories: core.MaxCategories,
		now:           time.Now,
		logger:        logger.WithComponent(log.ComponentLedger),
	}
}

// RegisterTenant creates the tenant or refreshes its display fields.
func (l *Ledger) RegisterTenant(ctx context.Context, id int64, firstName, username, lang string) error {
	t := core.Tenant{ID: id, FirstName: firstName, Username: username, Language: lang}
	if err := t.Validate(); err != nil {
		return err
	}
	if err := l.repo.UpsertTenant(ctx, t); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "Tenant registered", log.FieldTenantID, id)
	return nil
}

// UpdateProfile derives the tenant's offset from the wall clock it reports,
// rounded to a whole hour, and stores it with the currency and, unless
// balance is empty, a new balance. Existing summaries are never rewritten.
func (l *Ledger) UpdateProfile(ctx context.Context, id int64, localNow time.Time, currency, balance string) (core.Offset, error) {
	offset, err := core.RoundOffsetToHour(localNow, l.now())
	if err != nil {
		return 0, err
	}
	currency, err = core.NormalizeCurrency(currency)
	if err != nil {
		return 0, err
	}
	var newBalance *decimal.Decimal
	if balance != "" {
		b, err := core.ParseBalance(balance)
		if err != nil {
			return 0, err
		}
		newBalance = &b
	}

	if err := l.repo.UpdateTenantProfile(ctx, id, offset, currency, newBalance); err != nil {
		return 0, err
	}
	l.logger.InfoContext(ctx, "Tenant profile updated",
		log.FieldTenantID, id,
		log.FieldOffset, offset.String())
	return offset, nil
}

// SetLanguage switches the tenant's notification language.
func (l *Ledger) SetLanguage(ctx context.Context, id int64, lang string) error {
	return l.repo.SetLanguage(ctx, id, lang)
}

// CreateCategory validates the title and adds the category, reactivating a
// soft-deleted one with the same title and kind.
func (l *Ledger) CreateCategory(ctx context.Context, tenantID int64, title string, isExpense bool) (core.Category, error) {
	title = strings.TrimSpace(title)
	if err := core.ValidateTitle(title); err != nil {
		return core.Category{}, err
	}

	var c core.Category
	err := l.repo.WithTx(ctx, func(q *storage.Queries) (err error) {
		c, err = q.CreateCategory(ctx, tenantID, title, isExpense, l.maxCategories)
		return err
	})
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

// DeactivateCategory soft-deletes a category. Its records and summaries stay.
func (l *Ledger) DeactivateCategory(ctx context.Context, tenantID, categoryID int64) error {
	return l.repo.DeactivateCategory(ctx, tenantID, categoryID)
}

// Categories lists the active categories of one kind.
func (l *Ledger) Categories(ctx context.Context, tenantID int64, isExpense bool) ([]core.Category, error) {
	return l.repo.ListCategories(ctx, tenantID, isExpense)
}

// RecordTransaction parses and stores one record at the tenant's current
// local time and moves the balance with it.
func (l *Ledger) RecordTransaction(ctx context.Context, tenantID, categoryID int64, amount, comment string) (core.Transaction, error) {
	value, err := core.ParseAmount(amount)
	if err != nil {
		return core.Transaction{}, err
	}
	comment = strings.TrimSpace(comment)
	if err := core.ValidateComment(comment); err != nil {
		return core.Transaction{}, err
	}

	tx := core.Transaction{TenantID: tenantID, CategoryID: categoryID, Amount: value, Comment: comment}
	err = l.repo.WithTx(ctx, func(q *storage.Queries) error {
		t, err := q.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		tx.CreatedAt = t.LocalNow(l.now()).Truncate(time.Second)
		tx.ID, err = q.InsertTransaction(ctx, tx)
		return err
	})
	if err != nil {
		if !errors.Is(err, storage.ErrInsufficientBalance) {
			l.logger.ErrorContext(ctx, "Recording transaction failed",
				log.FieldTenantID, tenantID,
				log.FieldCategory, categoryID,
				log.FieldError, err)
		}
		return core.Transaction{}, fmt.Errorf("record transaction: %w", err)
	}
	return tx, nil
}

// Profile returns the tenant with its month-to-date totals.
func (l *Ledger) Profile(ctx context.Context, tenantID int64) (core.Profile, error) {
	t, err := l.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return core.Profile{}, err
	}
	month := core.MonthOf(t.LocalNow(l.now()))
	expenses, income, err := l.repo.PeriodTotals(ctx, tenantID, month)
	if err != nil {
		return core.Profile{}, err
	}
	return core.Profile{Tenant: t, MonthlyExpenses: expenses, MonthlyIncome: income}, nil
}
