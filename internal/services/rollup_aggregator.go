package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kassa/internal/core"
	"kassa/internal/log"
	"kassa/internal/storage"
)

// RollupStore is what the rollup aggregator needs from storage.
type RollupStore interface {
	YearSource
	PendingCategories(ctx context.Context, tier storage.RollupTier, tenantID int64, p core.Period) ([]int64, error)
	InRollupTx(ctx context.Context, fn func(storage.RollupQuerier) error) error
}

var errNothingToRoll = errors.New("no unabsorbed rows")

// RollupAggregator folds fine rows into coarse ones for either tier. Each
// (tenant, category, period) unit inserts the coarse row and claims its
// sources in one transaction.
type RollupAggregator struct {
	store   RollupStore
	monthly Eligibility
	yearly  Eligibility
	opts    Options
}

func NewRollupAggregator(store RollupStore, yearly Eligibility, opts Options) *RollupAggregator {
	if yearly == nil {
		yearly = StrictYearly{}
	}
	return &RollupAggregator{
		store:   store,
		monthly: MonthlyEligibility{},
		yearly:  yearly,
		opts:    opts.withDefaults(),
	}
}

func (a *RollupAggregator) eligibility(tier storage.RollupTier) Eligibility {
	if tier.Granularity == core.Year {
		return a.yearly
	}
	return a.monthly
}

// RollUp runs tier for every tenant. A period whose target row exists is
// counted as skipped, never as a failure.
func (a *RollupAggregator) RollUp(ctx context.Context, now time.Time, tenants []core.Tenant, tier storage.RollupTier) Report {
	c := newCollector(tier.Name, len(tenants))
	rest := fanOut(ctx, a.opts.Workers, tenants, func(ctx context.Context, t core.Tenant) {
		written, skipped, failures := a.rollTenant(ctx, now, t, tier)
		a.opts.Metrics.TenantDone(tier.Name, len(failures) == 0)
		c.add(written, skipped, failures...)
	})
	c.notStarted(ctx, rest)

	r := c.report()
	a.opts.Metrics.Summaries(tier.Name, r.Written, r.Skipped)
	return r
}

func (a *RollupAggregator) rollTenant(ctx context.Context, now time.Time, t core.Tenant, tier storage.RollupTier) (written, skipped int, failures []Failure) {
	logger := stageLogger(ctx, log.ComponentRollup).With(log.FieldTier, tier.Name, log.FieldTenantID, t.ID)

	if err := t.Validate(); err != nil {
		return 0, 0, []Failure{{TenantID: t.ID, Err: err}}
	}

	var periods []core.Period
	err := retry(ctx, a.opts, func() (err error) {
		periods, err = a.eligibility(tier).Periods(ctx, a.store, t, now)
		return err
	})
	if err != nil {
		logger.ErrorContext(ctx, "Eligibility check failed", log.FieldError, err)
		return 0, 0, []Failure{{TenantID: t.ID, Err: fmt.Errorf("eligible %s periods: %w", tier, err)}}
	}

	for _, p := range periods {
		var categories []int64
		err := retry(ctx, a.opts, func() (err error) {
			categories, err = a.store.PendingCategories(ctx, tier, t.ID, p)
			return err
		})
		if err != nil {
			logger.ErrorContext(ctx, "Listing pending categories failed", log.FieldPeriod, p.String(), log.FieldError, err)
			failures = append(failures, Failure{TenantID: t.ID, Period: p.String(), Err: err})
			continue
		}

		for _, categoryID := range categories {
			err := retry(ctx, a.opts, func() error {
				return a.rollCategory(ctx, tier, t.ID, categoryID, p)
			})
			switch {
			case err == nil:
				written++
			case errors.Is(err, errNothingToRoll):
			case errors.Is(err, storage.ErrAlreadyRolledUp):
				skipped++
				logger.WarnContext(ctx, "Target row already exists, leaving late rows unabsorbed",
					log.FieldPeriod, p.String(),
					log.FieldCategory, categoryID)
			default:
				logger.ErrorContext(ctx, "Rollup failed",
					log.FieldPeriod, p.String(),
					log.FieldCategory, categoryID,
					log.FieldError, err)
				failures = append(failures, Failure{
					TenantID: t.ID,
					Period:   p.String(),
					Err:      fmt.Errorf("category %d: %w", categoryID, err),
				})
			}
		}
	}

	if written > 0 {
		logger.InfoContext(ctx, "Rolled up periods", "written", written, "skipped", skipped)
	}
	return written, skipped, failures
}

func (a *RollupAggregator) rollCategory(ctx context.Context, tier storage.RollupTier, tenantID, categoryID int64, p core.Period) error {
	return a.store.InRollupTx(ctx, func(q storage.RollupQuerier) error {
		rows, err := q.SelectUnabsorbed(ctx, tier, tenantID, categoryID, p)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return errNothingToRoll
		}

		ids := make([]int64, len(rows))
		amounts := make([]decimal.Decimal, len(rows))
		for i, r := range rows {
			ids[i], amounts[i] = r.ID, r.Amount
		}

		targetID, err := q.InsertTarget(ctx, tier, tenantID, categoryID, p, core.Sum(amounts...))
		if err != nil {
			return err
		}

		n, err := q.Backlink(ctx, tier, ids, targetID)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("%s %s: claimed %d of %d rows: %w", tier, p, n, len(ids), storage.ErrBacklinkMismatch)
		}
		return nil
	})
}
