package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kassa/internal/core"
	"kassa/internal/log"
	"kassa/internal/storage"
)

// DailyStore opens the per-tenant transaction daily aggregation runs in.
type DailyStore interface {
	InDailyTx(ctx context.Context, fn func(storage.DailyQuerier) error) error
}

// DailyAggregator turns a tenant's raw records for the local day that just
// closed into one summary row per category.
type DailyAggregator struct {
	store DailyStore
	opts  Options
}

func NewDailyAggregator(store DailyStore, opts Options) *DailyAggregator {
	return &DailyAggregator{store: store, opts: opts.withDefaults()}
}

// AggregateDaily summarizes the closed local day of every tenant. Re-running
// it for the same instant writes nothing new.
func (a *DailyAggregator) AggregateDaily(ctx context.Context, now time.Time, tenants []core.Tenant) Report {
	c := newCollector(StageDaily, len(tenants))
	rest := fanOut(ctx, a.opts.Workers, tenants, func(ctx context.Context, t core.Tenant) {
		day := core.ClosedDay(t.LocalNow(now))
		written, skipped, err := a.aggregateTenant(ctx, t, day)
		a.opts.Metrics.TenantDone(StageDaily, err == nil)
		if err != nil {
			stageLogger(ctx, log.ComponentDaily).ErrorContext(ctx, "Daily aggregation failed",
				log.FieldTenantID, t.ID,
				log.FieldPeriod, day.String(),
				log.FieldError, err)
			c.add(0, 0, Failure{TenantID: t.ID, Period: day.String(), Err: err})
			return
		}
		c.add(written, skipped)
	})
	c.notStarted(ctx, rest)

	r := c.report()
	a.opts.Metrics.Summaries(StageDaily, r.Written, r.Skipped)
	return r
}

func (a *DailyAggregator) aggregateTenant(ctx context.Context, t core.Tenant, day core.Period) (written, skipped int, err error) {
	if err := t.Validate(); err != nil {
		return 0, 0, err
	}

	err = retry(ctx, a.opts, func() error {
		written, skipped = 0, 0
		return a.store.InDailyTx(ctx, func(q storage.DailyQuerier) error {
			amounts, err := q.SelectDayAmounts(ctx, t.ID, day)
			if err != nil {
				return err
			}

			order, sums := groupByCategory(amounts)
			for _, categoryID := range order {
				ok, err := q.UpsertDailySummary(ctx, t.ID, categoryID, day, sums[categoryID])
				if err != nil {
					return fmt.Errorf("category %d: %w", categoryID, err)
				}
				if ok {
					written++
				} else {
					skipped++
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, 0, err
	}

	stageLogger(ctx, log.ComponentDaily).DebugContext(ctx, "Aggregated day",
		log.FieldTenantID, t.ID,
		log.FieldPeriod, day.String(),
		"written", written,
		"skipped", skipped)
	return written, skipped, nil
}

// groupByCategory sums amounts per category in first-seen order.
func groupByCategory(amounts []storage.CategoryAmount) ([]int64, map[int64]decimal.Decimal) {
	var order []int64
	sums := make(map[int64]decimal.Decimal)
	for _, a := range amounts {
		s, seen := sums[a.CategoryID]
		if !seen {
			order = append(order, a.CategoryID)
		}
		sums[a.CategoryID] = s.Add(a.Amount)
	}
	return order, sums
}
