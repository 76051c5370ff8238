package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kassa/internal/amqp"
	"kassa/internal/core"
	"kassa/internal/delivery"
	"kassa/internal/i18n"
	"kassa/internal/log"
)

// EntryStore lists a tenant's records for one local day.
type EntryStore interface {
	SelectTransactionsForLocalDay(ctx context.Context, tenantID int64, day core.Period) ([]core.DayEntry, error)
}

// Notifier renders daily statistics and evening reminders and publishes
// them. Publishing failures are reported, never propagated into storage.
type Notifier struct {
	store     EntryStore
	catalog   *i18n.Catalog
	publisher Publisher
	opts      Options
}

func NewNotifier(store EntryStore, catalog *i18n.Catalog, publisher Publisher, opts Options) *Notifier {
	return &Notifier{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		opts:      opts.withDefaults(),
	}
}

// NotifyDailyStats sends each tenant the statistics of the local day that
// just closed. Tenants without records get nothing.
func (n *Notifier) NotifyDailyStats(ctx context.Context, now time.Time, tenants []core.Tenant) Report {
	return n.notify(ctx, amqp.KindDailyStats, tenants, func(t core.Tenant) core.Period {
		return core.ClosedDay(t.LocalNow(now))
	}, func(t core.Tenant, entries []core.DayEntry) string {
		if len(entries) == 0 {
			return ""
		}
		return RenderDailyStats(n.catalog, t.Language, entries)
	})
}

// NotifyReminders sends the evening reminder together with what the tenant
// has recorded so far today.
func (n *Notifier) NotifyReminders(ctx context.Context, now time.Time, tenants []core.Tenant) Report {
	return n.notify(ctx, amqp.KindReminder, tenants, func(t core.Tenant) core.Period {
		return core.DayOf(t.LocalNow(now).Round(time.Minute))
	}, func(t core.Tenant, entries []core.DayEntry) string {
		return RenderReminder(n.catalog, t.Language, entries)
	})
}

func (n *Notifier) notify(
	ctx context.Context,
	kind string,
	tenants []core.Tenant,
	dayOf func(core.Tenant) core.Period,
	render func(core.Tenant, []core.DayEntry) string,
) Report {
	c := newCollector(StageNotify, len(tenants))
	// Nothing here writes, so a stage deadline may cut in-flight sends short.
	deadline, bounded := ctx.Deadline()
	rest := fanOut(ctx, n.opts.Workers, tenants, func(ctx context.Context, t core.Tenant) {
		if bounded {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}
		logger := stageLogger(ctx, log.ComponentNotifier).With(log.FieldTenantID, t.ID, log.FieldKind, kind)
		day := dayOf(t)

		var entries []core.DayEntry
		err := retry(ctx, n.opts, func() (err error) {
			entries, err = n.store.SelectTransactionsForLocalDay(ctx, t.ID, day)
			return err
		})
		if err != nil {
			logger.ErrorContext(ctx, "Loading day entries failed", log.FieldPeriod, day.String(), log.FieldError, err)
			n.opts.Metrics.Notification(kind, "failed")
			c.add(0, 0, Failure{TenantID: t.ID, Period: day.String(), Err: err})
			return
		}

		text := render(t, entries)
		if text == "" {
			n.opts.Metrics.Notification(kind, "empty")
			c.add(0, 1)
			return
		}

		for _, chunk := range delivery.Chunk(text, delivery.MaxMessageLength) {
			if err := n.publisher.Publish(ctx, t.ID, chunk, kind); err != nil {
				logger.WarnContext(ctx, "Publishing notification failed", log.FieldError, err)
				n.opts.Metrics.Notification(kind, "failed")
				c.add(0, 0, Failure{TenantID: t.ID, Period: day.String(), Err: fmt.Errorf("publish %s: %w", kind, err)})
				return
			}
		}
		n.opts.Metrics.Notification(kind, "sent")
		c.add(1, 0)
	})
	c.notStarted(ctx, rest)
	return c.report()
}

// RenderDailyStats builds the end-of-day message: one line per record, the
// total and per-category totals in first-seen order.
func RenderDailyStats(catalog *i18n.Catalog, lang string, entries []core.DayEntry) string {
	var (
		b        strings.Builder
		total    decimal.Decimal
		order    []string
		byName   = make(map[string]decimal.Decimal)
		currency string
	)

	b.WriteString(catalog.Text(lang, "todaysDate"))
	b.WriteString("\n\n")
	for i, e := range entries {
		currency = e.Currency
		total = total.Add(e.Amount)
		if _, seen := byName[e.CategoryName]; !seen {
			order = append(order, e.CategoryName)
		}
		byName[e.CategoryName] = byName[e.CategoryName].Add(e.Amount)

		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "⏰ %s — %s %s — %s", e.LocalTime.Format("15:04"), e.Currency, core.FormatAmount(e.Amount), e.CategoryName)
		if e.Comment != "" {
			fmt.Fprintf(&b, " (%s)", e.Comment)
		}
	}

	fmt.Fprintf(&b, "\n\n<b>%s</b> %s %s\n", catalog.Text(lang, "totalWord"), currency, core.FormatAmount(total))
	fmt.Fprintf(&b, "<b>%s</b>", catalog.Text(lang, "totalCat"))
	for _, name := range order {
		fmt.Fprintf(&b, "\n• %s: %s %s", name, currency, core.FormatAmount(byName[name]))
	}
	return b.String()
}

// RenderReminder builds the evening reminder, followed by today's records
// when there are any.
func RenderReminder(catalog *i18n.Catalog, lang string, entries []core.DayEntry) string {
	text := catalog.Text(lang, "reminder")
	if len(entries) == 0 {
		return text
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		amount := e.Amount.StringFixed(2)
		if e.Comment != "" {
			lines = append(lines, fmt.Sprintf("%s - %s (%s - %s)", e.LocalTime.Format("15:04"), e.CategoryName, amount, e.Comment))
		} else {
			lines = append(lines, fmt.Sprintf("%s - %s (%s)", e.LocalTime.Format("15:04"), e.CategoryName, amount))
		}
	}
	return text + "\n\n" + strings.Join(lines, "\n")
}
