// Package services holds the rollup pipeline: tenant resolution, daily
// aggregation, the cascading rollups, notifications and the ledger
// operations that feed them.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kassa/internal/core"
	"kassa/internal/log"
	"kassa/internal/metrics"
	"kassa/internal/storage"
)

// Stage names used in reports, logs and metrics. The rollup stages are named
// after their storage.RollupTier.
const (
	StageDaily  = "daily"
	StageNotify = "notify"
)

// Options is shared by every pipeline stage.
type Options struct {
	// Workers bounds how many tenants a stage processes at once (default 8).
	Workers int
	// StorageRetries is how often a unit of work is retried after a
	// transient storage error (default 3, 0 disables retries).
	StorageRetries int
	// RetryBase is the first backoff step, doubled per attempt (default 200ms).
	RetryBase time.Duration
	// NotifyBudget caps how long the notify stage of one tick may take,
	// rate-limit waits included (0 means no cap).
	NotifyBudget time.Duration
	Metrics      *metrics.Metrics
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		Workers:        8,
		StorageRetries: 3,
		RetryBase:      200 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.StorageRetries < 0 {
		o.StorageRetries = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = d.RetryBase
	}
	if o.NotifyBudget < 0 {
		o.NotifyBudget = 0
	}
	return o
}

// Failure is one unit of work that did not complete.
type Failure struct {
	TenantID int64
	Period   string
	Err      error
}

func (f Failure) Error() string {
	if f.Period == "" {
		return fmt.Sprintf("tenant %d: %v", f.TenantID, f.Err)
	}
	return fmt.Sprintf("tenant %d %s: %v", f.TenantID, f.Period, f.Err)
}

// Report summarizes one stage. Skipped counts rows that already existed.
type Report struct {
	Stage    string
	Tenants  int
	Written  int
	Skipped  int
	Failures []Failure
}

func (r Report) OK() bool {
	return len(r.Failures) == 0
}

// collector gathers per-tenant results from concurrent workers.
type collector struct {
	mu sync.Mutex
	r  Report
}

func newCollector(stage string, tenants int) *collector {
	return &collector{r: Report{Stage: stage, Tenants: tenants}}
}

func (c *collector) add(written, skipped int, failures ...Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.r.Written += written
	c.r.Skipped += skipped
	c.r.Failures = append(c.r.Failures, failures...)
}

func (c *collector) report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.r
	r.Failures = append([]Failure(nil), c.r.Failures...)
	return r
}

// fanOut runs fn for each tenant with at most limit in flight. Once ctx is
// done no further tenant is started; started ones finish on a context that
// ignores the cancellation so their transaction can commit. It returns the
// tenants that never started.
func fanOut(ctx context.Context, limit int, tenants []core.Tenant, fn func(context.Context, core.Tenant)) []core.Tenant {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		skipped []core.Tenant
	)
	g.SetLimit(limit)
	work := context.WithoutCancel(ctx)
	skip := func(t core.Tenant) {
		mu.Lock()
		skipped = append(skipped, t)
		mu.Unlock()
	}

	for _, t := range tenants {
		if ctx.Err() != nil {
			skip(t)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				skip(t)
				return nil
			}
			fn(work, t)
			return nil
		})
	}
	_ = g.Wait()
	return skipped
}

// notStarted records tenants cut off by shutdown or a stage deadline as failures.
func (c *collector) notStarted(ctx context.Context, tenants []core.Tenant) {
	for _, t := range tenants {
		c.add(0, 0, Failure{TenantID: t.ID, Err: fmt.Errorf("not started: %w", context.Cause(ctx))})
	}
}

func stageLogger(ctx context.Context, component string) *log.Logger {
	return log.FromContext(ctx).WithComponent(component)
}

// retry runs fn again after transient storage errors with exponential
// backoff. Other errors are returned at once.
func retry(ctx context.Context, opts Options, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !storage.IsTransient(err) || attempt >= opts.StorageRetries {
			return err
		}

		wait := opts.RetryBase << attempt
		opts.Metrics.StorageRetry()
		stageLogger(ctx, log.ComponentStorage).WarnContext(ctx, "Transient storage error, retrying",
			log.FieldAttempt, attempt+1,
			"wait", wait.String(),
			log.FieldError, err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
