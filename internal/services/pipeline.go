package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"kassa/internal/core"
	"kassa/internal/lock"
	"kassa/internal/log"
	"kassa/internal/storage"
)

// State is the pipeline's position within a tick.
type State int32

const (
	Idle State = iota
	ResolvingTenants
	AggregatingDaily
	RollingMonthly
	RollingYearly
	Notifying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ResolvingTenants:
		return "resolving_tenants"
	case AggregatingDaily:
		return "aggregating_daily"
	case RollingMonthly:
		return "rolling_monthly"
	case RollingYearly:
		return "rolling_yearly"
	case Notifying:
		return "notifying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrTickInProgress = errors.New("tick already in progress")
	ErrTickAlreadyRun = errors.New("tick boundary already handled")
)

// TickClaimer persists which run handled a tick boundary so replicas that
// fire for the same boundary do not run it twice.
type TickClaimer interface {
	ClaimTick(ctx context.Context, boundary time.Time, runID string) (bool, error)
	ReleaseTick(ctx context.Context, boundary time.Time, runID string) error
	FinishTick(ctx context.Context, boundary time.Time, runID, result string) error
}

// TickBoundary is the instant a tick fired for: now rounded to the minute,
// the same rounding the resolver applies.
func TickBoundary(now time.Time) time.Time {
	return now.UTC().Round(time.Minute)
}

// Schedule holds the local wall-clock times the pipeline reacts to.
type Schedule struct {
	CutoffHour     int
	CutoffMinute   int
	ReminderHour   int
	ReminderMinute int
	// Reminders disables the evening reminder when false.
	Reminders bool
}

// DefaultSchedule returns midnight cutoff and 21:00 reminders
func DefaultSchedule() Schedule {
	return Schedule{ReminderHour: 21, Reminders: true}
}

// TickReport summarizes one tick. Stage failures never abort later stages.
type TickReport struct {
	RunID     string
	Now       time.Time
	Tenants   int
	Reminded  int
	Daily     Report
	Monthly   Report
	Yearly    Report
	Stats     Report
	Reminders Report
	Duration  time.Duration
}

// Failures returns every failure of the tick.
func (r TickReport) Failures() []Failure {
	var out []Failure
	for _, s := range []Report{r.Daily, r.Monthly, r.Yearly, r.Stats, r.Reminders} {
		out = append(out, s.Failures...)
	}
	return out
}

// Result is "ok" or "partial".
func (r TickReport) Result() string {
	if len(r.Failures()) > 0 {
		return "partial"
	}
	return "ok"
}

// Sequencer drives one tick: resolve, aggregate the closed day, roll up
// months then years, notify. Ticks never overlap.
type Sequencer struct {
	resolver *Resolver
	daily    *DailyAggregator
	rollup   *RollupAggregator
	notifier *Notifier
	locker   lock.Locker
	claims   TickClaimer
	schedule Schedule
	opts     Options
	logger   *log.Logger
	state    atomic.Int32
}

func NewSequencer(
	resolver *Resolver,
	daily *DailyAggregator,
	rollup *RollupAggregator,
	notifier *Notifier,
	locker lock.Locker,
	schedule Schedule,
	opts Options,
	logger *log.Logger,
) *Sequencer {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Sequencer{
		resolver: resolver,
		daily:    daily,
		rollup:   rollup,
		notifier: notifier,
		locker:   locker,
		schedule: schedule,
		opts:     opts.withDefaults(),
		logger:   logger.WithComponent(log.ComponentPipeline),
	}
}

// WithClaims makes every tick claim its boundary first. A boundary that is
// already claimed returns ErrTickAlreadyRun.
func (s *Sequencer) WithClaims(c TickClaimer) *Sequencer {
	s.claims = c
	return s
}

// State reports where the current tick is, Idle between ticks.
func (s *Sequencer) State() State {
	return State(s.state.Load())
}

func (s *Sequencer) setState(st State) {
	s.state.Store(int32(st))
	s.opts.Metrics.SetState(int(st))
}

// RunTick runs the pipeline once for instant now. When another tick holds
// the lock it returns ErrTickInProgress without doing anything. Per-tenant
// failures are returned in the report, not as an error.
func (s *Sequencer) RunTick(ctx context.Context, now time.Time) (TickReport, error) {
	release, err := s.locker.TryLock(ctx)
	if errors.Is(err, lock.ErrBusy) {
		s.logger.WarnContext(ctx, "Skipping tick, previous tick still running")
		s.opts.Metrics.ObserveTick("skipped", 0)
		return TickReport{}, ErrTickInProgress
	}
	if err != nil {
		s.opts.Metrics.ObserveTick("failed", 0)
		return TickReport{}, fmt.Errorf("acquire tick lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "Releasing tick lock failed", log.FieldError, err)
		}
	}()

	started := time.Now()
	report := TickReport{RunID: uuid.NewString(), Now: now.UTC()}
	ctx = log.WithRun(log.NewContext(ctx, s.logger), report.RunID)
	logger := s.logger.With(log.FieldRunID, report.RunID)
	defer s.setState(Idle)

	boundary := TickBoundary(now)
	if s.claims != nil {
		claimed, err := s.claims.ClaimTick(ctx, boundary, report.RunID)
		if err != nil {
			s.opts.Metrics.ObserveTick("failed", time.Since(started))
			return report, fmt.Errorf("claim tick: %w", err)
		}
		if !claimed {
			logger.InfoContext(ctx, "Skipping tick, boundary already handled", "boundary", boundary.Format(time.RFC3339))
			s.opts.Metrics.ObserveTick("duplicate", 0)
			return report, ErrTickAlreadyRun
		}
	}

	logger.InfoContext(ctx, "Tick started", "now", report.Now.Format(time.RFC3339))

	s.setState(ResolvingTenants)
	tenants, err := s.resolver.FindTenantsAtLocalTime(ctx, now, s.schedule.CutoffHour, s.schedule.CutoffMinute)
	if err != nil {
		s.opts.Metrics.ObserveTick("failed", time.Since(started))
		if s.claims != nil {
			if rerr := s.claims.ReleaseTick(context.WithoutCancel(ctx), boundary, report.RunID); rerr != nil {
				logger.WarnContext(ctx, "Releasing tick claim failed", log.FieldError, rerr)
			}
		}
		return report, fmt.Errorf("resolve tenants: %w", err)
	}
	var reminded []core.Tenant
	if s.schedule.Reminders {
		reminded, err = s.resolver.FindTenantsAtLocalTime(ctx, now, s.schedule.ReminderHour, s.schedule.ReminderMinute)
		if err != nil {
			logger.ErrorContext(ctx, "Resolving reminder tenants failed", log.FieldError, err)
			report.Reminders.Failures = append(report.Reminders.Failures, Failure{Err: err})
		}
	}
	report.Tenants, report.Reminded = len(tenants), len(reminded)

	if len(tenants) > 0 {
		s.setState(AggregatingDaily)
		report.Daily = s.daily.AggregateDaily(ctx, now, tenants)
		s.logStage(ctx, logger, report.Daily)

		s.setState(RollingMonthly)
		report.Monthly = s.rollup.RollUp(ctx, now, tenants, storage.MonthlyTier)
		s.logStage(ctx, logger, report.Monthly)

		s.setState(RollingYearly)
		report.Yearly = s.rollup.RollUp(ctx, now, tenants, storage.YearlyTier)
		s.logStage(ctx, logger, report.Yearly)
	}

	if s.notifier != nil && len(tenants)+len(reminded) > 0 {
		s.setState(Notifying)
		notifyCtx := ctx
		if s.opts.NotifyBudget > 0 {
			var cancel context.CancelFunc
			notifyCtx, cancel = context.WithTimeout(ctx, s.opts.NotifyBudget)
			defer cancel()
		}
		ctx := notifyCtx
		if len(tenants) > 0 {
			report.Stats = s.notifier.NotifyDailyStats(ctx, now, tenants)
			s.logStage(ctx, logger, report.Stats)
		}
		if len(reminded) > 0 {
			r := s.notifier.NotifyReminders(ctx, now, reminded)
			r.Failures = append(report.Reminders.Failures, r.Failures...)
			report.Reminders = r
			s.logStage(ctx, logger, report.Reminders)
		}
	}

	report.Duration = time.Since(started)
	s.opts.Metrics.ObserveTick(report.Result(), report.Duration)
	if s.claims != nil {
		if err := s.claims.FinishTick(context.WithoutCancel(ctx), boundary, report.RunID, report.Result()); err != nil {
			logger.WarnContext(ctx, "Recording tick result failed", log.FieldError, err)
		}
	}
	logger.InfoContext(ctx, "Tick finished",
		"result", report.Result(),
		"tenants", report.Tenants,
		"reminded", report.Reminded,
		"failures", len(report.Failures()),
		log.FieldDuration, report.Duration.Milliseconds())
	return report, nil
}

func (s *Sequencer) logStage(ctx context.Context, logger *log.Logger, r Report) {
	args := []any{
		log.FieldStage, r.Stage,
		"tenants", r.Tenants,
		"written", r.Written,
		"skipped", r.Skipped,
	}
	if !r.OK() {
		logger.WarnContext(ctx, "Stage finished with failures", append(args, "failures", len(r.Failures))...)
		return
	}
	logger.DebugContext(ctx, "Stage finished", args...)
}
