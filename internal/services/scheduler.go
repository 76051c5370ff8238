package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kassa/internal/log"
)

// Scheduler fires the sequencer on a cron schedule. A tick that is still
// running when the next one is due makes that next one a no-op.
type Scheduler struct {
	seq    *Sequencer
	spec   string
	logger *log.Logger
	now    func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc
}

func NewScheduler(seq *Sequencer, spec string, logger *log.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Scheduler{
		seq:    seq,
		spec:   spec,
		logger: logger.WithComponent(log.ComponentWorker),
		now:    time.Now,
	}, nil
}

// Start registers the job and begins firing. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	if _, err := c.AddFunc(s.spec, func() { s.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule tick: %w", err)
	}
	c.Start()

	s.cron, s.cancel, s.running = c, cancel, true
	s.logger.InfoContext(ctx, "Scheduler started", "schedule", s.spec)
	return nil
}

// Tick runs one pipeline tick at the current time and logs the outcome.
func (s *Scheduler) Tick(ctx context.Context) {
	report, err := s.seq.RunTick(ctx, s.now())
	switch {
	case errors.Is(err, ErrTickInProgress), errors.Is(err, ErrTickAlreadyRun):
	case err != nil:
		s.logger.ErrorContext(ctx, "Tick failed", log.FieldError, err)
	case report.Result() != "ok":
		for _, f := range report.Failures() {
			s.logger.WarnContext(ctx, "Tick failure", log.FieldRunID, report.RunID, log.FieldError, f.Error())
		}
	}
}

// Stop stops firing, tells the running tick to start no more tenants and
// waits for it to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()
	done := c.Stop()

	select {
	case <-done.Done():
		s.logger.InfoContext(ctx, "Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cronLogger adapts the component logger to cron's logging interface.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, log.FieldError, err)...)
}
