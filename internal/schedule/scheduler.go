// Package schedule provides the cooperative maintenance scheduler: a single
// polling loop that fires registered tasks on daily, interval or cron
// cadences. Tasks read gateway state but never mutate the credential pool.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelPkg "github.com/basket/clawgate/internal/otel"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// TaskFunc is a maintenance callback. A returned error (or panic) is logged
// and the task's last-run mark is left unchanged, so the task retries on the
// next tick: at-least-once per cadence window, not exactly-once.
type TaskFunc func(ctx context.Context) error

type cadenceKind int

const (
	kindDaily cadenceKind = iota
	kindInterval
	kindCron
)

type task struct {
	name string
	fn   TaskFunc
	kind cadenceKind

	hour, minute int              // daily
	every        time.Duration    // interval
	cronSched    cronlib.Schedule // cron
	nextRun      time.Time        // cron bookkeeping

	lastRun time.Time
	hasRun  bool
}

// Config holds the dependencies for the Scheduler.
type Config struct {
	Logger   *slog.Logger
	Metrics  *otelPkg.Metrics
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler owns the registered tasks and the background loop.
type Scheduler struct {
	logger   *slog.Logger
	metrics  *otelPkg.Metrics
	interval time.Duration

	mu    sync.Mutex
	tasks []*task

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:   logger,
		metrics:  cfg.Metrics,
		interval: interval,
	}
}

// RegisterDaily schedules fn to run once per calendar day at hour:minute.
// A run discovered late (e.g. the 02:00 task noticed at 02:05) still counts
// as that day's run.
func (s *Scheduler) RegisterDaily(name string, hour, minute int, fn TaskFunc) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid daily time %02d:%02d", hour, minute)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{name: name, fn: fn, kind: kindDaily, hour: hour, minute: minute})
	return nil
}

// RegisterInterval schedules fn to run at most once per every.
func (s *Scheduler) RegisterInterval(name string, every time.Duration, fn TaskFunc) error {
	if every <= 0 {
		return fmt.Errorf("interval must be positive, got %v", every)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{name: name, fn: fn, kind: kindInterval, every: every})
	return nil
}

// RegisterCron schedules fn on a 5-field cron expression.
func (s *Scheduler) RegisterCron(name, expr string, fn TaskFunc) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{name: name, fn: fn, kind: kindCron, cronSched: sched})
	return nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("maintenance scheduler started",
		"interval", s.interval,
		"tasks", len(s.tasks),
	)
}

// Stop cancels the loop and waits for it to exit. Cancellation interrupts
// the tick sleep promptly.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// tick evaluates every task's due-ness and runs the due ones in order. One
// task's failure never skips its siblings.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	tasks := make([]*task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		if !s.due(t, now) {
			continue
		}
		s.run(ctx, t, now)
	}
}

func (s *Scheduler) due(t *task, now time.Time) bool {
	switch t.kind {
	case kindDaily:
		return dailyDue(now, t.lastRun, t.hasRun, t.hour, t.minute)
	case kindInterval:
		return !t.hasRun || now.Sub(t.lastRun) >= t.every
	case kindCron:
		if t.nextRun.IsZero() {
			// First sighting: anchor the schedule, don't fire immediately.
			t.nextRun = t.cronSched.Next(now)
			return false
		}
		return !now.Before(t.nextRun)
	default:
		return false
	}
}

// dailyDue reports whether a daily task should fire: wall-clock has reached
// today's target and the task has not already run today (calendar date
// comparison, not elapsed duration).
func dailyDue(now, lastRun time.Time, hasRun bool, hour, minute int) bool {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.Before(target) {
		return false
	}
	if !hasRun {
		return true
	}
	ly, lm, ld := lastRun.Date()
	ny, nm, nd := now.Date()
	return ly != ny || lm != nm || ld != nd
}

func (s *Scheduler) run(ctx context.Context, t *task, now time.Time) {
	s.logger.Info("running scheduled task", "task", t.name)

	err := s.invoke(ctx, t)
	if err != nil {
		// lastRun stays put so the task retries next tick.
		s.logger.Error("scheduled task failed", "task", t.name, "error", err)
		if s.metrics != nil {
			s.metrics.SchedulerErrors.Add(ctx, 1,
				metric.WithAttributes(attribute.String("task", t.name)))
		}
		return
	}

	t.lastRun = now
	t.hasRun = true
	if t.kind == kindCron {
		t.nextRun = t.cronSched.Next(now)
	}
	if s.metrics != nil {
		s.metrics.SchedulerRuns.Add(ctx, 1,
			metric.WithAttributes(attribute.String("task", t.name)))
	}
	s.logger.Info("scheduled task completed", "task", t.name)
}

// invoke calls the task callback, converting panics into errors so a broken
// task cannot kill the loop.
func (s *Scheduler) invoke(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return t.fn(ctx)
}
