// Package scheduler runs the per-platform polling loop: list the platform's
// task records, pick up the ones that are due, publish them, and persist the
// resulting status transition.
//
// One Scheduler serves one platform. Tasks are processed sequentially in
// listing order; a failure in one task never aborts the cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/lease"
	"github.com/fpang/social-post-scheduler/internal/metrics"
	"github.com/fpang/social-post-scheduler/internal/notify"
	"github.com/fpang/social-post-scheduler/internal/publish"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMaxAttempts  = 3
	DefaultInterval     = time.Minute
	DefaultListPageSize = 1000
)

var (
	// ErrTaskNotFound is returned by Retry when no task has the given ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotRetryable is returned by Retry when the task is not failed.
	ErrNotRetryable = errors.New("task is not in failed status")
)

// Clock supplies the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Config holds per-platform scheduler settings.
type Config struct {
	Platform    task.Platform
	MaxAttempts int
	Interval    time.Duration
	// ListPageSize is the listing page size. Every page under the
	// platform prefix is read on each cycle.
	ListPageSize int
	LeaseTTL     time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocker enables per-task leases.
func WithLocker(l lease.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithNotifier sets the manual-required notification channel.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithMetrics sets the per-cycle metrics recorder factory.
func WithMetrics(newRecorder func() *metrics.Recorder) Option {
	return func(s *Scheduler) { s.newMetrics = newRecorder }
}

// Scheduler polls one platform's tasks.
type Scheduler struct {
	cfg        Config
	tasks      *store.TaskStore
	pub        publish.Publisher
	clock      Clock
	locker     lease.Locker
	notifier   notify.Notifier
	newMetrics func() *metrics.Recorder

	running sync.Mutex
}

// New creates a Scheduler for cfg.Platform publishing through pub.
func New(cfg Config, tasks *store.TaskStore, pub publish.Publisher, opts ...Option) *Scheduler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = DefaultListPageSize
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = lease.DefaultTTL
	}
	s := &Scheduler{
		cfg:        cfg,
		tasks:      tasks,
		pub:        pub,
		clock:      systemClock{},
		locker:     lease.NopLocker{},
		notifier:   notify.LogNotifier{},
		newMetrics: func() *metrics.Recorder { return metrics.New(metrics.Namespace) },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Platform returns the platform this scheduler serves.
func (s *Scheduler) Platform() task.Platform { return s.cfg.Platform }

// Config returns the effective configuration after defaults.
func (s *Scheduler) Config() Config { return s.cfg }

// Start runs a cycle every cfg.Interval until ctx is cancelled. The first
// cycle runs one interval after Start.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{platform: s.cfg.Platform}),
		cron.WithChain(cron.Recover(cronLogger{platform: s.cfg.Platform})),
	)
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule %s cycle: %w", s.cfg.Platform, err)
	}

	log.Info().
		Str("platform", string(s.cfg.Platform)).
		Dur("interval", s.cfg.Interval).
		Int("maxAttempts", s.cfg.MaxAttempts).
		Msg("Scheduler started")

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	log.Info().Str("platform", string(s.cfg.Platform)).Msg("Scheduler stopped")
	return nil
}

// RunCycle performs one polling pass. It never returns an error: listing
// failures end the cycle early and per-task failures are recorded on the
// task. A cycle that starts while another is still running is skipped.
func (s *Scheduler) RunCycle(ctx context.Context) CycleSummary {
	sum := CycleSummary{
		CycleID:  uuid.NewString(),
		Platform: s.cfg.Platform,
	}
	if !s.running.TryLock() {
		sum.Overlapped = true
		log.Warn().Str("platform", string(s.cfg.Platform)).Msg("Previous cycle still running, skipping tick")
		return sum
	}
	defer s.running.Unlock()

	start := time.Now()
	logger := log.With().Str("platform", string(s.cfg.Platform)).Str("cycleId", sum.CycleID).Logger()

	keys, err := s.tasks.ListKeys(ctx, s.cfg.Platform, s.cfg.ListPageSize)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list tasks")
		sum.Errors++
		sum.DurationMs = time.Since(start).Milliseconds()
		s.flushMetrics(sum)
		return sum
	}
	sum.Listed = len(keys)

	for _, key := range keys {
		if ctx.Err() != nil {
			logger.Info().Msg("Cycle interrupted by shutdown")
			break
		}
		outcome, err := s.ProcessTask(ctx, key)
		if err != nil {
			sum.Errors++
		}
		sum.record(outcome)
	}

	sum.DurationMs = time.Since(start).Milliseconds()
	s.flushMetrics(sum)

	level := zerolog.InfoLevel
	if sum.Due == 0 {
		level = zerolog.DebugLevel
	}
	logger.WithLevel(level).
		Int("listed", sum.Listed).
		Int("due", sum.Due).
		Int("completed", sum.Completed).
		Int("retried", sum.Retried).
		Int("failed", sum.Failed).
		Int("manualRequired", sum.ManualRequired).
		Int("conflicts", sum.Conflicts).
		Int("errors", sum.Errors).
		Int64("durationMs", sum.DurationMs).
		Msg("Cycle complete")
	return sum
}

// ForceProcess runs a cycle immediately, outside the timer.
func (s *Scheduler) ForceProcess(ctx context.Context) CycleSummary {
	log.Info().Str("platform", string(s.cfg.Platform)).Msg("Force-processing due tasks")
	return s.RunCycle(ctx)
}

// ProcessTask reads the record at key and, if it is due, executes it. The
// returned error reports store problems only; publish failures are recorded
// on the task and reflected in the Outcome.
func (s *Scheduler) ProcessTask(ctx context.Context, key string) (Outcome, error) {
	t, etag, err := s.tasks.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable task record")
		return OutcomeSkipped, err
	}
	if t == nil {
		// Deleted between list and get.
		return OutcomeSkipped, nil
	}
	s.normalize(key, t)

	if t.Platform != s.cfg.Platform {
		log.Warn().
			Str("key", key).
			Str("taskId", t.ID).
			Str("recordPlatform", string(t.Platform)).
			Msg("Task record platform does not match its prefix, skipping")
		return OutcomeSkipped, nil
	}
	if !t.IsDue(s.clock.Now()) {
		return OutcomeNotDue, nil
	}

	ok, err := s.locker.Acquire(ctx, key, s.cfg.LeaseTTL)
	if err != nil {
		log.Warn().Err(err).Str("taskId", t.ID).Msg("Lease acquire failed, skipping task this cycle")
		return OutcomeSkipped, err
	}
	if !ok {
		log.Debug().Str("taskId", t.ID).Msg("Task leased by another process")
		return OutcomeConflict, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Warn().Err(err).Str("taskId", t.ID).Msg("Lease release failed")
		}
	}()

	return s.execute(ctx, key, t, etag)
}

// normalize fills fields that older records may lack.
func (s *Scheduler) normalize(key string, t *task.Task) {
	if t.Platform == "" {
		t.Platform = s.cfg.Platform
	}
	if t.UserID == "" {
		t.UserID = path.Base(path.Dir(key))
	}
}

// Retry resets a failed task so the next cycle picks it up again.
func (s *Scheduler) Retry(ctx context.Context, taskID string) (*task.Task, error) {
	rec, err := s.tasks.FindByID(ctx, s.cfg.Platform, taskID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", taskID, ErrTaskNotFound)
	}
	t := rec.Task
	if t.Status != task.StatusFailed {
		return nil, fmt.Errorf("%s is %s: %w", taskID, t.Status, ErrNotRetryable)
	}

	t.Status = task.StatusScheduled
	t.Attempts = 0
	t.Error = ""
	t.FailedAt = nil
	if err := s.tasks.PutAt(ctx, rec.Key, t, rec.ETag); err != nil {
		return nil, err
	}

	log.Info().
		Str("taskId", t.ID).
		Str("userId", t.UserID).
		Str("platform", string(s.cfg.Platform)).
		Msg("Failed task reset for retry")
	return t, nil
}

func (s *Scheduler) flushMetrics(sum CycleSummary) {
	if s.newMetrics == nil {
		return
	}
	s.newMetrics().
		Dimension("Platform", string(s.cfg.Platform)).
		Add("TasksListed", sum.Listed).
		Add("TasksDue", sum.Due).
		Add("TasksCompleted", sum.Completed).
		Add("TasksRetried", sum.Retried).
		Add("TasksFailed", sum.Failed).
		Add("TasksManualRequired", sum.ManualRequired).
		Add("TaskConflicts", sum.Conflicts).
		Add("CycleErrors", sum.Errors).
		Metric("CycleLatencyMs", float64(sum.DurationMs), metrics.UnitMilliseconds).
		Property("cycleId", sum.CycleID).
		Flush()
}

// cronLogger routes robfig/cron's logging into zerolog.
type cronLogger struct {
	platform task.Platform
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debug().Str("platform", string(l.platform)).Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Error().Err(err).Str("platform", string(l.platform)).Fields(keysAndValues).Msg("cron: " + msg)
}
