// Package scheduler runs the periodic sweeps that keep delivery series
// moving. The retry sweep re-enqueues due retrying logs and pending logs
// whose job went missing. The retention sweep removes old terminal logs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/queue"
)

// Defaults for Config.
const (
	DefaultRetryInterval     = 60 * time.Second
	DefaultRetentionInterval = time.Hour
	DefaultRetention         = 30 * 24 * time.Hour
	DefaultBatchSize         = 100
	DefaultDeferDelay        = 30 * time.Second

	// DefaultStaleAfter covers a full queue lease plus a default-length
	// attempt.
	DefaultStaleAfter = queue.DefaultVisibilityTimeout + time.Minute
)

// Config controls sweep cadence and sizing.
type Config struct {
	// RetryInterval is the period of the retry sweep.
	RetryInterval time.Duration

	// RetentionInterval is the period of the retention sweep.
	RetentionInterval time.Duration

	// Retention is how long terminal logs are kept.
	Retention time.Duration

	// BatchSize bounds how many due logs one query returns.
	BatchSize int

	// DeferDelay is how far a claimed log is pushed back when its job
	// could not be enqueued.
	DeferDelay time.Duration

	// StaleAfter is how long a log may sit pending without an update before
	// the retry sweep assumes its job is lost and enqueues it again. Keep it
	// above the queue visibility timeout plus the request timeout.
	StaleAfter time.Duration
}

func (c *Config) defaults() {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = DefaultRetentionInterval
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DeferDelay <= 0 {
		c.DeferDelay = DefaultDeferDelay
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
}

// Scheduler owns a cron runner with the two sweeps.
type Scheduler struct {
	store  delivery.Store
	queue  queue.Producer
	config Config
	logger *slog.Logger
	now    func() time.Time

	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a scheduler. Call Start to begin sweeping.
func New(store delivery.Store, q queue.Producer, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	return &Scheduler{
		store:  store,
		queue:  q,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start registers both sweeps and starts the cron runner. A sweep still
// running when its next tick fires is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return errors.New("scheduler: already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(every(s.config.RetryInterval), func() {
		if _, err := s.SweepRetries(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "retry sweep failed", "error", err)
		}
	}); err != nil {
		s.cancel()
		return fmt.Errorf("scheduler: schedule retry sweep: %w", err)
	}
	if _, err := c.AddFunc(every(s.config.RetentionInterval), func() {
		if _, err := s.SweepRetention(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
		}
	}); err != nil {
		s.cancel()
		return fmt.Errorf("scheduler: schedule retention sweep: %w", err)
	}

	s.cron = c
	c.Start()
	s.logger.InfoContext(ctx, "scheduler started",
		"retry_interval", s.config.RetryInterval, "retention_interval", s.config.RetentionInterval)
	return nil
}

// Stop halts the cron runner and waits for running sweeps until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.cancel()
}

// SweepRetries claims due retrying logs and enqueues their next attempt,
// then re-enqueues stale pending logs. It returns how many jobs were
// enqueued.
func (s *Scheduler) SweepRetries(ctx context.Context) (int, error) {
	enqueued, err := s.sweepDue(ctx)
	if err != nil {
		return enqueued, err
	}
	rearmed, err := s.sweepStale(ctx)
	return enqueued + rearmed, err
}

func (s *Scheduler) sweepDue(ctx context.Context) (int, error) {
	enqueued := 0
	for {
		due, err := s.store.ListDueRetries(ctx, s.now(), s.config.BatchSize)
		if err != nil {
			return enqueued, fmt.Errorf("scheduler: list due retries: %w", err)
		}
		if len(due) == 0 {
			return enqueued, nil
		}

		progressed := 0
		for _, l := range due {
			if ctx.Err() != nil {
				return enqueued, ctx.Err()
			}
			ok, err := s.requeue(ctx, l)
			if err != nil {
				s.logger.ErrorContext(ctx, "requeue failed", "log_id", l.ID, "error", err)
				continue
			}
			progressed++
			if ok {
				enqueued++
			}
		}

		if len(due) < s.config.BatchSize || progressed == 0 {
			return enqueued, nil
		}
	}
}

// sweepStale re-enqueues pending logs not updated within StaleAfter. Their
// job was dropped by the queue or never enqueued. A job that is merely slow
// gets a duplicate, which the pool skips once either copy records.
func (s *Scheduler) sweepStale(ctx context.Context) (int, error) {
	stale, err := s.store.ListStalePending(ctx, s.now().Add(-s.config.StaleAfter), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list stale pending: %w", err)
	}

	enqueued := 0
	for _, l := range stale {
		if ctx.Err() != nil {
			return enqueued, ctx.Err()
		}
		ok, err := s.enqueueClaimed(ctx, l, delivery.Rearm)
		if err != nil {
			s.logger.ErrorContext(ctx, "rearm failed", "log_id", l.ID, "error", err)
			continue
		}
		if ok {
			s.logger.WarnContext(ctx, "stale pending log re-enqueued", "log_id", l.ID, "attempt", l.Attempt)
			enqueued++
		}
	}
	return enqueued, nil
}

// requeue claims l and enqueues its next attempt. It reports whether a job
// was enqueued; a lost claim is not an error.
func (s *Scheduler) requeue(ctx context.Context, l *delivery.Log) (bool, error) {
	return s.enqueueClaimed(ctx, l, delivery.Claim)
}

// enqueueClaimed applies claim to l, writes it conditionally and enqueues
// the current attempt. When the enqueue fails the log is deferred.
func (s *Scheduler) enqueueClaimed(ctx context.Context, l *delivery.Log, claim func(*delivery.Log, time.Time) error) (bool, error) {
	if err := claim(l, s.now()); err != nil {
		return false, err
	}
	err := s.store.UpdateLog(ctx, l)
	switch {
	case errors.Is(err, delivery.ErrVersionConflict), errors.Is(err, delivery.ErrLogNotFound):
		s.logger.DebugContext(ctx, "retry claimed elsewhere", "log_id", l.ID)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("claim: %w", err)
	}

	_, err = s.queue.Enqueue(ctx, queue.Job{
		EndpointID:  l.EndpointID,
		Payload:     l.Payload,
		Attempt:     l.Attempt,
		MaxAttempts: l.MaxAttempts,
	}, 0)
	if err == nil {
		return true, nil
	}

	s.logger.WarnContext(ctx, "enqueue failed, deferring retry", "log_id", l.ID, "error", err)
	if deferErr := delivery.Defer(l, s.now(), s.config.DeferDelay); deferErr != nil {
		return false, deferErr
	}
	if updErr := s.store.UpdateLog(ctx, l); updErr != nil {
		return false, fmt.Errorf("defer: %w", updErr)
	}
	return false, nil
}

// SweepRetention deletes terminal logs older than the retention window.
func (s *Scheduler) SweepRetention(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.Retention)
	n, err := s.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("scheduler: retention: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "retention sweep removed logs", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
