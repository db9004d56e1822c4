package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/ratelimit"
)

// PoolStore is the persistence the pool needs.
type PoolStore interface {
	Store
	GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error)
}

// Consumer is the queue side the pool pulls from.
type Consumer interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Nack(ctx context.Context, job *queue.Job, delay time.Duration) error
	Fail(ctx context.Context, job *queue.Job) error
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int

	// RequestTimeout bounds each HTTP attempt.
	RequestTimeout time.Duration

	// Backoff computes retry delays.
	Backoff Backoff

	// MaxJobDeliveries fails a job after the queue has handed it out this
	// many times without an ack.
	MaxJobDeliveries int

	// NackDelay is how long a job waits after an infrastructure error.
	NackDelay time.Duration

	// IdleDelay is the pause after a failed dequeue.
	IdleDelay time.Duration

	Sender  *Sender
	Limiter *ratelimit.Limiter
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

func (c *PoolConfig) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	if c.MaxJobDeliveries <= 0 {
		c.MaxJobDeliveries = 5
	}
	if c.NackDelay <= 0 {
		c.NackDelay = 5 * time.Second
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = time.Second
	}
	if c.Sender == nil {
		c.Sender = NewSender(c.RequestTimeout)
	}
	if c.Limiter == nil {
		c.Limiter = ratelimit.New()
	}
}

// Pool is the set of workers that turn queued jobs into HTTP attempts and
// record each outcome on the delivery log.
type Pool struct {
	store  PoolStore
	queue  Consumer
	config PoolConfig
	logger *slog.Logger

	cancel      context.CancelFunc
	abort       context.CancelFunc
	wg          sync.WaitGroup
	startedOnce sync.Once
}

// NewPool creates a worker pool.
func NewPool(store PoolStore, q Consumer, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	return &Pool{
		store:  store,
		queue:  q,
		config: cfg,
		logger: logger,
	}
}

// Start launches the workers. Cancelling ctx stops dequeuing; jobs already
// in flight run to completion unless Stop's deadline passes.
func (p *Pool) Start(ctx context.Context) {
	p.startedOnce.Do(func() {
		var work context.Context
		work, p.abort = context.WithCancel(context.WithoutCancel(ctx))
		ctx, p.cancel = context.WithCancel(ctx)

		for range p.config.Concurrency {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.worker(ctx, work)
			}()
		}
	})
}

// Stop stops dequeuing and waits for in-flight jobs. When ctx expires first,
// in-flight attempts are cancelled and their jobs left for redelivery.
func (p *Pool) Stop(ctx context.Context) {
	if p.cancel == nil {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "shutdown deadline reached, aborting in-flight deliveries")
		p.abort()
		<-done
	}
	p.abort()
}

func (p *Pool) worker(ctx, work context.Context) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			p.logger.ErrorContext(ctx, "dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.IdleDelay):
			}
			continue
		}
		p.handle(work, job)
	}
}

// handle processes one job and settles it with the queue.
func (p *Pool) handle(ctx context.Context, job *queue.Job) {
	p.config.Metrics.AttemptStarted(ctx)
	defer p.config.Metrics.AttemptFinished(ctx)

	err := p.Process(ctx, job)
	if err == nil {
		if ackErr := p.queue.Ack(ctx, job); ackErr != nil {
			p.logger.ErrorContext(ctx, "ack failed", "job_id", job.ID, "error", ackErr)
		}
		return
	}

	if job.Deliveries >= p.config.MaxJobDeliveries {
		p.logger.ErrorContext(ctx, "job abandoned after repeated errors",
			"job_id", job.ID, "deliveries", job.Deliveries, "error", err)
		p.park(ctx, job)
		if failErr := p.queue.Fail(ctx, job); failErr != nil {
			p.logger.ErrorContext(ctx, "fail job failed", "job_id", job.ID, "error", failErr)
		}
		return
	}

	p.logger.WarnContext(ctx, "job processing failed, requeueing",
		"job_id", job.ID, "deliveries", job.Deliveries, "error", err)
	if nackErr := p.queue.Nack(ctx, job, p.config.NackDelay); nackErr != nil {
		p.logger.ErrorContext(ctx, "nack failed", "job_id", job.ID, "error", nackErr)
	}
}

// park hands the series of an abandoned job to the retry sweep by moving
// its log to retrying without consuming an attempt. When the store is still
// failing the log stays pending and the stale sweep picks it up instead.
func (p *Pool) park(ctx context.Context, job *queue.Job) {
	l, err := p.store.GetLogByKey(ctx, job.EndpointID, job.Payload.ID)
	if err != nil {
		p.logger.WarnContext(ctx, "park abandoned job: load log", "job_id", job.ID, "error", err)
		return
	}
	if l.Status != StatusPending || l.Attempt != job.Attempt {
		return
	}
	delay := p.config.Backoff.Delay(l.Attempt)
	err = p.update(ctx, l, func(next *Log) error {
		return Defer(next, time.Now(), delay)
	})
	if err != nil {
		p.logger.WarnContext(ctx, "park abandoned job", "job_id", job.ID, "log_id", l.ID, "error", err)
		return
	}
	p.logger.InfoContext(ctx, "abandoned job parked for retry",
		"job_id", job.ID, "log_id", l.ID, "next_retry_at", l.NextRetryAt)
}

// Process runs one job against the delivery log keyed by (endpoint, payload).
// Duplicate and stale jobs are skipped. The returned error is an
// infrastructure failure; delivery outcomes are recorded on the log.
func (p *Pool) Process(ctx context.Context, job *queue.Job) error {
	l, err := p.ensureLog(ctx, job)
	if err != nil {
		return err
	}

	if l.Status != StatusPending || l.Attempt != job.Attempt {
		p.logger.DebugContext(ctx, "stale job skipped",
			"job_id", job.ID, "log_id", l.ID, "status", l.Status,
			"log_attempt", l.Attempt, "job_attempt", job.Attempt)
		return nil
	}

	ep, err := p.store.GetEndpoint(ctx, job.EndpointID)
	switch {
	case errors.Is(err, endpoint.ErrNotFound):
		return p.fail(ctx, l, "endpoint gone")
	case err != nil:
		return fmt.Errorf("delivery: get endpoint: %w", err)
	case !ep.Active:
		return p.fail(ctx, l, "endpoint disabled")
	}

	_, err = p.Attempt(ctx, l, ep)
	return err
}

// Attempt sends l's payload to ep once and records the result on l. It is
// also the synchronous path for test deliveries.
func (p *Pool) Attempt(ctx context.Context, l *Log, ep *endpoint.Endpoint) (Result, error) {
	if err := p.config.Limiter.Wait(ctx, ep.ID.String(), ep.RateLimit); err != nil {
		return Result{}, fmt.Errorf("delivery: rate limit wait: %w", err)
	}

	var span trace.Span
	if p.config.Tracer != nil {
		ctx, span = p.config.Tracer.StartDeliverySpan(ctx, l.ID.String(), l.Payload.ID.String(), ep.ID.String(), l.Attempt)
	}

	res := p.config.Sender.Deliver(ctx, ep, &l.Payload)

	if span != nil {
		p.config.Tracer.EndDeliverySpan(span, res.StatusCode, res.LatencyMs, res.Error)
	}

	if err := p.record(ctx, l, res); err != nil {
		return res, err
	}

	p.config.Metrics.RecordDelivery(ctx, string(l.Status), float64(res.LatencyMs)/1000.0)

	switch l.Status {
	case StatusDelivered:
		p.logger.DebugContext(ctx, "delivered",
			"log_id", l.ID, "endpoint_id", ep.ID, "status", res.StatusCode, "latency_ms", res.LatencyMs)
	case StatusRetrying:
		p.logger.DebugContext(ctx, "retry scheduled",
			"log_id", l.ID, "attempt", l.Attempt, "next_retry_at", l.NextRetryAt,
			"status", res.StatusCode, "error", res.Error)
	case StatusFailed:
		p.logger.WarnContext(ctx, "delivery failed permanently",
			"log_id", l.ID, "endpoint_id", ep.ID, "attempt", l.Attempt,
			"status", res.StatusCode, "error", res.Error)
	}
	return res, nil
}

// ensureLog loads the log for job, creating it pending when absent.
func (p *Pool) ensureLog(ctx context.Context, job *queue.Job) (*Log, error) {
	l, err := p.store.GetLogByKey(ctx, job.EndpointID, job.Payload.ID)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, ErrLogNotFound) {
		return nil, fmt.Errorf("delivery: get log: %w", err)
	}

	l = NewLog(job.EndpointID, &job.Payload, job.MaxAttempts)
	l.Attempt = max(job.Attempt, 1)
	if l.Attempt > l.MaxAttempts {
		l.MaxAttempts = l.Attempt
	}

	err = p.store.CreateLog(ctx, l)
	switch {
	case err == nil:
		return l, nil
	case errors.Is(err, ErrLogExists):
		l, err = p.store.GetLogByKey(ctx, job.EndpointID, job.Payload.ID)
		if err != nil {
			return nil, fmt.Errorf("delivery: get log: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("delivery: create log: %w", err)
	}
}

// record applies res to l with a conditional update, reloading on conflict.
// If another worker moved the series on, its state wins.
func (p *Pool) record(ctx context.Context, l *Log, res Result) error {
	return p.update(ctx, l, func(next *Log) error {
		return Apply(next, res, time.Now(), p.config.Backoff)
	})
}

func (p *Pool) fail(ctx context.Context, l *Log, reason string) error {
	err := p.update(ctx, l, func(next *Log) error {
		return Fail(next, reason, time.Now())
	})
	if err != nil {
		return err
	}
	p.config.Metrics.RecordDelivery(ctx, string(StatusFailed), 0)
	p.logger.WarnContext(ctx, "delivery abandoned", "log_id", l.ID, "endpoint_id", l.EndpointID, "reason", reason)
	return nil
}

const maxConflictRetries = 3

func (p *Pool) update(ctx context.Context, l *Log, transition func(*Log) error) error {
	attempt, status := l.Attempt, l.Status
	for range maxConflictRetries {
		next := *l
		if err := transition(&next); err != nil {
			if errors.Is(err, ErrTerminal) {
				return nil
			}
			return err
		}

		err := p.store.UpdateLog(ctx, &next)
		if err == nil {
			*l = next
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("delivery: update log: %w", err)
		}

		fresh, getErr := p.store.GetLog(ctx, l.ID)
		if getErr != nil {
			return fmt.Errorf("delivery: reload log: %w", getErr)
		}
		*l = *fresh
		if l.Status != status || l.Attempt != attempt {
			p.logger.DebugContext(ctx, "log advanced concurrently", "log_id", l.ID, "status", l.Status)
			return nil
		}
	}
	return fmt.Errorf("delivery: update log %s: %w", l.ID, ErrVersionConflict)
}
