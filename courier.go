package courier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/scheduler"
	"github.com/xraph/courier/store"
)

// Courier is the root webhook delivery engine. It fans events out to
// subscribed endpoints, runs the worker pool and the retry scheduler.
type Courier struct {
	config   Config
	store    store.Store
	queue    queue.Queue
	catalog  *catalog.Catalog
	sender   *delivery.Sender
	resolver endpoint.Resolver
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger
	now      func() time.Time

	endpointSvc *endpoint.Service
	pool        *delivery.Pool
	scheduler   *scheduler.Scheduler

	mu      sync.Mutex
	started bool
}

// New creates a new Courier with the given options. A store and a queue
// are required.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	if c.queue == nil {
		return nil, ErrNoQueue
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	if c.catalog == nil {
		c.catalog = catalog.Default()
	}
	c.wireServices()
	return c, nil
}

// wireServices initializes the internal services after options have been applied.
func (c *Courier) wireServices() {
	if c.sender == nil {
		c.sender = delivery.NewSender(c.config.RequestTimeout)
	}

	var epOpts []endpoint.ServiceOption
	if c.resolver != nil {
		epOpts = append(epOpts, endpoint.WithResolver(c.resolver))
	}
	c.endpointSvc = endpoint.NewService(c.store, c.logger, epOpts...)

	c.pool = delivery.NewPool(c.store, c.queue, delivery.PoolConfig{
		Concurrency:      c.config.Concurrency,
		RequestTimeout:   c.config.RequestTimeout,
		Backoff:          c.config.backoff(),
		MaxJobDeliveries: c.config.MaxJobDeliveries,
		Sender:           c.sender,
		Limiter:          ratelimit.New(),
		Metrics:          c.metrics,
		Tracer:           c.tracer,
	}, c.logger)

	c.scheduler = scheduler.New(c.store, c.queue, c.config.schedulerConfig(), c.logger)
}

// Start launches the worker pool and the sweeps. The queue and store must
// already be connected.
func (c *Courier) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	c.pool.Start(ctx)
	if err := c.scheduler.Start(ctx); err != nil {
		c.pool.Stop(ctx)
		return fmt.Errorf("courier: start scheduler: %w", err)
	}
	c.started = true

	c.logger.InfoContext(ctx, "courier started", "concurrency", c.config.Concurrency)
	return nil
}

// Stop halts the sweeps and drains the pool, waiting at most
// ShutdownTimeout for in-flight attempts.
func (c *Courier) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ShutdownTimeout)
	defer cancel()

	c.scheduler.Stop(ctx)
	c.pool.Stop(ctx)
	c.started = false

	c.logger.InfoContext(ctx, "courier stopped")
}

// Trigger validates an event and fans it out to every active endpoint of
// ownerID subscribed to eventType.
//
// Per matched endpoint:
//  1. Build a payload with a fresh ID.
//  2. Persist a pending delivery log for attempt 1.
//  3. Enqueue the first job. If that fails, park the log as retrying so
//     the retry sweep enqueues it later.
//
// Invalid input returns a *ValidationError. Store failures are returned
// after the remaining endpoints have been attempted; queue failures are
// only logged.
func (c *Courier) Trigger(ctx context.Context, eventType event.Type, ownerID string, data json.RawMessage, opts ...TriggerOption) (err error) {
	if ownerID == "" {
		return &ValidationError{Field: "owner_id", Message: "required"}
	}
	if eventType == event.WebhookTest {
		return &ValidationError{Field: "event_type", Message: "webhook.test is reserved for test deliveries"}
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if vErr := c.catalog.Validate(eventType, data); vErr != nil {
		if errors.Is(vErr, catalog.ErrUnknownEventType) {
			return &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown event type %q", eventType), Err: vErr}
		}
		return &ValidationError{Field: "data", Message: vErr.Error(), Err: vErr}
	}

	var o triggerOptions
	for _, opt := range opts {
		opt(&o)
	}

	endpoints, err := c.store.Resolve(ctx, ownerID, eventType)
	if err != nil {
		return fmt.Errorf("courier: resolve endpoints: %w", err)
	}

	fanout := 0
	ctx, finish := c.traceTrigger(ctx, eventType, ownerID)
	defer func() { finish(fanout, err) }()

	var errs []error
	for _, ep := range endpoints {
		p := event.NewPayload(eventType, ownerID, data, c.now())
		p.TargetID = o.targetID
		p.Metadata = maps.Clone(o.metadata)

		if _, fanErr := c.fanOut(ctx, ep, p); fanErr != nil {
			errs = append(errs, fanErr)
			continue
		}
		fanout++
	}

	c.metrics.RecordTrigger(ctx, string(eventType), fanout)
	c.logger.DebugContext(ctx, "event triggered",
		"event_type", eventType,
		"owner_id", ownerID,
		"endpoints", len(endpoints),
		"fanout", fanout,
	)

	return errors.Join(errs...)
}

// fanOut creates the delivery log for one endpoint and enqueues its first job.
func (c *Courier) fanOut(ctx context.Context, ep *endpoint.Endpoint, p *event.Payload) (*delivery.Log, error) {
	l := delivery.NewLog(ep.ID, p, c.config.MaxAttempts)
	if err := c.store.CreateLog(ctx, l); err != nil {
		return nil, fmt.Errorf("courier: create log for %s: %w", ep.ID, err)
	}

	job := queue.Job{
		EndpointID:  ep.ID,
		Payload:     *p,
		Attempt:     l.Attempt,
		MaxAttempts: l.MaxAttempts,
	}
	if _, err := c.queue.Enqueue(ctx, job, 0); err != nil {
		c.logger.WarnContext(ctx, "enqueue failed, deferring to retry sweep",
			"log_id", l.ID, "endpoint_id", ep.ID, "error", err)
		c.deferLog(ctx, l)
	}
	return l, nil
}

func (c *Courier) deferLog(ctx context.Context, l *delivery.Log) {
	if err := delivery.Defer(l, c.now(), c.config.DeferDelay); err != nil {
		c.logger.ErrorContext(ctx, "defer log failed", "log_id", l.ID, "error", err)
		return
	}
	if err := c.store.UpdateLog(ctx, l); err != nil {
		c.logger.ErrorContext(ctx, "defer log failed", "log_id", l.ID, "error", err)
	}
}

func (c *Courier) traceTrigger(ctx context.Context, eventType event.Type, ownerID string) (context.Context, func(int, error)) {
	if c.tracer == nil {
		return ctx, func(int, error) {}
	}
	ctx, span := c.tracer.StartTriggerSpan(ctx, string(eventType), ownerID)
	return ctx, func(fanout int, err error) {
		c.tracer.EndTriggerSpan(span, fanout, err)
	}
}

// TestEndpoint sends a webhook.test payload to the endpoint right away and
// returns the one-shot log with the attempt result. The attempt is not
// retried and works on inactive endpoints too.
func (c *Courier) TestEndpoint(ctx context.Context, endpointID id.ID) (*delivery.Log, delivery.Result, error) {
	ep, err := c.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, delivery.Result{}, err
	}

	data, err := json.Marshal(map[string]string{
		"endpoint_id": ep.ID.String(),
		"message":     "This is a test delivery.",
	})
	if err != nil {
		return nil, delivery.Result{}, fmt.Errorf("courier: marshal test data: %w", err)
	}

	p := event.NewPayload(event.WebhookTest, ep.OwnerID, data, c.now())
	l := delivery.NewLog(ep.ID, p, 1)
	if err := c.store.CreateLog(ctx, l); err != nil {
		return nil, delivery.Result{}, fmt.Errorf("courier: create test log: %w", err)
	}

	res, err := c.pool.Attempt(ctx, l, ep)
	if err != nil {
		c.closeTestLog(ctx, l, err)
		return l, res, fmt.Errorf("courier: test delivery: %w", err)
	}

	c.logger.InfoContext(ctx, "test delivery sent",
		"endpoint_id", ep.ID, "log_id", l.ID, "status", res.StatusCode, "success", res.Success)
	return l, res, nil
}

// closeTestLog fails a test log whose attempt was not recorded. Nothing
// retries test logs, so it would otherwise stay pending.
func (c *Courier) closeTestLog(ctx context.Context, l *delivery.Log, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	next := *l
	if err := delivery.Fail(&next, cause.Error(), c.now()); err != nil {
		return
	}
	if err := c.store.UpdateLog(ctx, &next); err != nil {
		c.logger.WarnContext(ctx, "close test log", "log_id", l.ID, "error", err)
		return
	}
	*l = next
}

// Redeliver starts a new delivery series for the event recorded on a failed
// log. The new series gets a fresh payload ID and timestamp; the failed log
// is left as it is.
func (c *Courier) Redeliver(ctx context.Context, logID id.ID) (*delivery.Log, error) {
	prev, err := c.store.GetLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if prev.Status != delivery.StatusFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRedeliverable, prev.ID, prev.Status)
	}
	ep, err := c.store.GetEndpoint(ctx, prev.EndpointID)
	if err != nil {
		return nil, err
	}
	if !ep.Active {
		return nil, fmt.Errorf("%w: %s", ErrEndpointInactive, ep.ID)
	}

	p := event.NewPayload(prev.Payload.Type, prev.Payload.OwnerID, prev.Payload.Data, c.now())
	p.TargetID = prev.Payload.TargetID
	p.Metadata = maps.Clone(prev.Payload.Metadata)

	l, err := c.fanOut(ctx, ep, p)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "delivery redelivered", "previous_log_id", prev.ID, "log_id", l.ID, "endpoint_id", ep.ID)
	return l, nil
}

// Stats is a point-in-time view of queue and log counts.
type Stats struct {
	Queue queue.Stats               `json:"queue"`
	Logs  map[delivery.Status]int64 `json:"logs"`
}

// Stats reports queue job counts and delivery log counts by status.
func (c *Courier) Stats(ctx context.Context) (*Stats, error) {
	qs, err := c.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier: queue stats: %w", err)
	}
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier: log counts: %w", err)
	}
	logs := make(map[delivery.Status]int64, len(delivery.Statuses))
	for _, s := range delivery.Statuses {
		logs[s] = counts[s]
	}
	return &Stats{Queue: qs, Logs: logs}, nil
}

// Deliveries lists the delivery logs of an endpoint, newest first.
func (c *Courier) Deliveries(ctx context.Context, endpointID id.ID, opts delivery.ListOpts) ([]*delivery.Log, error) {
	return c.store.ListLogs(ctx, endpointID, opts)
}

// Delivery returns one delivery log.
func (c *Courier) Delivery(ctx context.Context, logID id.ID) (*delivery.Log, error) {
	return c.store.GetLog(ctx, logID)
}

// Endpoints returns the endpoint management service.
func (c *Courier) Endpoints() *endpoint.Service {
	return c.endpointSvc
}

// Catalog returns the event type catalog.
func (c *Courier) Catalog() *catalog.Catalog {
	return c.catalog
}

// Store returns the underlying store.
func (c *Courier) Store() store.Store {
	return c.store
}

// Queue returns the job queue.
func (c *Courier) Queue() queue.Queue {
	return c.queue
}

// Scheduler returns the sweep scheduler, for running sweeps on demand.
func (c *Courier) Scheduler() *scheduler.Scheduler {
	return c.scheduler
}

// Config returns the active configuration.
func (c *Courier) Config() Config {
	return c.config
}
