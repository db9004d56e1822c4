package courier

import (
	"log/slog"
	"time"

	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store"
)

// Option configures a Courier instance.
type Option func(*Courier) error

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}

// WithQueue sets the job queue shared by Trigger, the scheduler and the pool.
func WithQueue(q queue.Queue) Option {
	return func(c *Courier) error {
		c.queue = q
		return nil
	}
}

// WithCatalog replaces the built-in event type catalog.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *Courier) error {
		c.catalog = cat
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(c *Courier) error {
		c.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(c *Courier) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the number of attempts a delivery series may make.
func WithMaxAttempts(n int) Option {
	return func(c *Courier) error {
		c.config.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the first retry delay and the cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Courier) error {
		c.config.BackoffBase = base
		c.config.BackoffMax = maxDelay
		return nil
	}
}

// WithRetryInterval sets how often the retry sweep runs.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RetryInterval = d
		return nil
	}
}

// WithRetention sets how long delivered and failed logs are kept.
func WithRetention(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.Retention = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.ShutdownTimeout = d
		return nil
	}
}

// WithSender replaces the HTTP sender, for example to supply a custom client.
func WithSender(s *delivery.Sender) Option {
	return func(c *Courier) error {
		c.sender = s
		return nil
	}
}

// WithResolver sets the DNS resolver the endpoint registry uses to vet hosts.
func WithResolver(r endpoint.Resolver) Option {
	return func(c *Courier) error {
		c.resolver = r
		return nil
	}
}

// WithMetrics enables metrics recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Courier) error {
		c.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry spans for triggers and attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Courier) error {
		c.tracer = t
		return nil
	}
}

// TriggerOption customizes the payload built by Trigger.
type TriggerOption func(*triggerOptions)

type triggerOptions struct {
	targetID string
	metadata map[string]any
}

// WithTargetID sets the payload's target_id, the object the event is about.
func WithTargetID(targetID string) TriggerOption {
	return func(o *triggerOptions) { o.targetID = targetID }
}

// WithMetadata attaches free-form metadata to the payload.
func WithMetadata(md map[string]any) TriggerOption {
	return func(o *triggerOptions) { o.metadata = md }
}
