// Package queue defines the at-least-once job queue that carries delivery
// jobs from producers (trigger, retry sweep) to the worker pool.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
)

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue: closed")

	// ErrJobNotFound is returned when settling a job the caller no longer
	// leases: it was settled already, or its lease expired and the job was
	// redelivered to another consumer.
	ErrJobNotFound = errors.New("queue: job not found")
)

// DefaultVisibilityTimeout is how long a dequeued job stays leased before
// it becomes visible again.
const DefaultVisibilityTimeout = 2 * time.Minute

// Job is one delivery attempt of a payload to an endpoint. Workers read
// jobs but never modify them; all state lives in the delivery log.
type Job struct {
	ID          id.ID         `json:"id"`
	EndpointID  id.ID         `json:"endpoint_id"`
	Payload     event.Payload `json:"payload"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	NotBefore   time.Time     `json:"not_before"`

	// EnqueuedAt is when the job first entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Deliveries counts how many times the job was dequeued. Together with
	// ID it identifies one lease.
	Deliveries int `json:"deliveries"`
}

// Stats are point-in-time job counts.
type Stats struct {
	// Waiting jobs are ready to be dequeued.
	Waiting int64 `json:"waiting"`

	// Active jobs are leased to a worker.
	Active int64 `json:"active"`

	// Completed is the number of acked jobs.
	Completed int64 `json:"completed"`

	// Failed is the number of jobs given up on.
	Failed int64 `json:"failed"`

	// Delayed jobs become visible in the future.
	Delayed int64 `json:"delayed"`
}

// Producer enqueues jobs.
type Producer interface {
	// Enqueue adds job, visible to consumers after delay. A zero job ID is
	// assigned. Returns the job ID.
	Enqueue(ctx context.Context, job Job, delay time.Duration) (id.ID, error)
}

// Queue is a durable at-least-once job queue.
type Queue interface {
	Producer

	// Connect prepares the queue for use. Called once at startup.
	Connect(ctx context.Context) error

	// Close releases resources. Called once at shutdown.
	Close() error

	// Dequeue blocks until a job is visible or ctx is done, then leases it.
	Dequeue(ctx context.Context) (*Job, error)

	// Ack completes a job leased by Dequeue. job must be the value Dequeue
	// returned; a holder whose lease was superseded gets ErrJobNotFound.
	Ack(ctx context.Context, job *Job) error

	// Nack returns a leased job to the queue after delay.
	Nack(ctx context.Context, job *Job, delay time.Duration) error

	// Fail removes a leased job and counts it as failed.
	Fail(ctx context.Context, job *Job) error

	// Stats reports job counts.
	Stats(ctx context.Context) (Stats, error)
}

// Prepare fills the job ID, EnqueuedAt and NotBefore before enqueueing.
func Prepare(job *Job, now time.Time, delay time.Duration) {
	if job.ID.IsNil() {
		job.ID = id.NewJobID()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now.UTC()
	}
	if delay < 0 {
		delay = 0
	}
	job.NotBefore = now.UTC().Add(delay)
}
