// Package memory provides an in-process queue.Queue. Jobs do not survive a
// restart; use it for tests and single-process deployments.
package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/queue"
)

// compile-time interface check
var _ queue.Queue = (*Queue)(nil)

// Queue is an in-memory queue.Queue ordered by NotBefore.
type Queue struct {
	mu         sync.Mutex
	ready      jobHeap
	leases     map[string]*lease
	changed    chan struct{}
	visibility time.Duration
	completed  int64
	failed     int64
	closed     bool
}

type lease struct {
	job     *queue.Job
	expires time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithVisibilityTimeout sets how long a dequeued job stays leased.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		leases:     make(map[string]*lease),
		changed:    make(chan struct{}),
		visibility: queue.DefaultVisibilityTimeout,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Connect is a no-op.
func (q *Queue) Connect(_ context.Context) error { return nil }

// Close wakes blocked consumers and rejects further operations.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
	return nil
}

// signal wakes every blocked Dequeue. Callers hold q.mu.
func (q *Queue) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) Enqueue(_ context.Context, job queue.Job, delay time.Duration) (id.ID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return id.Nil, queue.ErrClosed
	}

	queue.Prepare(&job, time.Now(), delay)
	heap.Push(&q.ready, &job)
	q.signal()
	return job.ID, nil
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, queue.ErrClosed
		}

		now := time.Now()
		q.reclaim(now)

		var wait time.Duration = -1
		if len(q.ready) > 0 {
			head := q.ready[0]
			if !head.NotBefore.After(now) {
				job := heap.Pop(&q.ready).(*queue.Job)
				job.Deliveries++
				q.leases[job.ID.String()] = &lease{job: job, expires: now.Add(q.visibility)}
				out := *job
				q.mu.Unlock()
				return &out, nil
			}
			wait = head.NotBefore.Sub(now)
		}
		if next, ok := q.nextExpiry(); ok {
			if d := next.Sub(now); wait < 0 || d < wait {
				wait = d
			}
		}
		changed := q.changed
		q.mu.Unlock()

		var timer <-chan time.Time
		if wait >= 0 {
			t := time.NewTimer(wait)
			timer = t.C
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-changed:
				t.Stop()
			case <-timer:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// reclaim returns expired leases to the ready heap. Callers hold q.mu.
func (q *Queue) reclaim(now time.Time) {
	for key, l := range q.leases {
		if now.Before(l.expires) {
			continue
		}
		delete(q.leases, key)
		l.job.NotBefore = now
		heap.Push(&q.ready, l.job)
	}
}

func (q *Queue) nextExpiry() (time.Time, bool) {
	var next time.Time
	found := false
	for _, l := range q.leases {
		if !found || l.expires.Before(next) {
			next, found = l.expires, true
		}
	}
	return next, found
}

// settle ends the lease job was dequeued under. Callers hold q.mu.
func (q *Queue) settle(job *queue.Job) (*queue.Job, error) {
	if q.closed {
		return nil, queue.ErrClosed
	}
	l, ok := q.leases[job.ID.String()]
	if !ok || l.job.Deliveries != job.Deliveries {
		return nil, queue.ErrJobNotFound
	}
	delete(q.leases, job.ID.String())
	return l.job, nil
}

func (q *Queue) Ack(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.settle(job); err != nil {
		return err
	}
	q.completed++
	return nil
}

func (q *Queue) Nack(_ context.Context, job *queue.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	held, err := q.settle(job)
	if err != nil {
		return err
	}
	held.NotBefore = time.Now().UTC().Add(max(delay, 0))
	heap.Push(&q.ready, held)
	q.signal()
	return nil
}

func (q *Queue) Fail(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.settle(job); err != nil {
		return err
	}
	q.failed++
	return nil
}

func (q *Queue) Stats(_ context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	s := queue.Stats{
		Active:    int64(len(q.leases)),
		Completed: q.completed,
		Failed:    q.failed,
	}
	for _, j := range q.ready {
		if j.NotBefore.After(now) {
			s.Delayed++
		} else {
			s.Waiting++
		}
	}
	return s, nil
}

// jobHeap orders jobs by NotBefore, then by EnqueuedAt.
type jobHeap []*queue.Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].NotBefore.Equal(h[j].NotBefore) {
		return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
	}
	return h[i].NotBefore.Before(h[j].NotBefore)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*queue.Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
