package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/queue/memory"
)

func newJob() queue.Job {
	p := event.NewPayload(event.UserCreated, "owner_1", []byte(`{"user_id":"u1"}`), time.Now())
	return queue.Job{
		EndpointID:  id.NewEndpointID(),
		Payload:     *p,
		Attempt:     1,
		MaxAttempts: 3,
	}
}

func dequeue(t *testing.T, q queue.Queue, within time.Duration) *queue.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return job
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := memory.New()

	jobID, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)
	assert.Equal(t, id.PrefixJob, jobID.Prefix())

	job := dequeue(t, q, time.Second)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, 1, job.Deliveries)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Active)
	assert.Equal(t, int64(0), stats.Waiting)

	require.NoError(t, q.Ack(ctx, job))
	assert.ErrorIs(t, q.Ack(ctx, job), queue.ErrJobNotFound)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Completed: 1}, stats)
}

func TestDelayedJobNotVisibleEarly(t *testing.T) {
	ctx := context.Background()
	q := memory.New()

	_, err := q.Enqueue(ctx, newJob(), 150*time.Millisecond)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	start := time.Now()
	job := dequeue(t, q, time.Second)
	assert.NotNil(t, job)
	assert.WithinDuration(t, start, time.Now(), 200*time.Millisecond)
}

func TestOrderedByNotBefore(t *testing.T) {
	ctx := context.Background()
	q := memory.New()

	late, err := q.Enqueue(ctx, newJob(), 40*time.Millisecond)
	require.NoError(t, err)
	early, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)

	assert.Equal(t, early, dequeue(t, q, time.Second).ID)
	assert.Equal(t, late, dequeue(t, q, time.Second).ID)
}

func TestNackRedelivers(t *testing.T) {
	ctx := context.Background()
	q := memory.New()

	_, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)

	job := dequeue(t, q, time.Second)
	require.NoError(t, q.Nack(ctx, job, 0))

	again := dequeue(t, q, time.Second)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Deliveries)
}

func TestFailCounts(t *testing.T) {
	ctx := context.Background()
	q := memory.New()

	_, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)
	job := dequeue(t, q, time.Second)
	require.NoError(t, q.Fail(ctx, job))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Active)
}

func TestExpiredLeaseRedelivered(t *testing.T) {
	ctx := context.Background()
	q := memory.New(memory.WithVisibilityTimeout(50 * time.Millisecond))

	_, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)

	first := dequeue(t, q, time.Second)
	second := dequeue(t, q, time.Second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Deliveries)

	// The superseded holder cannot settle the fresh lease.
	assert.ErrorIs(t, q.Ack(ctx, first), queue.ErrJobNotFound)
	assert.ErrorIs(t, q.Nack(ctx, first, 0), queue.ErrJobNotFound)
	assert.ErrorIs(t, q.Fail(ctx, first), queue.ErrJobNotFound)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Active)

	require.NoError(t, q.Ack(ctx, second))
	assert.ErrorIs(t, q.Ack(ctx, second), queue.ErrJobNotFound)
}

func TestBlockedDequeueWokenByEnqueue(t *testing.T) {
	ctx := context.Background()
	q := memory.New()

	var (
		wg     sync.WaitGroup
		got    *queue.Job
		gotErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		got, gotErr = q.Dequeue(dctx)
	}()

	time.Sleep(20 * time.Millisecond)
	jobID, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)

	wg.Wait()
	require.NoError(t, gotErr)
	assert.Equal(t, jobID, got.ID)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	q := memory.New()

	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return after close")
	}

	_, err := q.Enqueue(ctx, newJob(), 0)
	assert.ErrorIs(t, err, queue.ErrClosed)
}
