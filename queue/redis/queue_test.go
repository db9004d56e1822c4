package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/queue"
	redisqueue "github.com/xraph/courier/queue/redis"
)

func setup(t *testing.T, opts ...redisqueue.Option) (*redisqueue.Queue, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	opts = append([]redisqueue.Option{redisqueue.WithPollInterval(10 * time.Millisecond)}, opts...)
	q := redisqueue.New(rdb, opts...)
	require.NoError(t, q.Connect(context.Background()))
	t.Cleanup(func() { _ = q.Close() })
	return q, rdb
}

func newJob() queue.Job {
	p := event.NewPayload(event.InvoicePaid, "owner_1",
		[]byte(`{"invoice_id":"in_1","amount":1999,"currency":"usd"}`), time.Now())
	return queue.Job{
		EndpointID:  id.NewEndpointID(),
		Payload:     *p,
		Attempt:     1,
		MaxAttempts: 5,
	}
}

func dequeue(t *testing.T, q queue.Queue) *queue.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return job
}

func TestRoundTripPreservesJob(t *testing.T) {
	ctx := context.Background()
	q, _ := setup(t)

	in := newJob()
	jobID, err := q.Enqueue(ctx, in, 0)
	require.NoError(t, err)

	out := dequeue(t, q)
	assert.Equal(t, jobID, out.ID)
	assert.Equal(t, in.EndpointID, out.EndpointID)
	assert.Equal(t, in.Payload.ID, out.Payload.ID)
	assert.Equal(t, in.Payload.Type, out.Payload.Type)
	assert.JSONEq(t, string(in.Payload.Data), string(out.Payload.Data))
	assert.Equal(t, 1, out.Attempt)
	assert.Equal(t, 1, out.Deliveries)

	require.NoError(t, q.Ack(ctx, out))
	assert.ErrorIs(t, q.Ack(ctx, out), queue.ErrJobNotFound)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Completed: 1}, stats)
}

func TestDelayedJob(t *testing.T) {
	ctx := context.Background()
	q, _ := setup(t)

	_, err := q.Enqueue(ctx, newJob(), 100*time.Millisecond)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)
	assert.Equal(t, int64(0), stats.Waiting)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NotNil(t, dequeue(t, q))
}

func TestNackAndRedelivery(t *testing.T) {
	ctx := context.Background()
	q, _ := setup(t)

	_, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)

	first := dequeue(t, q)
	require.NoError(t, q.Nack(ctx, first, 0))

	second := dequeue(t, q)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Deliveries)
}

func TestFailRemovesJob(t *testing.T) {
	ctx := context.Background()
	q, rdb := setup(t, redisqueue.WithPrefix("test:"))

	_, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)
	job := dequeue(t, q)
	require.NoError(t, q.Fail(ctx, job))

	n, err := rdb.HLen(ctx, "test:h:jobs").Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	q, _ := setup(t, redisqueue.WithVisibilityTimeout(30*time.Millisecond))

	_, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)

	first := dequeue(t, q)
	second := dequeue(t, q)
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
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Completed: 1}, stats)
}

func TestCloseUnblocksDequeue(t *testing.T) {
	q, _ := setup(t)

	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
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
}
