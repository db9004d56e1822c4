package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/queue"
	memqueue "github.com/xraph/courier/queue/memory"
	"github.com/xraph/courier/scheduler"
	memstore "github.com/xraph/courier/store/memory"
)

func retryingLog(t *testing.T, st *memstore.Store, due time.Time, attempt int) *delivery.Log {
	t.Helper()
	p := event.NewPayload(event.UserUpdated, "owner_1", json.RawMessage(`{"user_id":"u_1"}`), time.Now())
	l := delivery.NewLog(id.NewEndpointID(), p, 5)
	l.Status = delivery.StatusRetrying
	l.Attempt = attempt
	l.NextRetryAt = &due
	require.NoError(t, st.CreateLog(context.Background(), l))
	return l
}

func TestSweepRetriesEnqueuesDueLogs(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	q := memqueue.New()
	s := scheduler.New(st, q, scheduler.Config{}, nil)

	due := retryingLog(t, st, time.Now().Add(-time.Minute), 3)
	future := retryingLog(t, st, time.Now().Add(time.Hour), 2)

	n, err := s.SweepRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetLog(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusPending, got.Status)
	assert.Nil(t, got.NextRetryAt)
	assert.Equal(t, 3, got.Attempt)

	untouched, err := st.GetLog(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusRetrying, untouched.Status)

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	job, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, due.EndpointID, job.EndpointID)
	assert.Equal(t, due.Payload.ID, job.Payload.ID)
	assert.Equal(t, 3, job.Attempt)
	assert.Equal(t, 5, job.MaxAttempts)

	// A second sweep finds nothing: the row is no longer retrying.
	n, err = s.SweepRetries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepRetriesDrainsSeveralBatches(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	q := memqueue.New()
	s := scheduler.New(st, q, scheduler.Config{BatchSize: 2}, nil)

	for range 5 {
		retryingLog(t, st, time.Now().Add(-time.Second), 2)
	}

	n, err := s.SweepRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Waiting)
}

type failingProducer struct{}

func (failingProducer) Enqueue(context.Context, queue.Job, time.Duration) (id.ID, error) {
	return id.Nil, errors.New("queue unavailable")
}

func TestSweepRetriesDefersOnEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	s := scheduler.New(st, failingProducer{}, scheduler.Config{DeferDelay: time.Minute}, nil)

	l := retryingLog(t, st, time.Now().Add(-time.Minute), 2)

	before := time.Now()
	n, err := s.SweepRetries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := st.GetLog(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusRetrying, got.Status)
	assert.Equal(t, 2, got.Attempt, "a deferred retry must not consume an attempt")
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, before.Add(time.Minute), *got.NextRetryAt, 2*time.Second)
}

// conflictStore loses every conditional update, as if another sweep had
// claimed the row first.
type conflictStore struct {
	*memstore.Store
}

func (conflictStore) UpdateLog(context.Context, *delivery.Log) error {
	return delivery.ErrVersionConflict
}

func TestSweepRetriesSkipsLostClaims(t *testing.T) {
	ctx := context.Background()
	st := conflictStore{memstore.New()}
	q := memqueue.New()
	s := scheduler.New(st, q, scheduler.Config{}, nil)

	retryingLog(t, st.Store, time.Now().Add(-time.Minute), 2)

	n, err := s.SweepRetries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting)
}

func TestSweepRetention(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	s := scheduler.New(st, memqueue.New(), scheduler.Config{Retention: 24 * time.Hour}, nil)

	mk := func(status delivery.Status, age time.Duration) *delivery.Log {
		p := event.NewPayload(event.InvoicePaid, "owner_1", nil, time.Now())
		l := delivery.NewLog(id.NewEndpointID(), p, 3)
		l.Status = status
		l.UpdatedAt = time.Now().Add(-age)
		require.NoError(t, st.CreateLog(ctx, l))
		return l
	}
	old := mk(delivery.StatusDelivered, 48*time.Hour)
	oldPending := mk(delivery.StatusPending, 48*time.Hour)
	recent := mk(delivery.StatusFailed, time.Hour)

	n, err := s.SweepRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetLog(ctx, old.ID)
	assert.ErrorIs(t, err, delivery.ErrLogNotFound)
	_, err = st.GetLog(ctx, oldPending.ID)
	assert.NoError(t, err)
	_, err = st.GetLog(ctx, recent.ID)
	assert.NoError(t, err)
}

func TestStartRunsRetrySweep(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	q := memqueue.New()
	s := scheduler.New(st, q, scheduler.Config{RetryInterval: time.Second}, nil)

	l := retryingLog(t, st, time.Now().Add(-time.Minute), 2)

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start must fail")

	require.Eventually(t, func() bool {
		got, err := st.GetLog(ctx, l.ID)
		return err == nil && got.Status == delivery.StatusPending
	}, 5*time.Second, 50*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Stop(stopCtx)
}
