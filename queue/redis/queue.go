// Package redis implements queue.Queue on Redis sorted sets.
//
// Jobs live in a hash keyed by job ID. A "waiting" sorted set scores each
// job by the unix milliseconds at which it becomes visible; an "active"
// sorted set scores leased jobs by lease expiry. Dequeue runs one Lua script
// that first returns expired leases to waiting, then claims the earliest due
// job, so a crashed worker's job is redelivered after the visibility
// timeout.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/queue"
)

// compile-time interface check
var _ queue.Queue = (*Queue)(nil)

// DefaultPollInterval is how often an idle Dequeue re-checks Redis.
const DefaultPollInterval = 100 * time.Millisecond

// Queue is a Redis-backed queue.Queue. The client is owned by the caller.
type Queue struct {
	rdb          goredis.UniversalClient
	keys         keys
	visibility   time.Duration
	pollInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithPrefix sets the key prefix. Defaults to "courier:q:".
func WithPrefix(prefix string) Option {
	return func(q *Queue) { q.keys = newKeys(prefix) }
}

// WithVisibilityTimeout sets how long a dequeued job stays leased.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// WithPollInterval sets how often an idle Dequeue polls.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollInterval = d }
}

// New creates a queue on an existing go-redis client.
func New(rdb goredis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{
		rdb:          rdb,
		keys:         newKeys(defaultPrefix),
		visibility:   queue.DefaultVisibilityTimeout,
		pollInterval: DefaultPollInterval,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// NewFromKV creates a queue sharing the Redis connection of a Grove KV store.
func NewFromKV(store *kv.Store, opts ...Option) *Queue {
	return New(redisdriver.UnwrapClient(store), opts...)
}

// Connect verifies connectivity and loads the scripts.
func (q *Queue) Connect(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("courier/queue/redis: ping: %w", err)
	}
	for _, s := range []*goredis.Script{dequeueScript, settleScript, nackScript} {
		if err := s.Load(ctx, q.rdb).Err(); err != nil {
			return fmt.Errorf("courier/queue/redis: load script: %w", err)
		}
	}
	return nil
}

// Close stops blocked consumers. It does not close the client.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *Queue) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) (id.ID, error) {
	if q.isClosed() {
		return id.Nil, queue.ErrClosed
	}

	queue.Prepare(&job, time.Now(), delay)
	job.Deliveries = 0
	raw, err := json.Marshal(&job)
	if err != nil {
		return id.Nil, fmt.Errorf("courier/queue/redis: marshal job: %w", err)
	}

	jobID := job.ID.String()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.keys.jobs, jobID, raw)
	pipe.ZAdd(ctx, q.keys.waiting, goredis.Z{Score: float64(score(job.NotBefore)), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return id.Nil, fmt.Errorf("courier/queue/redis: enqueue: %w", err)
	}
	return job.ID, nil
}

// dequeueScript reclaims expired leases, then leases the earliest due job.
// KEYS[1] = waiting, KEYS[2] = active, KEYS[3] = jobs, KEYS[4] = deliveries
// ARGV[1] = now (ms), ARGV[2] = visibility timeout (ms)
// Returns {raw job, delivery count} or nil.
var dequeueScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(expired) do
    redis.call('ZREM', KEYS[2], id)
    redis.call('ZADD', KEYS[1], now, id)
end
while true do
    local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 1)
    if #ids == 0 then return false end
    local id = ids[1]
    redis.call('ZREM', KEYS[1], id)
    local raw = redis.call('HGET', KEYS[3], id)
    if raw then
        redis.call('ZADD', KEYS[2], now + tonumber(ARGV[2]), id)
        local n = redis.call('HINCRBY', KEYS[4], id, 1)
        return {raw, n}
    end
end
`)

// settleScript removes a leased job and bumps a counter. The delivery count
// must match the caller's lease.
// KEYS[1] = active, KEYS[2] = jobs, KEYS[3] = deliveries, KEYS[4] = stats
// ARGV[1] = job ID, ARGV[2] = stats field, ARGV[3] = delivery count
var settleScript = goredis.NewScript(`
if redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[3] then return 0 end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HINCRBY', KEYS[4], ARGV[2], 1)
return 1
`)

// nackScript moves a leased job back to waiting.
// KEYS[1] = active, KEYS[2] = waiting, KEYS[3] = deliveries
// ARGV[1] = job ID, ARGV[2] = visible at (ms), ARGV[3] = delivery count
var nackScript = goredis.NewScript(`
if redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[3] then return 0 end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[1])
return 1
`)

func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if q.isClosed() {
			return nil, queue.ErrClosed
		}

		job, err := q.claim(ctx)
		if err != nil || job != nil {
			return job, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, queue.ErrClosed
		case <-ticker.C:
		}
	}
}

func (q *Queue) claim(ctx context.Context) (*queue.Job, error) {
	res, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.keys.waiting, q.keys.active, q.keys.jobs, q.keys.deliveries},
		score(time.Now()), q.visibility.Milliseconds(),
	).Slice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil //nolint:nilnil // nothing due
		}
		return nil, fmt.Errorf("courier/queue/redis: dequeue: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("courier/queue/redis: dequeue: unexpected reply %v", res)
	}

	raw, _ := res[0].(string)
	var job queue.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("courier/queue/redis: unmarshal job: %w", err)
	}
	n, _ := res[1].(int64)
	job.Deliveries = int(n)
	return &job, nil
}

func (q *Queue) Ack(ctx context.Context, job *queue.Job) error {
	return q.settle(ctx, job, fieldCompleted)
}

func (q *Queue) Fail(ctx context.Context, job *queue.Job) error {
	return q.settle(ctx, job, fieldFailed)
}

func (q *Queue) settle(ctx context.Context, job *queue.Job, field string) error {
	ok, err := settleScript.Run(ctx, q.rdb,
		[]string{q.keys.active, q.keys.jobs, q.keys.deliveries, q.keys.stats},
		job.ID.String(), field, job.Deliveries,
	).Int()
	if err != nil {
		return fmt.Errorf("courier/queue/redis: settle %s: %w", field, err)
	}
	if ok == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

func (q *Queue) Nack(ctx context.Context, job *queue.Job, delay time.Duration) error {
	ok, err := nackScript.Run(ctx, q.rdb,
		[]string{q.keys.active, q.keys.waiting, q.keys.deliveries},
		job.ID.String(), score(time.Now().Add(max(delay, 0))), job.Deliveries,
	).Int()
	if err != nil {
		return fmt.Errorf("courier/queue/redis: nack: %w", err)
	}
	if ok == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

func (q *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	now := strconv.FormatInt(score(time.Now()), 10)

	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCount(ctx, q.keys.waiting, "-inf", now)
	delayed := pipe.ZCount(ctx, q.keys.waiting, "("+now, "+inf")
	active := pipe.ZCard(ctx, q.keys.active)
	counters := pipe.HMGet(ctx, q.keys.stats, fieldCompleted, fieldFailed)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return queue.Stats{}, fmt.Errorf("courier/queue/redis: stats: %w", err)
	}

	vals := counters.Val()
	return queue.Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: parseCounter(vals, 0),
		Failed:    parseCounter(vals, 1),
	}, nil
}

func parseCounter(vals []any, i int) int64 {
	if i >= len(vals) {
		return 0
	}
	s, ok := vals[i].(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// score converts a time to a sorted set score in unix milliseconds.
func score(t time.Time) int64 {
	return t.UnixMilli()
}
