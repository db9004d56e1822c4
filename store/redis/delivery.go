package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	courierstore "github.com/xraph/courier/store"
)

// createLogScript inserts a log unless its (endpoint, payload) key is taken.
// KEYS[1] = unique key, KEYS[2] = log hash, KEYS[3] = endpoint index,
// KEYS[4] = status counts, KEYS[5] = retry index, KEYS[6] = terminal index,
// KEYS[7] = pending index
// ARGV = id, json, version, status, created score, retry score, terminal
// score, endpoint ID, payload ID, pending score. Empty scores skip that index.
var createLogScript = goredis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[2], 'json', ARGV[2], 'version', ARGV[3], 'status', ARGV[4],
    'endpoint_id', ARGV[8], 'payload_id', ARGV[9])
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
redis.call('HINCRBY', KEYS[4], ARGV[4], 1)
if ARGV[6] ~= '' then redis.call('ZADD', KEYS[5], ARGV[6], ARGV[1]) end
if ARGV[7] ~= '' then redis.call('ZADD', KEYS[6], ARGV[7], ARGV[1]) end
if ARGV[10] ~= '' then redis.call('ZADD', KEYS[7], ARGV[10], ARGV[1]) end
return 1
`)

// updateLogScript writes a log if its stored version matches.
// KEYS[1] = log hash, KEYS[2] = status counts, KEYS[3] = retry index,
// KEYS[4] = terminal index, KEYS[5] = pending index
// ARGV = id, expected version, json, new version, status, retry score,
// terminal score, pending score.
// Returns -1 when missing, 0 on version conflict, 1 on success.
var updateLogScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then return -1 end
if cur ~= ARGV[2] then return 0 end
local old = redis.call('HGET', KEYS[1], 'status')
if old ~= ARGV[5] then
    redis.call('HINCRBY', KEYS[2], old, -1)
    redis.call('HINCRBY', KEYS[2], ARGV[5], 1)
end
redis.call('HSET', KEYS[1], 'json', ARGV[3], 'version', ARGV[4], 'status', ARGV[5])
if ARGV[6] ~= '' then
    redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
else
    redis.call('ZREM', KEYS[3], ARGV[1])
end
if ARGV[7] ~= '' then
    redis.call('ZADD', KEYS[4], ARGV[7], ARGV[1])
else
    redis.call('ZREM', KEYS[4], ARGV[1])
end
if ARGV[8] ~= '' then
    redis.call('ZADD', KEYS[5], ARGV[8], ARGV[1])
else
    redis.call('ZREM', KEYS[5], ARGV[1])
end
return 1
`)

// indexScores returns the retry, terminal and pending index scores for l,
// empty when l does not belong in that index.
func indexScores(l *delivery.Log) (retry, terminal, pending string) {
	if l.Status == delivery.StatusRetrying && l.NextRetryAt != nil {
		retry = strconv.FormatInt(l.NextRetryAt.UnixMilli(), 10)
	}
	if l.Status.Terminal() {
		terminal = strconv.FormatInt(l.UpdatedAt.UnixMilli(), 10)
	}
	if l.Status == delivery.StatusPending {
		pending = strconv.FormatInt(l.UpdatedAt.UnixMilli(), 10)
	}
	return retry, terminal, pending
}

func (s *Store) CreateLog(ctx context.Context, l *delivery.Log) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("courier/redis: marshal log: %w", err)
	}

	logID, epID, payloadID := l.ID.String(), l.EndpointID.String(), l.Payload.ID.String()
	retry, terminal, pending := indexScores(l)

	ok, err := createLogScript.Run(ctx, s.rdb,
		[]string{
			logUniqueKey(epID, payloadID),
			entityKey(prefixLog, logID),
			zLogEndpoint + epID,
			hLogStatus,
			zLogRetry,
			zLogTerminal,
			zLogPending,
		},
		logID, raw, l.Version, string(l.Status),
		l.CreatedAt.UnixMilli(), retry, terminal, epID, payloadID, pending,
	).Int()
	if err != nil {
		return fmt.Errorf("courier/redis: create log: %w", err)
	}
	if ok == 0 {
		return delivery.ErrLogExists
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, logID id.ID) (*delivery.Log, error) {
	return s.loadLog(ctx, logID.String())
}

func (s *Store) GetLogByKey(ctx context.Context, endpointID, payloadID id.ID) (*delivery.Log, error) {
	logID, err := s.rdb.Get(ctx, logUniqueKey(endpointID.String(), payloadID.String())).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, delivery.ErrLogNotFound
		}
		return nil, fmt.Errorf("courier/redis: get log by key: %w", err)
	}
	return s.loadLog(ctx, logID)
}

func (s *Store) loadLog(ctx context.Context, logID string) (*delivery.Log, error) {
	raw, err := s.rdb.HGet(ctx, entityKey(prefixLog, logID), fieldJSON).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, delivery.ErrLogNotFound
		}
		return nil, fmt.Errorf("courier/redis: get log: %w", err)
	}
	var l delivery.Log
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("courier/redis: decode log %s: %w", logID, err)
	}
	return &l, nil
}

func (s *Store) UpdateLog(ctx context.Context, l *delivery.Log) error {
	next := *l
	next.Version++
	raw, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("courier/redis: marshal log: %w", err)
	}

	logID := l.ID.String()
	retry, terminal, pending := indexScores(l)

	res, err := updateLogScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixLog, logID), hLogStatus, zLogRetry, zLogTerminal, zLogPending},
		logID, l.Version, raw, next.Version, string(l.Status), retry, terminal, pending,
	).Int()
	if err != nil {
		return fmt.Errorf("courier/redis: update log: %w", err)
	}
	switch res {
	case -1:
		return delivery.ErrLogNotFound
	case 0:
		return delivery.ErrVersionConflict
	}
	l.Version = next.Version
	return nil
}

func (s *Store) ListLogs(ctx context.Context, endpointID id.ID, opts delivery.ListOpts) ([]*delivery.Log, error) {
	ids, err := s.rdb.ZRevRange(ctx, zLogEndpoint+endpointID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list logs: %w", err)
	}

	logs, err := s.loadLogs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if opts.Status != nil {
		filtered := logs[:0]
		for _, l := range logs {
			if l.Status == *opts.Status {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}
	return courierstore.Paginate(logs, opts.Offset, opts.Limit), nil
}

func (s *Store) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*delivery.Log, error) {
	by := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.rdb.ZRangeByScore(ctx, zLogRetry, by).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list due retries: %w", err)
	}
	return s.loadLogs(ctx, ids)
}

func (s *Store) ListStalePending(ctx context.Context, t time.Time, limit int) ([]*delivery.Log, error) {
	by := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(t.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.rdb.ZRangeByScore(ctx, zLogPending, by).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list stale pending: %w", err)
	}
	return s.loadLogs(ctx, ids)
}

func (s *Store) DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, zLogTerminal, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(t.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: retention scan: %w", err)
	}

	var n int64
	for _, logID := range ids {
		key := entityKey(prefixLog, logID)
		fields, err := s.rdb.HMGet(ctx, key, fieldEndpointID, fieldPayloadID, fieldStatus).Result()
		if err != nil {
			return n, fmt.Errorf("courier/redis: retention get: %w", err)
		}
		epID, _ := fields[0].(string)
		payloadID, _ := fields[1].(string)
		status, _ := fields[2].(string)

		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, key)
		pipe.Del(ctx, logUniqueKey(epID, payloadID))
		pipe.ZRem(ctx, zLogEndpoint+epID, logID)
		pipe.ZRem(ctx, zLogTerminal, logID)
		if status != "" {
			pipe.HIncrBy(ctx, hLogStatus, status, -1)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return n, fmt.Errorf("courier/redis: retention delete: %w", err)
		}
		n++
	}
	return n, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[delivery.Status]int64, error) {
	vals, err := s.rdb.HGetAll(ctx, hLogStatus).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: count by status: %w", err)
	}
	counts := make(map[delivery.Status]int64, len(vals))
	for status, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("courier/redis: count %s: %w", status, err)
		}
		if n > 0 {
			counts[delivery.Status(status)] = n
		}
	}
	return counts, nil
}

// loadLogs fetches logs in ids order, skipping ones deleted concurrently.
func (s *Store) loadLogs(ctx context.Context, ids []string) ([]*delivery.Log, error) {
	if len(ids) == 0 {
		return []*delivery.Log{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, logID := range ids {
		cmds[i] = pipe.HGet(ctx, entityKey(prefixLog, logID), fieldJSON)
	}
	if _, err := pipe.Exec(ctx); err != nil && !isRedisNil(err) {
		return nil, fmt.Errorf("courier/redis: load logs: %w", err)
	}

	logs := make([]*delivery.Log, 0, len(ids))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("courier/redis: load log %s: %w", ids[i], err)
		}
		var l delivery.Log
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("courier/redis: decode log %s: %w", ids[i], err)
		}
		logs = append(logs, &l)
	}
	return logs, nil
}
