package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

// CreateLog persists a new log, relying on the unique key index.
func (s *Store) CreateLog(ctx context.Context, l *delivery.Log) error {
	m, err := toLogModel(l)
	if err != nil {
		return err
	}

	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return delivery.ErrLogExists
		}
		return fmt.Errorf("courier/mongo: create log: %w", err)
	}

	return nil
}

// GetLog returns a log by ID.
func (s *Store) GetLog(ctx context.Context, logID id.ID) (*delivery.Log, error) {
	return s.findLog(ctx, bson.M{"_id": logID.String()})
}

// GetLogByKey returns the log for an endpoint and payload.
func (s *Store) GetLogByKey(ctx context.Context, endpointID, payloadID id.ID) (*delivery.Log, error) {
	return s.findLog(ctx, bson.M{
		"endpoint_id": endpointID.String(),
		"payload_id":  payloadID.String(),
	})
}

func (s *Store) findLog(ctx context.Context, filter bson.M) (*delivery.Log, error) {
	var m logModel

	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, delivery.ErrLogNotFound
		}
		return nil, fmt.Errorf("courier/mongo: get log: %w", err)
	}

	return fromLogModel(&m)
}

// UpdateLog replaces the document when its version still matches.
func (s *Store) UpdateLog(ctx context.Context, l *delivery.Log) error {
	m, err := toLogModel(l)
	if err != nil {
		return err
	}
	m.Version = l.Version + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": l.Version}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: update log: %w", err)
	}

	if res.MatchedCount() == 0 {
		n, err := s.mdb.NewFind((*logModel)(nil)).
			Filter(bson.M{"_id": m.ID}).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("courier/mongo: update log: %w", err)
		}
		if n == 0 {
			return delivery.ErrLogNotFound
		}
		return delivery.ErrVersionConflict
	}

	l.Version++
	return nil
}

// ListLogs returns logs for an endpoint, newest first.
func (s *Store) ListLogs(ctx context.Context, endpointID id.ID, opts delivery.ListOpts) ([]*delivery.Log, error) {
	var models []logModel

	filter := bson.M{"endpoint_id": endpointID.String()}
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list logs: %w", err)
	}

	return fromLogModels(models)
}

// ListDueRetries returns retrying logs due at or before now, earliest first.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*delivery.Log, error) {
	var models []logModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":        string(delivery.StatusRetrying),
			"next_retry_at": bson.M{"$lte": now.UTC()},
		}).
		Sort(bson.D{{Key: "next_retry_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list due retries: %w", err)
	}

	return fromLogModels(models)
}

// ListStalePending returns pending logs last updated at or before t, oldest
// first.
func (s *Store) ListStalePending(ctx context.Context, t time.Time, limit int) ([]*delivery.Log, error) {
	var models []logModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":     string(delivery.StatusPending),
			"updated_at": bson.M{"$lte": t.UTC()},
		}).
		Sort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list stale pending: %w", err)
	}

	return fromLogModels(models)
}

// DeleteTerminalBefore removes delivered and failed logs last updated before t.
func (s *Store) DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*logModel)(nil)).
		Filter(bson.M{
			"status": bson.M{"$in": bson.A{
				string(delivery.StatusDelivered),
				string(delivery.StatusFailed),
			}},
			"updated_at": bson.M{"$lt": t.UTC()},
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/mongo: delete terminal logs: %w", err)
	}

	return res.DeletedCount(), nil
}

// CountByStatus returns the number of logs in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[delivery.Status]int64, error) {
	counts := make(map[delivery.Status]int64)

	for _, st := range delivery.Statuses {
		n, err := s.mdb.NewFind((*logModel)(nil)).
			Filter(bson.M{"status": string(st)}).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("courier/mongo: count %s: %w", st, err)
		}
		if n > 0 {
			counts[st] = n
		}
	}

	return counts, nil
}

func fromLogModels(models []logModel) ([]*delivery.Log, error) {
	result := make([]*delivery.Log, 0, len(models))
	for i := range models {
		l, err := fromLogModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, nil
}
