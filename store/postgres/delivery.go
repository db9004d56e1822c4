package postgres

import (
	"context"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

// ==================== Delivery Log Store ====================

func (s *Store) CreateLog(ctx context.Context, l *delivery.Log) error {
	m, err := toLogModel(l)
	if err != nil {
		return err
	}
	res, err := s.pg.NewInsert(m).
		OnConflict("(endpoint_id, payload_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, delivery.ErrLogExists)
}

func (s *Store) GetLog(ctx context.Context, logID id.ID) (*delivery.Log, error) {
	m := new(logModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", logID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrLogNotFound
		}
		return nil, err
	}
	return fromLogModel(m)
}

func (s *Store) GetLogByKey(ctx context.Context, endpointID, payloadID id.ID) (*delivery.Log, error) {
	m := new(logModel)
	err := s.pg.NewSelect(m).
		Where("endpoint_id = $1", endpointID.String()).
		Where("payload_id = $2", payloadID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrLogNotFound
		}
		return nil, err
	}
	return fromLogModel(m)
}

// UpdateLog writes the mutable columns guarded by the version column.
func (s *Store) UpdateLog(ctx context.Context, l *delivery.Log) error {
	res, err := s.pg.NewUpdate((*logModel)(nil)).
		Set("status = $1", string(l.Status)).
		Set("last_status_code = $2", l.LastStatusCode).
		Set("last_response_body = $3", l.LastResponseBody).
		Set("last_error = $4", l.LastError).
		Set("last_latency_ms = $5", l.LastLatencyMs).
		Set("attempt = $6", l.Attempt).
		Set("next_retry_at = $7", l.NextRetryAt).
		Set("delivered_at = $8", l.DeliveredAt).
		Set("updated_at = $9", l.UpdatedAt).
		Set("version = $10", l.Version+1).
		Where("id = $11", l.ID.String()).
		Where("version = $12", l.Version).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missOrConflict(ctx, l.ID)
	}
	l.Version++
	return nil
}

// missOrConflict tells a deleted log from a concurrent writer after a
// guarded update matched nothing.
func (s *Store) missOrConflict(ctx context.Context, logID id.ID) error {
	n, err := s.pg.NewSelect((*logModel)(nil)).
		Where("id = $1", logID.String()).
		Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return delivery.ErrLogNotFound
	}
	return delivery.ErrVersionConflict
}

func (s *Store) ListLogs(ctx context.Context, endpointID id.ID, opts delivery.ListOpts) ([]*delivery.Log, error) {
	var models []logModel
	q := s.pg.NewSelect(&models).Where("endpoint_id = $1", endpointID.String())
	if opts.Status != nil {
		q = q.Where("status = $2", string(*opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromLogModels(models)
}

func (s *Store) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*delivery.Log, error) {
	var models []logModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(delivery.StatusRetrying)).
		Where("next_retry_at <= $2", now.UTC()).
		OrderExpr("next_retry_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromLogModels(models)
}

func (s *Store) ListStalePending(ctx context.Context, t time.Time, limit int) ([]*delivery.Log, error) {
	var models []logModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(delivery.StatusPending)).
		Where("updated_at <= $2", t.UTC()).
		OrderExpr("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromLogModels(models)
}

func (s *Store) DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.pg.NewDelete((*logModel)(nil)).
		Where("status IN ($1, $2)", string(delivery.StatusDelivered), string(delivery.StatusFailed)).
		Where("updated_at < $3", t.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountByStatus(ctx context.Context) (map[delivery.Status]int64, error) {
	counts := make(map[delivery.Status]int64)
	for _, st := range delivery.Statuses {
		n, err := s.pg.NewSelect((*logModel)(nil)).
			Where("status = $1", string(st)).
			Count(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			counts[st] = n
		}
	}
	return counts, nil
}

func fromLogModels(models []logModel) ([]*delivery.Log, error) {
	result := make([]*delivery.Log, len(models))
	for i := range models {
		l, err := fromLogModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = l
	}
	return result, nil
}
