package sqlite

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
	res, err := s.sdb.NewInsert(m).
		OnConflict("(endpoint_id, payload_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, delivery.ErrLogExists)
}

func (s *Store) GetLog(ctx context.Context, logID id.ID) (*delivery.Log, error) {
	m := new(logModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", logID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("endpoint_id = ?", endpointID.String()).
		Where("payload_id = ?", payloadID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrLogNotFound
		}
		return nil, err
	}
	return fromLogModel(m)
}

func (s *Store) UpdateLog(ctx context.Context, l *delivery.Log) error {
	res, err := s.sdb.NewUpdate((*logModel)(nil)).
		Set("status = ?", string(l.Status)).
		Set("last_status_code = ?", l.LastStatusCode).
		Set("last_response_body = ?", l.LastResponseBody).
		Set("last_error = ?", l.LastError).
		Set("last_latency_ms = ?", l.LastLatencyMs).
		Set("attempt = ?", l.Attempt).
		Set("next_retry_at = ?", toMillisPtr(l.NextRetryAt)).
		Set("delivered_at = ?", toMillisPtr(l.DeliveredAt)).
		Set("updated_at = ?", toMillis(l.UpdatedAt)).
		Set("version = ?", l.Version+1).
		Where("id = ?", l.ID.String()).
		Where("version = ?", l.Version).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		n, err := s.sdb.NewSelect((*logModel)(nil)).
			Where("id = ?", l.ID.String()).
			Count(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return delivery.ErrLogNotFound
		}
		return delivery.ErrVersionConflict
	}
	l.Version++
	return nil
}

func (s *Store) ListLogs(ctx context.Context, endpointID id.ID, opts delivery.ListOpts) ([]*delivery.Log, error) {
	var models []logModel
	q := s.sdb.NewSelect(&models).Where("endpoint_id = ?", endpointID.String())
	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
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
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(delivery.StatusRetrying)).
		Where("next_retry_at <= ?", toMillis(now)).
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
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(delivery.StatusPending)).
		Where("updated_at <= ?", toMillis(t)).
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
	res, err := s.sdb.NewDelete((*logModel)(nil)).
		Where("status IN (?, ?)", string(delivery.StatusDelivered), string(delivery.StatusFailed)).
		Where("updated_at < ?", toMillis(t)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountByStatus(ctx context.Context) (map[delivery.Status]int64, error) {
	counts := make(map[delivery.Status]int64)
	for _, st := range delivery.Statuses {
		n, err := s.sdb.NewSelect((*logModel)(nil)).
			Where("status = ?", string(st)).
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
