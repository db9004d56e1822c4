// Package bunstore implements store.Store on the Bun ORM.
//
// It works with any bun dialect the courierd binary links: pgdialect over
// lib/pq and sqlitedialect over mattn/go-sqlite3.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	courier "github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check
var _ courierstore.Store = (*Store)(nil)

// Store implements store.Store using the Bun ORM.
type Store struct {
	db *bun.DB
}

// New creates a new Bun-backed store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables using Bun's CreateTable.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*endpointModel)(nil),
		(*logModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("%w: create table: %w", courier.ErrMigrationFailed, err)
		}
	}

	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_courier_logs_key ON courier_delivery_logs (endpoint_id, payload_id)",
		"CREATE INDEX IF NOT EXISTS idx_courier_logs_endpoint ON courier_delivery_logs (endpoint_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_courier_logs_retry ON courier_delivery_logs (status, next_retry_at)",
		"CREATE INDEX IF NOT EXISTS idx_courier_logs_terminal ON courier_delivery_logs (status, updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_courier_endpoints_owner ON courier_endpoints (owner_id, created_at)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: create index: %w", courier.ErrMigrationFailed, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Endpoint Store ====================

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	_, err := s.db.NewInsert().Model(toEndpointModel(ep)).Exec(ctx)
	return err
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", epID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, endpoint.ErrNotFound
		}
		return nil, err
	}
	return fromEndpointModel(m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	res, err := s.db.NewUpdate().
		Model(toEndpointModel(ep)).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, endpoint.ErrNotFound)
}

func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	res, err := s.db.NewDelete().
		Model((*endpointModel)(nil)).
		Where("id = ?", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, endpoint.ErrNotFound)
}

func (s *Store) ListEndpoints(ctx context.Context, ownerID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.db.NewSelect().
		Model(&models).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC", "id ASC")
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*endpoint.Endpoint, len(models))
	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = ep
	}
	return result, nil
}

// Resolve filters subscriptions in Go since event_types is portable JSON text.
func (s *Store) Resolve(ctx context.Context, ownerID string, eventType event.Type) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("owner_id = ?", ownerID).
		Where("active = ?", true).
		Order("created_at ASC", "id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*endpoint.Endpoint
	for i := range models {
		if !models[i].subscribes(eventType) {
			continue
		}
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, ep)
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, epID id.ID, active bool) error {
	res, err := s.db.NewUpdate().
		Model((*endpointModel)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", time.Now().UnixMilli()).
		Where("id = ?", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, endpoint.ErrNotFound)
}

// ==================== Delivery Log Store ====================

func (s *Store) CreateLog(ctx context.Context, l *delivery.Log) error {
	m, err := toLogModel(l)
	if err != nil {
		return err
	}
	res, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (endpoint_id, payload_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, delivery.ErrLogExists)
}

func (s *Store) GetLog(ctx context.Context, logID id.ID) (*delivery.Log, error) {
	m := new(logModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", logID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, delivery.ErrLogNotFound
		}
		return nil, err
	}
	return fromLogModel(m)
}

func (s *Store) GetLogByKey(ctx context.Context, endpointID, payloadID id.ID) (*delivery.Log, error) {
	m := new(logModel)
	err := s.db.NewSelect().
		Model(m).
		Where("endpoint_id = ?", endpointID.String()).
		Where("payload_id = ?", payloadID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, delivery.ErrLogNotFound
		}
		return nil, err
	}
	return fromLogModel(m)
}

func (s *Store) UpdateLog(ctx context.Context, l *delivery.Log) error {
	res, err := s.db.NewUpdate().
		Model((*logModel)(nil)).
		Set("status = ?", string(l.Status)).
		Set("last_status_code = ?", l.LastStatusCode).
		Set("last_response_body = ?", l.LastResponseBody).
		Set("last_error = ?", l.LastError).
		Set("last_latency_ms = ?", l.LastLatencyMs).
		Set("attempt = ?", l.Attempt).
		Set("next_retry_at = ?", millisPtr(l.NextRetryAt)).
		Set("delivered_at = ?", millisPtr(l.DeliveredAt)).
		Set("updated_at = ?", l.UpdatedAt.UnixMilli()).
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
		exists, err := s.db.NewSelect().
			Model((*logModel)(nil)).
			Where("id = ?", l.ID.String()).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return delivery.ErrLogNotFound
		}
		return delivery.ErrVersionConflict
	}
	l.Version++
	return nil
}

func (s *Store) ListLogs(ctx context.Context, endpointID id.ID, opts delivery.ListOpts) ([]*delivery.Log, error) {
	var models []logModel
	q := s.db.NewSelect().
		Model(&models).
		Where("endpoint_id = ?", endpointID.String()).
		Order("created_at DESC", "id DESC")
	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromLogModels(models)
}

func (s *Store) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*delivery.Log, error) {
	var models []logModel
	q := s.db.NewSelect().
		Model(&models).
		Where("status = ?", string(delivery.StatusRetrying)).
		Where("next_retry_at <= ?", now.UnixMilli()).
		Order("next_retry_at ASC")
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
	q := s.db.NewSelect().
		Model(&models).
		Where("status = ?", string(delivery.StatusPending)).
		Where("updated_at <= ?", t.UnixMilli()).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromLogModels(models)
}

func (s *Store) DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*logModel)(nil)).
		Where("status IN (?)", bun.In([]string{string(delivery.StatusDelivered), string(delivery.StatusFailed)})).
		Where("updated_at < ?", t.UnixMilli()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountByStatus(ctx context.Context) (map[delivery.Status]int64, error) {
	var rows []struct {
		Status string `bun:"status"`
		N      int64  `bun:"n"`
	}
	if err := s.db.NewSelect().
		Model((*logModel)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS n").
		Group("status").
		Scan(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[delivery.Status]int64, len(rows))
	for _, r := range rows {
		counts[delivery.Status(r.Status)] = r.N
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

func requireRow(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
