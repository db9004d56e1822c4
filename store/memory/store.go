// Package memory provides an in-memory Store implementation for unit testing
// and single-process use. Reads and writes go through copies so callers never
// share state with the store.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	courier "github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check.
var _ courierstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	endpoints map[string]*endpoint.Endpoint // keyed by ID string
	logs      map[string]*delivery.Log      // keyed by ID string
	logsByKey map[logKey]string             // (endpoint, payload) -> log ID

	closed bool
}

type logKey struct {
	endpointID string
	payloadID  string
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		endpoints: make(map[string]*endpoint.Endpoint),
		logs:      make(map[string]*delivery.Log),
		logsByKey: make(map[logKey]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return courier.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

func copyEndpoint(ep *endpoint.Endpoint) *endpoint.Endpoint {
	cp := *ep
	cp.EventTypes = slices.Clone(ep.EventTypes)
	cp.Metadata = maps.Clone(ep.Metadata)
	return &cp
}

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endpoints[ep.ID.String()] = copyEndpoint(ep)
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(_ context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return nil, endpoint.ErrNotFound
	}
	return copyEndpoint(ep), nil
}

// UpdateEndpoint replaces an existing endpoint.
func (s *Store) UpdateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[ep.ID.String()]; !ok {
		return endpoint.ErrNotFound
	}
	s.endpoints[ep.ID.String()] = copyEndpoint(ep)
	return nil
}

// DeleteEndpoint removes an endpoint. Its delivery logs are kept.
func (s *Store) DeleteEndpoint(_ context.Context, epID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[epID.String()]; !ok {
		return endpoint.ErrNotFound
	}
	delete(s.endpoints, epID.String())
	return nil
}

// ListEndpoints returns endpoints for an owner, oldest first.
func (s *Store) ListEndpoints(_ context.Context, ownerID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*endpoint.Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		if ep.OwnerID != ownerID {
			continue
		}
		if opts.Active != nil && ep.Active != *opts.Active {
			continue
		}
		result = append(result, copyEndpoint(ep))
	}
	sortEndpoints(result)

	return courierstore.Paginate(result, opts.Offset, opts.Limit), nil
}

// Resolve returns the owner's active endpoints subscribed to eventType.
func (s *Store) Resolve(_ context.Context, ownerID string, eventType event.Type) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if ep.OwnerID == ownerID && ep.Receives(eventType) {
			result = append(result, copyEndpoint(ep))
		}
	}
	sortEndpoints(result)
	return result, nil
}

// SetActive activates or deactivates an endpoint.
func (s *Store) SetActive(_ context.Context, epID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return endpoint.ErrNotFound
	}
	ep.Active = active
	ep.Touch(time.Now())
	return nil
}

func sortEndpoints(eps []*endpoint.Endpoint) {
	slices.SortFunc(eps, func(a, b *endpoint.Endpoint) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func copyLog(l *delivery.Log) *delivery.Log {
	cp := *l
	cp.Payload.Data = slices.Clone(l.Payload.Data)
	cp.Payload.Metadata = maps.Clone(l.Payload.Metadata)
	if l.NextRetryAt != nil {
		t := *l.NextRetryAt
		cp.NextRetryAt = &t
	}
	if l.DeliveredAt != nil {
		t := *l.DeliveredAt
		cp.DeliveredAt = &t
	}
	return &cp
}

func keyOf(endpointID, payloadID id.ID) logKey {
	return logKey{endpointID: endpointID.String(), payloadID: payloadID.String()}
}

// CreateLog persists a new log. Returns ErrLogExists on a duplicate key.
func (s *Store) CreateLog(_ context.Context, l *delivery.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(l.EndpointID, l.Payload.ID)
	if _, ok := s.logsByKey[key]; ok {
		return delivery.ErrLogExists
	}
	s.logs[l.ID.String()] = copyLog(l)
	s.logsByKey[key] = l.ID.String()
	return nil
}

// GetLog returns a log by ID.
func (s *Store) GetLog(_ context.Context, logID id.ID) (*delivery.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[logID.String()]
	if !ok {
		return nil, delivery.ErrLogNotFound
	}
	return copyLog(l), nil
}

// GetLogByKey returns the log for an endpoint and payload.
func (s *Store) GetLogByKey(_ context.Context, endpointID, payloadID id.ID) (*delivery.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logID, ok := s.logsByKey[keyOf(endpointID, payloadID)]
	if !ok {
		return nil, delivery.ErrLogNotFound
	}
	return copyLog(s.logs[logID]), nil
}

// UpdateLog writes l when its version matches the stored one.
func (s *Store) UpdateLog(_ context.Context, l *delivery.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.logs[l.ID.String()]
	if !ok {
		return delivery.ErrLogNotFound
	}
	if cur.Version != l.Version {
		return delivery.ErrVersionConflict
	}
	l.Version++
	s.logs[l.ID.String()] = copyLog(l)
	return nil
}

// ListLogs returns logs for an endpoint, newest first.
func (s *Store) ListLogs(_ context.Context, endpointID id.ID, opts delivery.ListOpts) ([]*delivery.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Log
	for _, l := range s.logs {
		if l.EndpointID != endpointID {
			continue
		}
		if opts.Status != nil && l.Status != *opts.Status {
			continue
		}
		result = append(result, copyLog(l))
	}
	slices.SortFunc(result, func(a, b *delivery.Log) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})

	return courierstore.Paginate(result, opts.Offset, opts.Limit), nil
}

// ListDueRetries returns retrying logs due at or before now, earliest first.
func (s *Store) ListDueRetries(_ context.Context, now time.Time, limit int) ([]*delivery.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Log
	for _, l := range s.logs {
		if l.Status == delivery.StatusRetrying && l.NextRetryAt != nil && !l.NextRetryAt.After(now) {
			result = append(result, copyLog(l))
		}
	}
	slices.SortFunc(result, func(a, b *delivery.Log) int {
		return a.NextRetryAt.Compare(*b.NextRetryAt)
	})

	return courierstore.Paginate(result, 0, limit), nil
}

// ListStalePending returns pending logs last updated at or before t, oldest
// first.
func (s *Store) ListStalePending(_ context.Context, t time.Time, limit int) ([]*delivery.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Log
	for _, l := range s.logs {
		if l.Status == delivery.StatusPending && !l.UpdatedAt.After(t) {
			result = append(result, copyLog(l))
		}
	}
	slices.SortFunc(result, func(a, b *delivery.Log) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})

	return courierstore.Paginate(result, 0, limit), nil
}

// DeleteTerminalBefore removes delivered and failed logs last updated before t.
func (s *Store) DeleteTerminalBefore(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, l := range s.logs {
		if l.Status.Terminal() && l.UpdatedAt.Before(t) {
			delete(s.logs, key)
			delete(s.logsByKey, keyOf(l.EndpointID, l.Payload.ID))
			n++
		}
	}
	return n, nil
}

// CountByStatus returns the number of logs in each status.
func (s *Store) CountByStatus(_ context.Context) (map[delivery.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[delivery.Status]int64, 4)
	for _, l := range s.logs {
		counts[l.Status]++
	}
	return counts, nil
}
