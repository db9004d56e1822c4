package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	courierstore "github.com/xraph/courier/store"
)

// endpointModel is the JSON representation stored in Redis.
type endpointModel struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Secret      string            `json:"secret"`
	EventTypes  []event.Type      `json:"event_types"`
	Active      bool              `json:"active"`
	RateLimit   int               `json:"rate_limit"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	return &endpointModel{
		ID:          ep.ID.String(),
		OwnerID:     ep.OwnerID,
		URL:         ep.URL,
		Description: ep.Description,
		Secret:      ep.Secret,
		EventTypes:  ep.EventTypes,
		Active:      ep.Active,
		RateLimit:   ep.RateLimit,
		Metadata:    ep.Metadata,
		CreatedAt:   ep.CreatedAt,
		UpdatedAt:   ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	return &endpoint.Endpoint{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          epID,
		OwnerID:     m.OwnerID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  m.EventTypes,
		Active:      m.Active,
		RateLimit:   m.RateLimit,
		Metadata:    m.Metadata,
	}, nil
}

func (s *Store) getEndpointModel(ctx context.Context, epID string) (*endpointModel, error) {
	raw, err := s.rdb.Get(ctx, entityKey(prefixEndpoint, epID)).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, err
	}
	var m endpointModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode endpoint %s: %w", epID, err)
	}
	return &m, nil
}

// writeEndpoint stores m and keeps the active set in step.
func (s *Store) writeEndpoint(ctx context.Context, m *endpointModel, created bool) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal endpoint: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, entityKey(prefixEndpoint, m.ID), raw, 0)
	if created {
		pipe.ZAdd(ctx, zEndpointOwner+m.OwnerID, goredis.Z{Score: score(m.CreatedAt), Member: m.ID})
	}
	if m.Active {
		pipe.SAdd(ctx, activeSetKey(m.OwnerID), m.ID)
	} else {
		pipe.SRem(ctx, activeSetKey(m.OwnerID), m.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if err := s.writeEndpoint(ctx, toEndpointModel(ep), true); err != nil {
		return fmt.Errorf("courier/redis: create endpoint: %w", err)
	}
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m, err := s.getEndpointModel(ctx, epID.String())
	if err != nil {
		if errors.Is(err, endpoint.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("courier/redis: get endpoint: %w", err)
	}
	return fromEndpointModel(m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if _, err := s.getEndpointModel(ctx, ep.ID.String()); err != nil {
		if errors.Is(err, endpoint.ErrNotFound) {
			return err
		}
		return fmt.Errorf("courier/redis: update endpoint get: %w", err)
	}
	if err := s.writeEndpoint(ctx, toEndpointModel(ep), false); err != nil {
		return fmt.Errorf("courier/redis: update endpoint: %w", err)
	}
	return nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	m, err := s.getEndpointModel(ctx, epID.String())
	if err != nil {
		if errors.Is(err, endpoint.ErrNotFound) {
			return err
		}
		return fmt.Errorf("courier/redis: delete endpoint get: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, entityKey(prefixEndpoint, m.ID))
	pipe.ZRem(ctx, zEndpointOwner+m.OwnerID, m.ID)
	pipe.SRem(ctx, activeSetKey(m.OwnerID), m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: delete endpoint: %w", err)
	}
	return nil
}

func (s *Store) ListEndpoints(ctx context.Context, ownerID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	ids, err := s.rdb.ZRange(ctx, zEndpointOwner+ownerID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list endpoints: %w", err)
	}

	result, err := s.loadEndpoints(ctx, ids, func(m *endpointModel) bool {
		return opts.Active == nil || m.Active == *opts.Active
	})
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list endpoints: %w", err)
	}
	return courierstore.Paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, ownerID string, eventType event.Type) ([]*endpoint.Endpoint, error) {
	ids, err := s.rdb.SMembers(ctx, activeSetKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: resolve: %w", err)
	}

	result, err := s.loadEndpoints(ctx, ids, func(m *endpointModel) bool {
		return m.Active && slices.Contains(m.EventTypes, eventType)
	})
	if err != nil {
		return nil, fmt.Errorf("courier/redis: resolve: %w", err)
	}
	slices.SortFunc(result, func(a, b *endpoint.Endpoint) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, epID id.ID, active bool) error {
	m, err := s.getEndpointModel(ctx, epID.String())
	if err != nil {
		if errors.Is(err, endpoint.ErrNotFound) {
			return err
		}
		return fmt.Errorf("courier/redis: set active get: %w", err)
	}

	m.Active = active
	m.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if err := s.writeEndpoint(ctx, m, false); err != nil {
		return fmt.Errorf("courier/redis: set active: %w", err)
	}
	return nil
}

// loadEndpoints fetches ids in order, skipping missing keys and those
// rejected by keep.
func (s *Store) loadEndpoints(ctx context.Context, ids []string, keep func(*endpointModel) bool) ([]*endpoint.Endpoint, error) {
	if len(ids) == 0 {
		return []*endpoint.Endpoint{}, nil
	}

	keys := make([]string, len(ids))
	for i, epID := range ids {
		keys[i] = entityKey(prefixEndpoint, epID)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*endpoint.Endpoint, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var m endpointModel
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode endpoint: %w", err)
		}
		if !keep(&m) {
			continue
		}
		ep, err := fromEndpointModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, ep)
	}
	return result, nil
}
