package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// The models use only column types every bun dialect shares: JSON text and
// unix milliseconds.

type endpointModel struct {
	bun.BaseModel `bun:"table:courier_endpoints"`

	ID          string `bun:"id,pk"`
	OwnerID     string `bun:"owner_id,notnull"`
	URL         string `bun:"url,notnull"`
	Description string `bun:"description,notnull"`
	Secret      string `bun:"secret,notnull"`
	EventTypes  string `bun:"event_types,notnull"` // JSON array
	Active      bool   `bun:"active,notnull"`
	RateLimit   int    `bun:"rate_limit,notnull"`
	Metadata    string `bun:"metadata,notnull"` // JSON object
	CreatedAt   int64  `bun:"created_at,notnull"`
	UpdatedAt   int64  `bun:"updated_at,notnull"`
}

func (m *endpointModel) subscribes(t event.Type) bool {
	var types []event.Type
	if err := json.Unmarshal([]byte(m.EventTypes), &types); err != nil {
		return false
	}
	for _, et := range types {
		if et == t {
			return true
		}
	}
	return false
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	eventTypes, _ := json.Marshal(ep.EventTypes) //nolint:errcheck // []string
	metadata, _ := json.Marshal(ep.Metadata)     //nolint:errcheck // map[string]string

	return &endpointModel{
		ID:          ep.ID.String(),
		OwnerID:     ep.OwnerID,
		URL:         ep.URL,
		Description: ep.Description,
		Secret:      ep.Secret,
		EventTypes:  string(eventTypes),
		Active:      ep.Active,
		RateLimit:   ep.RateLimit,
		Metadata:    string(metadata),
		CreatedAt:   ep.CreatedAt.UnixMilli(),
		UpdatedAt:   ep.UpdatedAt.UnixMilli(),
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}

	ep := &endpoint.Endpoint{
		Entity: entity.Entity{
			CreatedAt: time.UnixMilli(m.CreatedAt).UTC(),
			UpdatedAt: time.UnixMilli(m.UpdatedAt).UTC(),
		},
		ID:          epID,
		OwnerID:     m.OwnerID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		Active:      m.Active,
		RateLimit:   m.RateLimit,
	}
	if err := json.Unmarshal([]byte(m.EventTypes), &ep.EventTypes); err != nil {
		return nil, fmt.Errorf("decode event types of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(m.Metadata), &ep.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
	}
	return ep, nil
}

type logModel struct {
	bun.BaseModel `bun:"table:courier_delivery_logs"`

	ID               string `bun:"id,pk"`
	EndpointID       string `bun:"endpoint_id,notnull"`
	PayloadID        string `bun:"payload_id,notnull"`
	EventType        string `bun:"event_type,notnull"`
	Payload          string `bun:"payload,notnull"` // JSON object
	Status           string `bun:"status,notnull"`
	LastStatusCode   int    `bun:"last_status_code,notnull"`
	LastResponseBody string `bun:"last_response_body,notnull"`
	LastError        string `bun:"last_error,notnull"`
	LastLatencyMs    int    `bun:"last_latency_ms,notnull"`
	Attempt          int    `bun:"attempt,notnull"`
	MaxAttempts      int    `bun:"max_attempts,notnull"`
	NextRetryAt      *int64 `bun:"next_retry_at"`
	DeliveredAt      *int64 `bun:"delivered_at"`
	Version          int64  `bun:"version,notnull"`
	CreatedAt        int64  `bun:"created_at,notnull"`
	UpdatedAt        int64  `bun:"updated_at,notnull"`
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func timePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func toLogModel(l *delivery.Log) (*logModel, error) {
	payload, err := json.Marshal(&l.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &logModel{
		ID:               l.ID.String(),
		EndpointID:       l.EndpointID.String(),
		PayloadID:        l.Payload.ID.String(),
		EventType:        string(l.EventType),
		Payload:          string(payload),
		Status:           string(l.Status),
		LastStatusCode:   l.LastStatusCode,
		LastResponseBody: l.LastResponseBody,
		LastError:        l.LastError,
		LastLatencyMs:    l.LastLatencyMs,
		Attempt:          l.Attempt,
		MaxAttempts:      l.MaxAttempts,
		NextRetryAt:      millisPtr(l.NextRetryAt),
		DeliveredAt:      millisPtr(l.DeliveredAt),
		Version:          l.Version,
		CreatedAt:        l.CreatedAt.UnixMilli(),
		UpdatedAt:        l.UpdatedAt.UnixMilli(),
	}, nil
}

func fromLogModel(m *logModel) (*delivery.Log, error) {
	logID, err := id.ParseLogID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse log ID %q: %w", m.ID, err)
	}
	epID, err := id.ParseEndpointID(m.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
	}
	var payload event.Payload
	if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", m.ID, err)
	}
	return &delivery.Log{
		Entity: entity.Entity{
			CreatedAt: time.UnixMilli(m.CreatedAt).UTC(),
			UpdatedAt: time.UnixMilli(m.UpdatedAt).UTC(),
		},
		ID:               logID,
		EndpointID:       epID,
		EventType:        event.Type(m.EventType),
		Payload:          payload,
		Status:           delivery.Status(m.Status),
		LastStatusCode:   m.LastStatusCode,
		LastResponseBody: m.LastResponseBody,
		LastError:        m.LastError,
		LastLatencyMs:    m.LastLatencyMs,
		Attempt:          m.Attempt,
		MaxAttempts:      m.MaxAttempts,
		NextRetryAt:      timePtr(m.NextRetryAt),
		DeliveredAt:      timePtr(m.DeliveredAt),
		Version:          m.Version,
	}, nil
}
