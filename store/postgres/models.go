package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// --- Endpoint models ---

type endpointModel struct {
	grove.BaseModel `grove:"table:courier_endpoints"`

	ID          string            `grove:"id,pk"`
	OwnerID     string            `grove:"owner_id"`
	URL         string            `grove:"url"`
	Description string            `grove:"description"`
	Secret      string            `grove:"secret"`
	EventTypes  []string          `grove:"event_types,array"`
	Active      bool              `grove:"active"`
	RateLimit   int               `grove:"rate_limit"`
	Metadata    map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	types := make([]string, len(ep.EventTypes))
	for i, t := range ep.EventTypes {
		types[i] = string(t)
	}
	return &endpointModel{
		ID:          ep.ID.String(),
		OwnerID:     ep.OwnerID,
		URL:         ep.URL,
		Description: ep.Description,
		Secret:      ep.Secret,
		EventTypes:  types,
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
	types := make([]event.Type, len(m.EventTypes))
	for i, t := range m.EventTypes {
		types[i] = event.Type(t)
	}
	return &endpoint.Endpoint{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:          epID,
		OwnerID:     m.OwnerID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  types,
		Active:      m.Active,
		RateLimit:   m.RateLimit,
		Metadata:    m.Metadata,
	}, nil
}

// --- Delivery log models ---

// logModel keeps the payload as TEXT so the exact JSON survives round trips.
type logModel struct {
	grove.BaseModel `grove:"table:courier_delivery_logs"`

	ID               string     `grove:"id,pk"`
	EndpointID       string     `grove:"endpoint_id"`
	PayloadID        string     `grove:"payload_id"`
	EventType        string     `grove:"event_type"`
	Payload          string     `grove:"payload"`
	Status           string     `grove:"status"`
	LastStatusCode   int        `grove:"last_status_code"`
	LastResponseBody string     `grove:"last_response_body"`
	LastError        string     `grove:"last_error"`
	LastLatencyMs    int        `grove:"last_latency_ms"`
	Attempt          int        `grove:"attempt"`
	MaxAttempts      int        `grove:"max_attempts"`
	NextRetryAt      *time.Time `grove:"next_retry_at"`
	DeliveredAt      *time.Time `grove:"delivered_at"`
	Version          int64      `grove:"version"`
	CreatedAt        time.Time  `grove:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"`
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
		NextRetryAt:      l.NextRetryAt,
		DeliveredAt:      l.DeliveredAt,
		Version:          l.Version,
		CreatedAt:        l.CreatedAt,
		UpdatedAt:        l.UpdatedAt,
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
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
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
		NextRetryAt:      utcPtr(m.NextRetryAt),
		DeliveredAt:      utcPtr(m.DeliveredAt),
		Version:          m.Version,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
