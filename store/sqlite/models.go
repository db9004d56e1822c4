package sqlite

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

// Times are stored as unix milliseconds so range filters compare numbers.

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

// --- Endpoint models ---

type endpointModel struct {
	grove.BaseModel `grove:"table:courier_endpoints"`

	ID          string `grove:"id,pk"`
	OwnerID     string `grove:"owner_id"`
	URL         string `grove:"url"`
	Description string `grove:"description"`
	Secret      string `grove:"secret"`
	EventTypes  string `grove:"event_types"` // JSON array
	Active      bool   `grove:"active"`
	RateLimit   int    `grove:"rate_limit"`
	Metadata    string `grove:"metadata"` // JSON object
	CreatedAt   int64  `grove:"created_at"`
	UpdatedAt   int64  `grove:"updated_at"`
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
		CreatedAt:   toMillis(ep.CreatedAt),
		UpdatedAt:   toMillis(ep.UpdatedAt),
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}

	var types []event.Type
	if m.EventTypes != "" {
		if err := json.Unmarshal([]byte(m.EventTypes), &types); err != nil {
			return nil, fmt.Errorf("decode event types of %s: %w", m.ID, err)
		}
	}
	var metadata map[string]string
	if m.Metadata != "" && m.Metadata != "null" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
	}

	return &endpoint.Endpoint{
		Entity: entity.Entity{
			CreatedAt: fromMillis(m.CreatedAt),
			UpdatedAt: fromMillis(m.UpdatedAt),
		},
		ID:          epID,
		OwnerID:     m.OwnerID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  types,
		Active:      m.Active,
		RateLimit:   m.RateLimit,
		Metadata:    metadata,
	}, nil
}

// --- Delivery log models ---

type logModel struct {
	grove.BaseModel `grove:"table:courier_delivery_logs"`

	ID               string `grove:"id,pk"`
	EndpointID       string `grove:"endpoint_id"`
	PayloadID        string `grove:"payload_id"`
	EventType        string `grove:"event_type"`
	Payload          string `grove:"payload"` // JSON object
	Status           string `grove:"status"`
	LastStatusCode   int    `grove:"last_status_code"`
	LastResponseBody string `grove:"last_response_body"`
	LastError        string `grove:"last_error"`
	LastLatencyMs    int    `grove:"last_latency_ms"`
	Attempt          int    `grove:"attempt"`
	MaxAttempts      int    `grove:"max_attempts"`
	NextRetryAt      *int64 `grove:"next_retry_at"`
	DeliveredAt      *int64 `grove:"delivered_at"`
	Version          int64  `grove:"version"`
	CreatedAt        int64  `grove:"created_at"`
	UpdatedAt        int64  `grove:"updated_at"`
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
		NextRetryAt:      toMillisPtr(l.NextRetryAt),
		DeliveredAt:      toMillisPtr(l.DeliveredAt),
		Version:          l.Version,
		CreatedAt:        toMillis(l.CreatedAt),
		UpdatedAt:        toMillis(l.UpdatedAt),
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
			CreatedAt: fromMillis(m.CreatedAt),
			UpdatedAt: fromMillis(m.UpdatedAt),
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
		NextRetryAt:      fromMillisPtr(m.NextRetryAt),
		DeliveredAt:      fromMillisPtr(m.DeliveredAt),
		Version:          m.Version,
	}, nil
}
