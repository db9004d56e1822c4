package delivery

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// Status is the lifecycle state of a delivery series.
type Status string

const (
	// StatusPending means an attempt is queued or in flight.
	StatusPending Status = "pending"

	// StatusRetrying means the last attempt failed and another is scheduled at NextRetryAt.
	StatusRetrying Status = "retrying"

	// StatusDelivered means an attempt received a 2xx response.
	StatusDelivered Status = "delivered"

	// StatusFailed means the series gave up.
	StatusFailed Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusRetrying, StatusDelivered, StatusFailed}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRetrying, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// MaxStoredResponse caps LastResponseBody.
const MaxStoredResponse = 4 << 10

// Log is the durable record of one delivery series: every attempt to deliver
// one payload to one endpoint. (EndpointID, Payload.ID) is unique.
type Log struct {
	entity.Entity

	// ID is the unique TypeID for this log.
	ID id.ID `json:"id"`

	// EndpointID references the target endpoint.
	EndpointID id.ID `json:"endpoint_id"`

	// EventType is the payload's event type, denormalized for queries.
	EventType event.Type `json:"event_type"`

	// Payload is the exact body re-sent on every attempt.
	Payload event.Payload `json:"payload"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// LastStatusCode is the HTTP status of the latest attempt, 0 if none was received.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// LastResponseBody is the latest response body, truncated to MaxStoredResponse.
	LastResponseBody string `json:"last_response_body,omitempty"`

	// LastError describes the latest transport or permanent failure.
	LastError string `json:"last_error,omitempty"`

	// LastLatencyMs is the latency of the latest attempt.
	LastLatencyMs int `json:"last_latency_ms,omitempty"`

	// Attempt is the 1-based number of the current attempt.
	Attempt int `json:"attempt"`

	// MaxAttempts bounds Attempt.
	MaxAttempts int `json:"max_attempts"`

	// NextRetryAt is set exactly when Status is retrying.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// DeliveredAt is when a 2xx response was received.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// Version is the optimistic concurrency token. Stores bump it on every update.
	Version int64 `json:"version"`
}

// NewLog returns a pending log for the first attempt of payload to endpointID.
func NewLog(endpointID id.ID, payload *event.Payload, maxAttempts int) *Log {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Log{
		Entity:      entity.New(),
		ID:          id.NewLogID(),
		EndpointID:  endpointID,
		EventType:   payload.Type,
		Payload:     *payload,
		Status:      StatusPending,
		Attempt:     1,
		MaxAttempts: maxAttempts,
	}
}

// ListOpts configures filtering and pagination for log listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}

// storable makes s valid UTF-8 and cuts it to at most n bytes on a rune
// boundary. Text columns reject invalid sequences.
func storable(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
