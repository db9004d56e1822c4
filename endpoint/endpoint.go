package endpoint

import (
	"slices"

	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// Endpoint is a webhook delivery target registered by an owner.
type Endpoint struct {
	entity.Entity

	// ID is the unique TypeID for this endpoint.
	ID id.ID `json:"id"`

	// OwnerID identifies the account that owns this endpoint.
	OwnerID string `json:"owner_id"`

	// URL is the HTTPS delivery URL.
	URL string `json:"url"`

	// Description is a human-readable description of this endpoint.
	Description string `json:"description"`

	// Secret is the HMAC signing secret for this endpoint. Never serialized.
	Secret string `json:"-"`

	// EventTypes is the set of subscribed event types.
	EventTypes []event.Type `json:"event_types"`

	// Active indicates whether the endpoint receives deliveries.
	Active bool `json:"active"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Subscribes reports whether the endpoint subscribes to t.
func (ep *Endpoint) Subscribes(t event.Type) bool {
	return slices.Contains(ep.EventTypes, t)
}

// Receives reports whether the endpoint is active and subscribed to t.
func (ep *Endpoint) Receives(t event.Type) bool {
	return ep.Active && ep.Subscribes(t)
}
