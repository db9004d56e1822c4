package endpoint

import "github.com/xraph/courier/event"

// Input is the creation/update payload for endpoints. On update, zero values
// leave the stored field unchanged.
type Input struct {
	// OwnerID identifies the owner. Required on create, ignored on update.
	OwnerID string `json:"owner_id"`

	// URL is the HTTPS delivery URL.
	URL string `json:"url"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// EventTypes are the subscribed event types.
	EventTypes []event.Type `json:"event_types"`

	// RateLimit is the maximum deliveries per second. nil keeps the current value.
	RateLimit *int `json:"rate_limit,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for endpoint listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
