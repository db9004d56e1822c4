package catalog

import (
	"encoding/json"

	"github.com/xraph/courier/event"
)

// Definition describes one webhook event type.
type Definition struct {
	// Type is the event type name.
	Type event.Type `json:"type"`

	// Description explains when this event fires.
	Description string `json:"description"`

	// Group is the resource family, e.g. "invoice".
	Group string `json:"group,omitempty"`

	// Schema is an optional JSON Schema for the payload's data field.
	// Trigger rejects data that does not conform.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Example is a sample data object for documentation.
	Example json.RawMessage `json:"example,omitempty"`
}
