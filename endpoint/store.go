package endpoint

import (
	"context"
	"errors"

	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
)

// ErrNotFound is returned when an endpoint does not exist.
var ErrNotFound = errors.New("endpoint: not found")

// Store defines the persistence contract for webhook endpoints.
type Store interface {
	// CreateEndpoint persists a new endpoint.
	CreateEndpoint(ctx context.Context, ep *Endpoint) error

	// GetEndpoint returns an endpoint by ID.
	GetEndpoint(ctx context.Context, epID id.ID) (*Endpoint, error)

	// UpdateEndpoint modifies an existing endpoint.
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error

	// DeleteEndpoint removes an endpoint.
	DeleteEndpoint(ctx context.Context, epID id.ID) error

	// ListEndpoints returns endpoints for an owner, oldest first.
	ListEndpoints(ctx context.Context, ownerID string, opts ListOpts) ([]*Endpoint, error)

	// Resolve returns the owner's active endpoints subscribed to eventType.
	// Called on every trigger.
	Resolve(ctx context.Context, ownerID string, eventType event.Type) ([]*Endpoint, error)

	// SetActive activates or deactivates an endpoint without deleting it.
	SetActive(ctx context.Context, epID id.ID, active bool) error
}
