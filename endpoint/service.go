// Package endpoint manages webhook delivery targets: registration, URL
// safety checks and subscriptions.
package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/signature"
)

// Service provides endpoint management operations.
type Service struct {
	store    Store
	resolver Resolver
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithResolver sets the DNS resolver used to vet endpoint hosts.
func WithResolver(r Resolver) ServiceOption {
	return func(s *Service) { s.resolver = r }
}

// NewService creates a new endpoint service.
func NewService(store Store, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		store:  store,
		logger: logger,
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// Create registers a new webhook endpoint with a freshly generated secret.
func (svc *Service) Create(ctx context.Context, in Input) (*Endpoint, error) {
	if in.OwnerID == "" {
		return nil, &ValidationError{Field: "owner_id", Message: "required"}
	}
	if err := CheckURL(ctx, svc.resolver, in.URL); err != nil {
		return nil, err
	}
	types, err := normalizeTypes(in.EventTypes)
	if err != nil {
		return nil, err
	}
	rate := 0
	if in.RateLimit != nil {
		if *in.RateLimit < 0 {
			return nil, &ValidationError{Field: "rate_limit", Message: "must not be negative"}
		}
		rate = *in.RateLimit
	}

	ep := &Endpoint{
		Entity:      entity.New(),
		ID:          id.NewEndpointID(),
		OwnerID:     in.OwnerID,
		URL:         in.URL,
		Description: in.Description,
		Secret:      signature.NewSecret(),
		EventTypes:  types,
		Active:      true,
		RateLimit:   rate,
		Metadata:    in.Metadata,
	}

	if err := svc.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	svc.logger.DebugContext(ctx, "endpoint created",
		"endpoint_id", ep.ID, "owner_id", ep.OwnerID, "event_types", len(ep.EventTypes))
	return ep, nil
}

// Get returns an endpoint by ID.
func (svc *Service) Get(ctx context.Context, epID id.ID) (*Endpoint, error) {
	return svc.store.GetEndpoint(ctx, epID)
}

// Update modifies an existing endpoint. A changed URL is re-validated.
func (svc *Service) Update(ctx context.Context, epID id.ID, in Input) (*Endpoint, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" && in.URL != ep.URL {
		if err := CheckURL(ctx, svc.resolver, in.URL); err != nil {
			return nil, err
		}
		ep.URL = in.URL
	}
	if in.Description != "" {
		ep.Description = in.Description
	}
	if len(in.EventTypes) > 0 {
		types, err := normalizeTypes(in.EventTypes)
		if err != nil {
			return nil, err
		}
		ep.EventTypes = types
	}
	if in.RateLimit != nil {
		if *in.RateLimit < 0 {
			return nil, &ValidationError{Field: "rate_limit", Message: "must not be negative"}
		}
		ep.RateLimit = *in.RateLimit
	}
	if in.Metadata != nil {
		ep.Metadata = in.Metadata
	}
	ep.Touch(time.Now())

	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	return ep, nil
}

// Delete removes an endpoint. Deliveries already queued for it fail with
// "endpoint gone" when a worker picks them up.
func (svc *Service) Delete(ctx context.Context, epID id.ID) error {
	return svc.store.DeleteEndpoint(ctx, epID)
}

// List returns endpoints for an owner.
func (svc *Service) List(ctx context.Context, ownerID string, opts ListOpts) ([]*Endpoint, error) {
	return svc.store.ListEndpoints(ctx, ownerID, opts)
}

// SetActive activates or deactivates an endpoint.
func (svc *Service) SetActive(ctx context.Context, epID id.ID, active bool) error {
	return svc.store.SetActive(ctx, epID, active)
}

// RotateSecret generates a new signing secret for an endpoint.
func (svc *Service) RotateSecret(ctx context.Context, epID id.ID) (string, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return "", err
	}

	ep.Secret = signature.NewSecret()
	ep.Touch(time.Now())
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return "", err
	}

	svc.logger.InfoContext(ctx, "endpoint secret rotated", "endpoint_id", ep.ID)
	return ep.Secret, nil
}

func normalizeTypes(in []event.Type) ([]event.Type, error) {
	if len(in) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type required"}
	}
	out := make([]event.Type, 0, len(in))
	for _, t := range in {
		if !t.Valid() {
			return nil, &ValidationError{Field: "event_types", Message: fmt.Sprintf("unknown event type %q", t)}
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "endpoint validation: " + e.Field + ": " + e.Message
}
