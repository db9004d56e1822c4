package api

import (
	"encoding/json"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
)

// ---------------------------------------------------------------------------
// Event type requests
// ---------------------------------------------------------------------------

// ListEventTypesForgeRequest is empty; the catalog is small and fixed.
type ListEventTypesForgeRequest struct{}

// GetEventTypeForgeRequest binds the path for GET /event-types/:type.
type GetEventTypeForgeRequest struct {
	Type string `description:"Event type name (e.g. invoice.paid)" path:"type"`
}

// ---------------------------------------------------------------------------
// Event requests
// ---------------------------------------------------------------------------

// TriggerEventForgeRequest binds the body for POST /events.
type TriggerEventForgeRequest struct {
	EventType string          `description:"Event type name"                 json:"event_type"`
	OwnerID   string          `description:"Owner whose endpoints receive it" json:"owner_id"`
	TargetID  string          `description:"Object the event is about"       json:"target_id,omitempty"`
	Data      json.RawMessage `description:"Event data, checked against the type schema" json:"data"`
	Metadata  map[string]any  `description:"Free-form metadata"              json:"metadata,omitempty"`
}

func (req *TriggerEventForgeRequest) options() []courier.TriggerOption {
	return triggerRequest{TargetID: req.TargetID, Metadata: req.Metadata}.options()
}

// ---------------------------------------------------------------------------
// Endpoint requests
// ---------------------------------------------------------------------------

// CreateEndpointForgeRequest binds the body for POST /endpoints.
type CreateEndpointForgeRequest struct {
	OwnerID     string            `description:"Owner identifier"             json:"owner_id"`
	URL         string            `description:"HTTPS delivery URL"           json:"url"`
	Description string            `description:"Endpoint description"         json:"description,omitempty"`
	EventTypes  []string          `description:"Subscribed event types"       json:"event_types"`
	RateLimit   *int              `description:"Deliveries per second, 0 for unlimited" json:"rate_limit,omitempty"`
	Metadata    map[string]string `description:"Arbitrary key-value metadata" json:"metadata,omitempty"`
}

// ListEndpointsForgeRequest binds query parameters for GET /endpoints.
type ListEndpointsForgeRequest struct {
	OwnerID string `description:"Filter by owner"        query:"owner_id"`
	Offset  int    `description:"Pagination offset"      query:"offset"`
	Limit   int    `description:"Page size (default 50)" query:"limit"`
}

// UpdateEndpointForgeRequest binds path + body for PUT /endpoints/:endpointId.
type UpdateEndpointForgeRequest struct {
	EndpointID  string            `description:"Endpoint identifier"          path:"endpointId"`
	URL         string            `description:"HTTPS delivery URL"           json:"url,omitempty"`
	Description string            `description:"Endpoint description"         json:"description,omitempty"`
	EventTypes  []string          `description:"Subscribed event types"       json:"event_types,omitempty"`
	RateLimit   *int              `description:"Deliveries per second, 0 for unlimited" json:"rate_limit,omitempty"`
	Metadata    map[string]string `description:"Arbitrary key-value metadata" json:"metadata,omitempty"`
}

// EndpointActionForgeRequest binds the path for get/delete/enable/disable/rotate-secret/test.
type EndpointActionForgeRequest struct {
	EndpointID string `description:"Endpoint identifier" path:"endpointId"`
}

func endpointInput(ownerID, url, desc string, types []string, rate *int, md map[string]string) endpoint.Input {
	ets := make([]event.Type, len(types))
	for i, t := range types {
		ets[i] = event.Type(t)
	}
	return endpoint.Input{
		OwnerID:     ownerID,
		URL:         url,
		Description: desc,
		EventTypes:  ets,
		RateLimit:   rate,
		Metadata:    md,
	}
}

// ---------------------------------------------------------------------------
// Delivery requests
// ---------------------------------------------------------------------------

// ListDeliveriesForgeRequest binds path + query for GET /endpoints/:endpointId/deliveries.
type ListDeliveriesForgeRequest struct {
	EndpointID string `description:"Endpoint identifier"                               path:"endpointId"`
	Status     string `description:"Filter by status: pending, retrying, delivered, failed" query:"status"`
	Offset     int    `description:"Pagination offset"                                query:"offset"`
	Limit      int    `description:"Page size (default 50)"                            query:"limit"`
}

// DeliveryForgeRequest binds the path for GET /deliveries/:logId and its redeliver action.
type DeliveryForgeRequest struct {
	LogID string `description:"Delivery log identifier" path:"logId"`
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// StatsForgeRequest is empty; GET /stats has no parameters.
type StatsForgeRequest struct{}

// SecretForgeResponse is the response for endpoint creation and secret rotation.
type SecretForgeResponse struct {
	Secret string `json:"secret"`
}

// TestDeliveryForgeResponse is the response for POST /endpoints/:endpointId/test.
type TestDeliveryForgeResponse struct {
	Log    *delivery.Log   `json:"log"`
	Result delivery.Result `json:"result"`
}
