package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/courier"
	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
)

// ForgeAPI registers the ops API on a Forge router with OpenAPI metadata.
type ForgeAPI struct {
	courier *courier.Courier
	log     forge.Logger
}

// NewForgeAPI creates a ForgeAPI over c.
func NewForgeAPI(c *courier.Courier, log forge.Logger) *ForgeAPI {
	return &ForgeAPI{courier: c, log: log}
}

// RegisterRoutes registers all courier routes into the given Forge router.
func (a *ForgeAPI) RegisterRoutes(router forge.Router) {
	a.registerEventTypeRoutes(router)
	a.registerEventRoutes(router)
	a.registerEndpointRoutes(router)
	a.registerDeliveryRoutes(router)
	a.registerStatsRoutes(router)
}

// ---------------------------------------------------------------------------
// Event type routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerEventTypeRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("event-types"))

	if err := g.GET("/event-types", a.listEventTypes,
		forge.WithSummary("List event types"),
		forge.WithDescription("Returns every event type producers may trigger, with its data schema."),
		forge.WithOperationID("listEventTypes"),
		forge.WithListResponse(catalog.Definition{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEventTypes route", forge.Error(err))
	}

	if err := g.GET("/event-types/:type", a.getEventType,
		forge.WithSummary("Get event type"),
		forge.WithDescription("Returns the definition of one event type."),
		forge.WithOperationID("getEventType"),
		forge.WithResponseSchema(http.StatusOK, "Event type definition", catalog.Definition{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getEventType route", forge.Error(err))
	}
}

func (a *ForgeAPI) listEventTypes(_ forge.Context, _ *ListEventTypesForgeRequest) ([]catalog.Definition, error) {
	return a.courier.Catalog().List(), nil
}

func (a *ForgeAPI) getEventType(_ forge.Context, req *GetEventTypeForgeRequest) (*catalog.Definition, error) {
	def, ok := a.courier.Catalog().Lookup(event.Type(req.Type))
	if !ok {
		return nil, forge.NotFound("event type not found")
	}
	return &def, nil
}

// ---------------------------------------------------------------------------
// Event routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerEventRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("events"))

	if err := g.POST("/events", a.triggerEvent,
		forge.WithSummary("Trigger event"),
		forge.WithDescription("Validates an event and fans out one delivery per subscribed active endpoint of the owner."),
		forge.WithOperationID("triggerEvent"),
		forge.WithRequestSchema(TriggerEventForgeRequest{}),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register triggerEvent route", forge.Error(err))
	}
}

func (a *ForgeAPI) triggerEvent(ctx forge.Context, req *TriggerEventForgeRequest) (*struct{}, error) {
	err := a.courier.Trigger(ctx.Context(), event.Type(req.EventType), req.OwnerID, req.Data, req.options()...)
	if err != nil {
		return nil, mapError(err)
	}

	if err := ctx.NoContent(http.StatusAccepted); err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.NoContent.
	return nil, nil
}

// ---------------------------------------------------------------------------
// Endpoint routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerEndpointRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("endpoints"))

	if err := g.POST("/endpoints", a.createEndpoint,
		forge.WithSummary("Create endpoint"),
		forge.WithDescription("Registers an HTTPS endpoint. The signing secret is returned only here."),
		forge.WithOperationID("createEndpoint"),
		forge.WithRequestSchema(CreateEndpointForgeRequest{}),
		forge.WithCreatedResponse(endpoint.Endpoint{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register createEndpoint route", forge.Error(err))
	}

	if err := g.GET("/endpoints", a.listEndpoints,
		forge.WithSummary("List endpoints"),
		forge.WithDescription("Returns a paginated list of endpoints for an owner."),
		forge.WithOperationID("listEndpoints"),
		forge.WithRequestSchema(ListEndpointsForgeRequest{}),
		forge.WithListResponse(endpoint.Endpoint{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEndpoints route", forge.Error(err))
	}

	if err := g.GET("/endpoints/:endpointId", a.getEndpoint,
		forge.WithSummary("Get endpoint"),
		forge.WithDescription("Returns details of a specific endpoint."),
		forge.WithOperationID("getEndpoint"),
		forge.WithResponseSchema(http.StatusOK, "Endpoint details", endpoint.Endpoint{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getEndpoint route", forge.Error(err))
	}

	if err := g.PUT("/endpoints/:endpointId", a.updateEndpoint,
		forge.WithSummary("Update endpoint"),
		forge.WithDescription("Updates mutable fields of an endpoint. A new URL is re-validated."),
		forge.WithOperationID("updateEndpoint"),
		forge.WithRequestSchema(UpdateEndpointForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated endpoint", endpoint.Endpoint{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register updateEndpoint route", forge.Error(err))
	}

	if err := g.DELETE("/endpoints/:endpointId", a.deleteEndpoint,
		forge.WithSummary("Delete endpoint"),
		forge.WithDescription("Deletes an endpoint. Queued deliveries for it fail as endpoint gone."),
		forge.WithOperationID("deleteEndpoint"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register deleteEndpoint route", forge.Error(err))
	}

	if err := g.PATCH("/endpoints/:endpointId/enable", a.enableEndpoint,
		forge.WithSummary("Enable endpoint"),
		forge.WithDescription("Re-activates an endpoint so new events reach it."),
		forge.WithOperationID("enableEndpoint"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register enableEndpoint route", forge.Error(err))
	}

	if err := g.PATCH("/endpoints/:endpointId/disable", a.disableEndpoint,
		forge.WithSummary("Disable endpoint"),
		forge.WithDescription("Deactivates an endpoint. Pending retries fail as endpoint disabled."),
		forge.WithOperationID("disableEndpoint"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register disableEndpoint route", forge.Error(err))
	}

	if err := g.POST("/endpoints/:endpointId/rotate-secret", a.rotateSecret,
		forge.WithSummary("Rotate secret"),
		forge.WithDescription("Generates a new signing secret for the endpoint."),
		forge.WithOperationID("rotateEndpointSecret"),
		forge.WithResponseSchema(http.StatusOK, "New signing secret", SecretForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register rotateSecret route", forge.Error(err))
	}

	if err := g.POST("/endpoints/:endpointId/test", a.testEndpoint,
		forge.WithSummary("Send test delivery"),
		forge.WithDescription("Sends a webhook.test payload once and returns the attempt result."),
		forge.WithOperationID("testEndpoint"),
		forge.WithResponseSchema(http.StatusOK, "Test delivery result", TestDeliveryForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register testEndpoint route", forge.Error(err))
	}
}

func (a *ForgeAPI) createEndpoint(ctx forge.Context, req *CreateEndpointForgeRequest) (*endpoint.Endpoint, error) {
	in := endpointInput(req.OwnerID, req.URL, req.Description, req.EventTypes, req.RateLimit, req.Metadata)

	ep, err := a.courier.Endpoints().Create(ctx.Context(), in)
	if err != nil {
		return nil, mapError(err)
	}

	err = ctx.JSON(http.StatusCreated, createEndpointResponse{Endpoint: ep, Secret: ep.Secret})
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) listEndpoints(ctx forge.Context, req *ListEndpointsForgeRequest) ([]*endpoint.Endpoint, error) {
	if req.OwnerID == "" {
		return nil, forge.BadRequest("owner_id query parameter is required")
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultPageSize
	}

	eps, err := a.courier.Endpoints().List(ctx.Context(), req.OwnerID, endpoint.ListOpts{
		Offset: req.Offset,
		Limit:  limit,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return eps, nil
}

func (a *ForgeAPI) getEndpoint(ctx forge.Context, req *EndpointActionForgeRequest) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	ep, getErr := a.courier.Endpoints().Get(ctx.Context(), epID)
	if getErr != nil {
		return nil, mapError(getErr)
	}

	return ep, nil
}

func (a *ForgeAPI) updateEndpoint(ctx forge.Context, req *UpdateEndpointForgeRequest) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	in := endpointInput("", req.URL, req.Description, req.EventTypes, req.RateLimit, req.Metadata)

	ep, updateErr := a.courier.Endpoints().Update(ctx.Context(), epID, in)
	if updateErr != nil {
		return nil, mapError(updateErr)
	}

	return ep, nil
}

func (a *ForgeAPI) deleteEndpoint(ctx forge.Context, req *EndpointActionForgeRequest) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	if deleteErr := a.courier.Endpoints().Delete(ctx.Context(), epID); deleteErr != nil {
		return nil, mapError(deleteErr)
	}

	if err := ctx.NoContent(http.StatusNoContent); err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.NoContent.
	return nil, nil
}

func (a *ForgeAPI) enableEndpoint(ctx forge.Context, req *EndpointActionForgeRequest) (*endpoint.Endpoint, error) {
	return a.setActive(ctx, req, true)
}

func (a *ForgeAPI) disableEndpoint(ctx forge.Context, req *EndpointActionForgeRequest) (*endpoint.Endpoint, error) {
	return a.setActive(ctx, req, false)
}

func (a *ForgeAPI) setActive(ctx forge.Context, req *EndpointActionForgeRequest, active bool) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	if setErr := a.courier.Endpoints().SetActive(ctx.Context(), epID, active); setErr != nil {
		return nil, mapError(setErr)
	}

	if err := ctx.NoContent(http.StatusNoContent); err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.NoContent.
	return nil, nil
}

func (a *ForgeAPI) rotateSecret(ctx forge.Context, req *EndpointActionForgeRequest) (*SecretForgeResponse, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	secret, rotateErr := a.courier.Endpoints().RotateSecret(ctx.Context(), epID)
	if rotateErr != nil {
		return nil, mapError(rotateErr)
	}

	return &SecretForgeResponse{Secret: secret}, nil
}

func (a *ForgeAPI) testEndpoint(ctx forge.Context, req *EndpointActionForgeRequest) (*TestDeliveryForgeResponse, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	l, res, testErr := a.courier.TestEndpoint(ctx.Context(), epID)
	if testErr != nil {
		return nil, mapError(testErr)
	}

	return &TestDeliveryForgeResponse{Log: l, Result: res}, nil
}

// ---------------------------------------------------------------------------
// Delivery routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerDeliveryRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("deliveries"))

	if err := g.GET("/endpoints/:endpointId/deliveries", a.listDeliveries,
		forge.WithSummary("List deliveries"),
		forge.WithDescription("Returns delivery logs for an endpoint, newest first."),
		forge.WithOperationID("listDeliveries"),
		forge.WithRequestSchema(ListDeliveriesForgeRequest{}),
		forge.WithListResponse(delivery.Log{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listDeliveries route", forge.Error(err))
	}

	if err := g.GET("/deliveries/:logId", a.getDelivery,
		forge.WithSummary("Get delivery"),
		forge.WithDescription("Returns one delivery log with its latest attempt result."),
		forge.WithOperationID("getDelivery"),
		forge.WithResponseSchema(http.StatusOK, "Delivery log", delivery.Log{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getDelivery route", forge.Error(err))
	}

	if err := g.POST("/deliveries/:logId/redeliver", a.redeliver,
		forge.WithSummary("Redeliver"),
		forge.WithDescription("Starts a new delivery series for the event of a failed delivery."),
		forge.WithOperationID("redeliver"),
		forge.WithResponseSchema(http.StatusAccepted, "New delivery log", delivery.Log{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register redeliver route", forge.Error(err))
	}
}

func (a *ForgeAPI) listDeliveries(ctx forge.Context, req *ListDeliveriesForgeRequest) ([]*delivery.Log, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultPageSize
	}

	opts := delivery.ListOpts{
		Offset: req.Offset,
		Limit:  limit,
	}
	if req.Status != "" {
		status := delivery.Status(req.Status)
		if !status.Valid() {
			return nil, forge.BadRequest("unknown status " + req.Status)
		}
		opts.Status = &status
	}

	logs, listErr := a.courier.Deliveries(ctx.Context(), epID, opts)
	if listErr != nil {
		return nil, mapError(listErr)
	}

	return logs, nil
}

func (a *ForgeAPI) getDelivery(ctx forge.Context, req *DeliveryForgeRequest) (*delivery.Log, error) {
	logID, err := id.ParseLogID(req.LogID)
	if err != nil {
		return nil, forge.BadRequest("invalid delivery ID")
	}

	l, getErr := a.courier.Delivery(ctx.Context(), logID)
	if getErr != nil {
		return nil, mapError(getErr)
	}

	return l, nil
}

func (a *ForgeAPI) redeliver(ctx forge.Context, req *DeliveryForgeRequest) (*delivery.Log, error) {
	logID, err := id.ParseLogID(req.LogID)
	if err != nil {
		return nil, forge.BadRequest("invalid delivery ID")
	}

	l, redeliverErr := a.courier.Redeliver(ctx.Context(), logID)
	if redeliverErr != nil {
		return nil, mapError(redeliverErr)
	}

	if err := ctx.JSON(http.StatusAccepted, l); err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

// ---------------------------------------------------------------------------
// Stats routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerStatsRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("stats"))

	if err := g.GET("/stats", a.getStats,
		forge.WithSummary("Delivery statistics"),
		forge.WithDescription("Returns queue job counts and delivery log counts by status."),
		forge.WithOperationID("getStats"),
		forge.WithResponseSchema(http.StatusOK, "Delivery statistics", courier.Stats{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getStats route", forge.Error(err))
	}
}

func (a *ForgeAPI) getStats(ctx forge.Context, _ *StatsForgeRequest) (*courier.Stats, error) {
	stats, err := a.courier.Stats(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}
	return stats, nil
}
