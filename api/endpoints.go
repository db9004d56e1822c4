package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
)

type endpointRequest struct {
	OwnerID     string            `json:"owner_id"`
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	EventTypes  []event.Type      `json:"event_types"`
	RateLimit   *int              `json:"rate_limit,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (req endpointRequest) input() endpoint.Input {
	return endpoint.Input{
		OwnerID:     req.OwnerID,
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  req.EventTypes,
		RateLimit:   req.RateLimit,
		Metadata:    req.Metadata,
	}
}

// createEndpointResponse is the only response that carries the secret.
type createEndpointResponse struct {
	*endpoint.Endpoint
	Secret string `json:"secret"`
}

func endpointID(r *http.Request) (id.ID, bool) {
	epID, err := id.ParseEndpointID(chi.URLParam(r, "id"))
	return epID, err == nil
}

func (h *Handler) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, err := h.courier.Endpoints().Create(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createEndpointResponse{Endpoint: ep, Secret: ep.Secret})
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}

	opts := endpoint.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", defaultPageSize),
	}
	switch r.URL.Query().Get("active") {
	case "true":
		active := true
		opts.Active = &active
	case "false":
		active := false
		opts.Active = &active
	}

	eps, err := h.courier.Endpoints().List(r.Context(), ownerID, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, eps)
}

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, ok := endpointID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	ep, err := h.courier.Endpoints().Get(r.Context(), epID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, ok := endpointID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	var req endpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, err := h.courier.Endpoints().Update(r.Context(), epID, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, ok := endpointID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	if err := h.courier.Endpoints().Delete(r.Context(), epID); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableEndpoint(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) disableEndpoint(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	epID, ok := endpointID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	if err := h.courier.Endpoints().SetActive(r.Context(), epID, active); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	epID, ok := endpointID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	secret, err := h.courier.Endpoints().RotateSecret(r.Context(), epID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}
