package api

import (
	"encoding/json"
	"net/http"

	"github.com/xraph/courier"
	"github.com/xraph/courier/event"
)

type triggerRequest struct {
	EventType event.Type      `json:"event_type"`
	OwnerID   string          `json:"owner_id"`
	TargetID  string          `json:"target_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

func (req triggerRequest) options() []courier.TriggerOption {
	var opts []courier.TriggerOption
	if req.TargetID != "" {
		opts = append(opts, courier.WithTargetID(req.TargetID))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, courier.WithMetadata(req.Metadata))
	}
	return opts
}

func (h *Handler) triggerEvent(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.courier.Trigger(r.Context(), req.EventType, req.OwnerID, req.Data, req.options()...); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
