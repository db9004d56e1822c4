package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/courier/event"
)

func (h *Handler) listEventTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.courier.Catalog().List())
}

func (h *Handler) getEventType(w http.ResponseWriter, r *http.Request) {
	def, ok := h.courier.Catalog().Lookup(event.Type(chi.URLParam(r, "type")))
	if !ok {
		writeError(w, http.StatusNotFound, "event type not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}
