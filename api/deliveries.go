package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	epID, ok := endpointID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", defaultPageSize),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := delivery.Status(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+s)
			return
		}
		opts.Status = &status
	}

	logs, err := h.courier.Deliveries(r.Context(), epID, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	logID, err := id.ParseLogID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	l, err := h.courier.Delivery(r.Context(), logID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) redeliver(w http.ResponseWriter, r *http.Request) {
	logID, err := id.ParseLogID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	l, err := h.courier.Redeliver(r.Context(), logID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, l)
}

type testDeliveryResponse struct {
	Log    *delivery.Log   `json:"log"`
	Result delivery.Result `json:"result"`
}

// testEndpoint blocks for one delivery attempt. A failed attempt is still
// a 200: the outcome is in the body.
func (h *Handler) testEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, ok := endpointID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	l, res, err := h.courier.TestEndpoint(r.Context(), epID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, testDeliveryResponse{Log: l, Result: res})
}
