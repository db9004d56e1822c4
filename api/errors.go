package api

import (
	"errors"
	"net/http"

	"github.com/xraph/courier"
	"github.com/xraph/courier/endpoint"
)

// statusFor maps courier errors to HTTP status codes.
func statusFor(err error) int {
	var (
		vErr  *courier.ValidationError
		epErr *endpoint.ValidationError
	)
	switch {
	case errors.As(err, &vErr), errors.As(err, &epErr):
		return http.StatusBadRequest
	case errors.Is(err, courier.ErrEndpointNotFound), errors.Is(err, courier.ErrLogNotFound):
		return http.StatusNotFound
	case errors.Is(err, courier.ErrNotRedeliverable), errors.Is(err, courier.ErrEndpointInactive):
		return http.StatusConflict
	case errors.Is(err, courier.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and
// their detail hidden from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "api request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}
