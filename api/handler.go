// Package api provides the ops HTTP API for courier: endpoint registry,
// event triggering, delivery inspection, test deliveries and stats.
//
// Routes live under /v1; GET /healthz sits at the root.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"github.com/xraph/courier"
)

// Handler is the root HTTP handler for the ops API.
type Handler struct {
	courier *courier.Courier
	logger  *slog.Logger
	router  chi.Router
}

// Option configures a Handler.
type Option func(*handlerConfig)

type handlerConfig struct {
	serviceName    string
	requestTimeout time.Duration
	accessLog      bool
}

// WithServiceName sets the service name on request log lines.
func WithServiceName(name string) Option {
	return func(c *handlerConfig) { c.serviceName = name }
}

// WithRequestTimeout bounds each request. TestEndpoint requests wait for
// one full delivery attempt, so keep this above the delivery timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *handlerConfig) { c.requestTimeout = d }
}

// WithoutAccessLog disables per-request logging.
func WithoutAccessLog() Option {
	return func(c *handlerConfig) { c.accessLog = false }
}

// NewHandler creates the ops API handler.
func NewHandler(c *courier.Courier, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := handlerConfig{
		serviceName:    "courier-api",
		requestTimeout: time.Minute,
		accessLog:      true,
	}
	for _, o := range opts {
		o(&cfg)
	}

	h := &Handler{
		courier: c,
		logger:  logger,
	}

	r := chi.NewRouter()
	if cfg.accessLog {
		r.Use(httplog.RequestLogger(httplog.NewLogger(cfg.serviceName, httplog.Options{JSON: true})))
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.requestTimeout))

	r.Get("/healthz", h.health)
	r.Route("/v1", h.routes)

	h.router = r
	return h
}

func (h *Handler) routes(r chi.Router) {
	r.Get("/event-types", h.listEventTypes)
	r.Get("/event-types/{type}", h.getEventType)

	r.Post("/events", h.triggerEvent)

	r.Route("/endpoints", func(r chi.Router) {
		r.Post("/", h.createEndpoint)
		r.Get("/", h.listEndpoints)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getEndpoint)
			r.Put("/", h.updateEndpoint)
			r.Delete("/", h.deleteEndpoint)
			r.Patch("/enable", h.enableEndpoint)
			r.Patch("/disable", h.disableEndpoint)
			r.Post("/rotate-secret", h.rotateSecret)
			r.Post("/test", h.testEndpoint)
			r.Get("/deliveries", h.listDeliveries)
		})
	})

	r.Get("/deliveries/{id}", h.getDelivery)
	r.Post("/deliveries/{id}/redeliver", h.redeliver)

	r.Get("/stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.courier.Store().Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt returns a non-negative query parameter or defaultVal.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

const defaultPageSize = 50
