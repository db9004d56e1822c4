package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store"
)

// ErrNotInitialized is returned when the extension is used before Init.
var ErrNotInitialized = errors.New("extension: not initialized")

// Extension is the Forge extension for courier.
type Extension struct {
	config  Config
	opts    []courier.Option
	store   store.Store
	queue   queue.Queue
	logger  *slog.Logger
	courier *courier.Courier
}

// New creates a courier extension.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name identifies the extension.
func (e *Extension) Name() string { return "courier" }

// Init migrates the store, connects the queue and builds the Courier.
func (e *Extension) Init(ctx context.Context) error {
	if e.store == nil {
		return courier.ErrNoStore
	}
	if e.queue == nil {
		return courier.ErrNoQueue
	}

	if !e.config.DisableMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("extension: migrate: %w", err)
		}
	}
	if err := e.queue.Connect(ctx); err != nil {
		return fmt.Errorf("extension: connect queue: %w", err)
	}

	opts := append([]courier.Option{
		courier.WithStore(e.store),
		courier.WithQueue(e.queue),
		courier.WithLogger(e.logger),
	}, e.config.courierOptions()...)
	opts = append(opts, e.opts...)

	c, err := courier.New(opts...)
	if err != nil {
		return err
	}
	e.courier = c
	return nil
}

// Courier returns the built Courier, or nil before Init.
func (e *Extension) Courier() *courier.Courier { return e.courier }

// RegisterRoutes mounts the admin routes under BasePath unless routes are
// disabled.
func (e *Extension) RegisterRoutes(router forge.Router, log forge.Logger) {
	if e.config.DisableRoutes || e.courier == nil {
		return
	}
	api.NewForgeAPI(e.courier, log).RegisterRoutes(router.Group(e.config.BasePath))
}

// Handler returns the admin API as a plain http.Handler, for use outside
// Forge. Returns nil before Init.
func (e *Extension) Handler() http.Handler {
	if e.courier == nil {
		return nil
	}
	return http.StripPrefix(e.config.BasePath, api.NewHandler(e.courier, e.logger))
}

// Start launches delivery.
func (e *Extension) Start(ctx context.Context) error {
	if e.courier == nil {
		return ErrNotInitialized
	}
	return e.courier.Start(ctx)
}

// Stop drains delivery and closes the queue and store.
func (e *Extension) Stop(ctx context.Context) error {
	if e.courier == nil {
		return nil
	}
	e.courier.Stop(ctx)
	return errors.Join(e.queue.Close(), e.store.Close())
}

// Health reports store connectivity.
func (e *Extension) Health(ctx context.Context) error {
	if e.courier == nil {
		return ErrNotInitialized
	}
	return e.store.Ping(ctx)
}

// Prefix returns the configured URL prefix.
func (e *Extension) Prefix() string { return e.config.BasePath }
