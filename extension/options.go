package extension

import (
	"log/slog"

	"github.com/xraph/courier"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store"
)

// ExtOption configures the courier Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithQueue sets the job queue.
func WithQueue(q queue.Queue) ExtOption {
	return func(e *Extension) {
		e.queue = q
	}
}

// WithPrefix sets the URL prefix for all courier routes.
func WithPrefix(prefix string) ExtOption {
	return func(e *Extension) {
		e.config.BasePath = prefix
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithLogger sets the logger handed to the Courier.
func WithLogger(logger *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithCourierOption appends a raw courier.Option, applied after the config.
func WithCourierOption(opt courier.Option) ExtOption {
	return func(e *Extension) {
		e.opts = append(e.opts, opt)
	}
}

// WithDisableRoutes disables route registration.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrations disables store migration on Init.
func WithDisableMigrations() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}
