package courier

import (
	"errors"

	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
)

// Sentinel errors returned by Courier operations.
var (
	// ErrNoStore is returned when a Courier is created without a store.
	ErrNoStore = errors.New("courier: store is required")

	// ErrNoQueue is returned when a Courier is created without a queue.
	ErrNoQueue = errors.New("courier: queue is required")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("courier: already started")

	// ErrNotRedeliverable is returned by Redeliver for a log that has not failed.
	ErrNotRedeliverable = errors.New("courier: only failed deliveries can be redelivered")

	// ErrEndpointInactive is returned when an operation needs an active endpoint.
	ErrEndpointInactive = errors.New("courier: endpoint is inactive")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("courier: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("courier: migration failed")
)

// Errors from subsystems, re-exported so callers need only this package.
var (
	ErrEndpointNotFound = endpoint.ErrNotFound
	ErrLogNotFound      = delivery.ErrLogNotFound
	ErrUnknownEventType = catalog.ErrUnknownEventType
	ErrInvalidData      = catalog.ErrInvalidData
)

// ValidationError reports producer input rejected by Trigger. Err carries
// the underlying cause when there is one.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return "courier: invalid " + e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }
