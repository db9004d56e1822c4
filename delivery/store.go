package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/courier/id"
)

var (
	// ErrLogNotFound is returned when a delivery log does not exist.
	ErrLogNotFound = errors.New("delivery: log not found")

	// ErrLogExists is returned by CreateLog when a log for the same
	// endpoint and payload already exists.
	ErrLogExists = errors.New("delivery: log already exists")

	// ErrVersionConflict is returned by UpdateLog when the stored version
	// differs from the caller's.
	ErrVersionConflict = errors.New("delivery: version conflict")

	// ErrTerminal is returned when transitioning a delivered or failed log.
	ErrTerminal = errors.New("delivery: log is terminal")
)

// Store defines the persistence contract for delivery logs.
type Store interface {
	// CreateLog persists a new log. Returns ErrLogExists if a log with the
	// same (EndpointID, Payload.ID) exists.
	CreateLog(ctx context.Context, l *Log) error

	// GetLog returns a log by ID.
	GetLog(ctx context.Context, logID id.ID) (*Log, error)

	// GetLogByKey returns the log for an endpoint and payload.
	GetLogByKey(ctx context.Context, endpointID, payloadID id.ID) (*Log, error)

	// UpdateLog writes l if the stored version equals l.Version, then
	// increments l.Version. Returns ErrVersionConflict otherwise.
	UpdateLog(ctx context.Context, l *Log) error

	// ListLogs returns logs for an endpoint, newest first.
	ListLogs(ctx context.Context, endpointID id.ID, opts ListOpts) ([]*Log, error)

	// ListDueRetries returns retrying logs whose NextRetryAt is at or before
	// now, earliest first.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*Log, error)

	// ListStalePending returns pending logs last updated at or before t,
	// oldest first.
	ListStalePending(ctx context.Context, t time.Time, limit int) ([]*Log, error)

	// DeleteTerminalBefore removes delivered and failed logs last updated
	// before t and returns how many were removed.
	DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error)

	// CountByStatus returns the number of logs in each status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
