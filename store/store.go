// Package store defines the composite Store interface for all courier
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them. Backends live in subpackages: memory, redis, postgres,
// sqlite, mongo and bunstore.
package store

import (
	"context"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
)

// Store is the aggregate persistence interface.
type Store interface {
	endpoint.Store
	delivery.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Paginate applies offset and limit to items already in order. A limit of
// zero or less returns everything after offset.
func Paginate[T any](items []*T, offset, limit int) []*T {
	if offset >= len(items) {
		return items[:0]
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
