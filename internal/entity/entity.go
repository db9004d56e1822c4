// Package entity defines the timestamp base shared by courier domain objects.
package entity

import "time"

// Entity carries creation and modification times.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an Entity with both timestamps set to the current UTC time,
// truncated to milliseconds so every backend stores them exactly.
func New() Entity {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch sets UpdatedAt to t.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t.UTC().Truncate(time.Millisecond)
}
