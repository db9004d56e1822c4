// Package catalog holds the definitions of the webhook event types courier
// accepts and validates event data against their schemas.
package catalog

import (
	"errors"
	"fmt"
	"slices"

	"github.com/xraph/courier/event"
)

var (
	// ErrUnknownEventType is returned for a type outside the catalog.
	ErrUnknownEventType = errors.New("catalog: unknown event type")

	// ErrInvalidData is returned when event data does not match the type's schema.
	ErrInvalidData = errors.New("catalog: invalid event data")
)

// Catalog is an immutable set of event type definitions.
type Catalog struct {
	defs      map[event.Type]Definition
	order     []event.Type
	validator *Validator
}

// New creates a catalog from defs. Definitions for types outside the closed
// event enumeration are rejected.
func New(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		defs:      make(map[event.Type]Definition, len(defs)),
		validator: NewValidator(),
	}
	for _, d := range defs {
		if !d.Type.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, d.Type)
		}
		if _, dup := c.defs[d.Type]; dup {
			return nil, fmt.Errorf("catalog: duplicate definition for %s", d.Type)
		}
		if len(d.Schema) > 0 {
			if _, err := c.validator.compile(d.Schema); err != nil {
				return nil, fmt.Errorf("catalog: %s: %w", d.Type, err)
			}
		}
		c.defs[d.Type] = d
		c.order = append(c.order, d.Type)
	}
	return c, nil
}

// Default returns the catalog of built-in definitions.
func Default() *Catalog {
	c, err := New(Builtin()...)
	if err != nil {
		panic("catalog: builtin definitions: " + err.Error())
	}
	return c
}

// Lookup returns the definition for t.
func (c *Catalog) Lookup(t event.Type) (Definition, bool) {
	d, ok := c.defs[t]
	return d, ok
}

// Has reports whether t is defined.
func (c *Catalog) Has(t event.Type) bool {
	_, ok := c.defs[t]
	return ok
}

// List returns all definitions in registration order.
func (c *Catalog) List() []Definition {
	out := make([]Definition, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.defs[t])
	}
	return out
}

// Types returns the defined type names.
func (c *Catalog) Types() []event.Type {
	return slices.Clone(c.order)
}

// Validate checks that t is defined and data conforms to its schema.
func (c *Catalog) Validate(t event.Type, data []byte) error {
	d, ok := c.defs[t]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, t)
	}
	if err := c.validator.Validate(d.Schema, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidData, t, err)
	}
	return nil
}
