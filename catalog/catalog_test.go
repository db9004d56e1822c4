package catalog_test

import (
	"errors"
	"testing"

	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/event"
)

func TestDefaultCoversAllTypes(t *testing.T) {
	c := catalog.Default()

	for _, typ := range event.All() {
		if !c.Has(typ) {
			t.Errorf("default catalog missing %s", typ)
		}
	}
	if len(c.List()) != len(event.All()) {
		t.Fatalf("expected %d definitions, got %d", len(event.All()), len(c.List()))
	}
}

func TestValidateUnknownType(t *testing.T) {
	c := catalog.Default()

	err := c.Validate("user.teleported", []byte(`{}`))
	if !errors.Is(err, catalog.ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestValidateData(t *testing.T) {
	c := catalog.Default()

	if err := c.Validate(event.UserCreated, []byte(`{"user_id":"u_1","email":"a@b.c"}`)); err != nil {
		t.Fatalf("valid data rejected: %v", err)
	}

	err := c.Validate(event.UserCreated, []byte(`{"email":"a@b.c"}`))
	if !errors.Is(err, catalog.ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}

	err = c.Validate(event.InvoicePaid, []byte(`{"invoice_id":"in_1","amount":-5}`))
	if !errors.Is(err, catalog.ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData for negative amount, got %v", err)
	}
}

func TestNewRejectsUnknownAndDuplicate(t *testing.T) {
	if _, err := catalog.New(catalog.Definition{Type: "nope.nope"}); !errors.Is(err, catalog.ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}

	_, err := catalog.New(
		catalog.Definition{Type: event.UserCreated},
		catalog.Definition{Type: event.UserCreated},
	)
	if err == nil {
		t.Fatal("expected duplicate definition error")
	}
}

func TestNewRejectsBadSchema(t *testing.T) {
	_, err := catalog.New(catalog.Definition{
		Type:   event.UserCreated,
		Schema: []byte(`{"type": 12}`),
	})
	if err == nil {
		t.Fatal("expected schema compile error")
	}
}

func TestRestrictedCatalog(t *testing.T) {
	c, err := catalog.New(catalog.Definition{Type: event.InvoicePaid})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Validate(event.InvoicePaid, []byte(`{"anything":true}`)); err != nil {
		t.Fatalf("schemaless definition should accept data: %v", err)
	}
	if err := c.Validate(event.UserCreated, []byte(`{}`)); !errors.Is(err, catalog.ErrUnknownEventType) {
		t.Fatalf("type outside a restricted catalog must be unknown, got %v", err)
	}
}
