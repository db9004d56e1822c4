package catalog_test

import (
	"testing"

	"github.com/xraph/courier/catalog"
)

func TestValidatorEmptySchema(t *testing.T) {
	v := catalog.NewValidator()

	if err := v.Validate(nil, []byte(`{"key":"value"}`)); err != nil {
		t.Fatal("empty schema should skip validation, got:", err)
	}
}

func TestValidatorValidPayload(t *testing.T) {
	v := catalog.NewValidator()

	schema := []byte(`{
		"type": "object",
		"properties": {"amount": {"type": "number"}, "currency": {"type": "string"}},
		"required": ["amount", "currency"]
	}`)

	if err := v.Validate(schema, []byte(`{"amount":100.50,"currency":"USD"}`)); err != nil {
		t.Fatal("valid payload should pass, got:", err)
	}
}

func TestValidatorMissingRequired(t *testing.T) {
	v := catalog.NewValidator()

	schema := []byte(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)

	if err := v.Validate(schema, []byte(`{"other":"value"}`)); err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestValidatorWrongType(t *testing.T) {
	v := catalog.NewValidator()

	schema := []byte(`{"type":"object","properties":{"count":{"type":"integer"}}}`)

	if err := v.Validate(schema, []byte(`{"count":"not-a-number"}`)); err == nil {
		t.Fatal("expected validation error for wrong type")
	}
}

func TestValidatorMalformedData(t *testing.T) {
	v := catalog.NewValidator()

	if err := v.Validate([]byte(`{"type":"object"}`), []byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed data")
	}
}

func TestValidatorCaching(t *testing.T) {
	v := catalog.NewValidator()

	schema := []byte(`{"type":"object","properties":{"x":{"type":"string"}}}`)
	data := []byte(`{"x":"hello"}`)

	// First call compiles the schema.
	if err := v.Validate(schema, data); err != nil {
		t.Fatal(err)
	}

	// Second call should use cached schema.
	if err := v.Validate(schema, data); err != nil {
		t.Fatal(err)
	}
}
