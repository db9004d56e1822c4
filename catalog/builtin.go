package catalog

import (
	"encoding/json"

	"github.com/xraph/courier/event"
)

// objectWith returns a schema for an object that requires the given string field.
func objectWith(field string) json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {"` + field + `": {"type": "string", "minLength": 1}},
  "required": ["` + field + `"]
}`)
}

var invoiceSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "invoice_id": {"type": "string", "minLength": 1},
    "amount": {"type": "integer", "minimum": 0},
    "currency": {"type": "string", "minLength": 3, "maxLength": 3}
  },
  "required": ["invoice_id"]
}`)

// Builtin returns the definitions for every event type in event.All.
func Builtin() []Definition {
	return []Definition{
		{Type: event.UserCreated, Group: "user", Description: "A user account was created.", Schema: objectWith("user_id")},
		{Type: event.UserUpdated, Group: "user", Description: "A user profile changed.", Schema: objectWith("user_id")},
		{Type: event.UserDeleted, Group: "user", Description: "A user account was deleted.", Schema: objectWith("user_id")},

		{Type: event.AgentApprovalRequested, Group: "agent", Description: "An agent action is waiting for human approval.", Schema: objectWith("approval_id")},
		{Type: event.AgentApprovalGranted, Group: "agent", Description: "A pending agent action was approved.", Schema: objectWith("approval_id")},
		{Type: event.AgentApprovalDenied, Group: "agent", Description: "A pending agent action was denied.", Schema: objectWith("approval_id")},

		{
			Type: event.InvoiceCreated, Group: "invoice", Description: "An invoice was issued.", Schema: invoiceSchema,
			Example: json.RawMessage(`{"invoice_id":"in_123","amount":4900,"currency":"usd"}`),
		},
		{Type: event.InvoicePaid, Group: "invoice", Description: "An invoice was paid in full.", Schema: invoiceSchema},
		{Type: event.InvoicePaymentFailed, Group: "invoice", Description: "A payment attempt for an invoice failed.", Schema: invoiceSchema},

		{Type: event.SubscriptionUpdated, Group: "subscription", Description: "A subscription plan or status changed.", Schema: objectWith("subscription_id")},
		{Type: event.SubscriptionCanceled, Group: "subscription", Description: "A subscription was canceled.", Schema: objectWith("subscription_id")},

		{Type: event.WebhookTest, Group: "webhook", Description: "Test delivery requested by the endpoint owner.", Schema: json.RawMessage(`{"type":"object"}`)},
	}
}
