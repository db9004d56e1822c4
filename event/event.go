// Package event defines the closed set of webhook event types and the
// payload delivered to receivers.
package event

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/xraph/courier/id"
)

// Type is a webhook event type name such as "invoice.paid".
type Type string

// Event types a producer may trigger.
const (
	UserCreated Type = "user.created"
	UserUpdated Type = "user.updated"
	UserDeleted Type = "user.deleted"

	AgentApprovalRequested Type = "agent.approval_requested"
	AgentApprovalGranted   Type = "agent.approval_granted"
	AgentApprovalDenied    Type = "agent.approval_denied"

	InvoiceCreated       Type = "invoice.created"
	InvoicePaid          Type = "invoice.paid"
	InvoicePaymentFailed Type = "invoice.payment_failed"

	SubscriptionUpdated  Type = "subscription.updated"
	SubscriptionCanceled Type = "subscription.canceled"

	// WebhookTest is sent by the synchronous test operation only.
	WebhookTest Type = "webhook.test"
)

var all = []Type{
	UserCreated, UserUpdated, UserDeleted,
	AgentApprovalRequested, AgentApprovalGranted, AgentApprovalDenied,
	InvoiceCreated, InvoicePaid, InvoicePaymentFailed,
	SubscriptionUpdated, SubscriptionCanceled,
	WebhookTest,
}

// All returns every known event type in declaration order.
func All() []Type {
	return slices.Clone(all)
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	return slices.Contains(all, t)
}

func (t Type) String() string { return string(t) }

// Parse converts s into a known Type.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("event: unknown type %q", s)
	}
	return t, nil
}

// Payload is the JSON body POSTed to an endpoint. Its ID is shared by every
// attempt of one delivery series so receivers can deduplicate.
type Payload struct {
	ID        id.ID           `json:"id"`
	Type      Type            `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	OwnerID   string          `json:"owner_id"`
	TargetID  string          `json:"target_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// NewPayload returns a payload with a fresh ID stamped at now.
func NewPayload(t Type, ownerID string, data json.RawMessage, now time.Time) *Payload {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return &Payload{
		ID:        id.NewPayloadID(),
		Type:      t,
		Timestamp: now.UTC().Truncate(time.Millisecond),
		OwnerID:   ownerID,
		Data:      data,
	}
}
