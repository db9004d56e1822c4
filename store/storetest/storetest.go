// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/store"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

// Run executes the suite. Each subtest gets its own store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"Ping", testPing},
		{"EndpointCRUD", testEndpointCRUD},
		{"EndpointList", testEndpointList},
		{"EndpointResolve", testEndpointResolve},
		{"LogCreateAndGet", testLogCreateAndGet},
		{"LogDuplicateKey", testLogDuplicateKey},
		{"LogVersionedUpdate", testLogVersionedUpdate},
		{"LogList", testLogList},
		{"DueRetries", testDueRetries},
		{"StalePending", testStalePending},
		{"Retention", testRetention},
		{"CountByStatus", testCountByStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func ctx() context.Context { return context.Background() }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewEndpoint builds a stored-shape endpoint created at base+offset.
func NewEndpoint(ownerID string, offset time.Duration, types ...event.Type) *endpoint.Endpoint {
	at := base.Add(offset)
	return &endpoint.Endpoint{
		Entity:      entity.Entity{CreatedAt: at, UpdatedAt: at},
		ID:          id.NewEndpointID(),
		OwnerID:     ownerID,
		URL:         "https://hooks.example.com/" + ownerID,
		Description: "test endpoint",
		Secret:      "whsec_test",
		EventTypes:  types,
		Active:      true,
		RateLimit:   5,
		Metadata:    map[string]string{"team": "billing"},
	}
}

// NewLog builds a pending log created at base+offset.
func NewLog(endpointID id.ID, offset time.Duration) *delivery.Log {
	p := event.NewPayload(event.UserCreated, "owner_1", json.RawMessage(`{"user_id":"u_1","email":"a@example.com"}`), base)
	p.Metadata = map[string]any{"source": "test"}
	l := delivery.NewLog(endpointID, p, 3)
	l.CreatedAt = base.Add(offset)
	l.UpdatedAt = l.CreatedAt
	return l
}

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(ctx()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testEndpointCRUD(t *testing.T, s store.Store) {
	ep := NewEndpoint("owner_1", 0, event.UserCreated, event.InvoicePaid)
	if err := s.CreateEndpoint(ctx(), ep); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	got, err := s.GetEndpoint(ctx(), ep.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if got.URL != ep.URL || got.Secret != ep.Secret || got.OwnerID != ep.OwnerID {
		t.Fatalf("endpoint fields not preserved: %+v", got)
	}
	if !slices.Equal(got.EventTypes, ep.EventTypes) {
		t.Fatalf("EventTypes = %v, want %v", got.EventTypes, ep.EventTypes)
	}
	if !got.Active || got.RateLimit != 5 || got.Metadata["team"] != "billing" {
		t.Fatalf("endpoint flags not preserved: %+v", got)
	}
	if !got.CreatedAt.Equal(ep.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, ep.CreatedAt)
	}

	got.URL = "https://hooks.example.com/changed"
	got.EventTypes = []event.Type{event.UserDeleted}
	got.Touch(base.Add(time.Hour))
	if err := s.UpdateEndpoint(ctx(), got); err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}
	again, err := s.GetEndpoint(ctx(), ep.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if again.URL != "https://hooks.example.com/changed" || !slices.Equal(again.EventTypes, []event.Type{event.UserDeleted}) {
		t.Fatalf("update not persisted: %+v", again)
	}

	if err := s.SetActive(ctx(), ep.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	again, _ = s.GetEndpoint(ctx(), ep.ID)
	if again.Active {
		t.Fatal("expected endpoint to be inactive")
	}

	if err := s.DeleteEndpoint(ctx(), ep.ID); err != nil {
		t.Fatalf("DeleteEndpoint: %v", err)
	}
	if _, err := s.GetEndpoint(ctx(), ep.ID); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("GetEndpoint after delete: %v, want ErrNotFound", err)
	}
	if err := s.DeleteEndpoint(ctx(), ep.ID); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("DeleteEndpoint twice: %v, want ErrNotFound", err)
	}
	if err := s.UpdateEndpoint(ctx(), ep); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("UpdateEndpoint missing: %v, want ErrNotFound", err)
	}
	if err := s.SetActive(ctx(), ep.ID, true); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("SetActive missing: %v, want ErrNotFound", err)
	}
}

func testEndpointList(t *testing.T, s store.Store) {
	var ids []id.ID
	for i := range 4 {
		ep := NewEndpoint("owner_1", time.Duration(i)*time.Second, event.UserCreated)
		if i == 3 {
			ep.Active = false
		}
		if err := s.CreateEndpoint(ctx(), ep); err != nil {
			t.Fatalf("CreateEndpoint: %v", err)
		}
		ids = append(ids, ep.ID)
	}
	if err := s.CreateEndpoint(ctx(), NewEndpoint("owner_2", 0, event.UserCreated)); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	all, err := s.ListEndpoints(ctx(), "owner_1", endpoint.ListOpts{})
	if err != nil {
		t.Fatalf("ListEndpoints: %v", err)
	}
	if len(all) != 4 || all[0].ID != ids[0] || all[3].ID != ids[3] {
		t.Fatalf("expected 4 endpoints oldest first, got %d", len(all))
	}

	page, err := s.ListEndpoints(ctx(), "owner_1", endpoint.ListOpts{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListEndpoints: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[1] || page[1].ID != ids[2] {
		t.Fatalf("unexpected page: %d items", len(page))
	}

	active := true
	onlyActive, err := s.ListEndpoints(ctx(), "owner_1", endpoint.ListOpts{Active: &active})
	if err != nil {
		t.Fatalf("ListEndpoints: %v", err)
	}
	if len(onlyActive) != 3 {
		t.Fatalf("expected 3 active endpoints, got %d", len(onlyActive))
	}
}

func testEndpointResolve(t *testing.T, s store.Store) {
	match := NewEndpoint("owner_1", 0, event.InvoicePaid, event.UserCreated)
	otherType := NewEndpoint("owner_1", time.Second, event.UserDeleted)
	inactive := NewEndpoint("owner_1", 2*time.Second, event.InvoicePaid)
	inactive.Active = false
	otherOwner := NewEndpoint("owner_2", 0, event.InvoicePaid)

	for _, ep := range []*endpoint.Endpoint{match, otherType, inactive, otherOwner} {
		if err := s.CreateEndpoint(ctx(), ep); err != nil {
			t.Fatalf("CreateEndpoint: %v", err)
		}
	}

	got, err := s.Resolve(ctx(), "owner_1", event.InvoicePaid)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].ID != match.ID {
		t.Fatalf("Resolve returned %d endpoints, want only the active subscriber", len(got))
	}

	none, err := s.Resolve(ctx(), "owner_3", event.InvoicePaid)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no endpoints, got %d", len(none))
	}
}

func compactJSON(t *testing.T, b []byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		t.Fatalf("compact %q: %v", b, err)
	}
	return buf.String()
}

func testLogCreateAndGet(t *testing.T, s store.Store) {
	epID := id.NewEndpointID()
	l := NewLog(epID, 0)
	if err := s.CreateLog(ctx(), l); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}

	got, err := s.GetLog(ctx(), l.ID)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if got.Status != delivery.StatusPending || got.Attempt != 1 || got.MaxAttempts != 3 {
		t.Fatalf("unexpected log state: %+v", got)
	}
	if got.Payload.ID != l.Payload.ID || got.Payload.Type != event.UserCreated || got.EventType != event.UserCreated {
		t.Fatalf("payload identity not preserved: %+v", got.Payload)
	}
	if !got.Payload.Timestamp.Equal(l.Payload.Timestamp) {
		t.Fatalf("payload timestamp = %v, want %v", got.Payload.Timestamp, l.Payload.Timestamp)
	}
	if compactJSON(t, got.Payload.Data) != compactJSON(t, l.Payload.Data) {
		t.Fatalf("payload data = %s, want %s", got.Payload.Data, l.Payload.Data)
	}
	if got.Payload.Metadata["source"] != "test" {
		t.Fatalf("payload metadata not preserved: %v", got.Payload.Metadata)
	}

	byKey, err := s.GetLogByKey(ctx(), epID, l.Payload.ID)
	if err != nil {
		t.Fatalf("GetLogByKey: %v", err)
	}
	if byKey.ID != l.ID {
		t.Fatalf("GetLogByKey returned %s, want %s", byKey.ID, l.ID)
	}

	if _, err := s.GetLog(ctx(), id.NewLogID()); !errors.Is(err, delivery.ErrLogNotFound) {
		t.Fatalf("GetLog missing: %v, want ErrLogNotFound", err)
	}
	if _, err := s.GetLogByKey(ctx(), epID, id.NewPayloadID()); !errors.Is(err, delivery.ErrLogNotFound) {
		t.Fatalf("GetLogByKey missing: %v, want ErrLogNotFound", err)
	}
}

func testLogDuplicateKey(t *testing.T, s store.Store) {
	epID := id.NewEndpointID()
	first := NewLog(epID, 0)
	if err := s.CreateLog(ctx(), first); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}

	dup := delivery.NewLog(epID, &first.Payload, 3)
	if err := s.CreateLog(ctx(), dup); !errors.Is(err, delivery.ErrLogExists) {
		t.Fatalf("duplicate CreateLog: %v, want ErrLogExists", err)
	}

	// Same payload to another endpoint is a separate series.
	other := delivery.NewLog(id.NewEndpointID(), &first.Payload, 3)
	if err := s.CreateLog(ctx(), other); err != nil {
		t.Fatalf("CreateLog other endpoint: %v", err)
	}
}

func testLogVersionedUpdate(t *testing.T, s store.Store) {
	l := NewLog(id.NewEndpointID(), 0)
	if err := s.CreateLog(ctx(), l); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}

	stale := *l

	res := delivery.Result{StatusCode: 500, ResponseBody: "boom", LatencyMs: 12}
	if err := delivery.Apply(l, res, base.Add(time.Minute), delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.UpdateLog(ctx(), l); err != nil {
		t.Fatalf("UpdateLog: %v", err)
	}
	if l.Version != 1 {
		t.Fatalf("Version = %d, want 1", l.Version)
	}

	if err := delivery.Fail(&stale, "late writer", base.Add(time.Minute)); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := s.UpdateLog(ctx(), &stale); !errors.Is(err, delivery.ErrVersionConflict) {
		t.Fatalf("stale UpdateLog: %v, want ErrVersionConflict", err)
	}

	got, err := s.GetLog(ctx(), l.ID)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if got.Status != delivery.StatusRetrying || got.Attempt != 2 || got.Version != 1 {
		t.Fatalf("unexpected stored state: status=%s attempt=%d version=%d", got.Status, got.Attempt, got.Version)
	}
	if got.LastStatusCode != 500 || got.LastResponseBody != "boom" || got.LastLatencyMs != 12 {
		t.Fatalf("attempt outcome not persisted: %+v", got)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(*l.NextRetryAt) {
		t.Fatalf("NextRetryAt = %v, want %v", got.NextRetryAt, l.NextRetryAt)
	}

	if err := delivery.Claim(got, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.UpdateLog(ctx(), got); err != nil {
		t.Fatalf("UpdateLog after reload: %v", err)
	}
	if err := delivery.Apply(got, delivery.Result{Success: true, StatusCode: 204}, base.Add(2*time.Minute), delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.UpdateLog(ctx(), got); err != nil {
		t.Fatalf("UpdateLog: %v", err)
	}

	final, err := s.GetLog(ctx(), l.ID)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if final.Status != delivery.StatusDelivered || final.DeliveredAt == nil || final.NextRetryAt != nil {
		t.Fatalf("unexpected final state: %+v", final)
	}
}

func testLogList(t *testing.T, s store.Store) {
	epID := id.NewEndpointID()
	var ids []id.ID
	for i := range 3 {
		l := NewLog(epID, time.Duration(i)*time.Second)
		if i == 0 {
			l.Status = delivery.StatusFailed
		}
		if err := s.CreateLog(ctx(), l); err != nil {
			t.Fatalf("CreateLog: %v", err)
		}
		ids = append(ids, l.ID)
	}
	if err := s.CreateLog(ctx(), NewLog(id.NewEndpointID(), 0)); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}

	all, err := s.ListLogs(ctx(), epID, delivery.ListOpts{})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(all) != 3 || all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Fatalf("expected 3 logs newest first, got %d", len(all))
	}

	page, err := s.ListLogs(ctx(), epID, delivery.ListOpts{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Fatalf("unexpected page")
	}

	failed := delivery.StatusFailed
	onlyFailed, err := s.ListLogs(ctx(), epID, delivery.ListOpts{Status: &failed})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(onlyFailed) != 1 || onlyFailed[0].ID != ids[0] {
		t.Fatalf("status filter returned %d logs", len(onlyFailed))
	}
}

func retrying(t *testing.T, s store.Store, at time.Time) *delivery.Log {
	t.Helper()
	l := NewLog(id.NewEndpointID(), 0)
	l.Status = delivery.StatusRetrying
	l.Attempt = 2
	l.NextRetryAt = &at
	if err := s.CreateLog(ctx(), l); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	return l
}

func testDueRetries(t *testing.T, s store.Store) {
	now := base.Add(time.Hour)
	later := retrying(t, s, now.Add(-time.Minute))
	earlier := retrying(t, s, now.Add(-time.Hour))
	exact := retrying(t, s, now)
	retrying(t, s, now.Add(time.Minute))

	pending := NewLog(id.NewEndpointID(), 0)
	if err := s.CreateLog(ctx(), pending); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}

	due, err := s.ListDueRetries(ctx(), now, 10)
	if err != nil {
		t.Fatalf("ListDueRetries: %v", err)
	}
	want := []id.ID{earlier.ID, later.ID, exact.ID}
	if len(due) != len(want) {
		t.Fatalf("got %d due logs, want %d", len(due), len(want))
	}
	for i, l := range due {
		if l.ID != want[i] {
			t.Fatalf("due[%d] = %s, want %s", i, l.ID, want[i])
		}
	}

	limited, err := s.ListDueRetries(ctx(), now, 1)
	if err != nil {
		t.Fatalf("ListDueRetries: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != earlier.ID {
		t.Fatalf("limit not applied")
	}
}

func testStalePending(t *testing.T, s store.Store) {
	cutoff := base.Add(time.Hour)

	older := NewLog(id.NewEndpointID(), 0)
	oldest := NewLog(id.NewEndpointID(), -time.Hour)
	exact := NewLog(id.NewEndpointID(), time.Hour)
	fresh := NewLog(id.NewEndpointID(), 2*time.Hour)
	for _, l := range []*delivery.Log{older, oldest, exact, fresh} {
		if err := s.CreateLog(ctx(), l); err != nil {
			t.Fatalf("CreateLog: %v", err)
		}
	}
	retrying(t, s, base)

	stale, err := s.ListStalePending(ctx(), cutoff, 10)
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	want := []id.ID{oldest.ID, older.ID, exact.ID}
	if len(stale) != len(want) {
		t.Fatalf("got %d stale logs, want %d", len(stale), len(want))
	}
	for i, l := range stale {
		if l.ID != want[i] {
			t.Fatalf("stale[%d] = %s, want %s", i, l.ID, want[i])
		}
	}

	// Restamping moves a log out of the stale window.
	if err := delivery.Rearm(oldest, cutoff.Add(time.Minute)); err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	if err := s.UpdateLog(ctx(), oldest); err != nil {
		t.Fatalf("UpdateLog: %v", err)
	}
	limited, err := s.ListStalePending(ctx(), cutoff, 1)
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != older.ID {
		t.Fatalf("limit not applied or rearmed log still listed")
	}
}

func testRetention(t *testing.T, s store.Store) {
	epID := id.NewEndpointID()
	mk := func(status delivery.Status, updated time.Duration) *delivery.Log {
		l := NewLog(epID, 0)
		l.Status = status
		l.UpdatedAt = base.Add(updated)
		if err := s.CreateLog(ctx(), l); err != nil {
			t.Fatalf("CreateLog: %v", err)
		}
		return l
	}

	oldDelivered := mk(delivery.StatusDelivered, 0)
	oldFailed := mk(delivery.StatusFailed, 0)
	oldPending := mk(delivery.StatusPending, 0)
	newDelivered := mk(delivery.StatusDelivered, 48*time.Hour)

	n, err := s.DeleteTerminalBefore(ctx(), base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d logs, want 2", n)
	}

	for _, gone := range []*delivery.Log{oldDelivered, oldFailed} {
		if _, err := s.GetLog(ctx(), gone.ID); !errors.Is(err, delivery.ErrLogNotFound) {
			t.Fatalf("log %s should be gone, got %v", gone.ID, err)
		}
	}
	for _, kept := range []*delivery.Log{oldPending, newDelivered} {
		if _, err := s.GetLog(ctx(), kept.ID); err != nil {
			t.Fatalf("log %s should be kept: %v", kept.ID, err)
		}
	}

	// The key is free again once the old series is removed.
	again := delivery.NewLog(epID, &oldDelivered.Payload, 3)
	if err := s.CreateLog(ctx(), again); err != nil {
		t.Fatalf("CreateLog after retention: %v", err)
	}
}

func testCountByStatus(t *testing.T, s store.Store) {
	for i, status := range []delivery.Status{
		delivery.StatusPending,
		delivery.StatusPending,
		delivery.StatusRetrying,
		delivery.StatusDelivered,
	} {
		l := NewLog(id.NewEndpointID(), time.Duration(i)*time.Second)
		l.Status = status
		if status == delivery.StatusRetrying {
			at := base
			l.NextRetryAt = &at
		}
		if err := s.CreateLog(ctx(), l); err != nil {
			t.Fatalf("CreateLog: %v", err)
		}
	}

	counts, err := s.CountByStatus(ctx())
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[delivery.StatusPending] != 2 || counts[delivery.StatusRetrying] != 1 ||
		counts[delivery.StatusDelivered] != 1 || counts[delivery.StatusFailed] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
