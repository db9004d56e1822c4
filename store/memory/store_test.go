package memory

import (
	"context"
	"errors"
	"testing"

	courier "github.com/xraph/courier"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); !errors.Is(err, courier.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	ep := storetest.NewEndpoint("owner_1", 0, event.UserCreated)
	if err := s.CreateEndpoint(ctx, ep); err != nil {
		t.Fatal(err)
	}
	ep.EventTypes[0] = event.UserDeleted
	ep.Metadata["team"] = "changed"

	got, err := s.GetEndpoint(ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventTypes[0] != event.UserCreated || got.Metadata["team"] != "billing" {
		t.Fatal("store shares state with the caller")
	}

	l := storetest.NewLog(ep.ID, 0)
	if err := s.CreateLog(ctx, l); err != nil {
		t.Fatal(err)
	}
	l.Status = "failed"
	stored, err := s.GetLog(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != "pending" {
		t.Fatalf("stored status changed through caller pointer: %s", stored.Status)
	}
}
