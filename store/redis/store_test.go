package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s := New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestStatusCountersFollowUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	l := storetest.NewLog(id.NewEndpointID(), 0)
	if err := s.CreateLog(ctx, l); err != nil {
		t.Fatal(err)
	}
	if err := delivery.Fail(l, "endpoint gone", l.CreatedAt); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateLog(ctx, l); err != nil {
		t.Fatal(err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[delivery.StatusPending] != 0 || counts[delivery.StatusFailed] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestRetryIndexClearedOnClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	l := storetest.NewLog(id.NewEndpointID(), 0)
	if err := s.CreateLog(ctx, l); err != nil {
		t.Fatal(err)
	}
	if err := delivery.Apply(l, delivery.Result{StatusCode: 503}, l.CreatedAt, delivery.DefaultBackoff()); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateLog(ctx, l); err != nil {
		t.Fatal(err)
	}

	due, err := s.ListDueRetries(ctx, *l.NextRetryAt, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected one due retry, got %d (%v)", len(due), err)
	}

	if err := delivery.Claim(l, *l.NextRetryAt); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateLog(ctx, l); err != nil {
		t.Fatal(err)
	}

	due, err = s.ListDueRetries(ctx, *due[0].NextRetryAt, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("claimed log still indexed as due")
	}
}

func TestEndpointSecretPersisted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ep := storetest.NewEndpoint("owner_1", 0, event.UserCreated)
	ep.Secret = "0123abcd"
	if err := s.CreateEndpoint(ctx, ep); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetEndpoint(ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Secret != "0123abcd" {
		t.Fatalf("secret = %q", got.Secret)
	}
}
