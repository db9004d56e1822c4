package delivery_test

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPendingLog(maxAttempts int) *delivery.Log {
	p := event.NewPayload(event.InvoicePaid, "owner_1", []byte(`{"invoice_id":"in_1"}`), t0)
	return delivery.NewLog(id.NewEndpointID(), p, maxAttempts)
}

func TestNewLog(t *testing.T) {
	l := newPendingLog(0)
	if l.Status != delivery.StatusPending || l.Attempt != 1 || l.MaxAttempts != 1 {
		t.Fatalf("unexpected new log: %+v", l)
	}
	if l.EventType != event.InvoicePaid {
		t.Fatalf("EventType = %s", l.EventType)
	}
	if l.ID.Prefix() != id.PrefixLog {
		t.Fatalf("log ID prefix = %s", l.ID.Prefix())
	}
}

func TestApplySuccess(t *testing.T) {
	l := newPendingLog(3)
	err := delivery.Apply(l, delivery.Result{Success: true, StatusCode: 200, ResponseBody: "ok", LatencyMs: 40}, t0, delivery.DefaultBackoff())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if l.Status != delivery.StatusDelivered || l.DeliveredAt == nil || !l.DeliveredAt.Equal(t0) {
		t.Fatalf("unexpected state: %+v", l)
	}
	if l.NextRetryAt != nil || l.Attempt != 1 {
		t.Fatalf("success must not schedule a retry: %+v", l)
	}
	if l.LastStatusCode != 200 || l.LastResponseBody != "ok" || l.LastLatencyMs != 40 {
		t.Fatalf("outcome not recorded: %+v", l)
	}
}

func TestApplyFailureSchedulesRetry(t *testing.T) {
	l := newPendingLog(3)
	if err := delivery.Apply(l, delivery.Result{StatusCode: 503}, t0, delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if l.Status != delivery.StatusRetrying || l.Attempt != 2 {
		t.Fatalf("status=%s attempt=%d", l.Status, l.Attempt)
	}
	if want := t0.Add(5 * time.Second); l.NextRetryAt == nil || !l.NextRetryAt.Equal(want) {
		t.Fatalf("NextRetryAt = %v, want %v", l.NextRetryAt, want)
	}

	// Second failure doubles the delay.
	if err := delivery.Claim(l, t0); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := delivery.Apply(l, delivery.Result{Error: "connection reset"}, t0, delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if want := t0.Add(10 * time.Second); !l.NextRetryAt.Equal(want) {
		t.Fatalf("NextRetryAt = %v, want %v", l.NextRetryAt, want)
	}
	if l.LastStatusCode != 0 || l.LastError != "connection reset" {
		t.Fatalf("transport failure not recorded: %+v", l)
	}
}

func TestApplyLastAttemptFails(t *testing.T) {
	l := newPendingLog(2)
	l.Attempt = 2
	if err := delivery.Apply(l, delivery.Result{StatusCode: 500}, t0, delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if l.Status != delivery.StatusFailed || l.Attempt != 2 || l.NextRetryAt != nil {
		t.Fatalf("unexpected state: %+v", l)
	}
}

func TestApplyPermanentFailsImmediately(t *testing.T) {
	l := newPendingLog(5)
	res := delivery.Result{Error: "endpoint URL must use https", Permanent: true}
	if err := delivery.Apply(l, res, t0, delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if l.Status != delivery.StatusFailed || l.Attempt != 1 {
		t.Fatalf("unexpected state: %+v", l)
	}
}

func TestTerminalLogsAreImmutable(t *testing.T) {
	l := newPendingLog(3)
	if err := delivery.Apply(l, delivery.Result{Success: true, StatusCode: 204}, t0, delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	before := *l

	if err := delivery.Apply(l, delivery.Result{StatusCode: 500}, t0.Add(time.Minute), delivery.DefaultBackoff()); !errors.Is(err, delivery.ErrTerminal) {
		t.Fatalf("Apply on delivered: %v, want ErrTerminal", err)
	}
	if err := delivery.Fail(l, "late", t0.Add(time.Minute)); !errors.Is(err, delivery.ErrTerminal) {
		t.Fatalf("Fail on delivered: %v, want ErrTerminal", err)
	}
	if l.Status != before.Status || l.LastStatusCode != before.LastStatusCode || !l.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatal("terminal log was modified")
	}
}

func TestResponseBodyTruncated(t *testing.T) {
	l := newPendingLog(3)
	body := strings.Repeat("x", delivery.MaxStoredResponse+100)
	if err := delivery.Apply(l, delivery.Result{StatusCode: 500, ResponseBody: body}, t0, delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(l.LastResponseBody) != delivery.MaxStoredResponse {
		t.Fatalf("stored %d bytes, want %d", len(l.LastResponseBody), delivery.MaxStoredResponse)
	}
}

func TestResponseBodyTruncatedOnRuneBoundary(t *testing.T) {
	l := newPendingLog(3)
	// "é" is two bytes and straddles the limit.
	body := strings.Repeat("x", delivery.MaxStoredResponse-1) + "é" + "tail"
	if err := delivery.Apply(l, delivery.Result{StatusCode: 500, ResponseBody: body}, t0, delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !utf8.ValidString(l.LastResponseBody) {
		t.Fatal("stored body is not valid UTF-8")
	}
	if want := strings.Repeat("x", delivery.MaxStoredResponse-1); l.LastResponseBody != want {
		t.Fatalf("stored %d bytes, want %d", len(l.LastResponseBody), len(want))
	}
}

func TestInvalidUTF8BodySanitized(t *testing.T) {
	l := newPendingLog(3)
	body := "ok\xff\xfe" + strings.Repeat("y", delivery.MaxStoredResponse)
	res := delivery.Result{StatusCode: 502, ResponseBody: body, Error: "bad\xc3"}
	if err := delivery.Apply(l, res, t0, delivery.DefaultBackoff()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !utf8.ValidString(l.LastResponseBody) || !utf8.ValidString(l.LastError) {
		t.Fatalf("stored invalid UTF-8: %q / %q", l.LastResponseBody[:8], l.LastError)
	}
	if !strings.HasPrefix(l.LastResponseBody, "ok\uFFFD") {
		t.Fatalf("invalid bytes not replaced: %q", l.LastResponseBody[:8])
	}
	if len(l.LastResponseBody) > delivery.MaxStoredResponse {
		t.Fatalf("stored %d bytes, cap is %d", len(l.LastResponseBody), delivery.MaxStoredResponse)
	}
}

func TestClaimRequiresRetrying(t *testing.T) {
	l := newPendingLog(3)
	if err := delivery.Claim(l, t0); err == nil {
		t.Fatal("Claim on pending should fail")
	}
	_ = delivery.Apply(l, delivery.Result{StatusCode: 500}, t0, delivery.DefaultBackoff())
	if err := delivery.Claim(l, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if l.Status != delivery.StatusPending || l.NextRetryAt != nil || l.Attempt != 2 {
		t.Fatalf("unexpected state: %+v", l)
	}
}

func TestRearmRestampsPending(t *testing.T) {
	l := newPendingLog(3)
	later := t0.Add(time.Hour + 1500*time.Microsecond)
	if err := delivery.Rearm(l, later); err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	if l.Status != delivery.StatusPending || l.Attempt != 1 || !l.UpdatedAt.Equal(later.Truncate(time.Millisecond)) {
		t.Fatalf("unexpected state: %+v", l)
	}
	_ = delivery.Apply(l, delivery.Result{StatusCode: 500}, t0, delivery.DefaultBackoff())
	if err := delivery.Rearm(l, later); err == nil {
		t.Fatal("Rearm on retrying should fail")
	}
}

func TestDeferKeepsAttempt(t *testing.T) {
	l := newPendingLog(3)
	if err := delivery.Defer(l, t0, 30*time.Second); err != nil {
		t.Fatalf("Defer: %v", err)
	}
	if l.Status != delivery.StatusRetrying || l.Attempt != 1 {
		t.Fatalf("unexpected state: %+v", l)
	}
	if want := t0.Add(30 * time.Second); !l.NextRetryAt.Equal(want) {
		t.Fatalf("NextRetryAt = %v, want %v", l.NextRetryAt, want)
	}
	if err := delivery.Defer(l, t0, time.Second); err == nil {
		t.Fatal("Defer on retrying should fail")
	}
}

func TestTransitionsTruncateToMillis(t *testing.T) {
	l := newPendingLog(3)
	now := t0.Add(1234567 * time.Nanosecond)
	_ = delivery.Apply(l, delivery.Result{StatusCode: 500}, now, delivery.DefaultBackoff())
	if l.UpdatedAt.Nanosecond()%int(time.Millisecond) != 0 {
		t.Fatalf("UpdatedAt not truncated: %v", l.UpdatedAt)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, tt := range []struct {
		status   delivery.Status
		terminal bool
	}{
		{delivery.StatusPending, false},
		{delivery.StatusRetrying, false},
		{delivery.StatusDelivered, true},
		{delivery.StatusFailed, true},
	} {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v", tt.status, got)
		}
		if !tt.status.Valid() {
			t.Errorf("%s should be valid", tt.status)
		}
	}
	if delivery.Status("lost").Valid() {
		t.Error("unknown status reported valid")
	}
}
