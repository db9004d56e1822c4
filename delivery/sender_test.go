package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/signature"
)

func newTestEndpoint(url string) *endpoint.Endpoint {
	return &endpoint.Endpoint{
		Entity:     entity.New(),
		ID:         id.NewEndpointID(),
		OwnerID:    "owner_1",
		URL:        url,
		Secret:     "whsec_test_secret_1234567890abcdef",
		EventTypes: []event.Type{event.InvoicePaid},
		Active:     true,
	}
}

func newTestPayload() *event.Payload {
	return event.NewPayload(event.InvoicePaid, "owner_1", json.RawMessage(`{"hello":"world"}`), time.Now())
}

func newTLSSender(srv *httptest.Server, timeout time.Duration, opts ...delivery.SenderOption) *delivery.Sender {
	opts = append([]delivery.SenderOption{delivery.WithHTTPClient(srv.Client())}, opts...)
	return delivery.NewSender(timeout, opts...)
}

func TestSenderHappyPath(t *testing.T) {
	var (
		receivedHeaders http.Header
		receivedBody    []byte
	)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	fixed := time.Unix(1767225600, 0)
	sender := newTLSSender(srv, 5*time.Second, delivery.WithClock(func() time.Time { return fixed }))
	ep := newTestEndpoint(srv.URL)
	p := newTestPayload()

	res := sender.Deliver(context.Background(), ep, p)

	if !res.Success || res.StatusCode != 200 {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ResponseBody != `{"ok":true}` {
		t.Fatalf("unexpected response: %s", res.ResponseBody)
	}
	if res.LatencyMs < 0 {
		t.Fatal("latency should be non-negative")
	}

	var got event.Payload
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("body is not a payload: %v", err)
	}
	if got.ID != p.ID || got.Type != event.InvoicePaid || got.OwnerID != "owner_1" {
		t.Fatalf("unexpected payload: %+v", got)
	}

	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Fatal("missing Content-Type")
	}
	if receivedHeaders.Get("User-Agent") != "Courier/1.0" {
		t.Fatal("missing User-Agent")
	}
	if receivedHeaders.Get("X-Webhook-ID") != p.ID.String() {
		t.Fatal("missing X-Webhook-ID")
	}
	if receivedHeaders.Get(signature.HeaderTimestamp) != strconv.FormatInt(fixed.Unix(), 10) {
		t.Fatalf("timestamp header = %q", receivedHeaders.Get(signature.HeaderTimestamp))
	}
	if !signature.Verify(receivedBody, receivedHeaders.Get(signature.HeaderSignature), ep.Secret) {
		t.Fatal("signature verification failed")
	}
}

func TestSenderSameBodyOnEveryAttempt(t *testing.T) {
	var bodies []string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := newTLSSender(srv, 5*time.Second)
	ep := newTestEndpoint(srv.URL)
	p := newTestPayload()

	sender.Deliver(context.Background(), ep, p)
	sender.Deliver(context.Background(), ep, p)

	if len(bodies) != 2 || bodies[0] != bodies[1] {
		t.Fatalf("attempt bodies differ: %q", bodies)
	}
}

func TestSenderServerError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	res := newTLSSender(srv, 5*time.Second).Deliver(context.Background(), newTestEndpoint(srv.URL), newTestPayload())

	if res.Success || res.StatusCode != 500 || res.Permanent {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ResponseBody != "internal error" {
		t.Fatalf("unexpected response: %s", res.ResponseBody)
	}
}

func TestSenderTimeout(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := srv.Client()
	client.Timeout = 50 * time.Millisecond
	sender := delivery.NewSender(time.Second, delivery.WithHTTPClient(client))

	res := sender.Deliver(context.Background(), newTestEndpoint(srv.URL), newTestPayload())

	if res.StatusCode != 0 || res.Error == "" || res.Permanent {
		t.Fatalf("expected a retryable transport failure, got %+v", res)
	}
	if res.LatencyMs <= 0 {
		t.Fatal("expected positive latency")
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	res := delivery.NewSender(time.Second).Deliver(context.Background(), newTestEndpoint("https://127.0.0.1:1"), newTestPayload())

	if res.StatusCode != 0 || res.Error == "" {
		t.Fatalf("expected transport failure, got %+v", res)
	}
}

func TestSenderRejectsPlainHTTP(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := delivery.NewSender(time.Second).Deliver(context.Background(), newTestEndpoint(srv.URL), newTestPayload())

	if !res.Permanent || res.Success {
		t.Fatalf("expected a permanent failure, got %+v", res)
	}
	if hit {
		t.Fatal("plain http endpoint must not be contacted")
	}
}

func TestSenderRefusesDowngradeRedirect(t *testing.T) {
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer plain.Close()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, plain.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	res := newTLSSender(srv, 5*time.Second).Deliver(context.Background(), newTestEndpoint(srv.URL), newTestPayload())

	if res.Success || !strings.Contains(res.Error, "non-https") {
		t.Fatalf("expected redirect refusal, got %+v", res)
	}
}

func TestSenderRefusesPrivateRedirect(t *testing.T) {
	for _, target := range []string{"https://10.0.0.5/hook", "https://[::1]:8443/", "https://localhost/", "https://169.254.169.254/latest"} {
		t.Run(target, func(t *testing.T) {
			srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, target, http.StatusFound)
			}))
			defer srv.Close()

			res := newTLSSender(srv, 5*time.Second).Deliver(context.Background(), newTestEndpoint(srv.URL), newTestPayload())

			if res.Success || res.StatusCode != 0 || !strings.Contains(res.Error, "not publicly routable") {
				t.Fatalf("expected redirect refusal, got %+v", res)
			}
		})
	}
}

func TestSenderRefusesPrivateDial(t *testing.T) {
	hit := false
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// The default transport checks the resolved address, not the URL.
	res := delivery.NewSender(time.Second).Deliver(context.Background(), newTestEndpoint(srv.URL), newTestPayload())

	if res.Success || !strings.Contains(res.Error, "not publicly routable") {
		t.Fatalf("expected dial refusal, got %+v", res)
	}
	if hit {
		t.Fatal("loopback endpoint must not be contacted")
	}
}

func TestSenderCapsResponseBody(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(strings.Repeat("a", delivery.MaxResponseBody+10)))
	}))
	defer srv.Close()

	res := newTLSSender(srv, 5*time.Second).Deliver(context.Background(), newTestEndpoint(srv.URL), newTestPayload())

	if len(res.ResponseBody) != delivery.MaxResponseBody {
		t.Fatalf("read %d bytes, want %d", len(res.ResponseBody), delivery.MaxResponseBody)
	}
}
