package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	memqueue "github.com/xraph/courier/queue/memory"
	"github.com/xraph/courier/signature"
	"github.com/xraph/courier/store/memory"
)

type publicResolver struct{}

func (publicResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
}

type harness struct {
	srv   *httptest.Server
	store *memory.Store
}

// newHarness serves the API over a memory store and queue. Deliveries go
// to target, a TLS test server, when it is non-nil.
func newHarness(t *testing.T, target *httptest.Server) *harness {
	t.Helper()

	s := memory.New()
	opts := []courier.Option{
		courier.WithStore(s),
		courier.WithQueue(memqueue.New()),
		courier.WithResolver(publicResolver{}),
	}
	if target != nil {
		opts = append(opts, courier.WithSender(
			delivery.NewSender(5*time.Second, delivery.WithHTTPClient(target.Client()))))
	}
	c, err := courier.New(opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewHandler(c, nil, api.WithoutAccessLog()))
	t.Cleanup(srv.Close)
	return &harness{srv: srv, store: s}
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, h.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (h *harness) storeEndpoint(t *testing.T, url string) *endpoint.Endpoint {
	t.Helper()
	ep := &endpoint.Endpoint{
		Entity:     entity.New(),
		ID:         id.NewEndpointID(),
		OwnerID:    "owner_1",
		URL:        url,
		Secret:     signature.NewSecret(),
		EventTypes: []event.Type{event.UserCreated},
		Active:     true,
	}
	require.NoError(t, h.store.CreateEndpoint(context.Background(), ep))
	return ep
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, h.store.Close())
	resp = h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEndpointLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/v1/endpoints", map[string]any{
		"owner_id":    "owner_1",
		"url":         "https://hooks.example.com/in",
		"event_types": []string{"user.created", "invoice.paid"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]any
	decodeBody(t, resp, &created)
	epID, _ := created["id"].(string)
	require.NotEmpty(t, epID)
	assert.Len(t, created["secret"], 64, "secret is returned on create")

	resp = h.do(t, http.MethodGet, "/v1/endpoints/"+epID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]any
	decodeBody(t, resp, &got)
	assert.NotContains(t, got, "secret")
	assert.Equal(t, true, got["active"])

	resp = h.do(t, http.MethodGet, "/v1/endpoints?owner_id=owner_1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	decodeBody(t, resp, &list)
	assert.Len(t, list, 1)

	resp = h.do(t, http.MethodPut, "/v1/endpoints/"+epID, map[string]any{"description": "billing hooks"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &got)
	assert.Equal(t, "billing hooks", got["description"])

	resp = h.do(t, http.MethodPatch, "/v1/endpoints/"+epID+"/disable", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/v1/endpoints?owner_id=owner_1&active=true", nil)
	decodeBody(t, resp, &list)
	assert.Empty(t, list)

	resp = h.do(t, http.MethodPatch, "/v1/endpoints/"+epID+"/enable", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/v1/endpoints/"+epID+"/rotate-secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rotated map[string]string
	decodeBody(t, resp, &rotated)
	assert.Len(t, rotated["secret"], 64)
	assert.NotEqual(t, created["secret"], rotated["secret"])

	resp = h.do(t, http.MethodDelete, "/v1/endpoints/"+epID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/v1/endpoints/"+epID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateEndpointValidation(t *testing.T) {
	h := newHarness(t, nil)

	cases := map[string]map[string]any{
		"plain http": {"owner_id": "owner_1", "url": "http://hooks.example.com", "event_types": []string{"user.created"}},
		"localhost":  {"owner_id": "owner_1", "url": "https://localhost/in", "event_types": []string{"user.created"}},
		"no types":   {"owner_id": "owner_1", "url": "https://hooks.example.com"},
		"bad type":   {"owner_id": "owner_1", "url": "https://hooks.example.com", "event_types": []string{"nope"}},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, "/v1/endpoints", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp := h.do(t, http.MethodGet, "/v1/endpoints/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/v1/endpoints", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "owner_id is required")
}

func TestTriggerAndInspectDeliveries(t *testing.T) {
	h := newHarness(t, nil)
	ep := h.storeEndpoint(t, "https://hooks.example.com/in")

	resp := h.do(t, http.MethodPost, "/v1/events", map[string]any{
		"event_type": "user.created",
		"owner_id":   "owner_1",
		"target_id":  "usr_1",
		"data":       map[string]any{"user_id": "usr_1"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/v1/endpoints/"+ep.ID.String()+"/deliveries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs []delivery.Log
	decodeBody(t, resp, &logs)
	require.Len(t, logs, 1)
	assert.Equal(t, delivery.StatusPending, logs[0].Status)
	assert.Equal(t, "usr_1", logs[0].Payload.TargetID)

	resp = h.do(t, http.MethodGet, "/v1/deliveries/"+logs[0].ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/v1/endpoints/"+ep.ID.String()+"/deliveries?status=delivered", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &logs)
	assert.Empty(t, logs)

	resp = h.do(t, http.MethodGet, "/v1/endpoints/"+ep.ID.String()+"/deliveries?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/v1/deliveries/"+id.NewLogID().String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTriggerValidation(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/v1/events", map[string]any{
		"event_type": "user.exploded", "owner_id": "owner_1", "data": map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/v1/events", map[string]any{
		"event_type": "invoice.paid", "owner_id": "owner_1", "data": map[string]any{"amount": 10},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "invoice_id is required by the schema")
}

func TestTestEndpointRoute(t *testing.T) {
	target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	h := newHarness(t, target)
	ep := h.storeEndpoint(t, target.URL)

	resp := h.do(t, http.MethodPost, "/v1/endpoints/"+ep.ID.String()+"/test", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Log    delivery.Log    `json:"log"`
		Result delivery.Result `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Result.Success)
	assert.Equal(t, delivery.StatusDelivered, body.Log.Status)
	assert.Equal(t, event.WebhookTest, body.Log.EventType)

	resp = h.do(t, http.MethodPost, "/v1/endpoints/"+id.NewEndpointID().String()+"/test", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRedeliver(t *testing.T) {
	h := newHarness(t, nil)
	ep := h.storeEndpoint(t, "https://hooks.example.com/in")

	p := event.NewPayload(event.UserCreated, "owner_1", json.RawMessage(`{"user_id":"usr_1"}`), time.Now())
	failed := delivery.NewLog(ep.ID, p, 3)
	require.NoError(t, delivery.Fail(failed, "gave up", time.Now()))
	require.NoError(t, h.store.CreateLog(context.Background(), failed))

	resp := h.do(t, http.MethodPost, "/v1/deliveries/"+failed.ID.String()+"/redeliver", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var fresh delivery.Log
	decodeBody(t, resp, &fresh)
	assert.NotEqual(t, failed.ID, fresh.ID)
	assert.NotEqual(t, failed.Payload.ID, fresh.Payload.ID)
	assert.Equal(t, delivery.StatusPending, fresh.Status)
	assert.JSONEq(t, `{"user_id":"usr_1"}`, string(fresh.Payload.Data))

	resp = h.do(t, http.MethodPost, "/v1/deliveries/"+fresh.ID.String()+"/redeliver", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "only failed logs can be redelivered")
}

func TestStatsAndEventTypes(t *testing.T) {
	h := newHarness(t, nil)
	h.storeEndpoint(t, "https://hooks.example.com/in")

	resp := h.do(t, http.MethodPost, "/v1/events", map[string]any{
		"event_type": "user.created", "owner_id": "owner_1", "data": map[string]any{"user_id": "u"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats courier.Stats
	decodeBody(t, resp, &stats)
	assert.Equal(t, int64(1), stats.Queue.Waiting)
	assert.Equal(t, int64(1), stats.Logs[delivery.StatusPending])

	resp = h.do(t, http.MethodGet, "/v1/event-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var defs []map[string]any
	decodeBody(t, resp, &defs)
	assert.Len(t, defs, len(event.All()))

	resp = h.do(t, http.MethodGet, "/v1/event-types/invoice.paid", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/v1/event-types/invoice.lost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
