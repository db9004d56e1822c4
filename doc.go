// Package courier delivers domain events to third-party HTTPS endpoints as
// signed webhooks, at least once, with durable retries.
//
// Courier is a library. A producer calls Trigger; courier writes one
// delivery log per subscribed endpoint and enqueues a job for it. A worker
// pool sends each job, signs the body with the endpoint secret and records
// the outcome. Failed attempts are retried with exponential backoff by a
// periodic sweep until the endpoint answers 2xx or attempts run out.
//
// Key features:
//   - HMAC-SHA256 signatures with a timestamp header for replay checks
//   - Per-event-type JSON Schema validation at the trigger boundary
//   - Optimistic concurrency on delivery logs, so duplicate jobs are harmless
//   - Pluggable stores (memory, Redis, Postgres, SQLite, MongoDB, Bun) and queues (memory, Redis)
//   - Per-endpoint rate limiting
//   - Ops HTTP surface, Prometheus metrics and OpenTelemetry tracing
//
// Quick start:
//
//	c, err := courier.New(
//	    courier.WithStore(memory.New()),
//	    courier.WithQueue(memqueue.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop(ctx)
//
//	ep, _ := c.Endpoints().Create(ctx, endpoint.Input{
//	    OwnerID:    "org_123",
//	    URL:        "https://example.com/webhooks",
//	    EventTypes: []event.Type{event.InvoicePaid},
//	})
//
//	c.Trigger(ctx, event.InvoicePaid, "org_123",
//	    json.RawMessage(`{"invoice_id":"in_1","amount":4900,"currency":"usd"}`),
//	    courier.WithTargetID("in_1"),
//	)
package courier
