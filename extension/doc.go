// Package extension mounts courier inside a Forge application.
//
// The extension:
//   - Builds the Courier from a store, a queue and a Config
//   - Runs store migrations and connects the queue on Init
//   - Registers the admin routes with OpenAPI metadata under a prefix
//   - Starts the worker pool and sweeps on Start
//   - Drains in-flight deliveries on Stop
//   - Reports health via store.Ping
//
// Usage:
//
//	ext := extension.New(
//	    extension.WithStore(pgStore),
//	    extension.WithQueue(redisQueue),
//	    extension.WithPrefix("/webhooks"),
//	)
//	if err := ext.Init(ctx); err != nil {
//	    return err
//	}
//	ext.RegisterRoutes(app.Router(), app.Logger())
//	defer ext.Stop(ctx)
//	return ext.Start(ctx)
package extension
