// Package health tracks the state of the server's moving parts and serves it
// on the health endpoint.
//
// Each part reports one of three states:
//   - healthy: working normally
//   - degraded: working with reduced function, e.g. an upstream reconnecting
//   - unhealthy: not working
//
// A Monitor holds the latest Status per part. Its aggregate is unhealthy when
// any part is unhealthy, degraded when any part is degraded, and healthy
// otherwise:
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("server", "listening on :8081")
//	monitor.Update("live-upstream", health.FromError("live-upstream", err))
//
//	mux.Handle("/healthz", health.Handler(monitor, "xvizserver"))
//
// Messages built from errors pass through a sanitizer that removes URLs,
// paths, addresses and credentials, since the endpoint is unauthenticated.
package health
