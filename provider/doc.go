// Package provider defines data sources for sessions and the registry that
// binds requests to them.
//
// # Providers
//
// A Provider declares capability tags (static-archive, live-simulated,
// synthetic-generated), the formats it can emit with the native one first,
// a metadata message, and a lazy frame sequence. Three variants are built in:
//
//   - ArchiveProvider: numbered frame files on disk, optionally compressed
//     with zstd, lz4 or gzip. Resumable at any index.
//   - ScenarioProvider: a generated vehicle trajectory of round(duration*hz)
//     frames. Resumable, and paced at its own Hz.
//   - LiveProvider: relays an upstream WebSocket or NATS feed. Not resumable.
//
// # Registry
//
// Entries are registered once at startup, in priority order, then frozen:
//
//	reg := provider.NewRegistry(logger, metrics)
//	_ = reg.Register(provider.ScenarioEntry(provider.ScenarioOptions{Duration: 30, Hz: 10}))
//	_ = reg.Register(provider.ArchiveEntry(provider.ArchiveOptions{Roots: dirs}))
//	reg.Freeze()
//
//	lease, err := reg.Resolve(ctx, provider.RequestFromHTTP(r))
//	defer lease.Release()
//
// Resolve returns the first entry, in registration order, whose capabilities
// cover the request and whose Match accepts it. Sessions asking for the same
// key share one provider; the last Release closes it.
package provider
