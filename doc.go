// Package xviz is a streaming server for XVIZ, the autonomy visualization
// protocol. It serves recorded logs, generated scenarios and relayed live
// feeds to viewers over WebSocket.
//
// # Architecture
//
// A connection flows through four layers:
//
//	client --ws--> server --> session --> provider
//	                 |           |
//	              /metrics    codec (JSON_STRING, JSON_BUFFER, BINARY_GLB)
//	              /healthz
//
// The server accepts connections and asks its bindings for a session. A
// binding resolves a provider from the request through the provider
// registry, negotiates the output format and hands back a session. The
// session writes the provider's metadata once and then every frame in
// order, paced in live mode, and reconnects live sessions after transport
// or provider failures.
//
// # Packages
//
//   - xviz: message model (metadata and state updates) shared by all layers
//   - codec: encoders and decoders for the three wire formats
//   - builder: per-stream link and pose builders used to assemble updates
//   - provider: archive, scenario and live providers plus the registry
//   - session: session lifecycle, format negotiation and pacing
//   - server: WebSocket listener, reattach routing, metrics and health endpoints
//   - config: layered YAML, TOML and JSONC configuration with env overrides
//   - componentregistry: wires configured providers into a registry
//   - errors, metric, health: classified errors, Prometheus metrics, health state
//   - pkg/buffer, pkg/cache, pkg/retry, pkg/worker, pkg/tlsutil: shared infrastructure
//
// # Running
//
//	xvizserver --directory ./logs --port 8081 --live
//
// Viewers connect to ws://host:8081/<log> or ws://host:8081/?log=<log>&format=BINARY_GLB.
// Live sessions return an X-Xviz-Session header; reconnecting with
// ?session=<id> resumes the stream where it left off.
package xviz
