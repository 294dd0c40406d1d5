// Package server accepts websocket connections and runs one session per
// connection.
//
// For each request the server asks its bindings, in order, for a session.
// A request none of them can resolve is answered with 404 and a request for
// an unsupported format with 400; in both cases the connection is not
// upgraded and the server keeps serving. A successful upgrade carries the
// session id in the X-Xviz-Session header. Clients of a live session that
// lose their connection reconnect with ?session=<id> and resume after the
// last frame they were sent.
//
// The Prometheus registry is served on /metrics.
package server
