// Package session binds one client connection to one provider and streams
// XVIZ messages to it.
//
// A ProviderHandler turns an incoming HTTP request into a Session: it
// resolves a provider lease, then negotiates the output format (the "format"
// query parameter, else the configured format, else the provider's native
// format). Negotiation failures are configuration errors and happen before
// the connection is upgraded.
//
// A Session moves through these states:
//
//	INIT -> NEGOTIATING -> STREAMING <-> RECONNECTING -> CLOSED
//
// Run writes the metadata message once and then every frame in order. A
// producer goroutine encodes frames into a bounded outbound queue and a sender
// goroutine drains it to the transport, so a slow client holds back the
// provider instead of losing frames. In live mode frames are paced at the
// provider's rate, or at Config.Delay for providers without one.
//
// Live sessions survive failures. When the transport fails the session waits
// in RECONNECTING for a replacement passed to Attach, checking every
// Config.Reconnect, and resumes with the first undelivered frame. When the
// provider fails the frame sequence is reopened at the cursor. Non-live
// sessions close with a TransportError or ProviderIOError instead.
//
// Client messages are forwarded to the provider when it implements
// provider.ControlHandler.
package session
