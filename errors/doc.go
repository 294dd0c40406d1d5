// Package errors provides standardized error handling patterns for the XVIZ server.
//
// # Overview
//
// The package keeps a three-class classification system: Transient (temporary,
// retryable), Invalid (bad input, non-retryable) and Fatal (unrecoverable). On top
// of it sits the session taxonomy used by the session and server packages:
//
//   - ConfigurationError: requested format unsupported by the bound provider.
//     Surfaced during negotiation; the connection is not upgraded.
//   - ProviderResolutionError: no registered provider matches the request.
//     The connection is rejected; the server keeps serving.
//   - ProviderIOError: archive read or generation failure. Recoverable through
//     the reconnect policy in live mode, otherwise terminates the session.
//   - TransportError: socket-level failure. Triggers RECONNECTING in live mode,
//     otherwise CLOSED.
//
// Only the failure to bind the listening socket is process-fatal.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Taxonomy constructors apply the same pattern and keep both the sentinel and the
// cause reachable through errors.Is:
//
//	if err := iter.Next(ctx); err != nil {
//	    return errors.ProviderIO(err, "ArchiveProvider", "Next", "read frame file")
//	}
//
//	if errors.IsTransport(err) && live {
//	    // enter RECONNECTING
//	}
package errors
