// Package retry provides retry loops with fixed or exponential delays.
//
// # Overview
//
// Do runs an operation until it succeeds, the attempt budget is spent, or the
// context ends. The session layer uses a fixed-interval, uncapped configuration
// for its reconnect policy:
//
//	cfg := retry.Fixed(500*time.Millisecond, 0) // wait 500ms before every attempt, no cap
//	err := retry.Do(ctx, cfg, func() error {
//	    return session.reattach()
//	})
//
// Exponential backoff is still available through DefaultConfig:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect()
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately.
//
// # Context Cancellation
//
// All waits respect context cancellation and return an error wrapping ctx.Err().
package retry
