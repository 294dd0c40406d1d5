// Package cache provides a generic, thread-safe LRU cache with statistics
// and optional Prometheus metrics.
//
// The archive provider keeps recently decoded frames here so that a client
// reconnecting to a live session, or several sessions replaying the same log,
// do not decompress and decode the same files again.
//
// Statistics are always collected. Metrics are exported when WithMetrics is
// given a registry:
//
//	frames, err := cache.New[int, *xviz.Message](256,
//		cache.WithMetrics[int, *xviz.Message](registry, "archive"))
package cache
