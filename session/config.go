package session

import (
	"time"

	"github.com/NodLabs/xviz/codec"
)

// Config controls negotiation, pacing and recovery for every session a
// handler creates.
type Config struct {
	// Format is the default output format; empty means provider-native.
	Format codec.Format
	// Live enables paced playback and reconnect on failure.
	Live bool
	// Delay is the pacing interval for providers without their own rate.
	Delay time.Duration
	// Reconnect is the wait before each recovery attempt.
	Reconnect time.Duration
	// MaxReconnects caps recovery attempts; 0 is unlimited.
	MaxReconnects int
	// BufferSize is the outbound queue capacity in messages.
	BufferSize int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Delay:      50 * time.Millisecond,
		Reconnect:  500 * time.Millisecond,
		BufferSize: 32,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Delay <= 0 {
		c.Delay = d.Delay
	}
	if c.Reconnect <= 0 {
		c.Reconnect = d.Reconnect
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.MaxReconnects < 0 {
		c.MaxReconnects = 0
	}
	return c
}
