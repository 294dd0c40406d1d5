package builder

import (
	"maps"

	"github.com/NodLabs/xviz/xviz"
)

// StreamID names a logical data stream within a session.
type StreamID = string

// StreamLinkTable maps a stream to its committed link record.
type StreamLinkTable = map[StreamID]xviz.LinkRecord

// LinkBuilder accumulates source-pose links per stream.
type LinkBuilder struct {
	streamID StreamID
	pending  any
	hasSrc   bool
	links    StreamLinkTable
}

// NewLinkBuilder returns an empty LinkBuilder.
func NewLinkBuilder() *LinkBuilder {
	return &LinkBuilder{links: make(StreamLinkTable)}
}

// Stream makes id the active stream, committing the previous stream's pending source.
func (b *LinkBuilder) Stream(id StreamID) *LinkBuilder {
	if b.streamID != "" && b.streamID != id {
		b.Commit()
	}
	b.streamID = id
	return b
}

// Source sets the pending source pose for the active stream, replacing any earlier one.
func (b *LinkBuilder) Source(pose any) *LinkBuilder {
	b.pending = pose
	b.hasSrc = true
	return b
}

// Commit writes the pending source into the table for the active stream and
// clears it. With no active stream or no pending source it does nothing.
func (b *LinkBuilder) Commit() {
	if b.streamID == "" || !b.hasSrc {
		return
	}
	b.links[b.streamID] = xviz.LinkRecord{SourcePose: b.pending}
	b.pending = nil
	b.hasSrc = false
}

// Snapshot returns a copy of the committed table.
func (b *LinkBuilder) Snapshot() StreamLinkTable {
	return maps.Clone(b.links)
}

// GetData commits when a stream is active, then returns the table.
func (b *LinkBuilder) GetData() StreamLinkTable {
	if b.streamID != "" {
		b.Commit()
	}
	return b.Snapshot()
}

// Reset drops the pending source. Committed links are kept.
func (b *LinkBuilder) Reset() {
	b.pending = nil
	b.hasSrc = false
}

// Len returns the number of committed links.
func (b *LinkBuilder) Len() int {
	return len(b.links)
}
