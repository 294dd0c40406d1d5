package builder

import (
	"maps"

	"github.com/NodLabs/xviz/xviz"
)

// Builder assembles one state update from its pose and link accumulators.
type Builder struct {
	poses      *PoseBuilder
	links      *LinkBuilder
	primitives map[StreamID]xviz.PrimitiveState
}

// New returns a Builder for a single assembly pass.
func New() *Builder {
	return &Builder{
		poses:      NewPoseBuilder(),
		links:      NewLinkBuilder(),
		primitives: make(map[StreamID]xviz.PrimitiveState),
	}
}

// Pose selects stream id on the pose accumulator.
func (b *Builder) Pose(id StreamID) *PoseBuilder {
	return b.poses.Stream(id)
}

// Link selects stream id on the link accumulator.
func (b *Builder) Link(id StreamID) *LinkBuilder {
	return b.links.Stream(id)
}

// Polyline appends a polyline to primitive stream id.
func (b *Builder) Polyline(id StreamID, vertices [][3]float64) *Builder {
	state := b.primitives[id]
	state.Polylines = append(state.Polylines, xviz.Polyline{Vertices: vertices})
	b.primitives[id] = state
	return b
}

// Message commits every accumulator and returns a snapshot state update at ts.
func (b *Builder) Message(ts float64) *xviz.Message {
	b.poses.Commit()
	b.links.Commit()

	set := xviz.StreamSet{Timestamp: ts}
	if poses := b.poses.Snapshot(); len(poses) > 0 {
		set.Poses = poses
	}
	if links := b.links.Snapshot(); len(links) > 0 {
		set.Links = links
	}
	if len(b.primitives) > 0 {
		set.Primitives = maps.Clone(b.primitives)
	}

	return xviz.NewStateUpdateMessage(&xviz.StateUpdate{
		UpdateType: xviz.UpdateSnapshot,
		Updates:    []xviz.StreamSet{set},
	})
}
