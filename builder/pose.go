package builder

import (
	"maps"

	"github.com/NodLabs/xviz/xviz"
)

// PoseBuilder accumulates poses per stream.
type PoseBuilder struct {
	streamID StreamID
	pending  *xviz.Pose
	poses    map[StreamID]xviz.Pose
}

// NewPoseBuilder returns an empty PoseBuilder.
func NewPoseBuilder() *PoseBuilder {
	return &PoseBuilder{poses: make(map[StreamID]xviz.Pose)}
}

// Stream makes id the active stream, committing the previous stream's pending pose.
func (b *PoseBuilder) Stream(id StreamID) *PoseBuilder {
	if b.streamID != "" && b.streamID != id {
		b.Commit()
	}
	b.streamID = id
	return b
}

func (b *PoseBuilder) current() *xviz.Pose {
	if b.pending == nil {
		b.pending = &xviz.Pose{}
	}
	return b.pending
}

// Timestamp sets the pending pose time.
func (b *PoseBuilder) Timestamp(ts float64) *PoseBuilder {
	b.current().Timestamp = ts
	return b
}

// MapOrigin anchors the pending pose.
func (b *PoseBuilder) MapOrigin(longitude, latitude, altitude float64) *PoseBuilder {
	b.current().MapOrigin = &xviz.MapOrigin{Longitude: longitude, Latitude: latitude, Altitude: altitude}
	return b
}

// Position sets the pending pose position.
func (b *PoseBuilder) Position(x, y, z float64) *PoseBuilder {
	b.current().Position = [3]float64{x, y, z}
	return b
}

// Orientation sets the pending pose roll, pitch and yaw.
func (b *PoseBuilder) Orientation(roll, pitch, yaw float64) *PoseBuilder {
	b.current().Orientation = [3]float64{roll, pitch, yaw}
	return b
}

// Commit writes the pending pose for the active stream and clears it.
func (b *PoseBuilder) Commit() {
	if b.streamID == "" || b.pending == nil {
		return
	}
	b.poses[b.streamID] = *b.pending
	b.pending = nil
}

// Snapshot returns a copy of the committed poses.
func (b *PoseBuilder) Snapshot() map[StreamID]xviz.Pose {
	return maps.Clone(b.poses)
}

// Reset drops the pending pose.
func (b *PoseBuilder) Reset() {
	b.pending = nil
}
