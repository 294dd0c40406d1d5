package testutil

import (
	"github.com/NodLabs/xviz/xviz"
)

// Metadata returns a metadata message spanning [start, end].
func Metadata(start, end float64) *xviz.Message {
	return xviz.NewMetadataMessage(&xviz.Metadata{
		Version: xviz.Version,
		LogInfo: &xviz.LogInfo{StartTime: start, EndTime: end},
		Streams: map[string]xviz.StreamMetadata{
			"/vehicle_pose": {Category: xviz.CategoryPose},
		},
	})
}

// StateUpdate returns a single-pose state update at ts.
func StateUpdate(ts float64) *xviz.Message {
	return xviz.NewStateUpdateMessage(&xviz.StateUpdate{
		UpdateType: xviz.UpdateSnapshot,
		Updates: []xviz.StreamSet{{
			Timestamp: ts,
			Poses: map[string]xviz.Pose{
				"/vehicle_pose": {Timestamp: ts, Position: [3]float64{ts, 0, 0}},
			},
		}},
	})
}

// StateUpdates returns n updates at start, start+step, ...
func StateUpdates(n int, start, step float64) []*xviz.Message {
	out := make([]*xviz.Message, n)
	for i := range out {
		out[i] = StateUpdate(start + float64(i)*step)
	}
	return out
}
