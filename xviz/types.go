package xviz

// Metadata describes a log: its time range and declared streams.
type Metadata struct {
	Version string                    `json:"version"`
	LogInfo *LogInfo                  `json:"log_info,omitempty"`
	Streams map[string]StreamMetadata `json:"streams,omitempty"`
}

// LogInfo holds the log time range in seconds.
type LogInfo struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// StreamMetadata declares one stream.
type StreamMetadata struct {
	Category   string `json:"category"`
	Type       string `json:"primitive_type,omitempty"`
	Coordinate string `json:"coordinate,omitempty"`
	Units      string `json:"units,omitempty"`
}

// Stream categories.
const (
	CategoryPose      = "POSE"
	CategoryPrimitive = "PRIMITIVE"
	CategoryTimeSerie = "TIME_SERIES"
)

// StateUpdate carries one or more stream sets.
type StateUpdate struct {
	UpdateType UpdateType  `json:"update_type"`
	Updates    []StreamSet `json:"updates"`
}

// Timestamp returns the earliest stream set timestamp, or 0 if there are none.
func (u *StateUpdate) Timestamp() float64 {
	if u == nil || len(u.Updates) == 0 {
		return 0
	}
	ts := u.Updates[0].Timestamp
	for _, set := range u.Updates[1:] {
		if set.Timestamp < ts {
			ts = set.Timestamp
		}
	}
	return ts
}

// StreamSet is the state of every stream at one instant.
type StreamSet struct {
	Timestamp  float64                   `json:"timestamp"`
	Poses      map[string]Pose           `json:"poses,omitempty"`
	Primitives map[string]PrimitiveState `json:"primitives,omitempty"`
	TimeSeries []TimeSeriesState         `json:"time_series,omitempty"`
	Links      map[string]LinkRecord     `json:"links,omitempty"`
}

// Pose locates a frame of reference.
type Pose struct {
	Timestamp   float64    `json:"timestamp"`
	MapOrigin   *MapOrigin `json:"map_origin,omitempty"`
	Position    [3]float64 `json:"position"`
	Orientation [3]float64 `json:"orientation"`
}

// MapOrigin anchors a pose to geographic coordinates.
type MapOrigin struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Altitude  float64 `json:"altitude"`
}

// PrimitiveState holds geometry for one primitive stream.
type PrimitiveState struct {
	Polylines []Polyline `json:"polylines,omitempty"`
	Circles   []Circle   `json:"circles,omitempty"`
}

// Polyline is an open path of vertices.
type Polyline struct {
	Vertices [][3]float64 `json:"vertices"`
}

// Circle is a circle in the stream's coordinate frame.
type Circle struct {
	Center [3]float64 `json:"center"`
	Radius float64    `json:"radius"`
}

// TimeSeriesState is a set of scalar values sampled at one time.
type TimeSeriesState struct {
	Timestamp float64   `json:"timestamp"`
	Streams   []string  `json:"streams"`
	Values    NumberSet `json:"values"`
}

// NumberSet holds time series doubles.
type NumberSet struct {
	Doubles []float64 `json:"doubles"`
}

// LinkRecord associates a stream with the pose stream it is relative to.
type LinkRecord struct {
	SourcePose any `json:"source_pose"`
}
