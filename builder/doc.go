// Package builder accumulates per-stream records for one message-assembly pass.
//
// LinkBuilder and PoseBuilder follow the same pattern: select a stream with
// Stream, set its pending value, and Commit it into the accumulated table.
// Selecting a different stream commits the previous stream's pending value.
// A stream with nothing pending is left untouched on commit, never deleted.
//
//	links := builder.NewLinkBuilder()
//	links.Stream("/object/shape").Source("/vehicle_pose")
//	links.Commit()
//	table := links.Snapshot() // {"/object/shape": {source_pose: "/vehicle_pose"}}
//
// Builder owns one of each and assembles a state update message. None of the
// types here are safe for concurrent use; each pass owns its builder.
package builder
