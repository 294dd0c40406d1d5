package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NodLabs/xviz/xviz"
)

type point struct {
	X, Y float64
}

func TestLinkBuilder_SourceThenGetData(t *testing.T) {
	b := NewLinkBuilder()
	b.Stream("vehicle-pose").Source(point{X: 1, Y: 2})

	got := b.GetData()

	assert.Equal(t, StreamLinkTable{
		"vehicle-pose": {SourcePose: point{X: 1, Y: 2}},
	}, got)
}

func TestLinkBuilder_LastSourceWins(t *testing.T) {
	b := NewLinkBuilder()
	b.Stream("s").Source("a").Source("b").Source("c")

	got := b.GetData()

	assert.Len(t, got, 1)
	assert.Equal(t, "c", got["s"].SourcePose)
}

func TestLinkBuilder_NoActiveStreamDoesNotCommit(t *testing.T) {
	b := NewLinkBuilder()
	b.Source("orphan")

	assert.Empty(t, b.GetData())
	assert.Equal(t, 0, b.Len())
}

func TestLinkBuilder_ResetDropsPendingOnly(t *testing.T) {
	b := NewLinkBuilder()
	b.Stream("s").Source("first")
	b.Commit()

	b.Source("second")
	b.Reset()

	got := b.GetData()
	assert.Equal(t, StreamLinkTable{"s": {SourcePose: "first"}}, got)
}

func TestLinkBuilder_GetDataIsIdempotent(t *testing.T) {
	b := NewLinkBuilder()
	b.Stream("s").Source("p")

	first := b.GetData()
	second := b.GetData()

	assert.Equal(t, first, second)
	assert.Len(t, second, 1)
}

func TestLinkBuilder_MissingSourceLeavesEntryUntouched(t *testing.T) {
	b := NewLinkBuilder()
	b.Stream("s").Source("p")
	b.Commit()

	// New cycle for the same stream without a source
	b.Stream("s")
	b.Commit()

	assert.Equal(t, "p", b.Snapshot()["s"].SourcePose)
}

func TestLinkBuilder_SwitchingStreamCommitsPrevious(t *testing.T) {
	b := NewLinkBuilder()
	b.Stream("a").Source("pa")
	b.Stream("b").Source("pb")
	b.Stream("c")

	assert.Equal(t, StreamLinkTable{
		"a": {SourcePose: "pa"},
		"b": {SourcePose: "pb"},
	}, b.GetData())
}

func TestLinkBuilder_SnapshotDoesNotMutate(t *testing.T) {
	b := NewLinkBuilder()
	b.Stream("s").Source("p")

	assert.Empty(t, b.Snapshot())

	snap := b.GetData()
	snap["other"] = xviz.LinkRecord{SourcePose: "x"}
	assert.NotContains(t, b.Snapshot(), "other")
}
