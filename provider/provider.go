package provider

import (
	"context"
	"slices"
	"strings"

	"github.com/NodLabs/xviz/codec"
	"github.com/NodLabs/xviz/xviz"
)

// Capability tags what kind of source a provider is.
type Capability string

const (
	StaticArchive      Capability = "static-archive"
	LiveSimulated      Capability = "live-simulated"
	SyntheticGenerated Capability = "synthetic-generated"
)

// Capabilities is a set of capability tags.
type Capabilities map[Capability]struct{}

// NewCapabilities builds a set from tags.
func NewCapabilities(tags ...Capability) Capabilities {
	c := make(Capabilities, len(tags))
	for _, tag := range tags {
		c[tag] = struct{}{}
	}
	return c
}

// Has reports whether tag is in the set.
func (c Capabilities) Has(tag Capability) bool {
	_, ok := c[tag]
	return ok
}

// Covers reports whether every tag in required is in c.
func (c Capabilities) Covers(required Capabilities) bool {
	for tag := range required {
		if !c.Has(tag) {
			return false
		}
	}
	return true
}

// List returns the tags sorted.
func (c Capabilities) List() []Capability {
	out := make([]Capability, 0, len(c))
	for tag := range c {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

func (c Capabilities) String() string {
	tags := c.List()
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = string(tag)
	}
	return strings.Join(parts, ",")
}

// Frame is one timestamped protocol message from a provider.
type Frame struct {
	Index     int
	Timestamp float64
	Message   *xviz.Message
}

// Provider is a data source bound to sessions.
// Implementations are shared across sessions; per-session state lives in the FrameIterator.
type Provider interface {
	ID() string
	Capabilities() Capabilities
	// Formats lists supported output formats; the first is native.
	Formats() []codec.Format
	Metadata(ctx context.Context) (*xviz.Message, error)
	// Frames opens a lazy sequence starting at index start. Only providers
	// with StaticArchive honour start > 0.
	Frames(ctx context.Context, start int) (FrameIterator, error)
	Close() error
}

// FrameIterator yields frames in order. Next returns io.EOF after the last frame.
type FrameIterator interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// ControlHandler receives client control messages verbatim. A Provider or a
// FrameIterator may implement it; the iterator is preferred so replies can
// reach the upstream serving that session.
type ControlHandler interface {
	HandleControl(ctx context.Context, data []byte) error
}

// MetadataSource is implemented by iterators whose metadata comes from the
// feed they opened. Sessions ask the iterator before the provider.
type MetadataSource interface {
	Metadata(ctx context.Context) (*xviz.Message, error)
}

// Paced is implemented by providers with an intrinsic frame rate.
type Paced interface {
	Hz() float64
}

// NativeFormat returns the first format p declares.
func NativeFormat(p Provider) codec.Format {
	formats := p.Formats()
	if len(formats) == 0 {
		return codec.JSONString
	}
	return formats[0]
}

// Resumable reports whether p can restart its sequence at an arbitrary index.
func Resumable(p Provider) bool {
	return p.Capabilities().Has(StaticArchive)
}
