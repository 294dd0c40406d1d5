package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/NodLabs/xviz/codec"
	xerrors "github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/provider"
	"github.com/NodLabs/xviz/xviz"
)

// ErrStubIO is the cause of scripted StubProvider failures.
var ErrStubIO = errors.New("stub provider read failure")

// StubProvider serves a fixed list of messages.
// Thread-safe for concurrent use from multiple goroutines.
type StubProvider struct {
	IDValue    string
	Caps       provider.Capabilities
	FormatList []codec.Format
	Meta       *xviz.Message
	Updates    []*xviz.Message
	HzValue    float64

	// FailAt makes Next fail at this frame index; negative disables.
	FailAt int
	// FailTimes bounds how many times FailAt fires; 0 means always.
	FailTimes int

	mu       sync.Mutex
	fails    int
	opens    []int
	controls [][]byte
	closed   bool
}

// NewStubProvider returns a static-archive provider with JSON_STRING as its only format.
func NewStubProvider(updates []*xviz.Message) *StubProvider {
	return &StubProvider{
		IDValue:    "stub",
		Caps:       provider.NewCapabilities(provider.StaticArchive),
		FormatList: []codec.Format{codec.JSONString},
		Meta:       Metadata(0, 0),
		Updates:    updates,
		FailAt:     -1,
	}
}

func (p *StubProvider) ID() string                          { return p.IDValue }
func (p *StubProvider) Capabilities() provider.Capabilities { return p.Caps }
func (p *StubProvider) Formats() []codec.Format             { return p.FormatList }
func (p *StubProvider) Hz() float64                         { return p.HzValue }

func (p *StubProvider) Metadata(_ context.Context) (*xviz.Message, error) {
	return p.Meta, nil
}

// Frames records start and returns an iterator over Updates from start.
func (p *StubProvider) Frames(_ context.Context, start int) (provider.FrameIterator, error) {
	p.mu.Lock()
	p.opens = append(p.opens, start)
	p.mu.Unlock()

	if !provider.Resumable(p) {
		start = 0
	}
	return &stubIterator{p: p, pos: start}, nil
}

// HandleControl records client messages.
func (p *StubProvider) HandleControl(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls = append(p.controls, append([]byte(nil), data...))
	return nil
}

func (p *StubProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Opens returns the start index of every Frames call.
func (p *StubProvider) Opens() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.opens...)
}

// Controls returns the control messages received so far.
func (p *StubProvider) Controls() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.controls...)
}

// Closed reports whether Close was called.
func (p *StubProvider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *StubProvider) shouldFail(pos int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailAt < 0 || pos != p.FailAt {
		return false
	}
	if p.FailTimes > 0 && p.fails >= p.FailTimes {
		return false
	}
	p.fails++
	return true
}

type stubIterator struct {
	p   *StubProvider
	pos int
}

func (it *stubIterator) Next(ctx context.Context) (provider.Frame, error) {
	if err := ctx.Err(); err != nil {
		return provider.Frame{}, err
	}
	if it.p.shouldFail(it.pos) {
		return provider.Frame{}, xerrors.ProviderIO(ErrStubIO, "StubProvider", "Next", "read frame")
	}
	if it.pos >= len(it.p.Updates) {
		return provider.Frame{}, io.EOF
	}
	msg := it.p.Updates[it.pos]
	f := provider.Frame{Index: it.pos, Timestamp: msg.Timestamp(), Message: msg}
	it.pos++
	return f, nil
}

func (it *stubIterator) Close() error { return nil }
