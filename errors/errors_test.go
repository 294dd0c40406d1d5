package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection lost", ErrConnectionLost, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"provider io sentinel", ErrProviderIO, true},
		{"invalid data", ErrInvalidData, false},
		{"timeout in message", fmt.Errorf("read timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestWrap_Format(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "Session", "Run", "frame write")

	assert.EqualError(t, err, "Session.Run: frame write failed: boom")
	assert.ErrorIs(t, err, base)
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestTaxonomy(t *testing.T) {
	cause := io.ErrUnexpectedEOF

	tests := []struct {
		name  string
		err   error
		is    error
		class ErrorClass
		kind  string
	}{
		{"configuration", Configuration(cause, "Handler", "negotiate", "format"), ErrConfiguration, ErrorInvalid, "configuration"},
		{"resolution", ProviderResolution(nil, "Registry", "Resolve", "match"), ErrProviderResolution, ErrorInvalid, "provider_resolution"},
		{"provider io", ProviderIO(cause, "Archive", "Next", "read"), ErrProviderIO, ErrorTransient, "provider_io"},
		{"transport", Transport(cause, "Session", "send", "write"), ErrTransport, ErrorTransient, "transport"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.ErrorIs(t, test.err, test.is)
			assert.Equal(t, test.class, Classify(test.err))
			assert.Equal(t, test.kind, Kind(test.err))

			var ce *ClassifiedError
			assert.True(t, errors.As(test.err, &ce))
		})
	}

	// The cause stays reachable alongside the sentinel.
	assert.ErrorIs(t, ProviderIO(cause, "a", "b", "c"), io.ErrUnexpectedEOF)
}

func TestTaxonomy_NoDoubleTag(t *testing.T) {
	inner := Transport(nil, "Session", "send", "write")
	outer := Transport(inner, "Session", "Run", "stream")

	assert.ErrorIs(t, outer, ErrTransport)
	assert.Equal(t, "Session.Run: stream failed: Session.send: write failed: transport failure", outer.Error())
}
