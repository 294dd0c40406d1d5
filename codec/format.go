// Package codec encodes and decodes protocol messages in the three wire formats.
package codec

import (
	"fmt"
	"strings"
)

// Format is a wire encoding of protocol messages.
type Format string

const (
	// JSONString is JSON sent as a text frame.
	JSONString Format = "JSON_STRING"
	// JSONBuffer is JSON sent as a binary frame.
	JSONBuffer Format = "JSON_BUFFER"
	// BinaryGLB is a GLB container with the message in its JSON chunk.
	BinaryGLB Format = "BINARY_GLB"
)

// Formats lists every supported format.
var Formats = []Format{JSONString, JSONBuffer, BinaryGLB}

// ParseFormat validates a format name. Matching is case-insensitive.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	if f.Valid() {
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want one of JSON_STRING, JSON_BUFFER, BINARY_GLB)", s)
}

// Valid reports whether f is one of the enumerated formats.
func (f Format) Valid() bool {
	switch f {
	case JSONString, JSONBuffer, BinaryGLB:
		return true
	}
	return false
}

// Binary reports whether f travels as a binary frame.
func (f Format) Binary() bool {
	return f == JSONBuffer || f == BinaryGLB
}

func (f Format) String() string {
	return string(f)
}

// Contains reports whether f is in formats.
func Contains(formats []Format, f Format) bool {
	for _, candidate := range formats {
		if candidate == f {
			return true
		}
	}
	return false
}
