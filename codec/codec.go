package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/xviz"
)

// Encode serializes msg in format f.
func Encode(f Format, msg *xviz.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "codec", "Encode", "encode nil message")
	}

	switch f {
	case JSONString, JSONBuffer:
		b, err := json.Marshal(msg)
		if err != nil {
			return nil, errors.WrapInvalid(err, "codec", "Encode", "marshal json")
		}
		return b, nil
	case BinaryGLB:
		b, err := encodeGLB(msg)
		if err != nil {
			return nil, errors.WrapInvalid(err, "codec", "Encode", "write glb")
		}
		return b, nil
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("unknown format %q", f), "codec", "Encode", "select encoder")
	}
}

// Decode parses data in whichever format it carries and reports that format.
// JSON is reported as JSONString since text and buffer framing are
// indistinguishable once read.
func Decode(data []byte) (*xviz.Message, Format, error) {
	if IsGLB(data) {
		msg, err := decodeGLB(data)
		if err != nil {
			return nil, "", errors.WrapInvalid(err, "codec", "Decode", "read glb")
		}
		return msg, BinaryGLB, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, "", errors.WrapInvalid(errors.ErrInvalidData, "codec", "Decode", "detect format")
	}

	var msg xviz.Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, "", errors.WrapInvalid(err, "codec", "Decode", "unmarshal json")
	}
	return &msg, JSONString, nil
}
