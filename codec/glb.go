package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/NodLabs/xviz/xviz"
)

// GLB container layout: 12-byte header (magic, version, total length)
// followed by chunks of (length, type, payload) padded to 4 bytes.
const (
	glbMagic       = 0x46546C67 // "glTF"
	glbVersion     = 2
	glbHeaderLen   = 12
	glbChunkHdrLen = 8
	chunkJSON      = 0x4E4F534A // "JSON"
)

type glbDocument struct {
	Asset struct {
		Version string `json:"version"`
	} `json:"asset"`
	XVIZ *xviz.Message `json:"xviz"`
}

// IsGLB reports whether data starts with the GLB magic.
func IsGLB(data []byte) bool {
	return len(data) >= glbHeaderLen && binary.LittleEndian.Uint32(data) == glbMagic
}

func encodeGLB(msg *xviz.Message) ([]byte, error) {
	doc := glbDocument{XVIZ: msg}
	doc.Asset.Version = "2"

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	// JSON chunk pads with spaces
	for len(payload)%4 != 0 {
		payload = append(payload, ' ')
	}

	total := glbHeaderLen + glbChunkHdrLen + len(payload)
	var buf bytes.Buffer
	buf.Grow(total)

	header := [5]uint32{glbMagic, glbVersion, uint32(total), uint32(len(payload)), chunkJSON}
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeGLB(data []byte) (*xviz.Message, error) {
	if !IsGLB(data) {
		return nil, fmt.Errorf("missing glb magic")
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != glbVersion {
		return nil, fmt.Errorf("unsupported glb version %d", v)
	}
	total := int(binary.LittleEndian.Uint32(data[8:]))
	if total > len(data) || total < glbHeaderLen {
		return nil, fmt.Errorf("glb length %d exceeds %d bytes", total, len(data))
	}

	for off := glbHeaderLen; off+glbChunkHdrLen <= total; {
		size := int(binary.LittleEndian.Uint32(data[off:]))
		kind := binary.LittleEndian.Uint32(data[off+4:])
		start := off + glbChunkHdrLen
		if size < 0 || start+size > total {
			return nil, fmt.Errorf("glb chunk at %d overruns container", off)
		}

		if kind == chunkJSON {
			var doc glbDocument
			if err := json.Unmarshal(data[start:start+size], &doc); err != nil {
				return nil, err
			}
			if doc.XVIZ == nil {
				return nil, fmt.Errorf("glb json chunk has no xviz message")
			}
			return doc.XVIZ, nil
		}
		// Binary chunks carry buffers referenced from JSON; the message itself is in JSON.
		off = start + size
	}
	return nil, fmt.Errorf("glb has no json chunk")
}
