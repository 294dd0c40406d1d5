package codec

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is a file-level compression wrapper for archived frames.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionZstd Compression = ".zst"
	CompressionLZ4  Compression = ".lz4"
	CompressionGzip Compression = ".gz"
)

// Compressions lists the recognised suffixes in lookup order.
var Compressions = []Compression{CompressionNone, CompressionZstd, CompressionLZ4, CompressionGzip}

// SplitCompression strips a known compression suffix from name.
func SplitCompression(name string) (string, Compression) {
	ext := Compression(strings.ToLower(filepath.Ext(name)))
	switch ext {
	case CompressionZstd, CompressionLZ4, CompressionGzip:
		return strings.TrimSuffix(name, filepath.Ext(name)), ext
	}
	return name, CompressionNone
}

// Decompress reads all of r through the decoder for c.
func Decompress(c Compression, r io.Reader) ([]byte, error) {
	switch c {
	case CompressionNone:
		return io.ReadAll(r)
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(r))
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

// Compress encodes data with c.
func Compress(c Compression, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser

	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		w = enc
	case CompressionLZ4:
		w = lz4.NewWriter(&buf)
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
