package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/NodLabs/xviz/codec"
	"github.com/NodLabs/xviz/xviz"
)

// WriteArchive writes meta as 1-frame and frames as 2-frame onwards under
// root/log, encoded in format and wrapped in comp. It returns the log directory.
func WriteArchive(
	t testing.TB, root, log string, meta *xviz.Message, frames []*xviz.Message,
	format codec.Format, comp codec.Compression,
) string {
	t.Helper()

	dir := filepath.Join(root, filepath.FromSlash(log))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create archive dir: %v", err)
	}

	ext := ".json"
	if format == codec.BinaryGLB {
		ext = ".glb"
	}

	write := func(n int, msg *xviz.Message) {
		data, err := codec.Encode(format, msg)
		if err != nil {
			t.Fatalf("encode frame %d: %v", n, err)
		}
		if data, err = codec.Compress(comp, data); err != nil {
			t.Fatalf("compress frame %d: %v", n, err)
		}
		name := fmt.Sprintf("%d-frame%s%s", n, ext, comp)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	write(1, meta)
	for i, msg := range frames {
		write(i+2, msg)
	}
	return dir
}
