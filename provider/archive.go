package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/NodLabs/xviz/codec"
	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/metric"
	"github.com/NodLabs/xviz/pkg/cache"
	"github.com/NodLabs/xviz/pkg/worker"
	"github.com/NodLabs/xviz/xviz"
)

// frameCache holds decoded archive files keyed by path.
type frameCache = cache.LRU[string, *xviz.Message]

// ArchiveOptions configures the archive entry.
type ArchiveOptions struct {
	// Roots are searched in order for <root>/<log>/1-frame.*.
	Roots []string
	// CacheSize bounds the decoded files shared by all archive sessions; 0 disables it.
	CacheSize int
	// ReadAhead is how many upcoming frames each session decodes into the
	// cache in the background; it needs CacheSize > 0.
	ReadAhead int
	// Metrics exports the cache statistics when set.
	Metrics *metric.MetricsRegistry
	Logger  *slog.Logger

	frames *frameCache
}

// ArchiveEntry returns the registry entry for on-disk logs.
func ArchiveEntry(opts ArchiveOptions) Entry {
	if opts.CacheSize > 0 {
		var cacheOpts []cache.Option[string, *xviz.Message]
		if opts.Metrics != nil {
			cacheOpts = append(cacheOpts, cache.WithMetrics[string, *xviz.Message](opts.Metrics, "archive"))
		}
		frames, err := cache.New[string, *xviz.Message](opts.CacheSize, cacheOpts...)
		if err != nil {
			logger := opts.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("Archive frame cache disabled", "error", err)
		}
		opts.frames = frames
	}
	return Entry{
		Name:         "archive",
		Capabilities: NewCapabilities(StaticArchive),
		Options:      opts,
		Match:        opts.match,
		Factory:      newArchiveFromOptions,
	}
}

func (o ArchiveOptions) match(req Request) (string, bool) {
	log, ok := cleanLogName(req.Log)
	if !ok {
		return "", false
	}
	for _, root := range o.Roots {
		dir := filepath.Join(root, filepath.FromSlash(log))
		if _, found := findMetadata(dir); found {
			return dir, true
		}
	}
	return "", false
}

func newArchiveFromOptions(_ context.Context, dir string, options any) (Provider, error) {
	opts, _ := options.(ArchiveOptions)
	p, err := NewArchiveProvider(dir, opts.Logger)
	if err != nil {
		return nil, err
	}
	p.cache = opts.frames
	if p.cache != nil && opts.ReadAhead > 0 {
		p.startReadAhead(opts.ReadAhead)
	}
	return p, nil
}

// cleanLogName rejects names that could escape a root.
func cleanLogName(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	clean := path.Clean("/" + name)[1:]
	if clean == "" || clean != strings.Trim(name, "/") {
		return "", false
	}
	return clean, true
}

type archiveFile struct {
	path   string
	n      int
	format codec.Format
	comp   codec.Compression
}

// parseFrameName parses "<n>-frame.<json|glb>[.zst|.lz4|.gz]".
func parseFrameName(name string) (archiveFile, bool) {
	base, comp := codec.SplitCompression(name)

	var format codec.Format
	switch strings.ToLower(filepath.Ext(base)) {
	case ".json":
		format = codec.JSONString
	case ".glb":
		format = codec.BinaryGLB
	default:
		return archiveFile{}, false
	}

	stem, ok := strings.CutSuffix(strings.TrimSuffix(base, filepath.Ext(base)), "-frame")
	if !ok {
		return archiveFile{}, false
	}
	n, err := strconv.Atoi(stem)
	if err != nil || n < 1 {
		return archiveFile{}, false
	}
	return archiveFile{n: n, format: format, comp: comp}, true
}

func findMetadata(dir string) (archiveFile, bool) {
	for _, ext := range []string{".json", ".glb"} {
		for _, comp := range codec.Compressions {
			p := filepath.Join(dir, "1-frame"+ext+string(comp))
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				f, _ := parseFrameName(filepath.Base(p))
				f.path = p
				return f, true
			}
		}
	}
	return archiveFile{}, false
}

// ArchiveProvider serves a directory of numbered frame files. File 1 holds
// metadata; files 2..N are frames in order.
type ArchiveProvider struct {
	dir    string
	meta   archiveFile
	frames []archiveFile
	logger *slog.Logger
	cache  *frameCache

	readAhead int
	pool      *worker.Pool[archiveFile]
	stopPool  context.CancelFunc
}

// NewArchiveProvider indexes dir.
func NewArchiveProvider(dir string, logger *slog.Logger) (*ArchiveProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	meta, ok := findMetadata(dir)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no 1-frame metadata in %s", dir),
			"ArchiveProvider", "NewArchiveProvider", "locate metadata")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WrapTransient(err, "ArchiveProvider", "NewArchiveProvider", "read directory")
	}

	var frames []archiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, ok := parseFrameName(e.Name())
		if !ok || f.n == 1 {
			continue
		}
		f.path = filepath.Join(dir, e.Name())
		frames = append(frames, f)
	}
	slices.SortFunc(frames, func(a, b archiveFile) int {
		if a.n != b.n {
			return a.n - b.n
		}
		return strings.Compare(a.path, b.path)
	})
	frames = slices.CompactFunc(frames, func(a, b archiveFile) bool { return a.n == b.n })

	p := &ArchiveProvider{
		dir:    dir,
		meta:   meta,
		frames: frames,
		logger: logger.With("component", "archive-provider", "dir", dir),
	}
	p.logger.Debug("Archive indexed", "frames", len(frames), "native", meta.format)
	return p, nil
}

// ID returns the archive directory.
func (p *ArchiveProvider) ID() string { return p.dir }

// Capabilities returns static-archive.
func (p *ArchiveProvider) Capabilities() Capabilities { return NewCapabilities(StaticArchive) }

// Formats lists the native format first, then the formats it can be transcoded to.
func (p *ArchiveProvider) Formats() []codec.Format {
	out := []codec.Format{p.meta.format}
	for _, f := range codec.Formats {
		if f != p.meta.format {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of frames.
func (p *ArchiveProvider) Len() int { return len(p.frames) }

// Metadata reads the metadata file.
func (p *ArchiveProvider) Metadata(_ context.Context) (*xviz.Message, error) {
	msg, err := p.read(p.meta)
	if err != nil {
		return nil, errors.ProviderIO(err, "ArchiveProvider", "Metadata", "read metadata")
	}
	if !msg.IsMetadata() {
		return nil, errors.ProviderIO(
			fmt.Errorf("%s holds %s", p.meta.path, msg.Type()),
			"ArchiveProvider", "Metadata", "check metadata type")
	}
	return msg, nil
}

// Frames opens an iterator positioned at start.
func (p *ArchiveProvider) Frames(_ context.Context, start int) (FrameIterator, error) {
	if start < 0 {
		start = 0
	}
	return &archiveIterator{p: p, pos: start}, nil
}

// Close stops the read-ahead workers. Files are opened per read.
func (p *ArchiveProvider) Close() error {
	if p.pool == nil {
		return nil
	}
	p.stopPool()
	return p.pool.Stop(time.Second)
}

// startReadAhead decodes upcoming frames into the cache on two workers.
func (p *ArchiveProvider) startReadAhead(n int) {
	pool := worker.NewPool(2, 4*n, func(_ context.Context, f archiveFile) error {
		_, err := p.read(f)
		return err
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		cancel()
		p.logger.Warn("Read-ahead disabled", "error", err)
		return
	}
	p.readAhead = n
	p.pool = pool
	p.stopPool = cancel
}

type archiveIterator struct {
	p     *ArchiveProvider
	pos   int
	ahead int // frames below this index were already queued for read-ahead
}

func (it *archiveIterator) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if it.pos >= len(it.p.frames) {
		return Frame{}, io.EOF
	}

	f := it.p.frames[it.pos]
	msg, err := it.p.read(f)
	if err != nil {
		return Frame{}, errors.ProviderIO(err, "ArchiveProvider", "Next", fmt.Sprintf("read frame %d", f.n))
	}

	frame := Frame{Index: it.pos, Timestamp: msg.Timestamp(), Message: msg}
	it.pos++
	it.prefetch()
	return frame, nil
}

// prefetch queues the next frames the cache does not hold. A full queue
// drops the rest; they are decoded on demand instead.
func (it *archiveIterator) prefetch() {
	p := it.p
	if p.pool == nil {
		return
	}
	end := min(it.pos+p.readAhead, len(p.frames))
	for i := max(it.pos, it.ahead); i < end; i++ {
		if !p.cache.Contains(p.frames[i].path) {
			if err := p.pool.Submit(p.frames[i]); err != nil {
				break
			}
		}
		it.ahead = i + 1
	}
}

func (it *archiveIterator) Close() error { return nil }

// read decodes f, through the shared cache when one is configured.
// Cached messages are shared and must not be modified.
func (p *ArchiveProvider) read(f archiveFile) (*xviz.Message, error) {
	if p.cache == nil {
		return readArchiveFile(f)
	}
	return p.cache.GetOrLoad(f.path, func(string) (*xviz.Message, error) {
		return readArchiveFile(f)
	})
}

func readArchiveFile(f archiveFile) (*xviz.Message, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	data, err := codec.Decompress(f.comp, fh)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", f.path, err)
	}
	msg, _, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return msg, nil
}
