package provider

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/NodLabs/xviz/codec"
	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/health"
	"github.com/NodLabs/xviz/xviz"
)

// DefaultLiveLog is the log name routed to the live relay.
const DefaultLiveLog = "live"

// LiveOptions configures the live relay entry.
type LiveOptions struct {
	// SinkURL is ws://, wss://, or nats://host:port/subject.
	SinkURL string
	// LogName is the log routed to the relay; empty means DefaultLiveLog.
	LogName string
	// HandshakeTimeout bounds the upstream dial.
	HandshakeTimeout time.Duration
	// TLS verifies wss:// and tls:// upstreams; nil uses the system defaults.
	TLS *tls.Config
	// Health receives the upstream connection state under LiveHealthComponent.
	Health *health.Monitor
	Logger *slog.Logger
}

// LiveHealthComponent names the upstream in the health monitor.
const LiveHealthComponent = "live-upstream"

func (o LiveOptions) logName() string {
	if o.LogName == "" {
		return DefaultLiveLog
	}
	return o.LogName
}

// LiveEntry returns the registry entry relaying an upstream feed.
func LiveEntry(opts LiveOptions) Entry {
	name := "live"
	if opts.LogName != "" && opts.LogName != DefaultLiveLog {
		name += "-" + opts.LogName
	}
	return Entry{
		Name:         name,
		Capabilities: NewCapabilities(LiveSimulated),
		Options:      opts,
		Match:        opts.match,
		Factory:      newLiveFromOptions,
	}
}

func (o LiveOptions) match(req Request) (string, bool) {
	if o.SinkURL == "" || req.Log != o.logName() {
		return "", false
	}
	return o.SinkURL, true
}

func newLiveFromOptions(_ context.Context, sinkURL string, options any) (Provider, error) {
	opts, _ := options.(LiveOptions)
	opts.SinkURL = sinkURL
	return NewLiveProvider(opts)
}

// upstream opens one feed connection per iterator.
type upstream interface {
	open(ctx context.Context) (feed, error)
}

// feed is one upstream connection.
type feed interface {
	read(ctx context.Context) ([]byte, error)
	send(ctx context.Context, data []byte) error
	close() error
}

// LiveProvider relays frames from an upstream feed. Each iterator holds its
// own upstream connection, so sessions never share a cursor.
type LiveProvider struct {
	sinkURL  string
	upstream upstream
	lastMeta atomic.Pointer[xviz.Message]
	health   *health.Monitor
	logger   *slog.Logger
}

// NewLiveProvider parses opts.SinkURL and selects the transport.
func NewLiveProvider(opts LiveOptions) (*LiveProvider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(opts.SinkURL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "LiveProvider", "NewLiveProvider", "parse sink url")
	}

	p := &LiveProvider{
		sinkURL: opts.SinkURL,
		health:  opts.Health,
		logger:  logger.With("component", "live-provider", "sink", opts.SinkURL),
	}

	switch u.Scheme {
	case "ws", "wss":
		timeout := opts.HandshakeTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		p.upstream = &wsUpstream{
			url:    opts.SinkURL,
			dialer: &websocket.Dialer{HandshakeTimeout: timeout, TLSClientConfig: opts.TLS},
		}
	case "nats", "tls":
		subject := strings.Trim(u.Path, "/")
		if subject == "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("nats sink %q has no subject path", opts.SinkURL),
				"LiveProvider", "NewLiveProvider", "parse nats subject")
		}
		server := *u
		server.Path = ""
		server.RawQuery = ""
		p.upstream = &natsUpstream{
			server:  server.String(),
			subject: subject,
			tls:     opts.TLS,
			health:  opts.Health,
			logger:  p.logger,
		}
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsupported sink scheme %q", u.Scheme),
			"LiveProvider", "NewLiveProvider", "select transport")
	}
	return p, nil
}

// ID returns the sink URL.
func (p *LiveProvider) ID() string { return p.sinkURL }

// Capabilities returns live-simulated.
func (p *LiveProvider) Capabilities() Capabilities { return NewCapabilities(LiveSimulated) }

// Formats returns the JSON formats.
func (p *LiveProvider) Formats() []codec.Format {
	return []codec.Format{codec.JSONString, codec.JSONBuffer}
}

// Metadata returns the last metadata seen upstream, or a bare header before any arrives.
func (p *LiveProvider) Metadata(_ context.Context) (*xviz.Message, error) {
	if m := p.lastMeta.Load(); m != nil {
		return m, nil
	}
	return xviz.NewMetadataMessage(&xviz.Metadata{Version: xviz.Version}), nil
}

// Frames connects upstream. start is ignored; a live feed cannot rewind.
func (p *LiveProvider) Frames(ctx context.Context, _ int) (FrameIterator, error) {
	f, err := p.upstream.open(ctx)
	if err != nil {
		p.health.Update(LiveHealthComponent, health.FromError(LiveHealthComponent, err))
		return nil, errors.ProviderIO(err, "LiveProvider", "Frames", "connect upstream")
	}
	p.health.UpdateHealthy(LiveHealthComponent, "connected")
	p.logger.Debug("Upstream connected")
	return &liveIterator{p: p, feed: f}, nil
}

// Close is a no-op; upstream connections belong to iterators.
func (p *LiveProvider) Close() error { return nil }

type liveIterator struct {
	p       *LiveProvider
	feed    feed
	n       int
	meta    *xviz.Message
	pending *xviz.Message // update read while waiting for metadata
}

// Metadata waits for the first upstream message. When it is metadata it
// becomes this feed's metadata; an update arriving first is held for Next and
// the provider's last known metadata is used instead.
func (it *liveIterator) Metadata(ctx context.Context) (*xviz.Message, error) {
	if it.meta != nil {
		return it.meta, nil
	}
	if it.pending == nil {
		msg, err := it.receive(ctx, "Metadata")
		if err != nil {
			return nil, err
		}
		if msg.IsMetadata() {
			it.meta = msg
			return msg, nil
		}
		it.pending = msg
	}
	return it.p.Metadata(ctx)
}

// Next reads upstream until a state update arrives. Metadata after the first
// message is cached on the provider, not relayed.
func (it *liveIterator) Next(ctx context.Context) (Frame, error) {
	for {
		msg := it.pending
		it.pending = nil
		if msg == nil {
			var err error
			if msg, err = it.receive(ctx, "Next"); err != nil {
				return Frame{}, err
			}
		}
		if msg.IsMetadata() {
			continue
		}

		frame := Frame{Index: it.n, Timestamp: msg.Timestamp(), Message: msg}
		it.n++
		return frame, nil
	}
}

// receive reads and decodes one upstream message, caching metadata on the provider.
func (it *liveIterator) receive(ctx context.Context, method string) (*xviz.Message, error) {
	data, err := it.feed.read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		it.p.health.Update(LiveHealthComponent, health.Degraded(LiveHealthComponent, err))
		return nil, errors.ProviderIO(err, "LiveProvider", method, "read upstream")
	}

	msg, _, err := codec.Decode(data)
	if err != nil {
		return nil, errors.ProviderIO(err, "LiveProvider", method, "decode upstream message")
	}
	if msg.IsMetadata() {
		it.p.lastMeta.Store(msg)
	}
	return msg, nil
}

// HandleControl forwards a client message to this iterator's upstream.
func (it *liveIterator) HandleControl(ctx context.Context, data []byte) error {
	if err := it.feed.send(ctx, data); err != nil {
		return errors.ProviderIO(err, "LiveProvider", "HandleControl", "forward control message")
	}
	return nil
}

func (it *liveIterator) Close() error {
	return it.feed.close()
}

type wsUpstream struct {
	url    string
	dialer *websocket.Dialer
}

func (u *wsUpstream) open(ctx context.Context) (feed, error) {
	conn, _, err := u.dialer.DialContext(ctx, u.url, nil)
	if err != nil {
		return nil, err
	}
	return &wsFeed{conn: conn}, nil
}

type wsFeed struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (f *wsFeed) read(ctx context.Context) ([]byte, error) {
	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = f.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := f.conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, fmt.Errorf("%w: %w", errors.ErrConnectionLost, err)
	}
	return data, err
}

func (f *wsFeed) send(ctx context.Context, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = f.conn.SetWriteDeadline(deadline)
		defer f.conn.SetWriteDeadline(time.Time{})
	}
	kind := websocket.BinaryMessage
	if utf8.Valid(data) {
		kind = websocket.TextMessage
	}
	return f.conn.WriteMessage(kind, data)
}

func (f *wsFeed) close() error {
	f.writeMu.Lock()
	_ = f.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	f.writeMu.Unlock()
	return f.conn.Close()
}

type natsUpstream struct {
	server  string
	subject string
	tls     *tls.Config
	health  *health.Monitor
	logger  *slog.Logger
}

func (u *natsUpstream) open(ctx context.Context) (feed, error) {
	opts := []nats.Option{
		nats.Name("xviz-live-relay"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrDisconnected
			}
			u.health.Update(LiveHealthComponent, health.Degraded(LiveHealthComponent, err))
			u.logger.Warn("Upstream disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			u.health.UpdateHealthy(LiveHealthComponent, "reconnected")
			u.logger.Info("Upstream reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			u.health.Update(LiveHealthComponent, health.Degraded(LiveHealthComponent, err))
			u.logger.Warn("Upstream error", "error", err)
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	if u.tls != nil {
		opts = append(opts, nats.Secure(u.tls))
	}

	nc, err := nats.Connect(u.server, opts...)
	if err != nil {
		return nil, err
	}

	// Pending messages queue on the subscription; overflow surfaces from
	// NextMsgWithContext as ErrSlowConsumer rather than being dropped unseen.
	sub, err := nc.SubscribeSync(u.subject)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, err
	}
	return &natsFeed{nc: nc, sub: sub, control: u.subject + ".control"}, nil
}

type natsFeed struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	control string
}

func (f *natsFeed) read(ctx context.Context) ([]byte, error) {
	msg, err := f.sub.NextMsgWithContext(ctx)
	if err != nil {
		if stderrors.Is(err, nats.ErrConnectionClosed) || stderrors.Is(err, nats.ErrBadSubscription) {
			return nil, fmt.Errorf("%w: %w", errors.ErrConnectionLost, err)
		}
		return nil, err
	}
	return msg.Data, nil
}

func (f *natsFeed) send(_ context.Context, data []byte) error {
	return f.nc.Publish(f.control, data)
}

func (f *natsFeed) close() error {
	err := f.sub.Unsubscribe()
	f.nc.Close()
	if stderrors.Is(err, nats.ErrConnectionClosed) || stderrors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}
