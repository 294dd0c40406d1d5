package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/NodLabs/xviz/codec"
	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/metric"
	"github.com/NodLabs/xviz/pkg/buffer"
	"github.com/NodLabs/xviz/pkg/retry"
	"github.com/NodLabs/xviz/provider"
	"github.com/NodLabs/xviz/xviz"
)

var (
	// ErrNotLive is returned by Attach on a session that cannot reconnect.
	ErrNotLive = stderrors.New("session is not live")
	// ErrAttachPending is returned by Attach when a replacement is already queued.
	ErrAttachPending = stderrors.New("replacement transport already pending")

	errNoTransport = stderrors.New("no replacement transport attached")
)

// metadataIndex marks the metadata message in the outbound queue.
const metadataIndex = -1

type outbound struct {
	index int
	data  []byte
}

// Session streams one provider to one client connection.
type Session struct {
	id       string
	lease    *provider.Lease
	prov     provider.Provider
	format   codec.Format
	cfg      Config
	interval time.Duration
	logger   *slog.Logger
	metrics  *metric.Metrics

	queueMetrics *buffer.Metrics

	state     atomic.Int32
	delivered atomic.Int64
	retries   atomic.Int64

	attach chan Transport
	done   chan struct{}

	mu        sync.Mutex
	cancel    context.CancelFunc
	transport Transport
	control   provider.ControlHandler
	cause     error
	running   bool

	readers   sync.WaitGroup
	closeOnce sync.Once
}

func newSession(
	id string, lease *provider.Lease, format codec.Format, cfg Config,
	logger *slog.Logger, metrics *metric.Metrics,
) *Session {
	s := &Session{
		id:       id,
		lease:    lease,
		prov:     lease.Provider,
		format:   format,
		cfg:      cfg,
		interval: pacingInterval(lease.Provider, cfg),
		logger:   logger,
		metrics:  metrics,
		attach:   make(chan Transport, 1),
		done:     make(chan struct{}),
	}
	if ch, ok := lease.Provider.(provider.ControlHandler); ok {
		s.control = ch
	}
	s.setState(StateNegotiating)
	if metrics != nil {
		metrics.RecordSessionOpened(lease.Entry, string(format))
	}
	return s
}

// pacingInterval is 1/hz for providers with their own rate, else cfg.Delay.
func pacingInterval(p provider.Provider, cfg Config) time.Duration {
	if paced, ok := p.(provider.Paced); ok && paced.Hz() > 0 {
		return time.Duration(float64(time.Second) / paced.Hz())
	}
	return cfg.Delay
}

// ID returns the session id clients use to reattach.
func (s *Session) ID() string { return s.id }

// Format returns the negotiated format, fixed for the session lifetime.
func (s *Session) Format() codec.Format { return s.format }

// Live reports whether the session paces and reconnects.
func (s *Session) Live() bool { return s.cfg.Live }

// Interval returns the pacing interval used in live mode.
func (s *Session) Interval() time.Duration { return s.interval }

// Provider returns the bound provider.
func (s *Session) Provider() provider.Provider { return s.prov }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Delivered returns the number of frames written to clients, metadata excluded.
func (s *Session) Delivered() int64 { return s.delivered.Load() }

// RetryCount returns the number of recovery attempts made so far.
func (s *Session) RetryCount() int64 { return s.retries.Load() }

// Done is closed once the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("Session state changed", "from", prev, "to", st)
	}
}

// Run streams until the provider is exhausted and every frame is delivered,
// the session is closed, ctx ends, or an unrecoverable error occurs. The
// session is CLOSED when Run returns.
func (s *Session) Run(ctx context.Context, t Transport) error {
	s.mu.Lock()
	if s.running || s.State() == StateClosed {
		s.mu.Unlock()
		_ = t.Close()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Session", "Run", "start session")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.transport = t
	s.mu.Unlock()
	defer cancel()

	queue, err := buffer.NewCircularBuffer[outbound](s.cfg.BufferSize,
		buffer.WithMetrics[outbound](s.queueMetrics))
	if err != nil {
		s.finish()
		return errors.WrapFatal(err, "Session", "Run", "create outbound queue")
	}

	s.setState(StateStreaming)
	s.startReader(runCtx, t)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := s.produce(gctx, queue)
		_ = queue.Close()
		return err
	})
	g.Go(func() error {
		return s.send(gctx, queue, t)
	})
	err = g.Wait()

	s.mu.Lock()
	if s.cause != nil {
		err = s.cause
	}
	current := s.transport
	s.mu.Unlock()

	cancel()
	_ = queue.Close()
	if current != nil {
		_ = current.Close()
	}
	s.readers.Wait()
	s.finish()

	// Close and parent cancellation are a normal end; fail always records a cause.
	if stderrors.Is(err, context.Canceled) || ctx.Err() != nil && stderrors.Is(err, ctx.Err()) {
		err = nil
	}
	qs := queue.Stats()
	if err != nil {
		s.recordError(err)
		s.logger.Warn("Session ended with error", "error", err, "kind", errors.Kind(err),
			"delivered", s.Delivered(), "backpressure_waits", qs.Overflows(), "queue_peak", qs.MaxSize())
	} else {
		s.logger.Info("Session ended", "delivered", s.Delivered(),
			"backpressure_waits", qs.Overflows(), "queue_peak", qs.MaxSize())
	}
	return err
}

// produce pushes metadata then frames into queue until the provider is exhausted.
func (s *Session) produce(ctx context.Context, queue buffer.Buffer[outbound]) error {
	cursor := 0
	iter, err := s.open(ctx, cursor)
	if err != nil {
		return err
	}
	defer func() {
		if iter != nil {
			_ = iter.Close()
		}
	}()

	meta, err := s.metadata(ctx, iter)
	if err != nil {
		return err
	}
	data, err := codec.Encode(s.format, meta)
	if err != nil {
		return errors.ProviderIO(err, "Session", "produce", "encode metadata")
	}
	if err := queue.Write(ctx, outbound{index: metadataIndex, data: data}); err != nil {
		return err
	}

	lastTS := 0.0
	haveTS := false
	failures := 0
	for {
		frame, err := iter.Next(ctx)
		if err == io.EOF {
			s.logger.Debug("Provider exhausted", "frames", cursor)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err = errors.ProviderIO(err, "Session", "produce", fmt.Sprintf("read frame %d", cursor))
			if !s.cfg.Live {
				return err
			}

			failures++
			if s.cfg.MaxReconnects > 0 && failures > s.cfg.MaxReconnects {
				return err
			}
			s.recordError(err)
			s.logger.Warn("Provider read failed, reopening", "error", err, "cursor", cursor)
			_ = iter.Close()
			iter = nil
			if iter, err = s.reopen(ctx, cursor); err != nil {
				return err
			}
			continue
		}
		failures = 0

		if haveTS && frame.Timestamp < lastTS {
			err := errors.ProviderIO(
				fmt.Errorf("frame %d timestamp %f precedes %f", frame.Index, frame.Timestamp, lastTS),
				"Session", "produce", "check frame order")
			if !s.cfg.Live {
				return err
			}
			// Live feeds cannot be rewound; report and skip the stale frame.
			s.recordError(err)
			s.logger.Warn("Skipping out-of-order live frame", "error", err)
			cursor = frame.Index + 1
			continue
		}
		lastTS, haveTS = frame.Timestamp, true

		data, err := codec.Encode(s.format, frame.Message)
		if err != nil {
			return errors.ProviderIO(err, "Session", "produce", fmt.Sprintf("encode frame %d", frame.Index))
		}
		if err := queue.Write(ctx, outbound{index: frame.Index, data: data}); err != nil {
			return err
		}
		cursor = frame.Index + 1
	}
}

// metadata asks the opened iterator first, then the provider. In live mode
// a failing provider is retried at the reconnect interval.
func (s *Session) metadata(ctx context.Context, iter provider.FrameIterator) (*xviz.Message, error) {
	if src, ok := iter.(provider.MetadataSource); ok {
		meta, err := src.Metadata(ctx)
		if err == nil {
			return meta, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = errors.ProviderIO(err, "Session", "produce", "read feed metadata")
		if !s.cfg.Live {
			return nil, err
		}
		s.recordError(err)
		s.logger.Warn("Feed metadata unavailable, using provider metadata", "error", err)
	}

	meta, err := s.prov.Metadata(ctx)
	if err == nil {
		return meta, nil
	}
	err = errors.ProviderIO(err, "Session", "produce", "read metadata")
	if !s.cfg.Live {
		return nil, err
	}
	s.recordError(err)
	meta, err = retry.DoWithResult(ctx, s.retryConfig(), func() (*xviz.Message, error) {
		return s.prov.Metadata(ctx)
	})
	if err != nil {
		return nil, errors.ProviderIO(err, "Session", "produce", "read metadata")
	}
	return meta, nil
}

// open starts the frame sequence at cursor and exposes its control handler.
func (s *Session) open(ctx context.Context, cursor int) (provider.FrameIterator, error) {
	iter, err := s.prov.Frames(ctx, cursor)
	if err != nil {
		err = errors.ProviderIO(err, "Session", "open", "open frames")
		if !s.cfg.Live {
			return nil, err
		}
		s.recordError(err)
		return s.reopen(ctx, cursor)
	}
	s.setControl(iter)
	return iter, nil
}

// reopen waits the reconnect interval before each attempt to open the sequence at cursor.
func (s *Session) reopen(ctx context.Context, cursor int) (provider.FrameIterator, error) {
	iter, err := retry.DoWithResult(ctx, s.retryConfig(), func() (provider.FrameIterator, error) {
		return s.prov.Frames(ctx, cursor)
	})
	if err != nil {
		return nil, errors.ProviderIO(err, "Session", "reopen", "reopen frames")
	}
	s.setControl(iter)
	return iter, nil
}

func (s *Session) retryConfig() retry.Config {
	cfg := retry.Fixed(s.cfg.Reconnect, s.cfg.MaxReconnects)
	cfg.OnRetry = func(attempt int, err error) {
		s.logger.Debug("Recovery attempt failed", "attempt", attempt, "error", err)
	}
	return cfg
}

// countAttempt records one reconnect attempt.
func (s *Session) countAttempt() {
	s.retries.Add(1)
	if s.metrics != nil {
		s.metrics.RecordReconnectAttempt()
	}
}

func (s *Session) setControl(iter provider.FrameIterator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := iter.(provider.ControlHandler); ok {
		s.control = ch
		return
	}
	if ch, ok := s.prov.(provider.ControlHandler); ok {
		s.control = ch
		return
	}
	s.control = nil
}

// send drains queue to the transport. A message whose write failed is kept
// and written first to the replacement transport.
func (s *Session) send(ctx context.Context, queue buffer.Buffer[outbound], t Transport) error {
	var limiter *rate.Limiter
	if s.cfg.Live && s.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.interval), 1)
	}

	var (
		pending   *outbound
		paced     bool
		lastFrame time.Time
	)
	for {
		if pending == nil {
			item, err := queue.Read(ctx)
			if stderrors.Is(err, buffer.ErrClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			pending = &item
			paced = false
		}

		if limiter != nil && pending.index != metadataIndex && !paced {
			if err := s.pace(ctx, limiter, lastFrame); err != nil {
				return err
			}
			paced = true
		}

		err := t.WriteMessage(ctx, s.format.Binary(), pending.data)
		if err == nil {
			if pending.index != metadataIndex {
				s.delivered.Add(1)
				lastFrame = time.Now()
			}
			if s.metrics != nil {
				s.metrics.RecordFrameSent(string(s.format), len(pending.data))
			}
			pending = nil
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = errors.Transport(err, "Session", "send", "write message")
		if !s.cfg.Live {
			return err
		}

		s.recordError(err)
		s.logger.Warn("Transport failed, waiting for client to reconnect", "error", err)
		_ = t.Close()

		if t, err = s.awaitTransport(ctx); err != nil {
			return err
		}
	}
}

// pace blocks until the limiter grants the next frame and at least one
// interval has passed since the previous frame was written.
func (s *Session) pace(ctx context.Context, limiter *rate.Limiter, last time.Time) error {
	wait := limiter.Reserve().Delay()
	if !last.IsZero() {
		wait = max(wait, s.interval-time.Since(last))
	}
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitTransport holds the session in RECONNECTING until a replacement
// transport is attached, checking every reconnect interval.
func (s *Session) awaitTransport(ctx context.Context) (Transport, error) {
	s.setState(StateReconnecting)

	t, err := retry.DoWithResult(ctx, s.retryConfig(), func() (Transport, error) {
		s.countAttempt()
		select {
		case t := <-s.attach:
			return t, nil
		default:
			return nil, errNoTransport
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Transport(err, "Session", "awaitTransport", "reconnect")
	}

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()

	s.startReader(ctx, t)
	s.setState(StateStreaming)
	if s.metrics != nil {
		s.metrics.RecordReattach()
	}
	s.logger.Info("Client reattached", "delivered", s.Delivered())
	return t, nil
}

// Attach hands a replacement transport to a live session. A session still
// streaming drops its current transport in favour of t.
func (s *Session) Attach(t Transport) error {
	if !s.cfg.Live {
		return ErrNotLive
	}
	if s.State() == StateClosed {
		return errors.ErrAlreadyStopped
	}

	select {
	case s.attach <- t:
	default:
		return ErrAttachPending
	}

	if s.State() == StateStreaming {
		s.mu.Lock()
		current := s.transport
		s.mu.Unlock()
		if current != nil && current != t {
			_ = current.Close()
		}
	}
	return nil
}

// startReader passes client messages to the provider until t fails.
func (s *Session) startReader(ctx context.Context, t Transport) {
	s.readers.Add(1)
	go func() {
		defer s.readers.Done()
		for {
			data, err := t.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if s.cfg.Live {
					// Unblocks a pending write so the sender enters RECONNECTING.
					_ = t.Close()
					return
				}
				s.fail(errors.Transport(err, "Session", "read", "read client message"))
				return
			}

			s.mu.Lock()
			ch := s.control
			s.mu.Unlock()
			if ch == nil {
				s.logger.Debug("Dropping client message, provider takes no control input", "bytes", len(data))
				continue
			}
			if err := ch.HandleControl(ctx, data); err != nil {
				s.logger.Warn("Provider rejected client message", "error", err)
			}
		}
	}()
}

// fail records the first terminal error and cancels the session.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.cause == nil {
		s.cause = err
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close ends the session from any state. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	running := s.running
	s.mu.Unlock()

	if running {
		s.setState(StateClosed)
		cancel()
		<-s.done
		return nil
	}
	s.finish()
	return nil
}

// finish releases the provider and marks the session CLOSED, once.
func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)

		// A transport queued by Attach after the session stopped is never used.
		select {
		case t := <-s.attach:
			_ = t.Close()
		default:
		}

		if err := s.lease.Release(); err != nil {
			s.logger.Warn("Failed to release provider", "error", err)
		}
		if s.metrics != nil {
			s.metrics.RecordSessionClosed()
		}
		close(s.done)
	})
}

func (s *Session) recordError(err error) {
	if s.metrics != nil {
		s.metrics.RecordError(errors.Kind(err))
	}
}
