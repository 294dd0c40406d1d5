package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodLabs/xviz/codec"
	"github.com/NodLabs/xviz/health"
	"github.com/NodLabs/xviz/metric"
	"github.com/NodLabs/xviz/pkg/tlsutil"
	"github.com/NodLabs/xviz/provider"
	"github.com/NodLabs/xviz/server"
	"github.com/NodLabs/xviz/session"
	xviztest "github.com/NodLabs/xviz/testutil"
)

type harness struct {
	port     int
	registry *metric.MetricsRegistry
	done     chan error
	cancel   context.CancelFunc
}

func newRegistry(t *testing.T, frames int) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry(nil, nil)
	require.NoError(t, reg.Register(provider.Entry{
		Name:         "stub",
		Capabilities: provider.NewCapabilities(provider.StaticArchive),
		Match: func(req provider.Request) (string, bool) {
			return req.Log, req.Log == "drive"
		},
		Factory: func(_ context.Context, _ string, _ any) (provider.Provider, error) {
			return xviztest.NewStubProvider(xviztest.StateUpdates(frames, 1000, 0.1)), nil
		},
	}))
	reg.Freeze()
	return reg
}

func start(t *testing.T, cfg session.Config, frames int) *harness {
	t.Helper()
	return startWith(t, server.Config{Port: 0}, cfg, frames)
}

func startWith(t *testing.T, srvCfg server.Config, cfg session.Config, frames int, opts ...server.Option) *harness {
	t.Helper()
	registry := metric.NewMetricsRegistry()
	h := session.NewProviderHandler(newRegistry(t, frames), cfg, nil, registry.CoreMetrics())
	require.NoError(t, h.RegisterQueueMetrics(registry))
	opts = append([]server.Option{server.WithMetrics(registry)}, opts...)
	srv := server.New([]server.Binding{h}, srvCfg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	ports := make(chan int, 1)
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx, func(port int) { ports <- port }) }()

	var port int
	select {
	case port = <-ports:
	case err := <-done:
		t.Fatalf("server did not start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not report ready")
	}

	hs := &harness{port: port, registry: registry, done: done, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return hs
}

func (h *harness) url(query string) string {
	return fmt.Sprintf("ws://127.0.0.1:%d/%s", h.port, query)
}

func dial(t *testing.T, url string) (*websocket.Conn, *http.Response) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, resp
}

// readAll reads until the server closes the connection.
func readAll(t *testing.T, conn *websocket.Conn) []float64 {
	t.Helper()
	var ts []float64
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return ts
		}
		msg, _, err := codec.Decode(data)
		require.NoError(t, err)
		if !msg.IsMetadata() {
			ts = append(ts, msg.Timestamp())
		}
	}
}

func TestServer_StreamsSession(t *testing.T) {
	h := start(t, session.Config{}, 5)

	conn, resp := dial(t, h.url("?log=drive"))
	assert.NotEmpty(t, resp.Header.Get(server.SessionHeader))

	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, _, err := codec.Decode(first)
	require.NoError(t, err)
	assert.True(t, msg.IsMetadata(), "metadata must come first")

	assert.Len(t, readAll(t, conn), 5)
}

func TestServer_PathNamesLog(t *testing.T) {
	h := start(t, session.Config{}, 2)

	conn, _ := dial(t, h.url("drive"))
	assert.Len(t, readAll(t, conn), 2)
}

func TestServer_UnsupportedFormatIsBadRequest(t *testing.T) {
	h := start(t, session.Config{}, 5)

	_, resp, err := websocket.DefaultDialer.Dial(h.url("?log=drive&format=BINARY_GLB"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UnknownLogIsNotFoundAndServerKeepsServing(t *testing.T) {
	h := start(t, session.Config{}, 3)

	_, resp, err := websocket.DefaultDialer.Dial(h.url("?log=missing"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _ := dial(t, h.url("?log=drive"))
	assert.Len(t, readAll(t, conn), 3)
}

func TestServer_ReattachLiveSession(t *testing.T) {
	cfg := session.Config{Live: true, Delay: 20 * time.Millisecond, Reconnect: 10 * time.Millisecond}
	h := start(t, cfg, 40)

	first, resp, err := websocket.DefaultDialer.Dial(h.url("?log=drive"), nil)
	require.NoError(t, err)
	id := resp.Header.Get(server.SessionHeader)
	require.NotEmpty(t, id)

	var before []float64
	for len(before) < 3 {
		_, data, err := first.ReadMessage()
		require.NoError(t, err)
		msg, _, err := codec.Decode(data)
		require.NoError(t, err)
		if !msg.IsMetadata() {
			before = append(before, msg.Timestamp())
		}
	}
	require.NoError(t, first.Close())

	second, resp, err := websocket.DefaultDialer.Dial(h.url("?session="+id), nil)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, id, resp.Header.Get(server.SessionHeader))

	after := readAll(t, second)
	require.NotEmpty(t, after)
	assert.Greater(t, after[0], before[len(before)-1], "no frame is delivered twice")
	for i := 1; i < len(after); i++ {
		assert.Less(t, after[i-1], after[i])
	}
	assert.InDelta(t, 1003.9, after[len(after)-1], 1e-9)
}

func TestServer_ReattachUnknownSession(t *testing.T) {
	h := start(t, session.Config{Live: true}, 3)

	_, resp, err := websocket.DefaultDialer.Dial(h.url("?session=nope"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	h := start(t, session.Config{}, 2)

	conn, _ := dial(t, h.url("?log=drive"))
	readAll(t, conn)
	_, _, _ = websocket.DefaultDialer.Dial(h.url("?log=missing"), nil)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", h.port))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(text, `xviz_sessions_total{format="JSON_STRING",provider="stub"} 1`), text)
	assert.Contains(t, text, "xviz_providers_resolution_failures_total 1")
	// Metadata plus two frames passed through the session's outbound queue.
	assert.Contains(t, text, `xviz_buffer_writes_total{component="session_queue"} 3`)
	assert.Contains(t, text, `xviz_buffer_reads_total{component="session_queue"} 3`)
}

func TestServer_RejectsSessionsOnceShutDown(t *testing.T) {
	reg := newRegistry(t, 3)
	h := session.NewProviderHandler(reg, session.Config{}, nil, nil)
	srv := server.New([]server.Binding{h}, server.Config{Port: 0})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan int, 1)
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx, func(port int) { ready <- port }) }()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not report ready")
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// A handshake still in flight when shutdown finished is refused before
	// the upgrade and its provider lease is returned.
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?log=drive", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, srv.Sessions())
	assert.Equal(t, 0, reg.Active())
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	h := start(t, session.Config{Live: true, Delay: 50 * time.Millisecond}, 1000)

	conn, _ := dial(t, h.url("?log=drive"))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	h.done <- nil // consumed by cleanup

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.False(t, isTimeout(err), "connection should be closed, not idle")
			return
		}
	}
}

func TestServer_BindFailureIsReturned(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := server.New(nil, server.Config{Port: port})
	called := false
	err = srv.Start(context.Background(), func(int) { called = true })
	require.Error(t, err)
	assert.False(t, called)
}

func TestServer_Health(t *testing.T) {
	monitor := health.NewMonitor()
	h := startWith(t, server.Config{Port: 0}, session.Config{}, 1, server.WithHealth(monitor))

	s, ok := monitor.Get(server.HealthComponent)
	require.True(t, ok)
	assert.True(t, s.IsHealthy())

	get := func() (int, health.Status) {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", h.port))
		require.NoError(t, err)
		defer resp.Body.Close()
		var body health.Status
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, body := get()
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.IsHealthy())

	monitor.UpdateDegraded(provider.LiveHealthComponent, "reconnecting")
	code, body = get()
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.IsDegraded())

	monitor.UpdateUnhealthy(provider.LiveHealthComponent, "unreachable")
	code, _ = get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServer_TLS(t *testing.T) {
	certFile, keyFile := xviztest.WriteSelfSigned(t, t.TempDir())
	tlsCfg, err := tlsutil.LoadServerTLSConfig(tlsutil.ServerConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)

	h := startWith(t, server.Config{Port: 0, TLS: tlsCfg}, session.Config{}, 3)

	clientCfg, err := tlsutil.LoadClientTLSConfig(tlsutil.ClientConfig{CAFiles: []string{certFile}})
	require.NoError(t, err)
	dialer := websocket.Dialer{TLSClientConfig: clientCfg, HandshakeTimeout: 5 * time.Second}

	conn, _, err := dialer.Dial(fmt.Sprintf("wss://localhost:%d/?log=drive", h.port), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Len(t, readAll(t, conn), 3)

	_, _, err = websocket.DefaultDialer.Dial(h.url("?log=drive"), nil)
	assert.Error(t, err, "plain ws is refused on a TLS listener")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
