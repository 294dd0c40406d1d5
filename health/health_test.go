package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want State
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, StateUnhealthy},
		{"unhealthy before degraded", []Status{NewUnhealthy("a", ""), NewDegraded("b", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want == StateHealthy, got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("live", nil).IsHealthy())

	s := FromError("live", errors.New("dial wss://user:pw@feed.example.com:9443/stream: connection refused"))
	assert.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "feed.example.com")
	assert.Contains(t, s.Message, "[URL]")
	assert.Contains(t, s.Message, "connection refused")

	d := Degraded("live", errors.New("read /var/log/xviz/run failed"))
	assert.True(t, d.IsDegraded())
	assert.Equal(t, "read [PATH] failed", d.Message)
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain failure", "plain failure"},
		{"connect nats://10.0.0.5:4222/xviz.live", "connect [URL]"},
		{"peer 192.168.1.10 reset", "peer [IP] reset"},
		{"listen on :8081 failed", "listen on [PORT] failed"},
		{"auth failed password=hunter2", "auth failed [REDACTED]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeErrorMessage(tt.in), tt.in)
	}
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("server", "listening")
	m.UpdateDegraded("live-upstream", "reconnecting")

	s, ok := m.Get("server")
	require.True(t, ok)
	assert.Equal(t, "server", s.Component)
	assert.False(t, s.Timestamp.IsZero())

	// Update forces the component name.
	m.Update("archive", NewHealthy("wrong", ""))
	s, _ = m.Get("archive")
	assert.Equal(t, "archive", s.Component)

	agg := m.AggregateHealth("xviz")
	assert.True(t, agg.IsDegraded())
	names := []string{}
	for _, sub := range agg.SubStatuses {
		names = append(names, sub.Component)
	}
	assert.Equal(t, []string{"archive", "live-upstream", "server"}, names)

	m.Remove("live-upstream")
	assert.True(t, m.AggregateHealth("xviz").IsHealthy())

	var nilMonitor *Monitor
	nilMonitor.UpdateHealthy("x", "no-op")
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if i%2 == 0 {
					m.UpdateHealthy("a", "")
				} else {
					m.UpdateDegraded("a", "")
				}
				_ = m.AggregateHealth("sys")
			}
		}()
	}
	wg.Wait()
	_, ok := m.Get("a")
	assert.True(t, ok)
}

func TestHandler(t *testing.T) {
	m := NewMonitor()
	h := Handler(m, "xvizserver")

	get := func(method string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/healthz", nil))
		return rec
	}

	m.UpdateDegraded("live-upstream", "reconnecting")
	rec := get(http.MethodGet)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "xvizserver", body.Component)
	assert.Equal(t, StateDegraded, body.Status)
	require.Len(t, body.SubStatuses, 1)

	m.UpdateUnhealthy("server", "shutting down")
	assert.Equal(t, http.StatusServiceUnavailable, get(http.MethodGet).Code)

	head := get(http.MethodHead)
	assert.Equal(t, http.StatusServiceUnavailable, head.Code)
	assert.Empty(t, head.Body.String())

	assert.Equal(t, http.StatusMethodNotAllowed, get(http.MethodPost).Code)
}
