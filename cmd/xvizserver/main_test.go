package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodLabs/xviz/config"
)

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xviz.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\ndelay: 80\nlive: true\n"), 0o600))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "--validate", "--port", "0", "-d", "/a,/b", "--format", "json_buffer"})
	require.NoError(t, cmd.Execute())

	got := out.String()
	assert.Contains(t, got, "port=0")
	assert.Contains(t, got, "directory=[/a /b]")
	assert.Contains(t, got, `format="JSON_BUFFER"`)
	// Unset flags keep file values.
	assert.Contains(t, got, "delay=80ms")
	assert.Contains(t, got, "live=true")
}

func TestFlagsCorrectInvalidFileValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xviz.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hz: 0\nbuffer_size: 0\n"), 0o600))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "--validate", "--hz", "5", "--buffer-size", "8"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.Contains(t, out.String(), "hz=5")

	// Without the flags the file value is still rejected, once, after flags.
	cmd = newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "--validate", "--hz", "5"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "buffer_size")
}

func TestValidateOnly(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--validate", "--live", "--delay", "25"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.Contains(t, out.String(), "delay=25ms")
	assert.Contains(t, out.String(), "live=true")
}

func TestInvalidFlagValue(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--validate", "--format", "protobuf"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunLogsListeningPort(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 0
	require.NoError(t, cfg.Validate())

	var logs syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, &logs) }()

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Listening on port")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		if entry["msg"] == "Listening on port" {
			assert.Greater(t, entry["port"], 0.0)
			assert.Equal(t, appName, entry["service"])
		}
	}
}

func TestRunRejectsUnreadableCertificate(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 0
	cfg.TLS.CertFile = "/nonexistent/cert.pem"
	cfg.TLS.KeyFile = "/nonexistent/key.pem"
	require.NoError(t, cfg.Validate())

	var logs syncBuffer
	err := run(context.Background(), cfg, &logs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configure listener")
}

func TestSetupLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
