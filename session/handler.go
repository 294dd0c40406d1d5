package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/NodLabs/xviz/codec"
	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/metric"
	"github.com/NodLabs/xviz/pkg/buffer"
	"github.com/NodLabs/xviz/provider"
)

// Resolver finds the provider for a request.
type Resolver interface {
	Resolve(ctx context.Context, req provider.Request) (*provider.Lease, error)
}

// ProviderHandler creates sessions bound to providers from a Resolver.
type ProviderHandler struct {
	resolver Resolver
	cfg      Config
	logger   *slog.Logger
	metrics  *metric.Metrics
	queue    *buffer.Metrics
}

// NewProviderHandler creates a handler. metrics may be nil.
func NewProviderHandler(resolver Resolver, cfg Config, logger *slog.Logger, metrics *metric.Metrics) *ProviderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderHandler{
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  metrics,
	}
}

// queueMetricsComponent labels the outbound queue metrics of all sessions.
const queueMetricsComponent = "session_queue"

// RegisterQueueMetrics registers one set of outbound queue metrics that every
// session created afterwards reports into. Call it once, before serving.
func (h *ProviderHandler) RegisterQueueMetrics(registry *metric.MetricsRegistry) error {
	m, err := buffer.NewMetrics(registry, queueMetricsComponent)
	if err != nil {
		return err
	}
	h.queue = m
	return nil
}

// Config returns the effective configuration.
func (h *ProviderHandler) Config() Config {
	return h.cfg
}

// NewSession resolves a provider for r and negotiates the output format.
// Nothing has been written to the client when this returns: on error the
// caller must not upgrade the connection.
func (h *ProviderHandler) NewSession(r *http.Request) (*Session, error) {
	req := provider.RequestFromHTTP(r)

	lease, err := h.resolver.Resolve(r.Context(), req)
	if err != nil {
		return nil, err
	}

	format, err := Negotiate(lease.Provider, req.Params.Get("format"), h.cfg.Format)
	if err != nil {
		if rerr := lease.Release(); rerr != nil {
			h.logger.Warn("Failed to release provider after negotiation failure", "error", rerr)
		}
		return nil, err
	}

	id := uuid.NewString()
	s := newSession(id, lease, format, h.cfg, h.logger.With("session", id, "log", req.Log), h.metrics)
	s.queueMetrics = h.queue
	s.logger.Info("Session negotiated",
		"provider", lease.Provider.ID(),
		"format", format,
		"live", h.cfg.Live)
	return s, nil
}

// Negotiate picks the session format: requested if set, else configured,
// else the provider's native format. An unknown or unsupported format is a
// ConfigurationError.
func Negotiate(p provider.Provider, requested string, configured codec.Format) (codec.Format, error) {
	name := requested
	if name == "" {
		name = string(configured)
	}
	if name == "" {
		return provider.NativeFormat(p), nil
	}

	f, err := codec.ParseFormat(name)
	if err != nil {
		return "", errors.Configuration(err, "ProviderHandler", "Negotiate", "parse format")
	}
	if !codec.Contains(p.Formats(), f) {
		return "", errors.Configuration(
			fmt.Errorf("provider %s does not support %s", p.ID(), f),
			"ProviderHandler", "Negotiate", "check provider formats")
	}
	return f, nil
}
