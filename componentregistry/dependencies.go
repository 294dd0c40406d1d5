package componentregistry

import (
	"log/slog"

	"github.com/NodLabs/xviz/health"
	"github.com/NodLabs/xviz/metric"
)

// Dependencies are the shared services handed to providers at registration.
// Every field may be nil.
type Dependencies struct {
	MetricsRegistry *metric.MetricsRegistry // Archive frame cache statistics
	Health          *health.Monitor         // Live upstream connection state
	Logger          *slog.Logger            // Defaults to slog.Default()
}

// GetLogger returns the configured logger or the default one.
func (d Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
