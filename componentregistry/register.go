// Package componentregistry registers the built-in providers in resolution order.
package componentregistry

import (
	"errors"

	"github.com/NodLabs/xviz/config"
	pkgerrors "github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/provider"
)

// Register adds the providers cfg enables to registry and freezes it.
// Resolution tries them in this order:
//   - Scenario generator (scenario_<name> logs), when scenarios are enabled
//   - Archive reader, when directories are configured
//   - Live relay, when a sink URL is configured
//
// The first registered entry that matches a request wins.
func Register(registry *provider.Registry, cfg *config.Config, deps Dependencies) error {
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}
	if cfg == nil {
		return pkgerrors.WrapFatal(
			errors.New("config cannot be nil"),
			"ComponentRegistry", "Register", "config validation")
	}
	logger := deps.GetLogger()

	if cfg.Scenarios {
		if err := registry.Register(provider.ScenarioEntry(cfg.ScenarioOptions(logger))); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "scenario provider registration")
		}
	}

	if len(cfg.Directory) > 0 {
		if err := registry.Register(provider.ArchiveEntry(cfg.ArchiveOptions(logger, deps.MetricsRegistry))); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "archive provider registration")
		}
	}

	if cfg.SinkURL != "" {
		opts, err := cfg.LiveOptions(logger, deps.Health)
		if err != nil {
			return pkgerrors.WrapFatal(err, "ComponentRegistry", "Register", "live provider tls")
		}
		if err := registry.Register(provider.LiveEntry(opts)); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "live provider registration")
		}
	}

	registry.Freeze()
	return nil
}
