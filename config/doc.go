// Package config loads server settings from YAML, TOML or JSON-with-comments
// files.
//
// Files are layered over Default: each layer overrides only the keys it sets,
// nested sections merge key by key, and unknown keys are rejected. The file
// format follows the extension (.yaml/.yml, .toml, .json/.jsonc). Environment
// variables prefixed XVIZ_ (XVIZ_PORT, XVIZ_LIVE, XVIZ_SINKURL, ...) are
// applied last, then the result is validated.
//
//	cfg, err := config.Load("xviz.yaml")
//	if err != nil {
//		return err
//	}
//	handler := session.NewProviderHandler(registry, cfg.Session(), logger, metrics)
//
// Durations keep the units of the command-line options: delay and reconnect
// in milliseconds, duration in seconds.
package config
