package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. XVIZ_PORT.
const DefaultEnvPrefix = "XVIZ"

// Loader layers configuration files over Default and applies environment
// overrides. Later layers override only the keys they set.
type Loader struct {
	layers     []string
	envPrefix  string
	validation bool
}

// NewLoader creates a loader with no layers and validation enabled.
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix, validation: true}
}

// AddLayer adds a configuration file. The format follows the extension:
// .yaml/.yml, .toml, or .json/.jsonc (comments and trailing commas allowed).
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation in Load. Callers that
// apply further overrides disable it and call Config.Validate themselves.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// WithEnvPrefix changes the environment variable prefix; empty disables overrides.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load merges all layers over Default, applies environment overrides, and
// validates unless validation was disabled.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		layer, err := loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, layer)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, err
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if !l.validation {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Load reads a single configuration file layered over Default.
// An empty path yields the defaults with environment overrides.
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	return l.Load()
}

// loadRaw reads path as a generic map in the format its extension names.
func loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		stripped := jsonc.ToJSON(data)
		if err := validateJSONDepth(stripped); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(stripped, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}
	return m, nil
}

// fromMap decodes merged settings, rejecting keys Config does not define.
func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// deepMergeMaps returns base with override applied; nested maps merge key by key.
func deepMergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = deepMergeMaps(existing, nested)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// applyEnvOverrides applies <prefix>_<KEY> variables on top of file settings.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if l.envPrefix == "" {
		return nil
	}

	get := func(key string) (string, bool, error) {
		name := l.envPrefix + "_" + key
		val := os.Getenv(name)
		if val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(name, val); err != nil {
			return "", false, err
		}
		return val, true, nil
	}

	strs := map[string]*string{
		"FORMAT":     &cfg.Format,
		"SINKURL":    &cfg.SinkURL,
		"LIVE_LOG":   &cfg.LiveLog,
		"LOG_LEVEL":  &cfg.Log.Level,
		"LOG_FORMAT": &cfg.Log.Format,
	}
	for key, dst := range strs {
		val, ok, err := get(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = val
		}
	}

	ints := map[string]*int{
		"PORT":           &cfg.Port,
		"DELAY":          &cfg.Delay,
		"RECONNECT":      &cfg.Reconnect,
		"MAX_RECONNECTS": &cfg.MaxReconnects,
		"BUFFER_SIZE":    &cfg.BufferSize,
		"CACHE_SIZE":     &cfg.CacheSize,
		"READ_AHEAD":     &cfg.ReadAhead,
	}
	for key, dst := range ints {
		val, ok, err := get(key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"LIVE":      &cfg.Live,
		"SCENARIOS": &cfg.Scenarios,
	}
	for key, dst := range bools {
		val, ok, err := get(key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, key, err)
		}
		*dst = b
	}

	val, ok, err := get("DIRECTORY")
	if err != nil {
		return err
	}
	if ok {
		cfg.Directory = strings.Split(val, string(os.PathListSeparator))
	}
	return nil
}
