package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"model":      {"gemini"},
	"transcribe": {"deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("model", cfg.Providers.Model.Name)
	validateProviderName("model", cfg.Providers.FastModel.Name)
	validateProviderName("transcribe", cfg.Providers.Transcribe.Name)

	// Provider availability warnings
	if cfg.Providers.Model.Name == "" {
		slog.Warn("providers.model is not configured; chat responses and ambient suggestions will be unavailable")
	}
	if cfg.Providers.Transcribe.Name == "" {
		slog.Warn("providers.transcribe is not configured; voice mode will be unavailable")
	}

	// Assistant
	if cfg.Assistant.Debounce < 0 {
		errs = append(errs, fmt.Errorf("assistant.debounce %s must not be negative", cfg.Assistant.Debounce))
	}
	if cfg.Assistant.SuggestionTTL < 0 {
		errs = append(errs, fmt.Errorf("assistant.suggestion_ttl %s must not be negative", cfg.Assistant.SuggestionTTL))
	}

	// History availability
	if cfg.History.Path == "" && cfg.History.PostgresDSN == "" {
		slog.Warn("history.path and history.postgres_dsn are both empty; conversation history will not survive restarts")
	}
	if cfg.History.Path != "" && cfg.History.PostgresDSN != "" {
		slog.Warn("history.path is ignored because history.postgres_dsn is set")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
