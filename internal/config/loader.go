package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per capability. Used by
// [Validate] to warn about likely typos; unknown names are not an error so
// third-party registrations keep working.
var ValidProviderNames = map[string][]string{
	"chat":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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
// Unknown fields are rejected so typos fail loudly instead of silently
// falling back to defaults.
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

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Degraded-but-runnable
// configurations (no store, no providers) are warned about, not rejected.
func Validate(cfg *Config) error {
	var errs []error

	// Observe
	if cfg.Observe.LogLevel != "" && !cfg.Observe.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("observe.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Observe.LogLevel))
	}

	// Store
	if cfg.Store.PostgresDSN != "" {
		if cfg.Store.VoiceDimensions <= 0 {
			errs = append(errs, fmt.Errorf("store.voice_dimensions is required when store.postgres_dsn is set"))
		}
		if cfg.Store.TextDimensions <= 0 {
			errs = append(errs, fmt.Errorf("store.text_dimensions is required when store.postgres_dsn is set"))
		}
	} else {
		slog.Warn("store.postgres_dsn is empty; profiles will not be loaded or saved, auto-matching disabled")
	}

	// Provider chains
	errs = append(errs, validateChain("chat", cfg.Providers.Chat)...)
	errs = append(errs, validateChain("embeddings", cfg.Providers.Embeddings)...)

	if !cfg.Providers.Chat.Configured() {
		slog.Warn("providers.chat is not configured; name mentions will be recorded as unresolved zero-confidence judgments")
	}
	if cfg.Store.PostgresDSN != "" && !cfg.Providers.Embeddings.Configured() {
		slog.Warn("store is configured but providers.embeddings is not; the speaking-style channel cannot run, auto-matching disabled")
	}

	// Matcher
	if t := cfg.Matcher.VoiceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("matcher.voice_threshold %.2f is out of range (0, 1]", t))
	}
	if t := cfg.Matcher.TextThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("matcher.text_threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.Matcher.MinUtterances < 0 {
		errs = append(errs, fmt.Errorf("matcher.min_utterances %d must not be negative", cfg.Matcher.MinUtterances))
	}

	// Reasoner
	if temp := cfg.Reasoner.Temperature; temp < 0 || temp > 2 {
		errs = append(errs, fmt.Errorf("reasoner.temperature %.2f is out of range [0, 2]", temp))
	}
	if cfg.Reasoner.CallTimeout != "" {
		d, err := time.ParseDuration(cfg.Reasoner.CallTimeout)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("reasoner.call_timeout %q is not a valid duration: %w", cfg.Reasoner.CallTimeout, err))
		case d <= 0:
			errs = append(errs, fmt.Errorf("reasoner.call_timeout %q must be positive", cfg.Reasoner.CallTimeout))
		}
	}

	// Confirm
	if cfg.Confirm.MaxSampleTexts < 0 {
		errs = append(errs, fmt.Errorf("confirm.max_sample_texts %d must not be negative", cfg.Confirm.MaxSampleTexts))
	}

	return errors.Join(errs...)
}

// validateChain checks one provider chain: a fallback without a primary is a
// configuration mistake, and every entry needs a name. Unknown names get a
// warning only.
func validateChain(kind string, chain ChainConfig) []error {
	var errs []error

	if !chain.Configured() {
		if len(chain.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks configured without a primary", kind))
		}
		return errs
	}

	warnUnknownProvider(kind, chain.Primary.Name)
	for i, fb := range chain.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		warnUnknownProvider(kind, fb.Name)
	}

	return errs
}

// warnUnknownProvider logs a warning if name is not in the
// [ValidProviderNames] list for the given kind.
func warnUnknownProvider(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
