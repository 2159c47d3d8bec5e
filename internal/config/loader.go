package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini", "openai"},
	"chat":  {"gemini", "openai"},
	"audio": {"local"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
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

// envRef matches ${NAME} references. Bare $NAME is left alone so that
// instructions may contain dollar amounts.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces every ${NAME} in data with the value of the environment
// variable NAME. Unset variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. ${NAME} references are expanded from the environment before
// decoding, so API keys need not live in the file. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("chat", cfg.Providers.Chat.Name)
	validateProviderName("chat", cfg.Providers.ChatFallback.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	if cfg.Providers.Live.Name == "" {
		slog.Warn("providers.live is not configured; voice sessions will not be available")
	}
	if cfg.Providers.ChatFallback.Name != "" && cfg.Providers.Chat.Name == "" {
		errs = append(errs, errors.New("providers.chat_fallback requires providers.chat"))
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; session transcripts will not be archived")
	}

	if cfg.Memory.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("memory.max_conns %d must not be negative", cfg.Memory.MaxConns))
	}

	s := cfg.Session
	if s.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.input_sample_rate %d must be positive", s.InputSampleRate))
	}
	if s.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.output_sample_rate %d must be positive", s.OutputSampleRate))
	}
	if s.CaptureWindow < 0 {
		errs = append(errs, fmt.Errorf("session.capture_window %d must be positive", s.CaptureWindow))
	}
	if cfg.Providers.Live.Name == "openai" && (s.InputSampleRate != openAIRealtimeRate || s.OutputSampleRate != openAIRealtimeRate) {
		errs = append(errs, fmt.Errorf("providers.live openai requires session sample rates of %d", openAIRealtimeRate))
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
