package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"finitefield.org/university-web/internal/i18n"
)

const (
	defaultEnvFile         = ".env"
	defaultAPIBaseURL      = "http://localhost:8000"
	defaultAPITimeout      = 10 * time.Second
	defaultAPILangMode     = "both"
	defaultLanguage        = "ru"
	defaultSearchDebounce  = 500 * time.Millisecond
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultDownloadTimeout = 30 * time.Minute
	defaultRateLimitPerSec = 10
	defaultRateLimitBurst  = 20
	defaultLogLevel        = "info"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	API       APIConfig
	Locale    LocaleConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
	Home      HomeConfig
	Log       LogConfig
}

// APIConfig points at the backend content API.
type APIConfig struct {
	BaseURL  string
	Timeout  time.Duration
	LangMode string
	CacheTTL time.Duration
}

// LocaleConfig controls language defaults and search input behaviour.
type LocaleConfig struct {
	Default        i18n.Language
	SearchDebounce time.Duration
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// DownloadTimeout replaces WriteTimeout for streamed document downloads.
	DownloadTimeout time.Duration
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	Enabled   bool
	PerSecond int
	Burst     int
}

// HomeConfig selects the sections aggregated on the home endpoint.
type HomeConfig struct {
	Sections []string
}

// LogConfig sets the logger level.
type LogConfig struct {
	Level string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from defaults, .env overrides and
// environment variables (dotenv < OS env < explicit env map).
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string

	defaultLang, ok := i18n.Normalize(stringWithDefault(lookup, "UNIWEB_DEFAULT_LANG", defaultLanguage))
	if !ok {
		invalid = append(invalid, "Locale.Default")
	}

	cfg := Config{
		API: APIConfig{
			BaseURL:  strings.TrimRight(stringWithDefault(lookup, "UNIWEB_API_BASE_URL", defaultAPIBaseURL), "/"),
			Timeout:  durationWithDefault(lookup, "UNIWEB_API_TIMEOUT", defaultAPITimeout),
			LangMode: strings.ToLower(stringWithDefault(lookup, "UNIWEB_API_LANG_MODE", defaultAPILangMode)),
			CacheTTL: durationWithDefault(lookup, "UNIWEB_CACHE_TTL", 0),
		},
		Locale: LocaleConfig{
			Default:        defaultLang,
			SearchDebounce: durationWithDefault(lookup, "UNIWEB_SEARCH_DEBOUNCE", defaultSearchDebounce),
		},
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "UNIWEB_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "UNIWEB_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "UNIWEB_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "UNIWEB_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),

			DownloadTimeout: durationWithDefault(lookup, "UNIWEB_DOWNLOAD_TIMEOUT", defaultDownloadTimeout),
		},
		RateLimit: RateLimitConfig{
			Enabled:   boolWithDefault(lookup, "UNIWEB_RATELIMIT_ENABLED", true),
			PerSecond: intWithDefault(lookup, "UNIWEB_RATELIMIT_PER_SEC", defaultRateLimitPerSec),
			Burst:     intWithDefault(lookup, "UNIWEB_RATELIMIT_BURST", defaultRateLimitBurst),
		},
		Home: HomeConfig{
			Sections: csvWithDefault(lookup, "UNIWEB_HOME_SECTIONS"),
		},
		Log: LogConfig{
			Level: stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
		},
	}

	invalid = append(invalid, validateConfig(cfg)...)
	if len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	return cfg, nil
}

func validateConfig(cfg Config) []string {
	var invalid []string

	if u, err := url.Parse(cfg.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		invalid = append(invalid, "API.BaseURL")
	}
	if cfg.API.Timeout <= 0 {
		invalid = append(invalid, "API.Timeout")
	}
	switch cfg.API.LangMode {
	case "query", "header", "both":
	default:
		invalid = append(invalid, "API.LangMode")
	}
	if cfg.API.CacheTTL < 0 {
		invalid = append(invalid, "API.CacheTTL")
	}
	if cfg.Locale.SearchDebounce < 0 {
		invalid = append(invalid, "Locale.SearchDebounce")
	}
	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.RateLimit.Enabled && (cfg.RateLimit.PerSecond <= 0 || cfg.RateLimit.Burst <= 0) {
		invalid = append(invalid, "RateLimit")
	}
	return invalid
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(value, "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
