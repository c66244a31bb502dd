// Package config provides YAML-based process configuration for brandrag.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so deployments can override any key.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. BRANDRAG_CONFIG environment variable
//  3. ~/.brandrag/config.yaml
//  4. ./brandrag.yaml
//
// If no file is found the system runs entirely from env vars. Engine tuning
// (rate limits, retention, similarity threshold) is not configured here; it
// lives in the hot-reloadable system configuration of package settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Vector backends selectable with VECTOR_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Store configures the document store and vector backend.
	Store StoreConfig `yaml:"store"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Cleanup configures the background retention sweep of `brandrag serve`.
	Cleanup CleanupConfig `yaml:"cleanup"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider settings. The model and
// dimension actually used per call come from the system configuration;
// these values seed the provider.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (openai, azure, ollama, gemini).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds a single embedding call, e.g. "10s".
	Timeout string `yaml:"timeout"`
	// OllamaHost is the Ollama API endpoint when Provider is ollama.
	OllamaHost string `yaml:"ollama_host"`
}

// StoreConfig selects where records live.
type StoreConfig struct {
	// DBPath is the SQLite database path (default ~/.brandrag/brandrag.db).
	DBPath string `yaml:"db_path"`
	// VectorBackend is sqlite or qdrant. Feedback, metrics and the system
	// configuration always live in SQLite.
	VectorBackend string `yaml:"vector_backend"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var BRANDRAG_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the per-IP request rate on protected routes.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst on protected routes.
	RateBurst int `yaml:"rate_burst"`
}

// CleanupConfig holds the retention sweep cadence.
type CleanupConfig struct {
	// Interval is a Go duration such as "168h". Empty uses the weekly default.
	Interval string `yaml:"interval"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
	set    func(*Config, string) error
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }, func(c *Config, v string) error { c.Embedding.Provider = v; return nil }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }, func(c *Config, v string) error { c.Embedding.Model = v; return nil }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }, func(c *Config, v string) error { return setInt(&c.Embedding.Dimensions, v) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }, func(c *Config, v string) error { c.Embedding.APIKey = v; return nil }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }, func(c *Config, v string) error { c.Embedding.Endpoint = v; return nil }},
	{"EMBEDDING_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }, func(c *Config, v string) error { c.Embedding.Timeout = v; return nil }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Embedding.OllamaHost }, func(c *Config, v string) error { c.Embedding.OllamaHost = v; return nil }},
	{"BRANDRAG_DB", func(c *Config) string { return c.Store.DBPath }, func(c *Config, v string) error { c.Store.DBPath = v; return nil }},
	{"VECTOR_BACKEND", func(c *Config) string { return c.Store.VectorBackend }, func(c *Config, v string) error { c.Store.VectorBackend = v; return nil }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }, func(c *Config, v string) error { c.Qdrant.Host = v; return nil }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }, func(c *Config, v string) error { return setInt(&c.Qdrant.Port, v) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }, func(c *Config, v string) error { c.Qdrant.Collection = v; return nil }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }, func(c *Config, v string) error { c.Qdrant.APIKey = v; return nil }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }, func(c *Config, v string) error { return setBool(&c.Qdrant.TLS, v) }},
	{"BRANDRAG_HOST", func(c *Config) string { return c.Server.Host }, func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{"BRANDRAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }, func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"BRANDRAG_API_KEY", func(c *Config) string { return c.Server.APIKey }, func(c *Config, v string) error { c.Server.APIKey = v; return nil }},
	{"BRANDRAG_RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }, func(c *Config, v string) error { return setFloat(&c.Server.RateLimit, v) }},
	{"BRANDRAG_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }, func(c *Config, v string) error { return setInt(&c.Server.RateBurst, v) }},
	{"CLEANUP_INTERVAL", func(c *Config) string { return c.Cleanup.Interval }, func(c *Config, v string) error { c.Cleanup.Interval = v; return nil }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }, func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }, func(c *Config, v string) error { c.Logging.Format = v; return nil }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env wins
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// FromEnv builds a Config from the environment, after Load has folded any
// YAML file into it, and fills defaults for unset keys.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	for _, m := range envMapping {
		v := strings.TrimSpace(os.Getenv(m.envKey))
		if v == "" {
			continue
		}
		if err := m.set(cfg, v); err != nil {
			return nil, fmt.Errorf("config: %s: %w", m.envKey, err)
		}
	}

	if cfg.Store.VectorBackend == "" {
		cfg.Store.VectorBackend = BackendSQLite
	}
	cfg.Store.VectorBackend = strings.ToLower(cfg.Store.VectorBackend)
	switch cfg.Store.VectorBackend {
	case BackendSQLite, BackendQdrant:
	default:
		return nil, fmt.Errorf("config: VECTOR_BACKEND: unknown backend %q (want sqlite or qdrant)", cfg.Store.VectorBackend)
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if _, err := cfg.CleanupInterval(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CleanupInterval parses Cleanup.Interval. Zero means "use the default".
func (c *Config) CleanupInterval() (time.Duration, error) {
	if c.Cleanup.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Cleanup.Interval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: CLEANUP_INTERVAL: invalid duration %q", c.Cleanup.Interval)
	}
	return d, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("BRANDRAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".brandrag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("brandrag.yaml"); err == nil {
		return "brandrag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer %q", v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", v)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", v)
	}
	*dst = b
	return nil
}
