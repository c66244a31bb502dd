// Package settings holds the engine's hot-reloadable system configuration:
// rate limits, cleanup policy, embedding model and context budget.
//
// The configuration is persisted as a JSON document by a [Source], parsed
// over [Defaults], and served from a TTL [Cache] so the retrieval path does
// not pay a store round-trip per call.
package settings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/54b3r/brandrag/internal/apperr"
)

// RateLimiting controls admission of embedding and feedback writes.
type RateLimiting struct {
	Enabled            bool `json:"enabled" yaml:"enabled"`
	GlobalMaxPerHour   int  `json:"globalMaxPerHour" yaml:"global_max_per_hour"`
	GlobalMaxPerDay    int  `json:"globalMaxPerDay" yaml:"global_max_per_day"`
	UserMaxPerHour     int  `json:"userMaxPerHour" yaml:"user_max_per_hour"`
	UserMaxPerDay      int  `json:"userMaxPerDay" yaml:"user_max_per_day"`
	FeedbackMaxPerHour int  `json:"feedbackMaxPerHour" yaml:"feedback_max_per_hour"`
}

// VectorCleanup controls eviction of aged, low-performing vectors.
type VectorCleanup struct {
	Enabled                 bool    `json:"enabled" yaml:"enabled"`
	RetentionDays           int     `json:"retentionDays" yaml:"retention_days"`
	MinPerformanceThreshold float64 `json:"minPerformanceThreshold" yaml:"min_performance_threshold"`
}

// Embedding selects the embedding model and its output size.
type Embedding struct {
	Model      string  `json:"model" yaml:"model"`
	Dimensions int     `json:"dimensions" yaml:"dimensions"`
	CostPer1K  float64 `json:"costPer1K" yaml:"cost_per_1k"`
}

// Performance tunes retrieval.
type Performance struct {
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarity_threshold"`
	MaxContextLength    int     `json:"maxContextLength" yaml:"max_context_length"`
	CacheEnabled        bool    `json:"cacheEnabled" yaml:"cache_enabled"`
	CacheTTLSeconds     int     `json:"cacheTTL" yaml:"cache_ttl"`
}

// SystemConfig is the process-wide engine configuration.
type SystemConfig struct {
	RateLimiting  RateLimiting  `json:"rateLimiting" yaml:"rate_limiting"`
	VectorCleanup VectorCleanup `json:"vectorCleanup" yaml:"vector_cleanup"`
	Embedding     Embedding     `json:"embedding" yaml:"embedding"`
	Performance   Performance   `json:"performance" yaml:"performance"`
}

// Defaults returns the hard-coded configuration used when nothing is stored
// or the stored document cannot be read.
func Defaults() SystemConfig {
	return SystemConfig{
		RateLimiting: RateLimiting{
			Enabled:            true,
			GlobalMaxPerHour:   1000,
			GlobalMaxPerDay:    10000,
			UserMaxPerHour:     50,
			UserMaxPerDay:      500,
			FeedbackMaxPerHour: 10,
		},
		VectorCleanup: VectorCleanup{
			Enabled:                 true,
			RetentionDays:           90,
			MinPerformanceThreshold: 0.3,
		},
		Embedding: Embedding{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			CostPer1K:  0.00002,
		},
		Performance: Performance{
			SimilarityThreshold: 0.7,
			MaxContextLength:    4000,
			CacheEnabled:        true,
			CacheTTLSeconds:     300,
		},
	}
}

// Parse decodes a stored JSON document over the defaults. Keys absent from
// data keep their default values.
func Parse(data []byte) (SystemConfig, error) {
	cfg := Defaults()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Defaults(), apperr.Wrap(err, apperr.CodeConfigLoadFailure, "parse system config")
	}
	return cfg, nil
}

// CacheTTL returns the cache lifetime implied by the configuration.
func (c SystemConfig) CacheTTL() time.Duration {
	if !c.Performance.CacheEnabled {
		return 0
	}
	if c.Performance.CacheTTLSeconds <= 0 {
		return DefaultTTL
	}
	return time.Duration(c.Performance.CacheTTLSeconds) * time.Second
}

// Source loads and stores the raw system configuration document.
// LoadSystemConfig returns nil data when nothing has been stored.
type Source interface {
	LoadSystemConfig(ctx context.Context) ([]byte, error)
	SaveSystemConfig(ctx context.Context, data []byte) error
}

// UserLimits is a per-user rate-limit override document.
type UserLimits struct {
	CustomEnabled bool `json:"customLimitsEnabled"`
	MaxPerHour    int  `json:"maxPerHour"`
	MaxPerDay     int  `json:"maxPerDay"`
}

// OverrideSource returns a user's override document. It returns nil with a
// nil error when the user has none.
type OverrideSource interface {
	UserLimits(ctx context.Context, userID string) (*UserLimits, error)
}

// Save encodes cfg and writes it through src.
func Save(ctx context.Context, src Source, cfg SystemConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidInput, "encode system config")
	}
	return src.SaveSystemConfig(ctx, data)
}
