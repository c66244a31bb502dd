// Package engine is the public face of the personalization engine. It owns
// the write path (insert and upsert of vector records, gated by the rate
// limiter) and the read path (embed, scan, rank, assemble).
//
// The engine is a best-effort side channel: apart from input validation and
// an explicit rate-limit denial on writes, every failure is logged and
// absorbed so callers never fail because of it.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/metrics"
	"github.com/54b3r/brandrag/internal/ratelimit"
	"github.com/54b3r/brandrag/internal/settings"
	"github.com/54b3r/brandrag/internal/vector"
)

// MaxUpdateAttempts bounds the optimistic-concurrency retry loop of
// UpsertByContentID and UpdatePerformance.
const MaxUpdateAttempts = 3

// Embedder turns text into a vector. ok is false when the vector is a
// fallback rather than a real embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) (vec []float32, ok bool)
}

// Admission decides whether a user may spend embedding budget.
type Admission interface {
	Check(ctx context.Context, userID string) (ratelimit.Decision, error)
}

// Config holds the dependencies of an Engine.
type Config struct {
	Repo     vector.Repository
	Embedder Embedder
	Limiter  Admission
	Settings *settings.Cache
	Now      func() time.Time
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Engine stores and retrieves a user's vectorized content.
type Engine struct {
	repo     vector.Repository
	embedder Embedder
	limiter  Admission
	settings *settings.Cache
	now      func() time.Time
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New returns an Engine.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:     cfg.Repo,
		embedder: cfg.Embedder,
		limiter:  cfg.Limiter,
		settings: cfg.Settings,
		now:      now,
		metrics:  cfg.Metrics,
		log:      logging.Component(cfg.Logger, "engine"),
	}
}

// InsertInput describes a new piece of content to vectorize.
type InsertInput struct {
	UserID           string               `json:"userId"`
	ContentType      vector.ContentType   `json:"contentType"`
	ContentID        string               `json:"contentId"`
	Text             string               `json:"text"`
	Metadata         vector.MetadataPatch `json:"metadata"`
	SourceCollection string               `json:"sourceCollection,omitempty"`
	SourceDocID      string               `json:"sourceDocId,omitempty"`
}

// UpsertInput describes a change to existing content. An empty Text is a
// metadata-only update that keeps the stored text and embedding.
type UpsertInput struct {
	UserID    string               `json:"userId"`
	ContentID string               `json:"contentId"`
	Text      string               `json:"text,omitempty"`
	Metadata  vector.MetadataPatch `json:"metadata"`
	// ContentType is used when no record exists yet and Text is set, in
	// which case the upsert inserts a new record.
	ContentType vector.ContentType `json:"contentType,omitempty"`
}

// Insert embeds in.Text and appends a new record with version 1.
//
// It returns an input.invalid error for a missing user id or unknown
// content type, and a *apperr.RateLimitError when the user is over budget.
// Empty text is skipped without spending rate-limit budget. Every other
// failure is logged and Insert returns nil.
func (e *Engine) Insert(ctx context.Context, in InsertInput) error {
	if in.UserID == "" {
		return apperr.New(apperr.CodeInvalidInput, "user id is required")
	}
	if !in.ContentType.Valid() {
		return apperr.New(apperr.CodeInvalidInput, "unknown content type",
			apperr.Field("content_type", string(in.ContentType)))
	}
	if in.Text == "" {
		e.log.Debug("insert without text skipped",
			slog.String("user_id", in.UserID),
			slog.String("content_id", in.ContentID),
		)
		return nil
	}
	if err := e.admit(ctx, in.UserID); err != nil {
		return err
	}

	vec, _ := e.embedder.Embed(ctx, in.Text)
	e.insert(ctx, in, vec)
	return nil
}

func (e *Engine) insert(ctx context.Context, in InsertInput, vec []float32) {
	rec := &vector.Record{
		UserID:           in.UserID,
		ContentType:      in.ContentType,
		ContentID:        in.ContentID,
		Embedding:        vec,
		TextContent:      in.Text,
		Metadata:         vector.NewMetadata(in.Metadata, e.now()),
		SourceCollection: in.SourceCollection,
		SourceDocID:      in.SourceDocID,
	}
	if err := e.repo.Insert(ctx, rec); err != nil {
		e.metrics.StoreFailure("insert")
		e.log.Warn("store vector failed",
			slog.String("user_id", in.UserID),
			slog.String("content_id", in.ContentID),
			logging.Err(err),
		)
		return
	}
	e.log.Debug("vector stored",
		slog.String("user_id", in.UserID),
		slog.String("content_id", in.ContentID),
		slog.String("id", rec.ID),
	)
}

// UpsertByContentID updates the record with in.ContentID in the user's
// partition.
//
// With non-empty Text the embedding is regenerated (spending rate-limit
// budget) and text and embedding are overwritten. With empty Text only the
// metadata patch is merged. Both branches bump the version. A concurrent
// change to the same record is detected by version and the update is
// re-applied on the fresh copy up to MaxUpdateAttempts times.
//
// When no record exists and Text and ContentType are set, a new record is
// inserted; otherwise a missing record is a no-op.
func (e *Engine) UpsertByContentID(ctx context.Context, in UpsertInput) error {
	if in.UserID == "" {
		return apperr.New(apperr.CodeInvalidInput, "user id is required")
	}

	var vec []float32
	if in.Text != "" {
		if err := e.admit(ctx, in.UserID); err != nil {
			return err
		}
		vec, _ = e.embedder.Embed(ctx, in.Text)
	}

	found, err := e.update(ctx, in.UserID, in.ContentID, func(rec *vector.Record) {
		in.Metadata.Apply(&rec.Metadata)
		if in.Text != "" {
			rec.TextContent = in.Text
			rec.Embedding = vec
		}
	})
	if err != nil {
		e.log.Warn("upsert vector failed",
			slog.String("user_id", in.UserID),
			slog.String("content_id", in.ContentID),
			logging.Err(err),
		)
		return nil
	}
	if !found {
		if in.Text != "" && in.ContentType.Valid() {
			e.insert(ctx, InsertInput{
				UserID:      in.UserID,
				ContentType: in.ContentType,
				ContentID:   in.ContentID,
				Text:        in.Text,
				Metadata:    in.Metadata,
			}, vec)
			return nil
		}
		e.log.Debug("upsert target not found, skipping",
			slog.String("user_id", in.UserID),
			slog.String("content_id", in.ContentID),
		)
	}
	return nil
}

// UpdatePerformance replaces the record's performance with fn(current) as
// a metadata-only update. A missing record is a no-op. Unlike the other
// write operations it returns store errors so the caller can log them in
// its own context.
func (e *Engine) UpdatePerformance(ctx context.Context, userID, contentID string, fn func(current float64) float64) error {
	_, err := e.update(ctx, userID, contentID, func(rec *vector.Record) {
		perf := fn(rec.Metadata.Performance)
		vector.MetadataPatch{Performance: &perf}.Apply(&rec.Metadata)
	})
	return err
}

// update runs a read-modify-write of one record with optimistic
// concurrency. It reports false when the record does not exist.
func (e *Engine) update(ctx context.Context, userID, contentID string, mutate func(*vector.Record)) (bool, error) {
	for attempt := 1; ; attempt++ {
		rec, err := e.repo.FindByContentID(ctx, userID, contentID)
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			e.metrics.StoreFailure("find")
			return false, err
		}

		expected := rec.Metadata.Version
		mutate(rec)
		rec.Metadata.Version = expected + 1
		rec.Metadata.UpdatedAt = e.now()

		err = e.repo.Update(ctx, rec, expected)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, apperr.ErrVersionConflict) || attempt >= MaxUpdateAttempts {
			e.metrics.StoreFailure("update")
			return true, err
		}
		e.log.Debug("version conflict, retrying update",
			slog.String("user_id", userID),
			slog.String("content_id", contentID),
			slog.Int("attempt", attempt),
		)
	}
}

// admit runs the write-path rate limit. A limiter failure lets the write
// through; only an explicit denial is returned.
func (e *Engine) admit(ctx context.Context, userID string) error {
	d, err := e.limiter.Check(ctx, userID)
	if err != nil {
		e.log.Warn("rate limit check failed, allowing write",
			slog.String("user_id", userID),
			logging.Err(err),
		)
		return nil
	}
	if !d.Allowed {
		e.metrics.RateLimitDenied("write")
		e.log.Info("write rate limited",
			slog.String("user_id", userID),
			slog.String("window", d.Window),
			slog.Int("current", d.Current),
			slog.Int("limit", d.Limit),
		)
		return d.Err(apperr.ScopeEmbedding)
	}
	return nil
}
