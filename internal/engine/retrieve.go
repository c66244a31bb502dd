package engine

import (
	"context"
	"log/slog"

	"github.com/54b3r/brandrag/internal/assemble"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/vector"
)

// RetrieveOptions are the recognized keys of a retrieval request.
type RetrieveOptions struct {
	UserID      string             `json:"userId"`
	ContentType vector.ContentType `json:"contentType,omitempty"`
	Industry    string             `json:"industry,omitempty"`
	Platform    string             `json:"platform,omitempty"`
	Language    string             `json:"language,omitempty"`
	// MinPerformance, when set, drops matches scoring below it.
	MinPerformance *float64 `json:"minPerformance,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	// IncludeIndustryPatterns is reserved for cross-tenant patterns and
	// currently contributes nothing.
	IncludeIndustryPatterns bool             `json:"includeIndustryPatterns,omitempty"`
	Timeframe               vector.Timeframe `json:"timeframe,omitempty"`
}

// RetrieveRelevantContext returns the context bundle for query. It never
// fails: any problem yields an empty bundle.
func (e *Engine) RetrieveRelevantContext(ctx context.Context, query string, opts RetrieveOptions) assemble.Bundle {
	b, _ := e.RetrieveWithMatches(ctx, query, opts)
	return b
}

// RetrieveWithMatches is RetrieveRelevantContext that also returns the
// ranked matches the bundle was built from.
//
// The steps run strictly in order: rate limit, embed, scan, rank, assemble.
// The whole partition is scanned; the content type, like the other filters,
// applies to the ranked list after truncation. It also selects which
// conditional bundle fields are extracted.
func (e *Engine) RetrieveWithMatches(ctx context.Context, query string, opts RetrieveOptions) (assemble.Bundle, []vector.Scored) {
	start := e.now()
	log := e.log.With(slog.String("user_id", opts.UserID))

	if opts.UserID == "" {
		log.Warn("retrieve called without user id")
		return assemble.Bundle{}, nil
	}

	d, err := e.limiter.Check(ctx, opts.UserID)
	if err != nil {
		log.Warn("rate limit check failed, returning empty context", logging.Err(err))
		return assemble.Bundle{}, nil
	}
	if !d.Allowed {
		e.metrics.RateLimitDenied("retrieve")
		log.Info("retrieval rate limited, returning empty context",
			slog.String("window", d.Window),
			slog.Int("current", d.Current),
			slog.Int("limit", d.Limit),
		)
		return assemble.Bundle{}, nil
	}

	qvec, ok := e.embedder.Embed(ctx, query)
	if !ok {
		log.Debug("no query embedding, returning empty context")
		return assemble.Bundle{}, nil
	}

	candidates, err := e.repo.Scan(ctx, opts.UserID, "")
	if err != nil {
		e.metrics.StoreFailure("scan")
		log.Warn("scan vectors failed, returning empty context", logging.Err(err))
		return assemble.Bundle{}, nil
	}

	cfg := e.settings.Get(ctx)
	matches := vector.Rank(qvec, candidates, vector.RankOptions{
		Threshold:      cfg.Performance.SimilarityThreshold,
		Limit:          opts.Limit,
		ContentType:    opts.ContentType,
		MinPerformance: opts.MinPerformance,
		Timeframe:      opts.Timeframe,
		Now:            start,
	})

	industry := e.industryPatterns(ctx, opts)
	bundle := assemble.Assemble(vector.Records(matches), industry, assemble.Options{
		ContentType: opts.ContentType,
		Platform:    opts.Platform,
		Language:    opts.Language,
		MaxLength:   cfg.Performance.MaxContextLength,
		Now:         start,
	})

	e.metrics.Retrieval(e.now().Sub(start), len(matches))
	log.Debug("context retrieved",
		slog.Int("candidates", len(candidates)),
		slog.Int("matches", len(matches)),
		slog.Int("bundle_len", bundle.Len()),
	)
	return bundle, matches
}

// industryPatterns is the cross-tenant lookup behind
// IncludeIndustryPatterns. Reading other tenants' partitions is not
// implemented, so it always returns nothing.
func (e *Engine) industryPatterns(_ context.Context, opts RetrieveOptions) []vector.Record {
	if opts.IncludeIndustryPatterns {
		e.log.Debug("industry patterns requested but not available", slog.String("industry", opts.Industry))
	}
	return nil
}
