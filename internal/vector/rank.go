package vector

import (
	"sort"
	"time"
)

// Timeframe restricts ranked matches by record age.
type Timeframe string

const (
	TimeframeRecent Timeframe = "recent"
	Timeframe30Days Timeframe = "30days"
	Timeframe90Days Timeframe = "90days"
	TimeframeAll    Timeframe = "all"
)

// DefaultLimit is the number of matches kept when RankOptions.Limit is unset.
const DefaultLimit = 10

// window returns the maximum age for tf, or 0 for no restriction.
func (tf Timeframe) window() time.Duration {
	switch tf {
	case TimeframeRecent, Timeframe30Days:
		return 30 * 24 * time.Hour
	case Timeframe90Days:
		return 90 * 24 * time.Hour
	}
	return 0
}

// RankOptions controls Rank.
type RankOptions struct {
	// Threshold is the exclusive minimum similarity.
	Threshold float64
	// Limit caps the candidate list before post-filters apply.
	Limit int
	// ContentType, when set, keeps only matches of that type.
	ContentType ContentType
	// MinPerformance, when set, keeps matches with performance >= the value.
	MinPerformance *float64
	Timeframe      Timeframe
	Now            time.Time
}

// Scored is a record paired with its similarity to the query.
type Scored struct {
	Record
	Similarity float64 `json:"similarity"`
}

// Rank scores candidates against query and returns the matches.
//
// Candidates with similarity strictly above the threshold are sorted by
// descending similarity (stable on scan order), truncated to the limit, and
// only then filtered by content type, minimum performance and timeframe.
// Post-truncation filtering may return fewer than Limit matches even when more
// qualifying records exist deeper in the list.
func Rank(query []float32, candidates []Record, opts RankOptions) []Scored {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	scored := make([]Scored, 0, len(candidates))
	for _, rec := range candidates {
		sim := CosineSimilarity(query, rec.Embedding)
		if sim > opts.Threshold {
			scored = append(scored, Scored{Record: rec, Similarity: sim})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	window := opts.Timeframe.window()

	out := scored[:0]
	for _, s := range scored {
		if opts.ContentType != "" && s.ContentType != opts.ContentType {
			continue
		}
		if opts.MinPerformance != nil && s.Metadata.Performance < *opts.MinPerformance {
			continue
		}
		if window > 0 && s.Metadata.CreatedAt.Before(now.Add(-window)) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Records strips the scores from matches.
func Records(matches []Scored) []Record {
	out := make([]Record, len(matches))
	for i, m := range matches {
		out[i] = m.Record
	}
	return out
}
