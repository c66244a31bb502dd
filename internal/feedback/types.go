package feedback

import (
	"context"
	"time"

	"github.com/54b3r/brandrag/internal/vector"
)

// SuccessRating is the minimum rating that counts a pattern as successful.
const SuccessRating = 4

// Feedback is a user's rating of a piece of generated content.
type Feedback struct {
	// Rating is on the closed scale 1..5.
	Rating     int    `json:"rating"`
	WasHelpful bool   `json:"wasHelpful"`
	Comment    string `json:"comment,omitempty"`
}

// RAGContext describes the retrieval context used to generate the rated
// content. A nil RAGContext marks the content as not RAG-enhanced.
type RAGContext struct {
	// Patterns are the pattern strings that contributed to the content.
	Patterns []string `json:"patterns,omitempty"`
}

// Record is a persisted feedback event.
type Record struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	ContentID   string             `json:"contentId"`
	ContentType vector.ContentType `json:"contentType"`
	Rating      int                `json:"rating"`
	WasHelpful  bool               `json:"wasHelpful"`
	Comment     string             `json:"comment,omitempty"`
	RAGEnhanced bool               `json:"ragEnhanced"`
	Patterns    []string           `json:"patterns,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// Metrics are a user's running feedback aggregates.
type Metrics struct {
	TotalFeedback         int       `json:"totalFeedback"`
	RAGEnhancedFeedback   int       `json:"ragEnhancedFeedback"`
	NonRAGFeedback        int       `json:"nonRAGFeedback"`
	AvgRatingRAG          float64   `json:"avgRatingRAG"`
	AvgRatingNonRAG       float64   `json:"avgRatingNonRAG"`
	HelpfulnessRateRAG    float64   `json:"helpfulnessRateRAG"`
	HelpfulnessRateNonRAG float64   `json:"helpfulnessRateNonRAG"`
	LastUpdated           time.Time `json:"lastUpdated"`
}

// Fold adds one feedback sample to m using the previous count and mean.
// No raw samples are retained.
func (m *Metrics) Fold(rating int, helpful, ragEnhanced bool, now time.Time) {
	h := 0.0
	if helpful {
		h = 1
	}
	if ragEnhanced {
		n := m.RAGEnhancedFeedback
		m.AvgRatingRAG = foldMean(m.AvgRatingRAG, n, float64(rating))
		m.HelpfulnessRateRAG = foldMean(m.HelpfulnessRateRAG, n, h)
		m.RAGEnhancedFeedback = n + 1
	} else {
		n := m.NonRAGFeedback
		m.AvgRatingNonRAG = foldMean(m.AvgRatingNonRAG, n, float64(rating))
		m.HelpfulnessRateNonRAG = foldMean(m.HelpfulnessRateNonRAG, n, h)
		m.NonRAGFeedback = n + 1
	}
	m.TotalFeedback++
	m.LastUpdated = now
}

// PatternStat tracks how often a pattern contributed to well-rated content.
type PatternStat struct {
	Pattern      string    `json:"pattern"`
	SuccessCount int       `json:"successCount"`
	TotalCount   int       `json:"totalCount"`
	AvgRating    float64   `json:"avgRating"`
	LastUsed     time.Time `json:"lastUsed"`
}

// Fold adds one rating to the pattern's statistics.
func (p *PatternStat) Fold(rating int, now time.Time) {
	if rating >= SuccessRating {
		p.SuccessCount++
	}
	p.AvgRating = foldMean(p.AvgRating, p.TotalCount, float64(rating))
	p.TotalCount++
	p.LastUsed = now
}

// SuccessRate is SuccessCount / TotalCount, or 0 when unused.
func (p PatternStat) SuccessRate() float64 {
	if p.TotalCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.TotalCount)
}

func foldMean(prev float64, n int, sample float64) float64 {
	return (prev*float64(n) + sample) / float64(n+1)
}

// Store persists feedback records and aggregates. The Update methods run
// their callback inside a transaction so concurrent folds for the same user
// are serialized.
type Store interface {
	SaveFeedback(ctx context.Context, rec *Record) error
	CountFeedbackSince(ctx context.Context, userID string, since time.Time) (int, error)
	UpdateMetrics(ctx context.Context, userID string, fn func(*Metrics)) error
	UpdatePatternStats(ctx context.Context, userID string, patterns []string, fn func(*PatternStat)) error
	Metrics(ctx context.Context, userID string) (Metrics, error)
	PatternStats(ctx context.Context, userID string) ([]PatternStat, error)
}
