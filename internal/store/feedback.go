package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/feedback"
)

var _ feedback.Store = (*SQLiteStore)(nil)

// SaveFeedback persists a feedback event.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, rec *feedback.Record) error {
	patterns, err := json.Marshal(rec.Patterns)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: encode patterns")
	}

	const q = `
INSERT INTO feedback (id, user_id, content_id, content_type, rating, was_helpful, comment,
                      rag_enhanced, patterns, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rec.ID, rec.UserID, rec.ContentID, string(rec.ContentType), rec.Rating,
		boolInt(rec.WasHelpful), rec.Comment, boolInt(rec.RAGEnhanced), string(patterns),
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: save feedback",
			apperr.FieldUserID(rec.UserID), apperr.FieldContentID(rec.ContentID))
	}
	return nil
}

// CountFeedbackSince counts the user's feedback events at or after since.
func (s *SQLiteStore) CountFeedbackSince(ctx context.Context, userID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM feedback WHERE user_id = ? AND created_at >= ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, userID, since.UnixMilli()).Scan(&n); err != nil {
		return 0, apperr.Wrap(err, apperr.CodeStoreFailure, "store: count feedback", apperr.FieldUserID(userID))
	}
	return n, nil
}

// Metrics returns the user's aggregates, or zero values when none exist.
func (s *SQLiteStore) Metrics(ctx context.Context, userID string) (feedback.Metrics, error) {
	return loadMetrics(ctx, s.db, userID)
}

// UpdateMetrics reads, folds and writes the user's aggregates in one
// transaction.
func (s *SQLiteStore) UpdateMetrics(ctx context.Context, userID string, fn func(*feedback.Metrics)) error {
	return s.withTx(ctx, "update metrics", func(tx *sql.Tx) error {
		m, err := loadMetrics(ctx, tx, userID)
		if err != nil {
			return err
		}
		fn(&m)

		data, err := json.Marshal(m)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeStoreFailure, "store: encode metrics")
		}
		const q = `
INSERT INTO performance_metrics (user_id, data) VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET data = excluded.data`
		if _, err := tx.ExecContext(ctx, q, userID, string(data)); err != nil {
			return apperr.Wrap(err, apperr.CodeStoreFailure, "store: write metrics", apperr.FieldUserID(userID))
		}
		return nil
	})
}

// UpdatePatternStats folds fn into each named pattern's statistics in one
// transaction, creating rows for patterns seen for the first time.
func (s *SQLiteStore) UpdatePatternStats(ctx context.Context, userID string, patterns []string, fn func(*feedback.PatternStat)) error {
	if len(patterns) == 0 {
		return nil
	}
	return s.withTx(ctx, "update pattern stats", func(tx *sql.Tx) error {
		for _, pattern := range patterns {
			st := feedback.PatternStat{Pattern: pattern}
			var lastUsed int64
			err := tx.QueryRowContext(ctx,
				`SELECT success_count, total_count, avg_rating, last_used FROM pattern_stats WHERE user_id = ? AND pattern = ?`,
				userID, pattern,
			).Scan(&st.SuccessCount, &st.TotalCount, &st.AvgRating, &lastUsed)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return apperr.Wrap(err, apperr.CodeStoreFailure, "store: read pattern stat",
					apperr.FieldUserID(userID), apperr.Field("pattern", pattern))
			default:
				st.LastUsed = time.UnixMilli(lastUsed)
			}

			fn(&st)

			const q = `
INSERT INTO pattern_stats (user_id, pattern, success_count, total_count, avg_rating, last_used)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, pattern) DO UPDATE SET
    success_count = excluded.success_count,
    total_count   = excluded.total_count,
    avg_rating    = excluded.avg_rating,
    last_used     = excluded.last_used`
			if _, err := tx.ExecContext(ctx, q, userID, pattern, st.SuccessCount, st.TotalCount,
				st.AvgRating, st.LastUsed.UnixMilli()); err != nil {
				return apperr.Wrap(err, apperr.CodeStoreFailure, "store: write pattern stat",
					apperr.FieldUserID(userID), apperr.Field("pattern", pattern))
			}
		}
		return nil
	})
}

// PatternStats returns every pattern statistic for the user ordered by
// pattern.
func (s *SQLiteStore) PatternStats(ctx context.Context, userID string) ([]feedback.PatternStat, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT pattern, success_count, total_count, avg_rating, last_used
FROM   pattern_stats
WHERE  user_id = ?
ORDER  BY pattern`, userID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: pattern stats", apperr.FieldUserID(userID))
	}
	defer rows.Close()

	var out []feedback.PatternStat
	for rows.Next() {
		var st feedback.PatternStat
		var lastUsed int64
		if err := rows.Scan(&st.Pattern, &st.SuccessCount, &st.TotalCount, &st.AvgRating, &lastUsed); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: pattern stats scan")
		}
		st.LastUsed = time.UnixMilli(lastUsed)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: pattern stats rows")
	}
	return out, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadMetrics(ctx context.Context, q queryRower, userID string) (feedback.Metrics, error) {
	var m feedback.Metrics
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM performance_metrics WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return m, apperr.Wrap(err, apperr.CodeStoreFailure, "store: read metrics", apperr.FieldUserID(userID))
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return m, apperr.Wrap(err, apperr.CodeStoreFailure, "store: decode metrics", apperr.FieldUserID(userID))
	}
	return m, nil
}
