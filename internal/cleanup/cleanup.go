// Package cleanup evicts stale, low-performing vectors.
//
// A vector is deleted only when it is both older than the retention window
// and below the performance floor. Age alone never evicts a record, so
// content that keeps performing well is kept indefinitely.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/metrics"
	"github.com/54b3r/brandrag/internal/settings"
	"github.com/54b3r/brandrag/internal/vector"
)

// BatchSize is the maximum number of ids passed to one DeleteBatch call.
const BatchSize = 500

// DefaultInterval is the cadence of Run when none is configured.
const DefaultInterval = 7 * 24 * time.Hour

// Summary is the result of a CleanupAll sweep.
type Summary struct {
	// TotalCleaned counts every deleted record, including deletions made
	// before a user's sweep failed.
	TotalCleaned   int `json:"totalCleaned"`
	UsersProcessed int `json:"usersProcessed"`
	UsersFailed    int `json:"usersFailed"`
}

// Config holds the dependencies of a Scheduler.
type Config struct {
	Repo     vector.Repository
	Settings *settings.Cache
	Now      func() time.Time
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Scheduler runs retention sweeps over the vector store.
type Scheduler struct {
	repo     vector.Repository
	settings *settings.Cache
	now      func() time.Time
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New returns a Scheduler.
func New(cfg Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		repo:     cfg.Repo,
		settings: cfg.Settings,
		now:      now,
		metrics:  cfg.Metrics,
		log:      logging.Component(cfg.Logger, "cleanup"),
	}
}

// Cleanup deletes the user's vectors created before now - retentionDays
// whose performance is below the configured floor, and returns how many
// were deleted. A positive retentionOverride replaces the configured
// retention. When cleanup is disabled it deletes nothing and returns 0.
func (s *Scheduler) Cleanup(ctx context.Context, userID string, retentionOverride int) (int, error) {
	cfg := s.settings.Get(ctx).VectorCleanup
	log := s.log.With(slog.String("user_id", userID))
	if !cfg.Enabled {
		log.Info("vector cleanup disabled, skipping")
		return 0, nil
	}

	retention := cfg.RetentionDays
	if retentionOverride > 0 {
		retention = retentionOverride
	}
	cutoff := s.now().AddDate(0, 0, -retention)

	recs, err := s.repo.Scan(ctx, userID, "")
	if err != nil {
		s.metrics.StoreFailure("cleanup_scan")
		return 0, apperr.Wrap(err, apperr.CodeStoreFailure, "scan vectors for cleanup", apperr.FieldUserID(userID))
	}

	var ids []string
	for _, r := range recs {
		if Evictable(r, cutoff, cfg.MinPerformanceThreshold) {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		log.Debug("no vectors eligible for cleanup", slog.Int("scanned", len(recs)))
		return 0, nil
	}

	deleted := 0
	for start := 0; start < len(ids); start += BatchSize {
		batch := ids[start:min(start+BatchSize, len(ids))]
		if err := s.repo.DeleteBatch(ctx, batch); err != nil {
			s.metrics.StoreFailure("cleanup_delete")
			s.metrics.CleanupDeleted(deleted)
			return deleted, apperr.Wrap(err, apperr.CodeStoreFailure, "delete vector batch",
				apperr.FieldUserID(userID), apperr.Field("deleted", deleted))
		}
		deleted += len(batch)
	}

	s.metrics.CleanupDeleted(deleted)
	log.Info("vector cleanup complete",
		slog.Int("deleted", deleted),
		slog.Int("retention_days", retention),
		slog.Float64("min_performance", cfg.MinPerformanceThreshold),
	)
	return deleted, nil
}

// Evictable reports whether r is both older than cutoff and below floor.
func Evictable(r vector.Record, cutoff time.Time, floor float64) bool {
	return r.Metadata.CreatedAt.Before(cutoff) && r.Metadata.Performance < floor
}

// CleanupAll runs Cleanup for every user that owns vectors. A failure for
// one user is logged and counted in UsersFailed, and the sweep continues;
// only a failure to list users is returned.
func (s *Scheduler) CleanupAll(ctx context.Context) (Summary, error) {
	var sum Summary
	if !s.settings.Get(ctx).VectorCleanup.Enabled {
		s.log.Info("vector cleanup disabled, skipping sweep")
		return sum, nil
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		s.metrics.StoreFailure("cleanup_list_users")
		return sum, apperr.Wrap(err, apperr.CodeStoreFailure, "list users for cleanup")
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		n, err := s.Cleanup(ctx, userID, 0)
		sum.TotalCleaned += n
		if err != nil {
			sum.UsersFailed++
			s.log.Warn("cleanup failed for user",
				slog.String("user_id", userID),
				slog.Int("deleted", n),
				logging.Err(err),
			)
			continue
		}
		sum.UsersProcessed++
	}

	s.log.Info("cleanup sweep complete",
		slog.Int("total_cleaned", sum.TotalCleaned),
		slog.Int("users_processed", sum.UsersProcessed),
		slog.Int("users_failed", sum.UsersFailed),
	)
	return sum, nil
}

// Run sweeps every interval until ctx is cancelled. The first sweep happens
// one interval after Run starts.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("cleanup loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("cleanup loop stopped")
			return
		case <-ticker.C:
			if _, err := s.CleanupAll(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("cleanup sweep failed", logging.Err(err))
			}
		}
	}
}
