package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/settings"
)

var (
	_ settings.Source         = (*SQLiteStore)(nil)
	_ settings.OverrideSource = (*SQLiteStore)(nil)
)

// LoadSystemConfig returns the stored configuration document, or nil when
// none has been saved.
func (s *SQLiteStore) LoadSystemConfig(ctx context.Context) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM system_config WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: load system config")
	}
	return []byte(data), nil
}

// SaveSystemConfig replaces the stored configuration document.
func (s *SQLiteStore) SaveSystemConfig(ctx context.Context, data []byte) error {
	const q = `
INSERT INTO system_config (id, data, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, string(data), time.Now().UnixMilli()); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: save system config")
	}
	return nil
}

// UserLimits returns the user's override document, or nil when none exists.
func (s *SQLiteStore) UserLimits(ctx context.Context, userID string) (*settings.UserLimits, error) {
	var (
		ul      settings.UserLimits
		enabled int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT custom_enabled, max_per_hour, max_per_day FROM user_limits WHERE user_id = ?`, userID,
	).Scan(&enabled, &ul.MaxPerHour, &ul.MaxPerDay)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: load user limits", apperr.FieldUserID(userID))
	}
	ul.CustomEnabled = enabled != 0
	return &ul, nil
}

// SetUserLimits stores the user's override document.
func (s *SQLiteStore) SetUserLimits(ctx context.Context, userID string, ul settings.UserLimits) error {
	const q = `
INSERT INTO user_limits (user_id, custom_enabled, max_per_hour, max_per_day) VALUES (?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    custom_enabled = excluded.custom_enabled,
    max_per_hour   = excluded.max_per_hour,
    max_per_day    = excluded.max_per_day`
	if _, err := s.db.ExecContext(ctx, q, userID, boolInt(ul.CustomEnabled), ul.MaxPerHour, ul.MaxPerDay); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: save user limits", apperr.FieldUserID(userID))
	}
	return nil
}
