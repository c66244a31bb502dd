package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/vector"
)

var _ vector.Repository = (*SQLiteStore)(nil)

// deleteChunk bounds the number of bound parameters per DELETE statement.
const deleteChunk = 500

const vectorColumns = `id, user_id, content_type, content_id, embedding, text_content, metadata,
       source_collection, source_doc_id, version`

// Insert persists rec under a fresh id.
func (s *SQLiteStore) Insert(ctx context.Context, rec *vector.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: encode metadata", apperr.FieldUserID(rec.UserID))
	}

	id := uuid.NewString()
	const q = `
INSERT INTO vectors (id, user_id, content_type, content_id, embedding, text_content, metadata,
                     performance, created_at, version, source_collection, source_doc_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		id, rec.UserID, string(rec.ContentType), rec.ContentID,
		encodeEmbedding(rec.Embedding), rec.TextContent, string(meta),
		rec.Metadata.Performance, rec.Metadata.CreatedAt.UnixMilli(), rec.Metadata.Version,
		rec.SourceCollection, rec.SourceDocID,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: insert vector",
			apperr.FieldUserID(rec.UserID), apperr.FieldContentID(rec.ContentID))
	}
	rec.ID = id
	return nil
}

// FindByContentID returns the oldest record with the given content id.
func (s *SQLiteStore) FindByContentID(ctx context.Context, userID, contentID string) (*vector.Record, error) {
	q := `SELECT ` + vectorColumns + ` FROM vectors
WHERE user_id = ? AND content_id = ?
ORDER BY rowid LIMIT 1`

	rec, err := scanVector(s.db.QueryRowContext(ctx, q, userID, contentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.ErrNotFound, apperr.CodeStoreNotFound, "store: find vector",
			apperr.FieldUserID(userID), apperr.FieldContentID(contentID))
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: find vector",
			apperr.FieldUserID(userID), apperr.FieldContentID(contentID))
	}
	return rec, nil
}

// Update overwrites rec when the stored version equals expectedVersion.
func (s *SQLiteStore) Update(ctx context.Context, rec *vector.Record, expectedVersion int) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: encode metadata", apperr.FieldUserID(rec.UserID))
	}

	const q = `
UPDATE vectors
SET    content_type = ?, embedding = ?, text_content = ?, metadata = ?, performance = ?,
       version = ?, source_collection = ?, source_doc_id = ?
WHERE  id = ? AND user_id = ? AND version = ?`
	res, err := s.db.ExecContext(ctx, q,
		string(rec.ContentType), encodeEmbedding(rec.Embedding), rec.TextContent, string(meta),
		rec.Metadata.Performance, rec.Metadata.Version, rec.SourceCollection, rec.SourceDocID,
		rec.ID, rec.UserID, expectedVersion,
	)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: update vector",
			apperr.FieldUserID(rec.UserID), apperr.FieldContentID(rec.ContentID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: update vector rows")
	}
	if n == 0 {
		return apperr.Wrap(apperr.ErrVersionConflict, apperr.CodeStoreVersionConflict, "store: update vector",
			apperr.FieldUserID(rec.UserID), apperr.FieldContentID(rec.ContentID),
			apperr.Field("expected_version", expectedVersion))
	}
	return nil
}

// Scan returns the user's records in insertion order, optionally limited to
// one content type.
func (s *SQLiteStore) Scan(ctx context.Context, userID string, contentType vector.ContentType) ([]vector.Record, error) {
	q := `SELECT ` + vectorColumns + ` FROM vectors WHERE user_id = ?`
	args := []any{userID}
	if contentType != "" {
		q += ` AND content_type = ?`
		args = append(args, string(contentType))
	}
	q += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: scan vectors", apperr.FieldUserID(userID))
	}
	defer rows.Close()

	var out []vector.Record
	for rows.Next() {
		rec, err := scanVector(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: scan vector row", apperr.FieldUserID(userID))
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: scan vector rows", apperr.FieldUserID(userID))
	}
	return out, nil
}

// DeleteBatch removes the records with the given ids in one transaction.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, "delete vectors", func(tx *sql.Tx) error {
		for start := 0; start < len(ids); start += deleteChunk {
			chunk := ids[start:min(start+deleteChunk, len(ids))]
			q := `DELETE FROM vectors WHERE id IN (` + placeholders(len(chunk)) + `)`
			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return apperr.Wrap(err, apperr.CodeStoreFailure, "store: delete vectors",
					apperr.Field("count", len(chunk)))
			}
		}
		return nil
	})
}

// CountCreatedSince counts the user's records created at or after since.
func (s *SQLiteStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM vectors WHERE user_id = ? AND created_at >= ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, userID, since.UnixMilli()).Scan(&n); err != nil {
		return 0, apperr.Wrap(err, apperr.CodeStoreFailure, "store: count vectors", apperr.FieldUserID(userID))
	}
	return n, nil
}

// ListUsers returns every user id owning at least one record.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM vectors ORDER BY user_id`)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: list users")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: list users scan")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "store: list users rows")
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVector(row rowScanner) (*vector.Record, error) {
	var (
		rec         vector.Record
		contentType string
		blob        []byte
		meta        string
		version     int
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &contentType, &rec.ContentID, &blob, &rec.TextContent, &meta,
		&rec.SourceCollection, &rec.SourceDocID, &version); err != nil {
		return nil, err
	}
	rec.ContentType = vector.ContentType(contentType)

	emb, err := decodeEmbedding(blob)
	if err != nil {
		return nil, err
	}
	rec.Embedding = emb

	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return nil, err
	}
	rec.Metadata.Version = version
	return &rec, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
