// Package qdrant implements vector.Repository on a Qdrant collection.
//
// Every record is one point. The user id, content id and creation time are
// stored as indexed payload fields so that partition scans and rate-limit
// window counts are payload-filtered scrolls and counts. Ranking still runs
// in-process over the scanned partition; Qdrant's own ANN search is not
// used.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/vector"
)

// scrollPage is the number of points fetched per scroll request.
const scrollPage = 256

// Payload keys.
const (
	keyUserID           = "user_id"
	keyContentType      = "content_type"
	keyContentID        = "content_id"
	keyText             = "text"
	keyMetadata         = "metadata"
	keyCreatedAt        = "created_at"
	keyVersion          = "version"
	keySourceCollection = "source_collection"
	keySourceDocID      = "source_doc_id"
)

// Config holds connection parameters for a Qdrant instance.
type Config struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection name (default: brandrag_vectors).
	Collection string

	// VectorSize is the embedding dimension the collection is created with.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Store implements vector.Repository backed by Qdrant.
//
// Update checks the version with a read before the write. The check is not
// atomic on the server, so two writers racing inside that gap can still
// both succeed.
type Store struct {
	client *qc.Client
	cfg    Config
}

// Open connects to Qdrant and ensures the collection and its payload
// indexes exist.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "brandrag_vectors"
	}

	client, err := qc.NewClient(&qc.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &Store{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// ensureCollection creates the collection and its payload indexes if the
// collection does not already exist.
func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	indexes := []struct {
		field string
		typ   qc.FieldType
	}{
		{keyUserID, qc.FieldType_FieldTypeKeyword},
		{keyContentID, qc.FieldType_FieldTypeKeyword},
		{keyCreatedAt, qc.FieldType_FieldTypeInteger},
	}
	for _, idx := range indexes {
		_, err := s.client.CreateFieldIndex(ctx, &qc.CreateFieldIndexCollection{
			CollectionName: s.cfg.Collection,
			FieldName:      idx.field,
			FieldType:      idx.typ.Enum(),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to index %q: %w", idx.field, err)
		}
	}
	return nil
}

// Insert implements vector.Repository.
func (s *Store) Insert(ctx context.Context, rec *vector.Record) error {
	id := uuid.NewString()
	pt, err := toPoint(id, rec)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: encode point", apperr.FieldUserID(rec.UserID))
	}
	if err := s.upsert(ctx, pt); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: insert vector",
			apperr.FieldUserID(rec.UserID), apperr.FieldContentID(rec.ContentID))
	}
	rec.ID = id
	return nil
}

// FindByContentID implements vector.Repository. When several records share
// the content id the oldest is returned.
func (s *Store) FindByContentID(ctx context.Context, userID, contentID string) (*vector.Record, error) {
	recs, err := s.scroll(ctx, userFilter(userID, qc.NewMatch(keyContentID, contentID)))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: find vector",
			apperr.FieldUserID(userID), apperr.FieldContentID(contentID))
	}
	if len(recs) == 0 {
		return nil, apperr.Wrap(apperr.ErrNotFound, apperr.CodeStoreNotFound, "qdrant: find vector",
			apperr.FieldUserID(userID), apperr.FieldContentID(contentID))
	}
	return &recs[0], nil
}

// Update implements vector.Repository.
func (s *Store) Update(ctx context.Context, rec *vector.Record, expectedVersion int) error {
	points, err := s.client.Get(ctx, &qc.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qc.PointId{qc.NewIDUUID(rec.ID)},
		WithPayload:    qc.NewWithPayloadInclude(keyUserID, keyVersion),
	})
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: read version",
			apperr.FieldUserID(rec.UserID), apperr.FieldContentID(rec.ContentID))
	}
	if len(points) == 0 ||
		points[0].GetPayload()[keyUserID].GetStringValue() != rec.UserID ||
		int(points[0].GetPayload()[keyVersion].GetIntegerValue()) != expectedVersion {
		return apperr.Wrap(apperr.ErrVersionConflict, apperr.CodeStoreVersionConflict, "qdrant: update vector",
			apperr.FieldUserID(rec.UserID), apperr.FieldContentID(rec.ContentID),
			apperr.Field("expected_version", expectedVersion))
	}

	pt, err := toPoint(rec.ID, rec)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: encode point", apperr.FieldUserID(rec.UserID))
	}
	if err := s.upsert(ctx, pt); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: update vector",
			apperr.FieldUserID(rec.UserID), apperr.FieldContentID(rec.ContentID))
	}
	return nil
}

// Scan implements vector.Repository. Records are returned oldest first.
func (s *Store) Scan(ctx context.Context, userID string, contentType vector.ContentType) ([]vector.Record, error) {
	var extra []*qc.Condition
	if contentType != "" {
		extra = append(extra, qc.NewMatch(keyContentType, string(contentType)))
	}
	recs, err := s.scroll(ctx, userFilter(userID, extra...))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: scan vectors", apperr.FieldUserID(userID))
	}
	return recs, nil
}

// DeleteBatch implements vector.Repository.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qc.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qc.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qc.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: delete vectors", apperr.Field("count", len(ids)))
	}
	return nil
}

// CountCreatedSince implements vector.Repository.
func (s *Store) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	n, err := s.client.Count(ctx, &qc.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter: userFilter(userID, qc.NewRange(keyCreatedAt, &qc.Range{
			Gte: qc.PtrOf(float64(since.UnixMilli())),
		})),
		Exact: qc.PtrOf(true),
	})
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: count vectors", apperr.FieldUserID(userID))
	}
	return int(n), nil
}

// ListUsers implements vector.Repository.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := s.scrollPoints(ctx, nil, qc.NewWithPayloadInclude(keyUserID), false, func(p *qc.RetrievedPoint) error {
		u := p.GetPayload()[keyUserID].GetStringValue()
		if u != "" && !slices.Contains(users, u) {
			users = append(users, u)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailure, "qdrant: list users")
	}
	slices.Sort(users)
	return users, nil
}

// Ping checks that the Qdrant server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Name identifies the backend in readiness reports.
func (s *Store) Name() string { return "qdrant" }

// Close closes the underlying Qdrant gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) upsert(ctx context.Context, pt *qc.PointStruct) error {
	_, err := s.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qc.PtrOf(true),
		Points:         []*qc.PointStruct{pt},
	})
	return err
}

// scroll returns every record matching filter, ordered by creation time.
func (s *Store) scroll(ctx context.Context, filter *qc.Filter) ([]vector.Record, error) {
	var recs []vector.Record
	err := s.scrollPoints(ctx, filter, qc.NewWithPayload(true), true, func(p *qc.RetrievedPoint) error {
		rec, err := fromPoint(p)
		if err != nil {
			return err
		}
		recs = append(recs, *rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreation(recs)
	return recs, nil
}

// scrollPoints pages through the collection. Qdrant's scroll offset is
// inclusive, so every page after the first starts with the previous page's
// last point, which is skipped.
func (s *Store) scrollPoints(ctx context.Context, filter *qc.Filter, payload *qc.WithPayloadSelector, withVectors bool, fn func(*qc.RetrievedPoint) error) error {
	var offset *qc.PointId
	for {
		limit := uint32(scrollPage)
		if offset != nil {
			limit++
		}
		page, err := s.client.Scroll(ctx, &qc.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    payload,
			WithVectors:    qc.NewWithVectors(withVectors),
		})
		if err != nil {
			return err
		}
		if offset != nil && len(page) > 0 && page[0].GetId().GetUuid() == offset.GetUuid() {
			page = page[1:]
		}
		for _, p := range page {
			if err := fn(p); err != nil {
				return err
			}
		}
		if len(page) < scrollPage {
			return nil
		}
		offset = page[len(page)-1].GetId()
	}
}

func userFilter(userID string, extra ...*qc.Condition) *qc.Filter {
	must := append([]*qc.Condition{qc.NewMatch(keyUserID, userID)}, extra...)
	return &qc.Filter{Must: must}
}

// toPoint encodes rec as a point with the given id. Metadata is stored as a
// JSON string; the fields queried by filters are duplicated as top-level
// payload values.
func toPoint(id string, rec *vector.Record) (*qc.PointStruct, error) {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		keyUserID:           rec.UserID,
		keyContentType:      string(rec.ContentType),
		keyContentID:        rec.ContentID,
		keyText:             rec.TextContent,
		keyMetadata:         string(meta),
		keyCreatedAt:        rec.Metadata.CreatedAt.UnixMilli(),
		keyVersion:          int64(rec.Metadata.Version),
		keySourceCollection: rec.SourceCollection,
		keySourceDocID:      rec.SourceDocID,
	}
	return &qc.PointStruct{
		Id:      qc.NewIDUUID(id),
		Vectors: qc.NewVectors(rec.Embedding...),
		Payload: qc.NewValueMap(payload),
	}, nil
}

// fromPoint decodes a point written by toPoint.
func fromPoint(p *qc.RetrievedPoint) (*vector.Record, error) {
	pl := p.GetPayload()
	rec := &vector.Record{
		ID:               p.GetId().GetUuid(),
		UserID:           pl[keyUserID].GetStringValue(),
		ContentType:      vector.ContentType(pl[keyContentType].GetStringValue()),
		ContentID:        pl[keyContentID].GetStringValue(),
		TextContent:      pl[keyText].GetStringValue(),
		SourceCollection: pl[keySourceCollection].GetStringValue(),
		SourceDocID:      pl[keySourceDocID].GetStringValue(),
		Embedding:        p.GetVectors().GetVector().GetData(),
	}
	if raw := pl[keyMetadata].GetStringValue(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of point %s: %w", rec.ID, err)
		}
	}
	rec.Metadata.Version = int(pl[keyVersion].GetIntegerValue())
	return rec, nil
}

// sortByCreation orders records oldest first, breaking ties by id so the
// scan order is deterministic.
func sortByCreation(recs []vector.Record) {
	slices.SortStableFunc(recs, func(a, b vector.Record) int {
		if c := a.Metadata.CreatedAt.Compare(b.Metadata.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
