// Package vector defines the vector record model, the document-store
// contract the engine persists records through, and the brute-force
// similarity ranking run over a user's partition.
package vector

import (
	"context"
	"slices"
	"strings"
	"time"
)

// ContentType is the closed set of source entity kinds that are vectorized.
type ContentType string

const (
	BrandProfile ContentType = "brand_profile"
	SocialMedia  ContentType = "social_media"
	BlogPost     ContentType = "blog_post"
	AdCampaign   ContentType = "ad_campaign"
	SavedImage   ContentType = "saved_image"
	BrandLogo    ContentType = "brand_logo"
)

// DefaultPerformance is assigned to records stored without a score.
const DefaultPerformance = 0.5

// Valid reports whether c is one of the known content types.
func (c ContentType) Valid() bool {
	switch c {
	case BrandProfile, SocialMedia, BlogPost, AdCampaign, SavedImage, BrandLogo:
		return true
	}
	return false
}

// Metadata is the typed metadata bag stored alongside each embedding.
type Metadata struct {
	Industry    string    `json:"industry,omitempty"`
	Style       string    `json:"style,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Language    string    `json:"language,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Performance float64   `json:"performance"`
	Engagement  float64   `json:"engagement"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     int       `json:"version"`
}

// MetadataPatch carries caller-supplied metadata. Nil fields are left
// unchanged when applied; unknown JSON keys are ignored on decode.
type MetadataPatch struct {
	Industry    *string  `json:"industry,omitempty"`
	Style       *string  `json:"style,omitempty"`
	Platform    *string  `json:"platform,omitempty"`
	Language    *string  `json:"language,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Performance *float64 `json:"performance,omitempty"`
	Engagement  *float64 `json:"engagement,omitempty"`
}

// IsZero reports whether the patch sets nothing.
func (p MetadataPatch) IsZero() bool {
	return p.Industry == nil && p.Style == nil && p.Platform == nil && p.Language == nil &&
		p.Tags == nil && p.Performance == nil && p.Engagement == nil
}

// Apply merges the set fields of p into m. Performance is clamped to [0,1]
// and engagement to >= 0. Version and timestamps are owned by the caller.
func (p MetadataPatch) Apply(m *Metadata) {
	if p.Industry != nil {
		m.Industry = *p.Industry
	}
	if p.Style != nil {
		m.Style = *p.Style
	}
	if p.Platform != nil {
		m.Platform = *p.Platform
	}
	if p.Language != nil {
		m.Language = *p.Language
	}
	if p.Tags != nil {
		m.Tags = NormalizeTags(p.Tags)
	}
	if p.Performance != nil {
		m.Performance = clamp(*p.Performance, 0, 1)
	}
	if p.Engagement != nil {
		m.Engagement = max(*p.Engagement, 0)
	}
}

// NewMetadata builds the metadata for a freshly inserted record.
func NewMetadata(p MetadataPatch, now time.Time) Metadata {
	m := Metadata{Performance: DefaultPerformance}
	p.Apply(&m)
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Version = 1
	return m
}

// NormalizeTags lower-cases and trims tags, dropping empties and duplicates
// while keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#")))
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Record is the atomic unit of memory: one embedded piece of user content.
type Record struct {
	ID               string      `json:"id"`
	UserID           string      `json:"userId"`
	ContentType      ContentType `json:"contentType"`
	ContentID        string      `json:"contentId"`
	Embedding        []float32   `json:"-"`
	TextContent      string      `json:"textContent"`
	Metadata         Metadata    `json:"metadata"`
	SourceCollection string      `json:"sourceCollection,omitempty"`
	SourceDocID      string      `json:"sourceDocId,omitempty"`
}

// Repository is the document-store contract for vector records. Records are
// partitioned by user id; no method reads across partitions except ListUsers.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Insert persists rec and assigns rec.ID.
	Insert(ctx context.Context, rec *Record) error

	// FindByContentID returns the record with the exact content id in the
	// user's partition. Returns an error matching apperr.ErrNotFound when
	// there is none.
	FindByContentID(ctx context.Context, userID, contentID string) (*Record, error)

	// Update overwrites rec if the stored version still equals
	// expectedVersion. Returns an error matching apperr.ErrVersionConflict
	// otherwise.
	Update(ctx context.Context, rec *Record, expectedVersion int) error

	// Scan returns every record in the user's partition in scan order,
	// optionally restricted to one content type ("" means all).
	Scan(ctx context.Context, userID string, contentType ContentType) ([]Record, error)

	// DeleteBatch removes the records with the given ids.
	DeleteBatch(ctx context.Context, ids []string) error

	// CountCreatedSince counts the user's records created at or after since.
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)

	// ListUsers returns every user id that owns at least one record.
	ListUsers(ctx context.Context) ([]string, error)
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
