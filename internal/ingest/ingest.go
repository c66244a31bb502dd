// Package ingest backfills the vector store from a YAML manifest of content
// items. It stands in for the application trigger layer: new items are
// inserted, and existing items are re-embedded only when their text changed
// significantly, otherwise just their metadata is updated.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/engine"
	"github.com/54b3r/brandrag/internal/vector"
)

// SignificanceThreshold is the word-overlap ratio below which an edit is
// treated as new content and re-embedded.
const SignificanceThreshold = 0.85

// Item is one content entry of a manifest.
type Item struct {
	UserID           string               `yaml:"user_id"`
	ContentType      vector.ContentType   `yaml:"content_type"`
	ContentID        string               `yaml:"content_id"`
	Text             string               `yaml:"text"`
	Metadata         vector.MetadataPatch `yaml:"metadata"`
	SourceCollection string               `yaml:"source_collection"`
	SourceDocID      string               `yaml:"source_doc_id"`
}

// Manifest is the top-level YAML document.
type Manifest struct {
	Items []Item `yaml:"items"`
}

// Parse decodes a manifest from r.
func Parse(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("ingest: parse manifest: %w", err)
	}
	return &m, nil
}

// Load reads and decodes the manifest at path.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open manifest: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Writer is the engine surface the pipeline drives.
type Writer interface {
	Insert(ctx context.Context, in engine.InsertInput) error
	UpsertByContentID(ctx context.Context, in engine.UpsertInput) error
}

// Finder looks up the stored version of an item.
type Finder interface {
	FindByContentID(ctx context.Context, userID, contentID string) (*vector.Record, error)
}

// Report counts what a run did with each item.
type Report struct {
	Inserted     int `json:"inserted"`
	Reembedded   int `json:"reembedded"`
	MetadataOnly int `json:"metadataOnly"`
	RateLimited  int `json:"rateLimited"`
	// Skipped counts new items without text, which are never stored.
	Skipped int `json:"skipped"`
	Failed       int `json:"failed"`
}

// Pipeline applies manifests to the store.
type Pipeline struct {
	writer Writer
	finder Finder
}

// NewPipeline returns a Pipeline.
func NewPipeline(w Writer, f Finder) (*Pipeline, error) {
	if w == nil {
		return nil, fmt.Errorf("ingest: writer must not be nil")
	}
	if f == nil {
		return nil, fmt.Errorf("ingest: finder must not be nil")
	}
	return &Pipeline{writer: w, finder: f}, nil
}

// Ingest applies every item in order. Rate-limited and invalid items are
// counted and skipped; the run only stops early when ctx is cancelled.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, m *Manifest, progress func(msg string)) (Report, error) {
	if progress == nil {
		progress = func(string) {}
	}

	var rep Report
	for i, item := range m.Items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		action, err := p.apply(ctx, item)
		switch {
		case errors.Is(err, apperr.ErrRateLimitExceeded):
			rep.RateLimited++
			progress(fmt.Sprintf("[%d] %s/%s: %v", i, item.UserID, item.ContentID, err))
			continue
		case err != nil:
			rep.Failed++
			progress(fmt.Sprintf("[%d] %s/%s: failed: %v", i, item.UserID, item.ContentID, err))
			continue
		}

		switch action {
		case actionInsert:
			rep.Inserted++
		case actionReembed:
			rep.Reembedded++
		case actionMetadata:
			rep.MetadataOnly++
		case actionSkip:
			rep.Skipped++
		}
		progress(fmt.Sprintf("[%d] %s/%s: %s", i, item.UserID, item.ContentID, action))
	}
	return rep, nil
}

type action string

const (
	actionInsert   action = "inserted"
	actionReembed  action = "re-embedded"
	actionMetadata action = "metadata updated"
	actionSkip     action = "skipped, no text"
)

func (p *Pipeline) apply(ctx context.Context, item Item) (action, error) {
	existing, err := p.finder.FindByContentID(ctx, item.UserID, item.ContentID)
	if errors.Is(err, apperr.ErrNotFound) {
		if item.Text == "" {
			return actionSkip, nil
		}
		return actionInsert, p.writer.Insert(ctx, engine.InsertInput{
			UserID:           item.UserID,
			ContentType:      item.ContentType,
			ContentID:        item.ContentID,
			Text:             item.Text,
			Metadata:         item.Metadata,
			SourceCollection: item.SourceCollection,
			SourceDocID:      item.SourceDocID,
		})
	}
	if err != nil {
		return "", err
	}

	in := engine.UpsertInput{UserID: item.UserID, ContentID: item.ContentID, Metadata: item.Metadata}
	act := actionMetadata
	if SignificantChange(existing.TextContent, item.Text) {
		in.Text = item.Text
		act = actionReembed
	}
	return act, p.writer.UpsertByContentID(ctx, in)
}

// SignificantChange reports whether updated differs enough from previous to
// warrant a new embedding: the share of distinct words the two texts have in
// common, relative to the larger vocabulary, is below
// SignificanceThreshold. Words are compared case-insensitively. An empty
// updated text is never significant.
func SignificantChange(previous, updated string) bool {
	b := words(updated)
	if len(b) == 0 {
		return false
	}
	a := words(previous)
	if len(a) == 0 {
		return true
	}

	common := 0
	for w := range b {
		if _, ok := a[w]; ok {
			common++
		}
	}
	overlap := float64(common) / float64(max(len(a), len(b)))
	return overlap < SignificanceThreshold
}

func words(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = struct{}{}
	}
	return out
}
