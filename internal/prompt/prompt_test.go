package prompt

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/brandrag/internal/assemble"
	"github.com/54b3r/brandrag/internal/logging"
)

func Test_Enrich_Order(t *testing.T) {
	t.Parallel()

	b := assemble.Bundle{
		BrandPatterns:    "Organic skincare for sensitive skin",
		LanguagePatterns: "Top styles for language en: soft",
	}
	p := Enrich("Write a caption for our new serum", b, 0, logging.Discard())

	if len(p.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(p.Messages))
	}
	if p.Messages[0].Role != schema.System || p.Messages[3].Role != schema.User {
		t.Errorf("unexpected roles: %s ... %s", p.Messages[0].Role, p.Messages[3].Role)
	}
	if !strings.Contains(p.Messages[1].Content, "Brand patterns") {
		t.Errorf("brand patterns should come first, got %q", p.Messages[1].Content)
	}
	if !strings.Contains(p.Messages[2].Content, "Language patterns") {
		t.Errorf("language patterns should come last, got %q", p.Messages[2].Content)
	}
	if p.Messages[3].Content != "Write a caption for our new serum" {
		t.Errorf("query not preserved: %q", p.Messages[3].Content)
	}
	if len(p.Dropped) != 0 || p.Tokens == 0 {
		t.Errorf("dropped=%v tokens=%d", p.Dropped, p.Tokens)
	}
}

func Test_Enrich_EmptyBundle(t *testing.T) {
	t.Parallel()

	p := Enrich("hello", assemble.Bundle{}, 100, nil)
	if len(p.Messages) != 2 {
		t.Fatalf("expected system + user only, got %d messages", len(p.Messages))
	}
}

func Test_Enrich_DropsLeastImportantFirst(t *testing.T) {
	t.Parallel()

	b := assemble.Bundle{
		BrandPatterns:    strings.Repeat("b", 200),
		SeoKeywords:      strings.Repeat("s", 200),
		LanguagePatterns: strings.Repeat("l", 200),
	}
	// The fixed messages cost roughly 80 tokens and each section roughly 60,
	// so only one section fits in 150.
	p := Enrich("q", b, 150, logging.Discard())

	if len(p.Dropped) != 2 {
		t.Fatalf("expected 2 dropped sections, got %v", p.Dropped)
	}
	if p.Dropped[0] != "Language patterns" || p.Dropped[1] != "SEO keywords" {
		t.Errorf("unexpected drop order: %v", p.Dropped)
	}
	if len(p.Messages) != 3 || !strings.Contains(p.Messages[1].Content, "Brand patterns") {
		t.Errorf("brand patterns should survive, got %d messages", len(p.Messages))
	}
}
