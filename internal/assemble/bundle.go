// Package assemble turns a ranked list of vector records into a bounded,
// human-readable context bundle for content generation.
//
// Every extraction rule is a pure function over the ranked records; the
// bundle is then cut to a global character budget with equal-share
// truncation.
package assemble

import "unicode/utf8"

// Ellipsis marks a truncated field.
const Ellipsis = "..."

// Bundle is the structured retrieval context. Every field is a plain string;
// an empty string means nothing was extracted for that category.
type Bundle struct {
	BrandPatterns       string `json:"brandPatterns"`
	SuccessfulStyles    string `json:"successfulStyles"`
	AvoidPatterns       string `json:"avoidPatterns"`
	IndustryInsights    string `json:"industryInsights"`
	SeasonalTrends      string `json:"seasonalTrends"`
	VoicePatterns       string `json:"voicePatterns"`
	EffectiveHashtags   string `json:"effectiveHashtags"`
	SeoKeywords         string `json:"seoKeywords"`
	PerformanceInsights string `json:"performanceInsights"`
	PlatformPatterns    string `json:"platformPatterns"`
	LanguagePatterns    string `json:"languagePatterns"`
}

// Section is a named bundle field.
type Section struct {
	Name  string
	Value string
}

// Sections returns the bundle fields in a fixed order.
func (b *Bundle) Sections() []Section {
	return []Section{
		{"Brand patterns", b.BrandPatterns},
		{"Successful styles", b.SuccessfulStyles},
		{"Avoid", b.AvoidPatterns},
		{"Industry insights", b.IndustryInsights},
		{"Seasonal trends", b.SeasonalTrends},
		{"Voice", b.VoicePatterns},
		{"Effective hashtags", b.EffectiveHashtags},
		{"SEO keywords", b.SeoKeywords},
		{"Performance", b.PerformanceInsights},
		{"Platform patterns", b.PlatformPatterns},
		{"Language patterns", b.LanguagePatterns},
	}
}

func (b *Bundle) fields() []*string {
	return []*string{
		&b.BrandPatterns, &b.SuccessfulStyles, &b.AvoidPatterns, &b.IndustryInsights,
		&b.SeasonalTrends, &b.VoicePatterns, &b.EffectiveHashtags, &b.SeoKeywords,
		&b.PerformanceInsights, &b.PlatformPatterns, &b.LanguagePatterns,
	}
}

// IsEmpty reports whether every field is empty.
func (b *Bundle) IsEmpty() bool {
	return b.Len() == 0
}

// Len is the summed character count of all fields.
func (b *Bundle) Len() int {
	n := 0
	for _, f := range b.fields() {
		n += utf8.RuneCountInString(*f)
	}
	return n
}

// Truncate enforces a global budget of maxLen characters. When the bundle
// exceeds it, each non-empty field longer than maxLen/fieldCount (integer
// floor) is cut to that share including a trailing ellipsis. Fields under
// their share are left untouched and unused budget is not redistributed.
// A non-positive maxLen disables truncation.
func (b *Bundle) Truncate(maxLen int) {
	if maxLen <= 0 || b.Len() <= maxLen {
		return
	}

	nonEmpty := 0
	for _, f := range b.fields() {
		if *f != "" {
			nonEmpty++
		}
	}
	share := maxLen / nonEmpty

	for _, f := range b.fields() {
		*f = cut(*f, share)
	}
}

// cut shortens s to at most n characters, ending in Ellipsis when there is
// room for it.
func cut(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= len(Ellipsis) {
		return string(r[:max(n, 0)])
	}
	return string(r[:n-len(Ellipsis)]) + Ellipsis
}
