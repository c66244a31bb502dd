package assemble

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/54b3r/brandrag/internal/vector"
)

const (
	// HighPerformance is the exclusive lower bound for a high performer.
	HighPerformance = 0.7
	// LowPerformance is the exclusive upper bound for a low performer.
	LowPerformance = 0.3

	brandExcerptLen = 200
	minVoiceLen     = 10
	maxVoiceLen     = 100
	maxVoiceSamples = 3
)

// Options controls which conditional fields are extracted.
type Options struct {
	ContentType vector.ContentType
	Platform    string
	Language    string
	// MaxLength is the global character budget; 0 disables truncation.
	MaxLength int
	Now       time.Time
}

// Assemble builds a bundle from the user's ranked records and optional
// industry records, then truncates it to opts.MaxLength.
func Assemble(user, industry []vector.Record, opts Options) Bundle {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	high := filter(user, func(r vector.Record) bool { return r.Metadata.Performance > HighPerformance })
	low := filter(user, func(r vector.Record) bool { return r.Metadata.Performance < LowPerformance })

	b := Bundle{
		BrandPatterns:       brandPatterns(user, high),
		SuccessfulStyles:    successfulStyles(high),
		AvoidPatterns:       avoidPatterns(low),
		IndustryInsights:    industryInsights(industry),
		SeasonalTrends:      seasonalTrends(user, now),
		PerformanceInsights: performanceInsights(user),
	}

	switch opts.ContentType {
	case vector.SocialMedia:
		b.VoicePatterns = voicePatterns(high)
		b.EffectiveHashtags = effectiveHashtags(high)
		if opts.Platform != "" {
			b.PlatformPatterns = scopedStyles(high, "platform", opts.Platform,
				func(r vector.Record) string { return r.Metadata.Platform })
		}
		if opts.Language != "" {
			b.LanguagePatterns = scopedStyles(high, "language", opts.Language,
				func(r vector.Record) string { return r.Metadata.Language })
		}
	case vector.BlogPost:
		b.SeoKeywords = seoKeywords(high)
	}

	b.Truncate(opts.MaxLength)
	return b
}

func brandPatterns(all, high []vector.Record) string {
	var parts []string
	for _, r := range all {
		if r.ContentType != vector.BrandProfile || r.TextContent == "" {
			continue
		}
		parts = append(parts, prefix(r.TextContent, brandExcerptLen))
	}
	if ranked := top(frequencies(styles(high)), 3); len(ranked) > 0 {
		parts = append(parts, "Preferred styles: "+strings.Join(values(ranked), ", "))
	}
	return strings.Join(parts, "\n")
}

func successfulStyles(high []vector.Record) string {
	ranked := top(frequencies(styles(high)), 5)
	parts := make([]string, len(ranked))
	for i, f := range ranked {
		parts[i] = fmt.Sprintf("%s (used %d times successfully)", f.value, f.count)
	}
	return strings.Join(parts, ", ")
}

func avoidPatterns(low []vector.Record) string {
	ranked := top(frequencies(styles(low)), 3)
	if len(ranked) == 0 {
		return ""
	}
	return "Avoid these styles that performed poorly: " + strings.Join(values(ranked), ", ") + "."
}

func industryInsights(industry []vector.Record) string {
	ranked := top(frequencies(styles(industry)), 3)
	if len(ranked) == 0 {
		return ""
	}
	return "Styles performing well across the industry: " + strings.Join(values(ranked), ", ")
}

func seasonalTrends(all []vector.Record, now time.Time) string {
	month := now.Month()
	seasonal := filter(all, func(r vector.Record) bool { return r.Metadata.CreatedAt.Month() == month })
	ranked := top(frequencies(styles(seasonal)), 3)
	if len(ranked) == 0 {
		return ""
	}
	return "Trending this season: " + strings.Join(values(ranked), ", ")
}

func voicePatterns(high []vector.Record) string {
	var samples []string
	for _, r := range high[:min(len(high), maxVoiceSamples)] {
		sentence, _, _ := strings.Cut(r.TextContent, ".")
		sentence = strings.TrimSpace(sentence)
		if n := utf8.RuneCountInString(sentence); n >= minVoiceLen && n <= maxVoiceLen {
			samples = append(samples, sentence)
		}
	}
	return strings.Join(samples, "\n")
}

func effectiveHashtags(high []vector.Record) string {
	ranked := top(frequencies(tags(high)), 10)
	out := make([]string, len(ranked))
	for i, f := range ranked {
		out[i] = "#" + f.value
	}
	return strings.Join(out, " ")
}

func seoKeywords(high []vector.Record) string {
	blogs := filter(high, func(r vector.Record) bool { return r.ContentType == vector.BlogPost })
	return strings.Join(values(top(frequencies(tags(blogs)), 8)), ", ")
}

func scopedStyles(high []vector.Record, label, want string, field func(vector.Record) string) string {
	scoped := filter(high, func(r vector.Record) bool { return strings.EqualFold(field(r), want) })
	ranked := top(frequencies(styles(scoped)), 3)
	if len(ranked) == 0 {
		return ""
	}
	return fmt.Sprintf("Top styles for %s %s: %s", label, want, strings.Join(values(ranked), ", "))
}

func performanceInsights(all []vector.Record) string {
	if len(all) == 0 {
		return ""
	}
	var sum float64
	for _, r := range all {
		sum += r.Metadata.Performance
	}
	mean := sum / float64(len(all))

	switch {
	case mean > HighPerformance:
		return fmt.Sprintf("Similar past content performed strongly (average score %.2f); stay close to what worked.", mean)
	case mean < LowPerformance:
		return fmt.Sprintf("Similar past content underperformed (average score %.2f); take a noticeably different approach.", mean)
	}
	return ""
}

func filter(recs []vector.Record, keep func(vector.Record) bool) []vector.Record {
	var out []vector.Record
	for _, r := range recs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func styles(recs []vector.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Metadata.Style)
	}
	return out
}

func tags(recs []vector.Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Metadata.Tags...)
	}
	return out
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
