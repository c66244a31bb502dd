// Package prompt renders a retrieval context bundle into chat messages for
// a content-generation model.
package prompt

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/brandrag/internal/assemble"
	"github.com/54b3r/brandrag/internal/budget"
)

const systemPrompt = `You write marketing content for a single brand.
Use the brand context below to match the brand's voice, styles and vocabulary.
Treat "avoid" guidance as hard constraints. When context is missing, write in a
neutral, professional tone rather than inventing brand facts.`

// Prompt is an enriched generation request.
type Prompt struct {
	Messages []*schema.Message
	// Tokens is the estimated input size of Messages.
	Tokens int
	// Dropped lists the bundle sections removed to fit the token budget.
	Dropped []string
}

// Enrich builds the message list for query: the system prompt, one system
// message per non-empty bundle section, then the user request.
//
// Sections are dropped last-first (language patterns before brand patterns)
// until the estimate fits maxTokens. The system prompt and the query are
// never dropped. A non-positive maxTokens uses budget.DefaultMaxPromptTokens.
func Enrich(query string, b assemble.Bundle, maxTokens int, log *slog.Logger) Prompt {
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxPromptTokens
	}

	fixed := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(query),
	}

	// optional is ordered least important first for TrimOptional.
	var optional []*schema.Message
	var names []string
	sections := b.Sections()
	for i := len(sections) - 1; i >= 0; i-- {
		s := sections[i]
		if s.Value == "" {
			continue
		}
		optional = append(optional, schema.SystemMessage(fmt.Sprintf("## %s\n%s", s.Name, s.Value)))
		names = append(names, s.Name)
	}

	kept := budget.TrimOptional(fixed, optional, maxTokens)
	dropped := names[:len(optional)-len(kept)]
	if len(dropped) > 0 && log != nil {
		log.Warn("budget: dropped context sections to fit prompt",
			slog.Int("dropped", len(dropped)),
			slog.Int("retained", len(kept)),
			slog.Int("max_tokens", maxTokens),
		)
	}

	msgs := make([]*schema.Message, 0, len(kept)+2)
	msgs = append(msgs, fixed[0])
	for i := len(kept) - 1; i >= 0; i-- {
		msgs = append(msgs, kept[i])
	}
	msgs = append(msgs, fixed[1])

	return Prompt{
		Messages: msgs,
		Tokens:   budget.EstimateMessages(msgs),
		Dropped:  slices.Clone(dropped),
	}
}
