// Package budget provides token estimation for embedding cost accounting and
// prompt sizing. Because embedding and generation backends use different
// tokenizers, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation.
	charsPerToken = 4

	// DefaultMaxPromptTokens is the default input budget for an enriched
	// generation prompt.
	DefaultMaxPromptTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EmbeddingCost returns the estimated USD cost of embedding s at costPer1K
// dollars per thousand tokens.
func EmbeddingCost(s string, costPer1K float64) float64 {
	if costPer1K <= 0 {
		return 0
	}
	return float64(Estimate(s)) * costPer1K / 1000
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimOptional removes messages from the front of optional until the total
// estimated token count of fixed + optional fits within maxTokens. Callers
// order optional from least to most important.
//
// If even an empty optional slice exceeds the budget, the empty slice is
// returned; fixed messages are never dropped here.
func TrimOptional(fixed, optional []*schema.Message, maxTokens int) []*schema.Message {
	if len(optional) == 0 {
		return optional
	}

	fixedTokens := EstimateMessages(fixed)
	for len(optional) > 0 {
		if fixedTokens+EstimateMessages(optional) <= maxTokens {
			break
		}
		optional = optional[1:]
	}
	return optional
}
