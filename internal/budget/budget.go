// Package budget estimates prompt size and fits retrieved passages into the
// context window of the generation provider. Because several backends with
// different tokenizers are supported, it uses a conservative character
// heuristic: 1 token ≈ 4 characters.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default prompt budget in tokens. It fits
	// 8k-context models while leaving room for the answer.
	// Override via RETRIEVAL_MAX_CONTEXT_TOKENS.
	DefaultMaxContextTokens = 6000

	// messageOverhead is the per-message framing cost charged by most chat APIs.
	messageOverhead = 4
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitPassages returns the leading passages whose estimated tokens fit in
// maxTokens after reserved tokens are spent. Passages are ranked, so later
// ones are dropped first. When even the first passage does not fit it is
// truncated to the remaining budget instead of being dropped, so the best
// match always reaches the prompt.
func FitPassages(passages []string, reserved, maxTokens int) []string {
	if len(passages) == 0 {
		return passages
	}
	remaining := maxTokens - reserved

	out := make([]string, 0, len(passages))
	for _, p := range passages {
		cost := Estimate(p)
		if cost <= remaining {
			out = append(out, p)
			remaining -= cost
			continue
		}
		if len(out) == 0 && remaining > 0 {
			out = append(out, Truncate(p, remaining))
		}
		break
	}
	return out
}

// Truncate cuts s to at most tokens*charsPerToken bytes without splitting a
// UTF-8 sequence.
func Truncate(s string, tokens int) string {
	limit := tokens * charsPerToken
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
