// Package tokens estimates prompt sizes for the extraction oracle.
package tokens

// EstimateTokens provides a rough token count estimate for text.
// Uses the common heuristic of ~4 characters per token for English text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// NewestWithin returns the index of the oldest text such that texts[i:]
// fits in budget tokens. The newest text is always kept, even when it alone
// exceeds the budget. A budget <= 0 keeps everything.
func NewestWithin(texts []string, budget int) int {
	if budget <= 0 || len(texts) == 0 {
		return 0
	}
	used := 0
	for i := len(texts) - 1; i >= 0; i-- {
		used += EstimateTokens(texts[i])
		if used > budget && i < len(texts)-1 {
			return i + 1
		}
	}
	return 0
}
