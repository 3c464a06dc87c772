package session

import (
	"unicode/utf8"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// EstimateTokens approximates the token cost of text at four characters per token.
// Non-empty text always costs at least one token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	if n < 4 {
		return 1
	}
	return n / 4
}

// turnCost prefers the recorded token count and falls back to the estimate.
func turnCost(t domain.Turn) int {
	if t.TokenCount != nil && *t.TokenCount > 0 {
		return *t.TokenCount
	}
	return EstimateTokens(t.Content)
}

// fitBudget keeps the longest suffix of turns whose total cost stays within maxTokens.
// turns must be in chronological order; the result is too.
func fitBudget(turns []domain.Turn, maxTokens int) []domain.Turn {
	total := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := turnCost(turns[i])
		if total+cost > maxTokens {
			break
		}
		total += cost
		start = i
	}
	return turns[start:]
}
