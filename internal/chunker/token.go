package chunker

import "strings"

// EstimateTokens approximates a tokenizer at four tokens per three words.
// Words longer than 16 bytes (URLs, registration numbers) count one token
// per four bytes instead.
func EstimateTokens(text string) int {
	words, long := 0, 0
	for _, w := range strings.Fields(text) {
		if len(w) > 16 {
			long += (len(w) + 3) / 4
			continue
		}
		words++
	}
	tokens := words*4/3 + long
	if tokens == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return tokens
}

// wordsForTokens inverts EstimateTokens for ordinary words.
func wordsForTokens(tokens int) int {
	return tokens * 3 / 4
}
