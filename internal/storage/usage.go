package storage

import "unicode/utf8"

// estimateTokens returns a conservative token-count estimate for formats
// that record no usage. Not a tokenizer; bytes/3 bounded below by runes/2
// tracks BPE output closely enough for summary displays.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byBytes := len(text) / 3
	byRunes := utf8.RuneCountInString(text) / 2
	if byBytes < byRunes {
		return byRunes
	}
	return byBytes
}

// addUsage folds add into dst, allocating dst on first use.
func addUsage(dst *TokenUsage, add *TokenUsage) *TokenUsage {
	if add == nil {
		return dst
	}
	if dst == nil {
		dst = &TokenUsage{}
	}
	dst.Input += add.Input
	dst.Output += add.Output
	dst.CacheRead += add.CacheRead
	dst.CacheWrite += add.CacheWrite
	dst.Estimated = dst.Estimated || add.Estimated
	return dst
}
