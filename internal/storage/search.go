package storage

import (
	"strings"
	"time"
	"unicode/utf8"
)

// snippetRadius is how many runes of context surround the first hit on each
// side.
const snippetRadius = 40

// normalizeQuery trims a search query. An empty result means the caller must
// short-circuit to no matches before touching storage.
func normalizeQuery(query string) string {
	return strings.TrimSpace(query)
}

// containsFold reports a case-insensitive substring match.
func containsFold(text, query string) bool {
	if text == "" || query == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(query))
}

// buildSnippet returns a one-line window of text around the first
// case-insensitive occurrence of query. Newlines collapse to spaces so the
// snippet renders inline.
func buildSnippet(text, query string) string {
	flat := strings.Join(strings.Fields(text), " ")
	lowered := strings.ToLower(flat)
	runes := []rune(flat)

	idx := strings.Index(lowered, strings.ToLower(query))
	if idx < 0 {
		if len(runes) > 2*snippetRadius {
			return string(runes[:2*snippetRadius]) + "..."
		}
		return flat
	}

	// idx is a byte offset into the lowered text, whose byte widths can
	// differ from flat's. Lowering maps rune to rune, so the rune offset
	// carries back to flat unchanged.
	runeIdx := utf8.RuneCountInString(lowered[:idx])
	qLen := utf8.RuneCountInString(query)

	start := runeIdx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := runeIdx + qLen + snippetRadius
	if end > len(runes) {
		end = len(runes)
	}

	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

// modeMatchesRole reports whether a search mode covers the given message
// role.
func modeMatchesRole(mode SessionSearchMode, role string) bool {
	switch mode {
	case SearchModeAll:
		return role == "user" || role == "assistant"
	case SearchModeUser:
		return role == "user"
	case SearchModeAssistant:
		return role == "assistant"
	}
	return false
}

// modeIncludesTitle reports whether a search mode should check the display
// title.
func modeIncludesTitle(mode SessionSearchMode) bool {
	return mode == SearchModeTitle || mode == SearchModeAll
}

// matchTranscript applies one search query to one session. Title matches win
// over message matches; the first matching message of an allowed role
// produces the snippet otherwise.
func matchTranscript(sessionID, title string, updatedAt time.Time, messages []SessionMessage, query string, mode SessionSearchMode) (SessionSearchResult, bool) {
	if modeIncludesTitle(mode) && containsFold(title, query) {
		return SessionSearchResult{
			SessionID:   sessionID,
			Title:       title,
			MatchedRole: "title",
			Snippet:     buildSnippet(title, query),
			UpdatedAt:   updatedAt,
		}, true
	}
	if mode != SearchModeTitle {
		for _, msg := range messages {
			if modeMatchesRole(mode, msg.Role) && containsFold(msg.Content, query) {
				return SessionSearchResult{
					SessionID:   sessionID,
					Title:       title,
					MatchedRole: msg.Role,
					Snippet:     buildSnippet(msg.Content, query),
					UpdatedAt:   updatedAt,
				}, true
			}
		}
	}
	return SessionSearchResult{}, false
}
