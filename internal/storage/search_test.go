package storage

import (
	"strings"
	"testing"
	"time"
)

func TestContainsFold_CaseInsensitive(t *testing.T) {
	if !containsFold("Refactor the Parser", "parser") {
		t.Fatalf("expected case-insensitive hit")
	}
	if containsFold("", "x") || containsFold("x", "") {
		t.Fatalf("empty text or query must not match")
	}
}

func TestBuildSnippet_WindowsAroundFirstHit(t *testing.T) {
	text := strings.Repeat("a", 120) + " NEEDLE " + strings.Repeat("b", 120)
	snippet := buildSnippet(text, "needle")

	if !strings.Contains(snippet, "NEEDLE") {
		t.Fatalf("snippet %q lost the hit", snippet)
	}
	if !strings.HasPrefix(snippet, "...") || !strings.HasSuffix(snippet, "...") {
		t.Fatalf("snippet %q should be trimmed on both sides", snippet)
	}
	if got := len([]rune(snippet)); got > 2*snippetRadius+len("NEEDLE")+len("......")+2 {
		t.Fatalf("snippet too wide: %d runes", got)
	}
}

func TestBuildSnippet_CollapsesNewlines(t *testing.T) {
	snippet := buildSnippet("first line\nsecond needle line\nthird", "needle")
	if strings.Contains(snippet, "\n") {
		t.Fatalf("snippet %q still contains newlines", snippet)
	}
	if !strings.Contains(snippet, "second needle line") {
		t.Fatalf("snippet %q lost surrounding words", snippet)
	}
}

func TestBuildSnippet_ShortTextPassesThrough(t *testing.T) {
	if got := buildSnippet("tiny needle", "needle"); got != "tiny needle" {
		t.Fatalf("snippet = %q, want full text", got)
	}
}

func TestBuildSnippet_WideningCaseFoldKeepsTheHit(t *testing.T) {
	// U+023A lowercases to U+2C65, which is one byte wider in UTF-8, so a
	// byte offset into the lowered text overshoots the original.
	text := strings.Repeat("Ⱥ", 100) + " hello " + strings.Repeat("b", 50)
	snippet := buildSnippet(text, "HELLO")
	if !strings.Contains(snippet, "hello") {
		t.Fatalf("snippet %q lost the hit", snippet)
	}
}

func TestMatchTranscript_TitleWinsOverMessages(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := []SessionMessage{
		{Role: "user", Content: "deploy the archive service"},
	}

	match, ok := matchTranscript("s-1", "archive cleanup", at, msgs, "archive", SearchModeAll)
	if !ok {
		t.Fatalf("expected a match")
	}
	if match.MatchedRole != "title" {
		t.Fatalf("matchedRole = %q, want title", match.MatchedRole)
	}
	if match.SessionID != "s-1" || !match.UpdatedAt.Equal(at) {
		t.Fatalf("match = %+v", match)
	}
}

func TestMatchTranscript_ModeScoping(t *testing.T) {
	msgs := []SessionMessage{
		{Role: "user", Content: "please add retry logic"},
		{Role: "assistant", Content: "added exponential backoff"},
	}

	tests := []struct {
		name     string
		query    string
		mode     SessionSearchMode
		wantOK   bool
		wantRole string
	}{
		{name: "user text in user mode", query: "retry", mode: SearchModeUser, wantOK: true, wantRole: "user"},
		{name: "assistant text in assistant mode", query: "backoff", mode: SearchModeAssistant, wantOK: true, wantRole: "assistant"},
		{name: "assistant text hidden from user mode", query: "backoff", mode: SearchModeUser, wantOK: false},
		{name: "user text hidden from title mode", query: "retry", mode: SearchModeTitle, wantOK: false},
		{name: "either role in all mode", query: "backoff", mode: SearchModeAll, wantOK: true, wantRole: "assistant"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			match, ok := matchTranscript("s-1", "unrelated title", time.Time{}, msgs, tc.query, tc.mode)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && match.MatchedRole != tc.wantRole {
				t.Fatalf("matchedRole = %q, want %q", match.MatchedRole, tc.wantRole)
			}
		})
	}
}

func TestMatchTranscript_WideningFoldContentStaysSearchable(t *testing.T) {
	msgs := []SessionMessage{
		{Role: "user", Content: strings.Repeat("Ⱥ", 100) + " deploy the service"},
	}

	match, ok := matchTranscript("s-1", "plain title", time.Time{}, msgs, "deploy", SearchModeAll)
	if !ok {
		t.Fatalf("expected a match")
	}
	if match.MatchedRole != "user" {
		t.Fatalf("matchedRole = %q, want user", match.MatchedRole)
	}
	if !strings.Contains(match.Snippet, "deploy") {
		t.Fatalf("snippet %q lost the hit", match.Snippet)
	}
}

func TestParseSearchMode_EmptyDefaultsToAll(t *testing.T) {
	mode, ok := ParseSearchMode("")
	if !ok || mode != SearchModeAll {
		t.Fatalf("ParseSearchMode(\"\") = %q ok=%v, want all true", mode, ok)
	}
	if _, ok := ParseSearchMode("bogus"); ok {
		t.Fatalf("bogus mode must not parse")
	}
}
