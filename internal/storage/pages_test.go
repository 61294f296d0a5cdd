package storage

import (
	"fmt"
	"testing"
	"time"
)

func sessionAt(id string, updated time.Time) AgentSessionInfo {
	return AgentSessionInfo{SessionID: id, UpdatedAt: updated}
}

func TestPaginateSessions_CursorWalksEveryPageOnce(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	all := make([]AgentSessionInfo, 0, 7)
	for i := 0; i < 7; i++ {
		all = append(all, sessionAt(fmt.Sprintf("s-%02d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	sortSessions(all)

	var got []string
	cursor := ""
	for hops := 0; hops < 10; hops++ {
		page := paginateSessions(all, PageOptions{Cursor: cursor, Limit: 3})
		if page.TotalCount != 7 {
			t.Fatalf("totalCount = %d, want 7", page.TotalCount)
		}
		for _, s := range page.Sessions {
			got = append(got, s.SessionID)
		}
		if !page.HasMore {
			if page.NextCursor != "" {
				t.Fatalf("exhausted page still carries cursor %q", page.NextCursor)
			}
			break
		}
		if page.NextCursor == "" {
			t.Fatalf("hasMore page without nextCursor")
		}
		cursor = page.NextCursor
	}

	want := []string{"s-06", "s-05", "s-04", "s-03", "s-02", "s-01", "s-00"}
	if len(got) != len(want) {
		t.Fatalf("walked %d sessions, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPaginateSessions_AppendedSessionDoesNotShiftOldPages(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	all := []AgentSessionInfo{
		sessionAt("s-a", base.Add(3*time.Minute)),
		sessionAt("s-b", base.Add(2*time.Minute)),
		sessionAt("s-c", base.Add(1*time.Minute)),
		sessionAt("s-d", base),
	}
	sortSessions(all)

	first := paginateSessions(all, PageOptions{Limit: 2})
	if len(first.Sessions) != 2 || first.Sessions[0].SessionID != "s-a" {
		t.Fatalf("first page = %+v", first.Sessions)
	}

	// A newer session lands before the second page is requested.
	grown := append([]AgentSessionInfo{sessionAt("s-new", base.Add(10*time.Minute))}, all...)
	sortSessions(grown)

	second := paginateSessions(grown, PageOptions{Cursor: first.NextCursor, Limit: 2})
	if len(second.Sessions) != 2 {
		t.Fatalf("second page has %d sessions, want 2", len(second.Sessions))
	}
	if second.Sessions[0].SessionID != "s-c" || second.Sessions[1].SessionID != "s-d" {
		t.Fatalf("second page = %s,%s, want s-c,s-d",
			second.Sessions[0].SessionID, second.Sessions[1].SessionID)
	}
	if second.TotalCount != 5 {
		t.Fatalf("totalCount = %d, want 5", second.TotalCount)
	}
}

func TestPaginateSessions_GarbageCursorRestartsAtFirstPage(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	all := []AgentSessionInfo{
		sessionAt("s-a", base.Add(time.Minute)),
		sessionAt("s-b", base),
	}
	sortSessions(all)

	for _, cursor := range []string{"not-base64!!!", "bm9jb2xvbg", "OnNlc3Npb24"} {
		page := paginateSessions(all, PageOptions{Cursor: cursor, Limit: 10})
		if len(page.Sessions) != 2 || page.Sessions[0].SessionID != "s-a" {
			t.Fatalf("cursor %q: page = %+v, want restart from s-a", cursor, page.Sessions)
		}
	}
}

func TestPaginateSessions_DefaultLimit(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	all := make([]AgentSessionInfo, 0, 25)
	for i := 0; i < 25; i++ {
		all = append(all, sessionAt(fmt.Sprintf("s-%02d", i), base.Add(time.Duration(i)*time.Second)))
	}
	sortSessions(all)

	page := paginateSessions(all, PageOptions{})
	if len(page.Sessions) != DefaultPageSize {
		t.Fatalf("default page has %d sessions, want %d", len(page.Sessions), DefaultPageSize)
	}
	if !page.HasMore || page.NextCursor == "" {
		t.Fatalf("expected more pages after the default page")
	}
}

func TestSortSessions_TiebreakOnSessionID(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	all := []AgentSessionInfo{
		sessionAt("s-b", at),
		sessionAt("s-a", at),
		sessionAt("s-c", at),
	}
	sortSessions(all)

	want := []string{"s-a", "s-b", "s-c"}
	for i := range want {
		if all[i].SessionID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, all[i].SessionID, want[i])
		}
	}
}

func TestWindowMessages_OffsetAndLimit(t *testing.T) {
	msgs := make([]SessionMessage, 10)
	for i := range msgs {
		msgs[i] = SessionMessage{UUID: fmt.Sprintf("m-%d", i)}
	}

	win := windowMessages(msgs, WindowOptions{Offset: 4, Limit: 3})
	if win.Total != 10 {
		t.Fatalf("total = %d, want 10", win.Total)
	}
	if len(win.Messages) != 3 || win.Messages[0].UUID != "m-4" || win.Messages[2].UUID != "m-6" {
		t.Fatalf("window = %+v", win.Messages)
	}
	if !win.HasMore {
		t.Fatalf("expected hasMore with 3 messages remaining")
	}
}

func TestWindowMessages_ZeroLimitTakesRest(t *testing.T) {
	msgs := []SessionMessage{{UUID: "a"}, {UUID: "b"}, {UUID: "c"}}
	win := windowMessages(msgs, WindowOptions{Offset: 1})
	if len(win.Messages) != 2 || win.HasMore {
		t.Fatalf("window = %d messages, hasMore = %v; want 2, false", len(win.Messages), win.HasMore)
	}
}

func TestWindowMessages_OffsetBeyondEnd(t *testing.T) {
	msgs := []SessionMessage{{UUID: "a"}}
	win := windowMessages(msgs, WindowOptions{Offset: 5})
	if win.Messages == nil || len(win.Messages) != 0 {
		t.Fatalf("window = %v, want empty non-nil slice", win.Messages)
	}
	if win.Total != 1 || win.HasMore {
		t.Fatalf("total = %d, hasMore = %v; want 1, false", win.Total, win.HasMore)
	}
}

func TestWindowMessages_EmptySequence(t *testing.T) {
	win := windowMessages(nil, WindowOptions{})
	if win.Messages == nil || len(win.Messages) != 0 || win.Total != 0 || win.HasMore {
		t.Fatalf("empty sequence window = %+v", win)
	}
}
