package storage

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// encodeCursor packs the sort key of a page's last item into an opaque
// token.
func encodeCursor(updatedAt time.Time, sessionID string) string {
	raw := fmt.Sprintf("%d:%s", updatedAt.UnixNano(), sessionID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor recovers the (updatedAt, sessionID) sort key. ok is false for
// garbage tokens; callers restart from the first page in that case.
func decodeCursor(cursor string) (time.Time, string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", false
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.Unix(0, nanos), parts[1], true
}

// sortSessions orders summaries most-recently-updated first, session id as
// the tiebreak so the order is total and cursors stay stable.
func sortSessions(sessions []AgentSessionInfo) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].SessionID < sessions[j].SessionID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}

// sessionAfter reports whether s sorts strictly after the cursor key in the
// listing order.
func sessionAfter(s AgentSessionInfo, cursorAt time.Time, cursorID string) bool {
	if s.UpdatedAt.Equal(cursorAt) {
		return s.SessionID > cursorID
	}
	return s.UpdatedAt.Before(cursorAt)
}

// paginateSessions slices a fully-sorted summary list into one page. Keyset
// cursors keep existing pages stable when newer sessions are appended: new
// items sort before the cursor position and never displace what follows it.
func paginateSessions(all []AgentSessionInfo, opts PageOptions) *PaginatedSessionsResult {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}

	start := 0
	if opts.Cursor != "" {
		if cursorAt, cursorID, ok := decodeCursor(opts.Cursor); ok {
			start = len(all)
			for i, s := range all {
				if sessionAfter(s, cursorAt, cursorID) {
					start = i
					break
				}
			}
		}
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]AgentSessionInfo, end-start)
	copy(page, all[start:end])

	out := &PaginatedSessionsResult{
		Sessions:   page,
		TotalCount: len(all),
		HasMore:    end < len(all),
	}
	if out.HasMore && len(page) > 0 {
		last := page[len(page)-1]
		out.NextCursor = encodeCursor(last.UpdatedAt, last.SessionID)
	}
	return out
}

// windowMessages applies offset/limit to a message sequence already in
// creation order.
func windowMessages(msgs []SessionMessage, opts WindowOptions) *SessionMessagesResult {
	total := len(msgs)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return &SessionMessagesResult{Messages: []SessionMessage{}, Total: total}
	}
	end := total
	if opts.Limit > 0 && offset+opts.Limit < total {
		end = offset + opts.Limit
	}
	window := make([]SessionMessage, end-offset)
	copy(window, msgs[offset:end])
	return &SessionMessagesResult{
		Messages: window,
		Total:    total,
		HasMore:  end < total,
	}
}
