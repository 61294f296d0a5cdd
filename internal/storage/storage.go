// Package storage unifies access to the session history written by external
// coding-agent CLIs. Three on-disk formats live behind one capability set:
// a line-oriented JSONL transcript (one file per session), a hierarchical
// project/session/message/part tree, and an unindexed store of dated rollout
// files. Each backend also works against a remote host over ssh when a
// remote descriptor is supplied.
package storage

import (
	"context"
	"errors"
	"time"
)

// Agent identifiers for the built-in backends.
const (
	AgentClaudeCode = "claude-code"
	AgentOpencode   = "opencode"
	AgentCodex      = "codex"
)

// DefaultPageSize is used when a paginated listing is requested without an
// explicit limit.
const DefaultPageSize = 20

var (
	// ErrSessionNotFound reports a session id that no backend record matches.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRemoteUnsupported reports an operation that only works against the
	// local filesystem.
	ErrRemoteUnsupported = errors.New("operation not supported on remote storage")
)

// SSHRemoteConfig identifies a remote execution target. Its presence on a
// call (non-nil), not a boolean flag, is what switches a backend from the
// local filesystem to remote mode.
type SSHRemoteConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	UseSSHConfig bool   `json:"useSshConfig"`
	Enabled      bool   `json:"enabled"`
}

// TokenUsage aggregates token counts for a message or a whole session.
// Estimated marks counts derived from text length because the underlying
// format records no usage.
type TokenUsage struct {
	Input      int  `json:"input"`
	Output     int  `json:"output"`
	CacheRead  int  `json:"cacheRead,omitempty"`
	CacheWrite int  `json:"cacheWrite,omitempty"`
	Estimated  bool `json:"estimated,omitempty"`
}

// AgentSessionInfo is a summary of one conversation. It is regenerated on
// every listing call and never cached across calls. SessionName, Starred and
// Origin come from the origin overlay at read time; transcript files never
// carry them.
type AgentSessionInfo struct {
	SessionID    string      `json:"sessionId"`
	Title        string      `json:"title"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	MessageCount int         `json:"messageCount"`
	Cost         float64     `json:"cost,omitempty"`
	Tokens       *TokenUsage `json:"tokens,omitempty"`
	SessionName  *string     `json:"sessionName,omitempty"`
	Starred      bool        `json:"starred,omitempty"`
	Origin       string      `json:"origin,omitempty"`
}

// SessionMessage is one user or assistant message with its text assembled
// from whatever sub-records the format splits it into.
type SessionMessage struct {
	UUID      string      `json:"uuid"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Model     string      `json:"model,omitempty"`
	Tokens    *TokenUsage `json:"tokens,omitempty"`
	Cost      float64     `json:"cost,omitempty"`
}

// PageOptions selects a page of session summaries. An empty cursor starts at
// the newest session; Limit <= 0 falls back to DefaultPageSize.
type PageOptions struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// WindowOptions selects a slice of a session's message sequence. Limit <= 0
// means "rest of the sequence".
type WindowOptions struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

// PaginatedSessionsResult is one page of session summaries. NextCursor is
// opaque to callers; empty means the listing is exhausted.
type PaginatedSessionsResult struct {
	Sessions   []AgentSessionInfo `json:"sessions"`
	HasMore    bool               `json:"hasMore"`
	TotalCount int                `json:"totalCount"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// SessionMessagesResult is an offset/limit window over a session's messages.
type SessionMessagesResult struct {
	Messages []SessionMessage `json:"messages"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"hasMore"`
}

// SessionSearchMode scopes text search by role.
type SessionSearchMode string

const (
	SearchModeTitle     SessionSearchMode = "title"
	SearchModeUser      SessionSearchMode = "user"
	SearchModeAssistant SessionSearchMode = "assistant"
	SearchModeAll       SessionSearchMode = "all"
)

// ParseSearchMode maps a user-supplied mode string to a SessionSearchMode.
func ParseSearchMode(s string) (SessionSearchMode, bool) {
	switch SessionSearchMode(s) {
	case SearchModeTitle, SearchModeUser, SearchModeAssistant, SearchModeAll:
		return SessionSearchMode(s), true
	case "":
		return SearchModeAll, true
	}
	return "", false
}

// SessionSearchResult reports one matching session: which role matched and a
// snippet around the first hit.
type SessionSearchResult struct {
	SessionID   string    `json:"sessionId"`
	Title       string    `json:"title"`
	MatchedRole string    `json:"matchedRole"`
	Snippet     string    `json:"snippet"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DeletePairResult is the structured outcome of DeleteMessagePair. Mutations
// never surface Go errors directly; the Error string is meant to be rendered
// to the user as-is.
type DeletePairResult struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	LinesRemoved int    `json:"linesRemoved,omitempty"`
}

// SessionOriginRecord is the overlay metadata for one session. SessionName
// nil means "never set or cleared", distinguishable from an empty string.
type SessionOriginRecord struct {
	Origin      string  `json:"origin"`
	SessionName *string `json:"sessionName"`
	Starred     bool    `json:"starred"`
}

// Origin values for SessionOriginRecord.
const (
	OriginUser = "user"
	OriginAuto = "auto"
)

// AgentSessionStorage is the capability set every backend exposes, local or
// remote. Read operations degrade to empty results for anything missing on
// disk; only DeleteMessagePair mutates storage, and it reports failures as a
// structured result instead of an error.
type AgentSessionStorage interface {
	// AgentID returns the agent identifier this backend is bound to. Fixed at
	// construction.
	AgentID() string

	// ListSessions returns summaries for every session under projectPath,
	// most recently updated first. A nonexistent or inaccessible project
	// path yields an empty slice, not an error.
	ListSessions(ctx context.Context, projectPath string, remote *SSHRemoteConfig) ([]AgentSessionInfo, error)

	// ListSessionsPaginated windows the same listing with an opaque cursor
	// derived from the last item of the previous page.
	ListSessionsPaginated(ctx context.Context, projectPath string, opts PageOptions, remote *SSHRemoteConfig) (*PaginatedSessionsResult, error)

	// ReadSessionMessages windows the session's messages in creation order.
	// A nonexistent session yields an empty zero-total result.
	ReadSessionMessages(ctx context.Context, projectPath, sessionID string, opts WindowOptions, remote *SSHRemoteConfig) (*SessionMessagesResult, error)

	// SearchSessions finds sessions whose title or message text contains the
	// query, scoped by mode. An empty or whitespace-only query returns an
	// empty result before any storage is touched.
	SearchSessions(ctx context.Context, projectPath, query string, mode SessionSearchMode, remote *SSHRemoteConfig) ([]SessionSearchResult, error)

	// SessionPath resolves the on-disk location of a session without I/O.
	// It returns "" when the format cannot resolve a location synchronously;
	// callers must treat that as "no path available", not an error.
	SessionPath(projectPath, sessionID string, remote *SSHRemoteConfig) string

	// DeleteMessagePair removes one user message and the assistant response
	// records that immediately follow it, up to the next user message or end
	// of session. Either the whole pair is removed or storage is left
	// byte-for-byte unchanged. Remote descriptors are always refused.
	DeleteMessagePair(ctx context.Context, projectPath, sessionID, userMessageUUID, fallbackContent string, remote *SSHRemoteConfig) DeletePairResult
}

// Logger is the subset of the application logger the storage layer needs.
// A nil Logger is replaced by a no-op implementation.
type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, map[string]interface{})  {}
func (nopLogger) Error(string, map[string]interface{}) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
