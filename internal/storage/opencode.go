package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// opencodeRemoteRoot is the fixed storage root on a remote host. The remote
// rendering of every path under it is ~-relative with forward slashes,
// whatever the local platform uses.
const opencodeRemoteRoot = "~/.local/share/opencode/storage"

// OpencodeStorage reads the hierarchical store the opencode CLI writes:
//
//	<DataDir>/project/<projectID>.json     descriptor with a worktree field
//	<DataDir>/session/<projectID>/<sessionID>.json
//	<DataDir>/message/<sessionID>/<messageID>.json
//	<DataDir>/part/<messageID>/<partID>.json
//
// Message text is assembled by joining the message's ordered text-typed
// parts; other part types carry no display text.
type OpencodeStorage struct {
	// DataDir is the local storage root, overridable for tests.
	DataDir string

	origins *OriginStore
	log     Logger
}

func NewOpencodeStorage(origins *OriginStore, log Logger) *OpencodeStorage {
	return &OpencodeStorage{
		DataDir: filepath.Join(dataHome(), "opencode", "storage"),
		origins: origins,
		log:     orNop(log),
	}
}

func (s *OpencodeStorage) AgentID() string { return AgentOpencode }

// Origins exposes the shared overlay store this backend was wired with.
func (s *OpencodeStorage) Origins() *OriginStore { return s.origins }

type ocProject struct {
	ID       string `json:"id"`
	Worktree string `json:"worktree"`
}

type ocTime struct {
	Created float64 `json:"created"`
	Updated float64 `json:"updated"`
}

type ocSession struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectID"`
	Directory string `json:"directory"`
	Title     string `json:"title"`
	Version   string `json:"version"`
	Time      ocTime `json:"time"`
}

type ocMsgTime struct {
	Created   float64  `json:"created"`
	Completed *float64 `json:"completed,omitempty"`
}

type ocTokenCache struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

type ocTokens struct {
	Input     int          `json:"input"`
	Output    int          `json:"output"`
	Reasoning int          `json:"reasoning"`
	Cache     ocTokenCache `json:"cache"`
}

// ocMessage is a message header file. Assistant headers additionally carry
// model, cost and token fields.
type ocMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionID"`
	Role       string    `json:"role"`
	Time       ocMsgTime `json:"time"`
	ModelID    string    `json:"modelID,omitempty"`
	ProviderID string    `json:"providerID,omitempty"`
	Cost       float64   `json:"cost,omitempty"`
	Tokens     *ocTokens `json:"tokens,omitempty"`
}

type ocPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
}

func msToTime(ms float64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}

// ocFS abstracts the local filesystem and the remote ssh channel behind the
// two operations the tree walk needs.
type ocFS struct {
	remote *SSHRemoteConfig
	root   string
}

func (s *OpencodeStorage) fs(remote *SSHRemoteConfig) ocFS {
	if remote != nil {
		return ocFS{remote: remote, root: opencodeRemoteRoot}
	}
	return ocFS{root: s.DataDir}
}

func (f ocFS) join(parts ...string) string {
	if f.remote != nil {
		return f.root + "/" + strings.Join(parts, "/")
	}
	return filepath.Join(append([]string{f.root}, parts...)...)
}

// list returns directory entry names. A missing directory yields an empty
// slice.
func (f ocFS) list(ctx context.Context, dir string) ([]string, error) {
	if f.remote != nil {
		return remoteListDir(ctx, f.remote, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// read fetches one file. ok is false when the file does not exist (locally)
// or cannot be fetched (remotely).
func (f ocFS) read(ctx context.Context, path string) ([]byte, bool, error) {
	if f.remote != nil {
		data, err := remoteReadFile(ctx, f.remote, path)
		if err != nil {
			return nil, false, nil
		}
		return data, true, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// resolveProjectID scans project descriptors for one whose worktree matches
// the project path. Empty means no matching project, which every read
// treats as "no sessions yet".
func (s *OpencodeStorage) resolveProjectID(ctx context.Context, projectPath string, fs ocFS) (string, error) {
	target := normalizeWorktree(projectPath, fs.remote != nil)
	if target == "" {
		return "", nil
	}
	names, err := fs.list(ctx, fs.join("project"))
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		data, ok, err := fs.read(ctx, fs.join("project", name))
		if err != nil || !ok {
			continue
		}
		var proj ocProject
		if err := json.Unmarshal(data, &proj); err != nil {
			continue
		}
		if normalizeWorktree(proj.Worktree, fs.remote != nil) == target {
			if proj.ID != "" {
				return proj.ID, nil
			}
			return strings.TrimSuffix(name, ".json"), nil
		}
	}
	return "", nil
}

// normalizeWorktree prepares a worktree path for comparison. Remote paths
// are compared textually since they name a filesystem we cannot stat.
func normalizeWorktree(p string, remote bool) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if remote {
		return strings.TrimSuffix(p, "/")
	}
	return absProjectPath(p)
}

func (s *OpencodeStorage) ListSessions(ctx context.Context, projectPath string, remote *SSHRemoteConfig) ([]AgentSessionInfo, error) {
	fs := s.fs(remote)
	projectID, err := s.resolveProjectID(ctx, projectPath, fs)
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		return []AgentSessionInfo{}, nil
	}

	names, err := fs.list(ctx, fs.join("session", projectID))
	if err != nil {
		return nil, err
	}

	counts, err := s.messageCounts(ctx, fs)
	if err != nil {
		return nil, err
	}

	infos := make([]AgentSessionInfo, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		data, ok, err := fs.read(ctx, fs.join("session", projectID, name))
		if err != nil || !ok {
			continue
		}
		var sess ocSession
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		id := sess.ID
		if id == "" {
			id = strings.TrimSuffix(name, ".json")
		}
		infos = append(infos, AgentSessionInfo{
			SessionID:    id,
			Title:        collapseTitle(sess.Title),
			CreatedAt:    msToTime(sess.Time.Created),
			UpdatedAt:    msToTime(sess.Time.Updated),
			MessageCount: counts[id],
		})
	}
	applyOrigins(ctx, s.origins, s.AgentID(), projectPath, infos)
	sortSessions(infos)
	return infos, nil
}

// messageCounts maps session id to stored message-record count. One find
// call covers every session when remote; locally each session dir is listed
// lazily instead, so only the remote path pays the full sweep.
func (s *OpencodeStorage) messageCounts(ctx context.Context, fs ocFS) (map[string]int, error) {
	counts := make(map[string]int)
	if fs.remote != nil {
		paths, err := remoteFindFiles(ctx, fs.remote, fs.join("message"), "*.json")
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			// .../message/<sessionID>/<messageID>.json
			dir := strings.TrimSuffix(p, "/"+pathBase(p))
			counts[pathBase(dir)]++
		}
		return counts, nil
	}

	sessionDirs, err := fs.list(ctx, fs.join("message"))
	if err != nil {
		return nil, err
	}
	for _, sid := range sessionDirs {
		names, err := fs.list(ctx, fs.join("message", sid))
		if err != nil {
			continue
		}
		n := 0
		for _, name := range names {
			if strings.HasSuffix(name, ".json") {
				n++
			}
		}
		counts[sid] = n
	}
	return counts, nil
}

func pathBase(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func (s *OpencodeStorage) ListSessionsPaginated(ctx context.Context, projectPath string, opts PageOptions, remote *SSHRemoteConfig) (*PaginatedSessionsResult, error) {
	all, err := s.ListSessions(ctx, projectPath, remote)
	if err != nil {
		return nil, err
	}
	return paginateSessions(all, opts), nil
}

// loadMessages reads and assembles every message of a session in creation
// order. A session with no message directory yields an empty slice.
func (s *OpencodeStorage) loadMessages(ctx context.Context, sessionID string, fs ocFS) ([]SessionMessage, error) {
	names, err := fs.list(ctx, fs.join("message", sessionID))
	if err != nil {
		return nil, err
	}

	headers := make([]ocMessage, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		data, ok, err := fs.read(ctx, fs.join("message", sessionID, name))
		if err != nil || !ok {
			continue
		}
		var msg ocMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.ID == "" {
			msg.ID = strings.TrimSuffix(name, ".json")
		}
		headers = append(headers, msg)
	}

	// Stable ordering by creation time then id.
	sort.Slice(headers, func(i, j int) bool {
		if headers[i].Time.Created == headers[j].Time.Created {
			return headers[i].ID < headers[j].ID
		}
		return headers[i].Time.Created < headers[j].Time.Created
	})

	out := make([]SessionMessage, 0, len(headers))
	for _, h := range headers {
		msg := SessionMessage{
			UUID:      h.ID,
			Role:      h.Role,
			Content:   s.assembleText(ctx, h.ID, fs),
			Timestamp: msToTime(h.Time.Created),
			Model:     h.ModelID,
			Cost:      h.Cost,
		}
		if t := h.Tokens; t != nil {
			msg.Tokens = &TokenUsage{
				Input:      t.Input,
				Output:     t.Output,
				CacheRead:  t.Cache.Read,
				CacheWrite: t.Cache.Write,
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// assembleText joins a message's ordered text-typed parts.
func (s *OpencodeStorage) assembleText(ctx context.Context, messageID string, fs ocFS) string {
	names, err := fs.list(ctx, fs.join("part", messageID))
	if err != nil || len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	texts := []string{}
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		data, ok, err := fs.read(ctx, fs.join("part", messageID, name))
		if err != nil || !ok {
			continue
		}
		var part ocPart
		if err := json.Unmarshal(data, &part); err != nil {
			continue
		}
		if part.Type == "text" && strings.TrimSpace(part.Text) != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (s *OpencodeStorage) ReadSessionMessages(ctx context.Context, projectPath, sessionID string, opts WindowOptions, remote *SSHRemoteConfig) (*SessionMessagesResult, error) {
	fs := s.fs(remote)
	msgs, err := s.loadMessages(ctx, sessionID, fs)
	if err != nil {
		return nil, err
	}
	return windowMessages(msgs, opts), nil
}

func (s *OpencodeStorage) SearchSessions(ctx context.Context, projectPath, query string, mode SessionSearchMode, remote *SSHRemoteConfig) ([]SessionSearchResult, error) {
	q := normalizeQuery(query)
	if q == "" {
		return []SessionSearchResult{}, nil
	}
	if mode == "" {
		mode = SearchModeAll
	}

	sessions, err := s.ListSessions(ctx, projectPath, remote)
	if err != nil {
		return nil, err
	}

	fs := s.fs(remote)
	results := []SessionSearchResult{}
	for _, sess := range sessions {
		var msgs []SessionMessage
		if mode != SearchModeTitle {
			if msgs, err = s.loadMessages(ctx, sess.SessionID, fs); err != nil {
				return nil, err
			}
		}
		if match, ok := matchTranscript(sess.SessionID, sess.Title, sess.UpdatedAt, msgs, q, mode); ok {
			results = append(results, match)
		}
	}
	return results, nil
}

// SessionPath resolves the message directory for a session. The remote form
// is a fixed ~-relative POSIX rendering, not a network lookup.
func (s *OpencodeStorage) SessionPath(projectPath, sessionID string, remote *SSHRemoteConfig) string {
	if remote != nil {
		return remotePath(".local", "share", "opencode", "storage", "message", sessionID)
	}
	return filepath.Join(s.DataDir, "message", sessionID)
}

func (s *OpencodeStorage) DeleteMessagePair(ctx context.Context, projectPath, sessionID, userMessageUUID, fallbackContent string, remote *SSHRemoteConfig) DeletePairResult {
	if remote != nil {
		return remoteDeleteRefusal(s.AgentID())
	}

	fs := s.fs(nil)
	msgs, err := s.loadMessages(ctx, sessionID, fs)
	if err != nil {
		return DeletePairResult{Error: err.Error()}
	}
	if len(msgs) == 0 {
		return DeletePairResult{Error: fmt.Sprintf("No messages found for session %s", sessionID)}
	}

	items := make([]pairItem, len(msgs))
	for i, m := range msgs {
		items[i] = pairItem{userMessage: m.Role == "user", id: m.UUID, content: m.Content}
	}
	start, end, ok := pairRange(items, userMessageUUID, fallbackContent)
	if !ok {
		return DeletePairResult{Error: fmt.Sprintf("User message %s not found in session %s", userMessageUUID, sessionID)}
	}

	removed, err := s.removeMessageRecords(sessionID, msgs[start:end])
	if err != nil {
		return DeletePairResult{Error: err.Error()}
	}
	s.log.Info("deleted message pair", map[string]interface{}{
		"agent": s.AgentID(), "session": sessionID, "recordsRemoved": removed,
	})
	return DeletePairResult{Success: true, LinesRemoved: removed}
}

// removeMessageRecords deletes the pair's message files and part directories.
// Removal is staged through a temp directory: every rename must succeed
// before anything is destroyed, and a midway failure renames the staged
// files back, leaving the store as it was.
func (s *OpencodeStorage) removeMessageRecords(sessionID string, msgs []SessionMessage) (int, error) {
	msgDir := filepath.Join(s.DataDir, "message", sessionID)
	trash, err := os.MkdirTemp(filepath.Join(s.DataDir, "message"), ".pair-delete-")
	if err != nil {
		return 0, err
	}

	type staged struct{ from, to string }
	var moved []staged
	undo := func() {
		for i := len(moved) - 1; i >= 0; i-- {
			_ = os.Rename(moved[i].to, moved[i].from)
		}
		_ = os.RemoveAll(trash)
	}

	for _, m := range msgs {
		from := filepath.Join(msgDir, m.UUID+".json")
		to := filepath.Join(trash, m.UUID+".json")
		if err := os.Rename(from, to); err != nil {
			undo()
			return 0, fmt.Errorf("stage message record %s: %w", m.UUID, err)
		}
		moved = append(moved, staged{from, to})

		partDir := filepath.Join(s.DataDir, "part", m.UUID)
		if _, err := os.Stat(partDir); err == nil {
			toParts := filepath.Join(trash, "parts-"+m.UUID)
			if err := os.Rename(partDir, toParts); err != nil {
				undo()
				return 0, fmt.Errorf("stage message parts %s: %w", m.UUID, err)
			}
			moved = append(moved, staged{partDir, toParts})
		}
	}

	if err := os.RemoveAll(trash); err != nil {
		// Staged files are already off the read path; report the leak
		// rather than pretending the delete failed.
		s.log.Error("trash cleanup failed", map[string]interface{}{
			"agent": s.AgentID(), "dir": trash, "error": err.Error(),
		})
	}
	return len(msgs), nil
}
