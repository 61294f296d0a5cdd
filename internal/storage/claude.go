package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClaudeStorage reads the line-oriented transcripts the claude-code CLI
// writes: one append-only .jsonl file per session under
// ~/.claude/projects/<encoded-project-path>/, each line a self-contained
// record with its own uuid and role.
type ClaudeStorage struct {
	// ProjectsDir is the transcript root, overridable for tests.
	ProjectsDir string

	origins *OriginStore
	log     Logger
}

func NewClaudeStorage(origins *OriginStore, log Logger) *ClaudeStorage {
	return &ClaudeStorage{
		ProjectsDir: homePath(".claude", "projects"),
		origins:     origins,
		log:         orNop(log),
	}
}

func (s *ClaudeStorage) AgentID() string { return AgentClaudeCode }

// Origins exposes the shared overlay store this backend was wired with.
func (s *ClaudeStorage) Origins() *OriginStore { return s.origins }

// encodeProjectDir mirrors the CLI's munging of a project path into a
// directory name: every rune that is not a letter or digit becomes '-'.
func encodeProjectDir(projectPath string) string {
	var b strings.Builder
	for _, r := range projectPath {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func (s *ClaudeStorage) projectDir(projectPath string) string {
	return filepath.Join(s.ProjectsDir, encodeProjectDir(absProjectPath(projectPath)))
}

func (s *ClaudeStorage) remoteProjectDir(projectPath string) string {
	return remotePath(".claude", "projects", encodeProjectDir(strings.TrimSpace(projectPath)))
}

// claudeUsage matches the usage block on assistant records.
type claudeUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type claudeInnerMessage struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content"`
	Usage   *claudeUsage    `json:"usage,omitempty"`
}

// claudeRecord is one transcript line. Only the fields this subsystem reads;
// unknown fields pass through untouched because deletion rewrites raw lines,
// never re-marshals records.
type claudeRecord struct {
	Type        string              `json:"type"`
	UUID        string              `json:"uuid"`
	ParentUUID  string              `json:"parentUuid"`
	SessionID   string              `json:"sessionId"`
	Timestamp   string              `json:"timestamp"`
	IsMeta      bool                `json:"isMeta"`
	IsSidechain bool                `json:"isSidechain"`
	CostUSD     float64             `json:"costUSD"`
	Message     *claudeInnerMessage `json:"message"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// claudeText extracts display text from the string-or-array content shape.
// Only text blocks contribute; tool_use/tool_result blocks carry no display
// text.
func claudeText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if json.Unmarshal(raw, &plain) == nil {
		return plain
	}
	var blocks []claudeContentBlock
	if json.Unmarshal(raw, &blocks) != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (r *claudeRecord) messageText() string {
	if r.Message == nil {
		return ""
	}
	return claudeText(r.Message.Content)
}

// isUserPrompt reports a record the reader surfaces as a real user message.
// Tool-result carriers also arrive as type "user" but have no text, so they
// travel with the pair they follow rather than starting a new one.
func (r *claudeRecord) isUserPrompt() bool {
	return r.Type == "user" && !r.IsMeta && !r.IsSidechain &&
		r.Message != nil && strings.TrimSpace(r.messageText()) != ""
}

func (r *claudeRecord) isAssistantMessage() bool {
	return r.Type == "assistant" && !r.IsSidechain &&
		r.Message != nil && strings.TrimSpace(r.messageText()) != ""
}

func parseClaudeTime(ts string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(ts))
	if err != nil {
		return time.Time{}
	}
	return t
}

// collapseTitle flattens whitespace and bounds a derived title.
func collapseTitle(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) > 80 {
		return string(runes[:80]) + "..."
	}
	return flat
}

// claudeTranscript is one parsed session file.
type claudeTranscript struct {
	title     string
	createdAt time.Time
	updatedAt time.Time
	messages  []SessionMessage
	cost      float64
	usage     *TokenUsage
}

// parseClaudeTranscript decodes a whole session file. Malformed lines are
// skipped; timestamps fall back to mtime when no record carries one.
func parseClaudeTranscript(data []byte, mtime time.Time) *claudeTranscript {
	ts := &claudeTranscript{}
	var firstTS, lastTS time.Time

	_ = forEachLine(bytes.NewReader(data), func(line []byte) error {
		var rec claudeRecord
		if !decodeLine(line, &rec) {
			return nil
		}
		if t := parseClaudeTime(rec.Timestamp); !t.IsZero() {
			if firstTS.IsZero() {
				firstTS = t
			}
			lastTS = t
		}
		switch {
		case rec.isUserPrompt():
			if ts.title == "" {
				ts.title = collapseTitle(rec.messageText())
			}
			ts.messages = append(ts.messages, SessionMessage{
				UUID:      rec.UUID,
				Role:      "user",
				Content:   rec.messageText(),
				Timestamp: parseClaudeTime(rec.Timestamp),
			})
		case rec.isAssistantMessage():
			msg := SessionMessage{
				UUID:      rec.UUID,
				Role:      "assistant",
				Content:   rec.messageText(),
				Timestamp: parseClaudeTime(rec.Timestamp),
				Model:     rec.Message.Model,
				Cost:      rec.CostUSD,
			}
			if u := rec.Message.Usage; u != nil {
				msg.Tokens = &TokenUsage{
					Input:      u.InputTokens,
					Output:     u.OutputTokens,
					CacheRead:  u.CacheReadInputTokens,
					CacheWrite: u.CacheCreationInputTokens,
				}
				ts.usage = addUsage(ts.usage, msg.Tokens)
			}
			ts.cost += rec.CostUSD
			ts.messages = append(ts.messages, msg)
		}
		return nil
	})

	ts.createdAt = firstTS
	ts.updatedAt = lastTS
	if ts.createdAt.IsZero() {
		ts.createdAt = mtime
	}
	if ts.updatedAt.IsZero() {
		ts.updatedAt = mtime
	}
	return ts
}

// claudeSessionFile pairs a session id with its parsed transcript.
type claudeSessionFile struct {
	sessionID  string
	transcript *claudeTranscript
}

// loadSessions parses every session file of a project, local or remote.
// A missing project directory yields an empty slice.
func (s *ClaudeStorage) loadSessions(ctx context.Context, projectPath string, remote *SSHRemoteConfig) ([]claudeSessionFile, error) {
	if remote != nil {
		return s.loadSessionsRemote(ctx, projectPath, remote)
	}

	dir := s.projectDir(projectPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []claudeSessionFile{}, nil
		}
		return nil, err
	}

	out := make([]claudeSessionFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem, ok := claudeSessionStem(e.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		mtime := time.Time{}
		if fi, err := e.Info(); err == nil {
			mtime = fi.ModTime()
		}
		out = append(out, claudeSessionFile{
			sessionID:  stem,
			transcript: parseClaudeTranscript(data, mtime),
		})
	}
	return out, nil
}

func (s *ClaudeStorage) loadSessionsRemote(ctx context.Context, projectPath string, remote *SSHRemoteConfig) ([]claudeSessionFile, error) {
	dir := s.remoteProjectDir(projectPath)
	names, err := remoteListDir(ctx, remote, dir)
	if err != nil {
		return nil, err
	}

	out := make([]claudeSessionFile, 0, len(names))
	for _, name := range names {
		stem, ok := claudeSessionStem(name)
		if !ok {
			continue
		}
		data, err := remoteReadFile(ctx, remote, dir+"/"+name)
		if err != nil {
			s.log.Error("remote session fetch failed", map[string]interface{}{
				"agent": s.AgentID(), "file": name, "error": err.Error(),
			})
			continue
		}
		out = append(out, claudeSessionFile{
			sessionID:  stem,
			transcript: parseClaudeTranscript(data, time.Time{}),
		})
	}
	return out, nil
}

// claudeSessionStem validates the <uuid>.jsonl naming scheme and returns the
// session id.
func claudeSessionStem(name string) (string, bool) {
	if !strings.HasSuffix(name, ".jsonl") {
		return "", false
	}
	stem := strings.TrimSuffix(name, ".jsonl")
	if _, err := uuid.Parse(stem); err != nil {
		return "", false
	}
	return stem, true
}

func (s *ClaudeStorage) ListSessions(ctx context.Context, projectPath string, remote *SSHRemoteConfig) ([]AgentSessionInfo, error) {
	files, err := s.loadSessions(ctx, projectPath, remote)
	if err != nil {
		return nil, err
	}

	infos := make([]AgentSessionInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, AgentSessionInfo{
			SessionID:    f.sessionID,
			Title:        f.transcript.title,
			CreatedAt:    f.transcript.createdAt,
			UpdatedAt:    f.transcript.updatedAt,
			MessageCount: len(f.transcript.messages),
			Cost:         f.transcript.cost,
			Tokens:       f.transcript.usage,
		})
	}
	applyOrigins(ctx, s.origins, s.AgentID(), projectPath, infos)
	sortSessions(infos)
	return infos, nil
}

func (s *ClaudeStorage) ListSessionsPaginated(ctx context.Context, projectPath string, opts PageOptions, remote *SSHRemoteConfig) (*PaginatedSessionsResult, error) {
	all, err := s.ListSessions(ctx, projectPath, remote)
	if err != nil {
		return nil, err
	}
	return paginateSessions(all, opts), nil
}

func (s *ClaudeStorage) ReadSessionMessages(ctx context.Context, projectPath, sessionID string, opts WindowOptions, remote *SSHRemoteConfig) (*SessionMessagesResult, error) {
	data, ok, err := s.readSessionFile(ctx, projectPath, sessionID, remote)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &SessionMessagesResult{Messages: []SessionMessage{}}, nil
	}
	transcript := parseClaudeTranscript(data, time.Time{})
	return windowMessages(transcript.messages, opts), nil
}

// readSessionFile fetches one session's raw bytes. ok is false when the
// session does not exist, which readers treat as "no messages yet".
func (s *ClaudeStorage) readSessionFile(ctx context.Context, projectPath, sessionID string, remote *SSHRemoteConfig) ([]byte, bool, error) {
	if remote != nil {
		data, err := remoteReadFile(ctx, remote, s.remoteProjectDir(projectPath)+"/"+sessionID+".jsonl")
		if err != nil {
			// cat on a missing remote file fails; treat it as not-found.
			return nil, false, nil
		}
		return data, true, nil
	}
	data, err := os.ReadFile(s.localSessionPath(projectPath, sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *ClaudeStorage) localSessionPath(projectPath, sessionID string) string {
	return filepath.Join(s.projectDir(projectPath), sessionID+".jsonl")
}

func (s *ClaudeStorage) SearchSessions(ctx context.Context, projectPath, query string, mode SessionSearchMode, remote *SSHRemoteConfig) ([]SessionSearchResult, error) {
	q := normalizeQuery(query)
	if q == "" {
		return []SessionSearchResult{}, nil
	}
	if mode == "" {
		mode = SearchModeAll
	}

	files, err := s.loadSessions(ctx, projectPath, remote)
	if err != nil {
		return nil, err
	}

	results := []SessionSearchResult{}
	for _, f := range files {
		if match, ok := matchTranscript(f.sessionID, f.transcript.title, f.transcript.updatedAt, f.transcript.messages, q, mode); ok {
			results = append(results, match)
		}
	}
	return results, nil
}

// SessionPath is a deterministic join; it performs no I/O and never checks
// existence.
func (s *ClaudeStorage) SessionPath(projectPath, sessionID string, remote *SSHRemoteConfig) string {
	if remote != nil {
		return s.remoteProjectDir(projectPath) + "/" + sessionID + ".jsonl"
	}
	return s.localSessionPath(projectPath, sessionID)
}

func (s *ClaudeStorage) DeleteMessagePair(ctx context.Context, projectPath, sessionID, userMessageUUID, fallbackContent string, remote *SSHRemoteConfig) DeletePairResult {
	if remote != nil {
		return remoteDeleteRefusal(s.AgentID())
	}

	path := s.localSessionPath(projectPath, sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DeletePairResult{Error: fmt.Sprintf("Session file not found: %s", sessionID)}
		}
		return DeletePairResult{Error: err.Error()}
	}

	var lines [][]byte
	items := []pairItem{}
	_ = forEachLine(bytes.NewReader(data), func(line []byte) error {
		lines = append(lines, line)
		var rec claudeRecord
		item := pairItem{}
		if decodeLine(line, &rec) {
			item = pairItem{
				userMessage: rec.isUserPrompt(),
				id:          rec.UUID,
				content:     rec.messageText(),
			}
		}
		items = append(items, item)
		return nil
	})

	start, end, ok := pairRange(items, userMessageUUID, fallbackContent)
	if !ok {
		return DeletePairResult{Error: fmt.Sprintf("User message %s not found in session %s", userMessageUUID, sessionID)}
	}

	var buf bytes.Buffer
	for i, line := range lines {
		if i >= start && i < end {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := atomicWriteFile(path, buf.Bytes()); err != nil {
		return DeletePairResult{Error: err.Error()}
	}

	removed := end - start
	s.log.Info("deleted message pair", map[string]interface{}{
		"agent": s.AgentID(), "session": sessionID, "linesRemoved": removed,
	})
	return DeletePairResult{Success: true, LinesRemoved: removed}
}

// atomicWriteFile replaces path's contents via a temp file and rename so a
// failure partway leaves the original untouched.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
