package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const codexRemoteRoot = "~/.codex/sessions"

// codexScanWorkers is the default scan-pool size when no override is
// configured.
const codexScanWorkers = 8

// codexIDSpace namespaces the UUIDv5 ids synthesized for rollout records,
// which carry none of their own. Ids are stable across reads of an
// unchanged file.
var codexIDSpace = uuid.MustParse("5ba38bd0-9c4f-4e37-9d29-45c1a9e0b1c4")

// CodexStorage reads rollout transcripts the codex CLI writes under dated
// directories:
//
//	<SessionsDir>/YYYY/MM/DD/rollout-<timestamp>-<uuid>.jsonl
//
// Nothing maps session id to file, so any operation needing one performs a
// recursive scan. SessionPath therefore always returns "" and resolution
// happens on demand inside the composite operations.
type CodexStorage struct {
	// SessionsDir is the local rollout root, overridable for tests.
	SessionsDir string

	// ScanWorkers bounds concurrent rollout parses during a project scan.
	// Values <= 0 fall back to codexScanWorkers.
	ScanWorkers int

	origins *OriginStore
	log     Logger
}

func NewCodexStorage(origins *OriginStore, log Logger) *CodexStorage {
	return &CodexStorage{
		SessionsDir: homePath(".codex", "sessions"),
		origins:     origins,
		log:         orNop(log),
	}
}

func (s *CodexStorage) AgentID() string { return AgentCodex }

// Origins exposes the shared overlay store this backend was wired with.
func (s *CodexStorage) Origins() *OriginStore { return s.origins }

// codexMeta is the session_meta record at the head of a rollout file.
type codexMeta struct {
	sessionID string
	cwd       string
	createdAt time.Time
}

// codexLine is one raw rollout line plus whatever message it surfaces.
// Non-message records (session_meta, event_msg, turn_context, tool calls)
// keep msg nil and travel with the preceding pair on deletion.
type codexLine struct {
	raw    []byte
	msg    *SessionMessage
	isUser bool
}

type codexTranscript struct {
	sessionID string
	cwd       string
	title     string
	createdAt time.Time
	updatedAt time.Time
	messages  []SessionMessage
}

// envelopeText reports user records that carry environment preludes rather
// than typed prompts. They are excluded from messages, titles, search and
// pair boundaries.
func envelopeText(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "<user_instructions>") ||
		strings.HasPrefix(t, "<environment_context>")
}

func parseCodexTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// parseCodexLines decodes one rollout file into its meta record and
// per-line view. Records are heterogeneous, so fields are sniffed with
// gjson instead of one struct per shape; undecodable lines get a repair
// attempt and are otherwise kept raw with no surfaced message.
func parseCodexLines(data []byte) (codexMeta, []codexLine) {
	var meta codexMeta
	var lines []codexLine
	model := ""

	_ = forEachLine(bytes.NewReader(data), func(raw []byte) error {
		ln := codexLine{raw: raw}
		idx := len(lines)

		decodable, _, ok := repairLine(raw)
		if !ok {
			lines = append(lines, ln)
			return nil
		}
		rec := gjson.ParseBytes(decodable)
		ts := parseCodexTime(rec.Get("timestamp").String())

		switch rec.Get("type").String() {
		case "session_meta":
			meta.sessionID = rec.Get("payload.id").String()
			meta.cwd = rec.Get("payload.cwd").String()
			meta.createdAt = parseCodexTime(rec.Get("payload.timestamp").String())
			if meta.createdAt.IsZero() {
				meta.createdAt = ts
			}
		case "turn_context":
			if m := rec.Get("payload.model").String(); m != "" {
				model = m
			}
		case "response_item":
			if rec.Get("payload.type").String() != "message" {
				break
			}
			role := rec.Get("payload.role").String()
			text := codexContentText(rec.Get("payload.content"))
			if strings.TrimSpace(text) == "" {
				break
			}
			if role == "user" && envelopeText(text) {
				break
			}
			msg := &SessionMessage{
				UUID:      codexMessageID(meta.sessionID, idx),
				Role:      role,
				Content:   text,
				Timestamp: ts,
			}
			if role == "assistant" {
				msg.Model = model
			}
			ln.msg = msg
			ln.isUser = role == "user"
		}

		lines = append(lines, ln)
		return nil
	})
	return meta, lines
}

// codexContentText joins a content array's input_text/output_text blocks.
func codexContentText(content gjson.Result) string {
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "input_text", "output_text":
			if txt := block.Get("text").String(); txt != "" {
				parts = append(parts, txt)
			}
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// codexMessageID synthesizes a deterministic id for the record at the given
// visited-line index.
func codexMessageID(sessionID string, index int) string {
	return uuid.NewSHA1(codexIDSpace, []byte(sessionID+":"+strconv.Itoa(index))).String()
}

func parseCodexTranscript(data []byte, path string) codexTranscript {
	meta, lines := parseCodexLines(data)

	t := codexTranscript{
		sessionID: meta.sessionID,
		cwd:       meta.cwd,
		createdAt: meta.createdAt,
	}
	if t.sessionID == "" {
		t.sessionID = rolloutSessionID(filepath.Base(path))
	}
	for _, ln := range lines {
		if ln.msg == nil {
			continue
		}
		if !ln.msg.Timestamp.IsZero() && ln.msg.Timestamp.After(t.updatedAt) {
			t.updatedAt = ln.msg.Timestamp
		}
		if t.title == "" && ln.isUser {
			t.title = collapseTitle(ln.msg.Content)
		}
		t.messages = append(t.messages, *ln.msg)
	}
	if t.updatedAt.IsZero() {
		t.updatedAt = t.createdAt
	}
	return t
}

func (t codexTranscript) summary() AgentSessionInfo {
	return AgentSessionInfo{
		SessionID:    t.sessionID,
		Title:        t.title,
		CreatedAt:    t.createdAt,
		UpdatedAt:    t.updatedAt,
		MessageCount: len(t.messages),
		Tokens:       t.estimatedUsage(),
	}
}

// estimatedUsage aggregates a usage estimate for summaries; rollout files
// record no token counts, so the result is flagged Estimated.
func (t codexTranscript) estimatedUsage() *TokenUsage {
	if len(t.messages) == 0 {
		return nil
	}
	u := &TokenUsage{Estimated: true}
	for _, m := range t.messages {
		n := estimateTokens(m.Content)
		if m.Role == "assistant" {
			u.Output += n
		} else {
			u.Input += n
		}
	}
	return u
}

func isRolloutFile(name string) bool {
	return strings.HasPrefix(name, "rollout-") && strings.HasSuffix(name, ".jsonl")
}

// rolloutSessionID extracts the uuid a rollout filename embeds after its
// timestamp, or "" when the name carries none.
func rolloutSessionID(name string) string {
	stem := strings.TrimSuffix(name, ".jsonl")
	if len(stem) < 36 {
		return ""
	}
	candidate := stem[len(stem)-36:]
	id, err := uuid.Parse(candidate)
	if err != nil {
		return ""
	}
	return id.String()
}

// rolloutFiles enumerates every rollout file under the sessions root. A
// missing root is first-run state and yields no files.
func (s *CodexStorage) rolloutFiles(ctx context.Context, remote *SSHRemoteConfig) ([]string, error) {
	if remote != nil {
		return remoteFindFiles(ctx, remote, codexRemoteRoot, "rollout-*.jsonl")
	}
	if _, err := os.Stat(s.SessionsDir); errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	var paths []string
	err := filepath.WalkDir(s.SessionsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isRolloutFile(d.Name()) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *CodexStorage) readFile(ctx context.Context, path string, remote *SSHRemoteConfig) ([]byte, bool) {
	if remote != nil {
		data, err := remoteReadFile(ctx, remote, path)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

type codexFile struct {
	path       string
	transcript codexTranscript
}

// scanProject parses every rollout file and keeps those whose recorded cwd
// matches the project path. Files parse in a small worker pool since a
// long-lived install accumulates thousands of rollouts.
func (s *CodexStorage) scanProject(ctx context.Context, projectPath string, remote *SSHRemoteConfig) ([]codexFile, error) {
	paths, err := s.rolloutFiles(ctx, remote)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return []codexFile{}, nil
	}
	target := normalizeWorktree(projectPath, remote != nil)

	workerLimit := s.ScanWorkers
	if workerLimit <= 0 {
		workerLimit = codexScanWorkers
	}
	if workerLimit > len(paths) {
		workerLimit = len(paths)
	}
	jobs := make(chan string)
	results := make(chan *codexFile)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for p := range jobs {
			data, ok := s.readFile(ctx, p, remote)
			if !ok {
				results <- nil
				continue
			}
			t := parseCodexTranscript(data, p)
			if t.sessionID == "" || normalizeWorktree(t.cwd, remote != nil) != target {
				results <- nil
				continue
			}
			results <- &codexFile{path: p, transcript: t}
		}
	}

	wg.Add(workerLimit)
	for i := 0; i < workerLimit; i++ {
		go worker()
	}

	go func() {
		for _, p := range paths {
			jobs <- p
		}
		close(jobs)
	}()

	out := []codexFile{}
	for i := 0; i < len(paths); i++ {
		if f := <-results; f != nil {
			out = append(out, *f)
		}
	}

	wg.Wait()
	close(results)

	return out, nil
}

func (s *CodexStorage) ListSessions(ctx context.Context, projectPath string, remote *SSHRemoteConfig) ([]AgentSessionInfo, error) {
	files, err := s.scanProject(ctx, projectPath, remote)
	if err != nil {
		return nil, err
	}
	infos := make([]AgentSessionInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, f.transcript.summary())
	}
	applyOrigins(ctx, s.origins, s.AgentID(), projectPath, infos)
	sortSessions(infos)
	return infos, nil
}

func (s *CodexStorage) ListSessionsPaginated(ctx context.Context, projectPath string, opts PageOptions, remote *SSHRemoteConfig) (*PaginatedSessionsResult, error) {
	all, err := s.ListSessions(ctx, projectPath, remote)
	if err != nil {
		return nil, err
	}
	return paginateSessions(all, opts), nil
}

// locateSession finds the rollout file backing a session id. A filename
// embedding the id is the fast path; remaining files are parsed and matched
// on their meta record. An id no rollout claims reports ErrSessionNotFound.
func (s *CodexStorage) locateSession(ctx context.Context, sessionID string, remote *SSHRemoteConfig) (string, []byte, error) {
	paths, err := s.rolloutFiles(ctx, remote)
	if err != nil {
		return "", nil, err
	}
	want := strings.ToLower(strings.TrimSpace(sessionID))
	if want == "" {
		return "", nil, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
	}

	var rest []string
	for _, p := range paths {
		if rolloutSessionID(filepath.Base(p)) == want {
			if data, ok := s.readFile(ctx, p, remote); ok {
				return p, data, nil
			}
			continue
		}
		rest = append(rest, p)
	}
	for _, p := range rest {
		data, ok := s.readFile(ctx, p, remote)
		if !ok {
			continue
		}
		if meta, _ := parseCodexLines(data); strings.ToLower(meta.sessionID) == want {
			return p, data, nil
		}
	}
	return "", nil, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
}

func (s *CodexStorage) ReadSessionMessages(ctx context.Context, projectPath, sessionID string, opts WindowOptions, remote *SSHRemoteConfig) (*SessionMessagesResult, error) {
	path, data, err := s.locateSession(ctx, sessionID, remote)
	if errors.Is(err, ErrSessionNotFound) {
		return windowMessages(nil, opts), nil
	}
	if err != nil {
		return nil, err
	}
	t := parseCodexTranscript(data, path)
	return windowMessages(t.messages, opts), nil
}

func (s *CodexStorage) SearchSessions(ctx context.Context, projectPath, query string, mode SessionSearchMode, remote *SSHRemoteConfig) ([]SessionSearchResult, error) {
	q := normalizeQuery(query)
	if q == "" {
		return []SessionSearchResult{}, nil
	}
	if mode == "" {
		mode = SearchModeAll
	}

	files, err := s.scanProject(ctx, projectPath, remote)
	if err != nil {
		return nil, err
	}
	results := []SessionSearchResult{}
	for _, f := range files {
		t := f.transcript
		if match, ok := matchTranscript(t.sessionID, t.title, t.updatedAt, t.messages, q, mode); ok {
			results = append(results, match)
		}
	}
	return results, nil
}

// SessionPath always returns "": nothing maps a session id to its dated
// rollout file without a scan, and path resolution stays synchronous by
// contract.
func (s *CodexStorage) SessionPath(projectPath, sessionID string, remote *SSHRemoteConfig) string {
	return ""
}

func (s *CodexStorage) DeleteMessagePair(ctx context.Context, projectPath, sessionID, userMessageUUID, fallbackContent string, remote *SSHRemoteConfig) DeletePairResult {
	if remote != nil {
		return remoteDeleteRefusal(s.AgentID())
	}

	path, data, err := s.locateSession(ctx, sessionID, nil)
	if errors.Is(err, ErrSessionNotFound) {
		return DeletePairResult{Error: fmt.Sprintf("Session file not found: %s", sessionID)}
	}
	if err != nil {
		return DeletePairResult{Error: err.Error()}
	}

	_, lines := parseCodexLines(data)
	items := make([]pairItem, len(lines))
	for i, ln := range lines {
		if ln.msg != nil {
			items[i] = pairItem{userMessage: ln.isUser, id: ln.msg.UUID, content: ln.msg.Content}
		}
	}
	start, end, ok := pairRange(items, userMessageUUID, fallbackContent)
	if !ok {
		return DeletePairResult{Error: fmt.Sprintf("User message %s not found in session %s", userMessageUUID, sessionID)}
	}

	var buf bytes.Buffer
	for i, ln := range lines {
		if i >= start && i < end {
			continue
		}
		buf.Write(ln.raw)
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
