package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// OriginStore is the session origin overlay: user-assigned names, stars and
// the user/auto origin flag, keyed by (agent id, project path, session id).
// It lives beside the agents' own storage and never writes into their
// transcript trees.
//
// Exactly one instance per database must exist in a process; it is opened
// during initialization and passed by reference to every backend. Two
// independently constructed stores over the same namespace would silently
// diverge, which is the defect this wiring rule exists to prevent.
type OriginStore struct {
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

// NamedSession is one row of the cross-agent named-session sweep.
type NamedSession struct {
	AgentID     string              `json:"agentId"`
	ProjectPath string              `json:"projectPath"`
	SessionID   string              `json:"sessionId"`
	Record      SessionOriginRecord `json:"record"`
}

// DefaultOriginsDBPath returns where the overlay database lives unless
// configured otherwise.
func DefaultOriginsDBPath() string {
	return filepath.Join(dataHome(), "adesk", "origins.db")
}

// OpenOriginStore opens (and creates if needed) the overlay database. An
// empty path opens an in-memory database, which tests rely on.
func OpenOriginStore(path string) (*OriginStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	st := &OriginStore{dbPath: path}
	// Initialize eagerly so callers fail fast.
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *OriginStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			s.err = err
			return
		}
		// The in-memory database disappears if the pool opens a second
		// connection.
		if s.dbPath == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS session_origins (
				agent_id TEXT NOT NULL,
				project_path TEXT NOT NULL,
				session_id TEXT NOT NULL,
				origin TEXT NOT NULL DEFAULT 'auto',
				session_name TEXT,
				starred INTEGER NOT NULL DEFAULT 0,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL,
				PRIMARY KEY (agent_id, project_path, session_id)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_session_origins_named ON session_origins(session_name);`,
			`CREATE INDEX IF NOT EXISTS idx_session_origins_starred ON session_origins(starred);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				s.err = err
				return
			}
		}

		s.db = db
	})
	return s.err
}

func (s *OriginStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("origin store unavailable")
	}
	return db, nil
}

// Close releases the underlying database.
func (s *OriginStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DBPath returns the path this store was opened at.
func (s *OriginStore) DBPath() string {
	return s.dbPath
}

func originsKeyValid(agentID, projectPath, sessionID string) error {
	if strings.TrimSpace(agentID) == "" {
		return errors.New("missing agent id")
	}
	if strings.TrimSpace(projectPath) == "" {
		return errors.New("missing project path")
	}
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("missing session id")
	}
	return nil
}

// Origins returns the overlay records for every session of one agent under
// one project path, keyed by session id.
func (s *OriginStore) Origins(ctx context.Context, agentID, projectPath string) (map[string]SessionOriginRecord, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, origin, session_name, starred
		 FROM session_origins
		 WHERE agent_id = ? AND project_path = ?`,
		agentID, absProjectPath(projectPath),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]SessionOriginRecord)
	for rows.Next() {
		var (
			sessionID string
			rec       SessionOriginRecord
			name      sql.NullString
			starred   int
		)
		if err := rows.Scan(&sessionID, &rec.Origin, &name, &starred); err != nil {
			return nil, err
		}
		if name.Valid {
			v := name.String
			rec.SessionName = &v
		}
		rec.Starred = starred != 0
		out[sessionID] = rec
	}
	return out, rows.Err()
}

// Origin returns the overlay record for one session, or nil when the session
// has never been annotated.
func (s *OriginStore) Origin(ctx context.Context, agentID, projectPath, sessionID string) (*SessionOriginRecord, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	var (
		rec     SessionOriginRecord
		name    sql.NullString
		starred int
	)
	err = db.QueryRowContext(ctx,
		`SELECT origin, session_name, starred
		 FROM session_origins
		 WHERE agent_id = ? AND project_path = ? AND session_id = ?`,
		agentID, absProjectPath(projectPath), sessionID,
	).Scan(&rec.Origin, &name, &starred)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if name.Valid {
		v := name.String
		rec.SessionName = &v
	}
	rec.Starred = starred != 0
	return &rec, nil
}

func (s *OriginStore) upsert(ctx context.Context, agentID, projectPath, sessionID, set string, args ...interface{}) error {
	if err := originsKeyValid(agentID, projectPath, sessionID); err != nil {
		return err
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	q := fmt.Sprintf(
		`INSERT INTO session_origins(agent_id, project_path, session_id, created_at_ns, updated_at_ns, %s)
		 VALUES(?, ?, ?, ?, ?, %s)
		 ON CONFLICT(agent_id, project_path, session_id)
		 DO UPDATE SET %s, updated_at_ns = excluded.updated_at_ns`,
		set, strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", "),
		setExcluded(set),
	)
	base := []interface{}{agentID, absProjectPath(projectPath), sessionID, now, now}
	_, err = db.ExecContext(ctx, q, append(base, args...)...)
	return err
}

// setExcluded turns "a, b" into "a = excluded.a, b = excluded.b" for the
// upsert's DO UPDATE clause.
func setExcluded(cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		parts[i] = p + " = excluded." + p
	}
	return strings.Join(parts, ", ")
}

// SetOrigin records whether a session was created by the user or spawned
// automatically.
func (s *OriginStore) SetOrigin(ctx context.Context, agentID, projectPath, sessionID, origin string) error {
	if origin != OriginUser && origin != OriginAuto {
		return fmt.Errorf("invalid origin %q", origin)
	}
	return s.upsert(ctx, agentID, projectPath, sessionID, "origin", origin)
}

// SetSessionName assigns a display name to a session. A nil name clears the
// assignment back to the unset state, which stays distinguishable from an
// empty string.
func (s *OriginStore) SetSessionName(ctx context.Context, agentID, projectPath, sessionID string, name *string) error {
	var val interface{}
	if name != nil {
		val = *name
	}
	return s.upsert(ctx, agentID, projectPath, sessionID, "session_name", val)
}

// SetSessionStarred toggles the star flag for a session.
func (s *OriginStore) SetSessionStarred(ctx context.Context, agentID, projectPath, sessionID string, starred bool) error {
	val := 0
	if starred {
		val = 1
	}
	return s.upsert(ctx, agentID, projectPath, sessionID, "starred", val)
}

// AllNamedSessions sweeps every agent and project for sessions carrying a
// user-assigned name, for UI-wide listings.
func (s *OriginStore) AllNamedSessions(ctx context.Context) ([]NamedSession, error) {
	return s.sweep(ctx, `session_name IS NOT NULL`)
}

// StarredSessions sweeps every agent and project for starred sessions.
func (s *OriginStore) StarredSessions(ctx context.Context) ([]NamedSession, error) {
	return s.sweep(ctx, `starred = 1`)
}

// applyOrigins layers overlay metadata onto freshly built session summaries.
// Lookup failures leave the summaries bare rather than failing the listing.
func applyOrigins(ctx context.Context, origins *OriginStore, agentID, projectPath string, infos []AgentSessionInfo) {
	if origins == nil || len(infos) == 0 {
		return
	}
	records, err := origins.Origins(ctx, agentID, projectPath)
	if err != nil || len(records) == 0 {
		return
	}
	for i := range infos {
		if rec, ok := records[infos[i].SessionID]; ok {
			infos[i].SessionName = rec.SessionName
			infos[i].Starred = rec.Starred
			infos[i].Origin = rec.Origin
		}
	}
}

func (s *OriginStore) sweep(ctx context.Context, where string) ([]NamedSession, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT agent_id, project_path, session_id, origin, session_name, starred
		 FROM session_origins
		 WHERE `+where+`
		 ORDER BY updated_at_ns DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []NamedSession{}
	for rows.Next() {
		var (
			ns      NamedSession
			name    sql.NullString
			starred int
		)
		if err := rows.Scan(&ns.AgentID, &ns.ProjectPath, &ns.SessionID, &ns.Record.Origin, &name, &starred); err != nil {
			return nil, err
		}
		if name.Valid {
			v := name.String
			ns.Record.SessionName = &v
		}
		ns.Record.Starred = starred != 0
		out = append(out, ns)
	}
	return out, rows.Err()
}
