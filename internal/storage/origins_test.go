package storage

import (
	"context"
	"testing"
)

// newTestOrigins opens an in-memory overlay store scoped to the test.
func newTestOrigins(t *testing.T) *OriginStore {
	t.Helper()
	st, err := OpenOriginStore("")
	if err != nil {
		t.Fatalf("open origin store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func strPtr(s string) *string { return &s }

func TestOriginStore_SetAndReadSessionName(t *testing.T) {
	st := newTestOrigins(t)
	ctx := context.Background()

	if err := st.SetSessionName(ctx, AgentClaudeCode, "/tmp/proj", "sess-1", strPtr("refactor pass")); err != nil {
		t.Fatalf("set name: %v", err)
	}

	rec, err := st.Origin(ctx, AgentClaudeCode, "/tmp/proj", "sess-1")
	if err != nil {
		t.Fatalf("read origin: %v", err)
	}
	if rec == nil {
		t.Fatalf("record missing after set")
	}
	if rec.SessionName == nil || *rec.SessionName != "refactor pass" {
		t.Fatalf("session name = %v, want refactor pass", rec.SessionName)
	}
	if rec.Origin != OriginAuto {
		t.Fatalf("origin = %q, want default %q", rec.Origin, OriginAuto)
	}
}

func TestOriginStore_NilNameClearsToUnset(t *testing.T) {
	st := newTestOrigins(t)
	ctx := context.Background()

	if err := st.SetSessionName(ctx, AgentOpencode, "/tmp/proj", "sess-2", strPtr("keep me")); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := st.SetSessionName(ctx, AgentOpencode, "/tmp/proj", "sess-2", nil); err != nil {
		t.Fatalf("clear name: %v", err)
	}

	rec, err := st.Origin(ctx, AgentOpencode, "/tmp/proj", "sess-2")
	if err != nil {
		t.Fatalf("read origin: %v", err)
	}
	if rec == nil {
		t.Fatalf("record should survive a name clear")
	}
	if rec.SessionName != nil {
		t.Fatalf("session name = %q, want unset", *rec.SessionName)
	}
}

func TestOriginStore_EmptyStringNameIsStillSet(t *testing.T) {
	st := newTestOrigins(t)
	ctx := context.Background()

	if err := st.SetSessionName(ctx, AgentCodex, "/tmp/proj", "sess-3", strPtr("")); err != nil {
		t.Fatalf("set name: %v", err)
	}

	rec, err := st.Origin(ctx, AgentCodex, "/tmp/proj", "sess-3")
	if err != nil {
		t.Fatalf("read origin: %v", err)
	}
	if rec == nil || rec.SessionName == nil {
		t.Fatalf("empty-string name must read back as set, got %+v", rec)
	}
	if *rec.SessionName != "" {
		t.Fatalf("session name = %q, want empty string", *rec.SessionName)
	}

	named, err := st.AllNamedSessions(ctx)
	if err != nil {
		t.Fatalf("named sweep: %v", err)
	}
	if len(named) != 1 || named[0].SessionID != "sess-3" {
		t.Fatalf("named sweep = %+v, want the empty-string-named session", named)
	}
}

func TestOriginStore_StarredRoundTrip(t *testing.T) {
	st := newTestOrigins(t)
	ctx := context.Background()

	if err := st.SetSessionStarred(ctx, AgentClaudeCode, "/tmp/proj", "sess-4", true); err != nil {
		t.Fatalf("star: %v", err)
	}
	rec, err := st.Origin(ctx, AgentClaudeCode, "/tmp/proj", "sess-4")
	if err != nil || rec == nil {
		t.Fatalf("read origin: rec=%v err=%v", rec, err)
	}
	if !rec.Starred {
		t.Fatalf("starred = false, want true")
	}

	starred, err := st.StarredSessions(ctx)
	if err != nil {
		t.Fatalf("starred sweep: %v", err)
	}
	if len(starred) != 1 || starred[0].SessionID != "sess-4" {
		t.Fatalf("starred sweep = %+v, want sess-4", starred)
	}

	if err := st.SetSessionStarred(ctx, AgentClaudeCode, "/tmp/proj", "sess-4", false); err != nil {
		t.Fatalf("unstar: %v", err)
	}
	starred, err = st.StarredSessions(ctx)
	if err != nil {
		t.Fatalf("starred sweep after unstar: %v", err)
	}
	if len(starred) != 0 {
		t.Fatalf("starred sweep after unstar = %+v, want empty", starred)
	}
}

func TestOriginStore_SetOriginValidatesValue(t *testing.T) {
	st := newTestOrigins(t)
	ctx := context.Background()

	for _, origin := range []string{OriginUser, OriginAuto} {
		if err := st.SetOrigin(ctx, AgentClaudeCode, "/tmp/proj", "sess-5", origin); err != nil {
			t.Fatalf("SetOrigin(%q) = %v, want nil", origin, err)
		}
	}
	if err := st.SetOrigin(ctx, AgentClaudeCode, "/tmp/proj", "sess-5", "scheduled"); err == nil {
		t.Fatalf("SetOrigin accepted an unknown origin value")
	}

	rec, err := st.Origin(ctx, AgentClaudeCode, "/tmp/proj", "sess-5")
	if err != nil || rec == nil {
		t.Fatalf("read origin: rec=%v err=%v", rec, err)
	}
	if rec.Origin != OriginAuto {
		t.Fatalf("origin = %q, want last accepted value %q", rec.Origin, OriginAuto)
	}
}

func TestOriginStore_RejectsBlankKeys(t *testing.T) {
	st := newTestOrigins(t)
	ctx := context.Background()

	cases := []struct {
		name                            string
		agentID, projectPath, sessionID string
	}{
		{"blank agent", "", "/tmp/proj", "s"},
		{"blank project", AgentClaudeCode, "  ", "s"},
		{"blank session", AgentClaudeCode, "/tmp/proj", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := st.SetSessionStarred(ctx, tc.agentID, tc.projectPath, tc.sessionID, true); err == nil {
				t.Fatalf("blank key accepted")
			}
		})
	}
}

func TestOriginStore_UnknownSessionReadsAsNil(t *testing.T) {
	st := newTestOrigins(t)

	rec, err := st.Origin(context.Background(), AgentClaudeCode, "/tmp/proj", "never-annotated")
	if err != nil {
		t.Fatalf("read origin: %v", err)
	}
	if rec != nil {
		t.Fatalf("record = %+v, want nil for an unannotated session", rec)
	}
}

func TestOriginStore_ProjectPathIsNormalized(t *testing.T) {
	st := newTestOrigins(t)
	ctx := context.Background()

	if err := st.SetSessionName(ctx, AgentClaudeCode, "/tmp/proj/../proj", "sess-6", strPtr("normalized")); err != nil {
		t.Fatalf("set name: %v", err)
	}

	rec, err := st.Origin(ctx, AgentClaudeCode, "/tmp/proj", "sess-6")
	if err != nil {
		t.Fatalf("read origin: %v", err)
	}
	if rec == nil || rec.SessionName == nil || *rec.SessionName != "normalized" {
		t.Fatalf("lookup through the cleaned path failed, got %+v", rec)
	}
}

func TestOriginStore_NamedSweepSkipsClearedNames(t *testing.T) {
	st := newTestOrigins(t)
	ctx := context.Background()

	if err := st.SetSessionName(ctx, AgentClaudeCode, "/tmp/proj", "keep", strPtr("kept")); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := st.SetSessionName(ctx, AgentClaudeCode, "/tmp/proj", "drop", strPtr("dropped")); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := st.SetSessionName(ctx, AgentClaudeCode, "/tmp/proj", "drop", nil); err != nil {
		t.Fatalf("clear name: %v", err)
	}

	named, err := st.AllNamedSessions(ctx)
	if err != nil {
		t.Fatalf("named sweep: %v", err)
	}
	if len(named) != 1 {
		t.Fatalf("named sweep length = %d, want 1", len(named))
	}
	if named[0].SessionID != "keep" || named[0].Record.SessionName == nil || *named[0].Record.SessionName != "kept" {
		t.Fatalf("named sweep = %+v, want the kept session", named[0])
	}
}

func TestApplyOrigins_EnrichesMatchingSummaries(t *testing.T) {
	st := newTestOrigins(t)
	ctx := context.Background()

	if err := st.SetSessionName(ctx, AgentClaudeCode, "/tmp/proj", "s1", strPtr("annotated")); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := st.SetSessionStarred(ctx, AgentClaudeCode, "/tmp/proj", "s1", true); err != nil {
		t.Fatalf("star: %v", err)
	}
	if err := st.SetOrigin(ctx, AgentClaudeCode, "/tmp/proj", "s1", OriginUser); err != nil {
		t.Fatalf("set origin: %v", err)
	}

	infos := []AgentSessionInfo{
		{SessionID: "s1", Title: "first"},
		{SessionID: "s2", Title: "second"},
	}
	applyOrigins(ctx, st, AgentClaudeCode, "/tmp/proj", infos)

	if infos[0].SessionName == nil || *infos[0].SessionName != "annotated" {
		t.Fatalf("s1 name not applied: %+v", infos[0])
	}
	if !infos[0].Starred || infos[0].Origin != OriginUser {
		t.Fatalf("s1 overlay incomplete: %+v", infos[0])
	}
	if infos[1].SessionName != nil || infos[1].Starred || infos[1].Origin != "" {
		t.Fatalf("s2 must stay bare: %+v", infos[1])
	}
}

func TestApplyOrigins_NilStoreIsNoop(t *testing.T) {
	infos := []AgentSessionInfo{{SessionID: "s1"}}
	applyOrigins(context.Background(), nil, AgentClaudeCode, "/tmp/proj", infos)
	if infos[0].SessionName != nil || infos[0].Starred {
		t.Fatalf("nil store mutated summaries: %+v", infos[0])
	}
}
