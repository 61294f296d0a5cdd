package app

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"agentdesk/internal/storage"
)

// searchFanout bounds concurrent per-backend searches in SearchAllAgents.
const searchFanout = 3

// Application wires the storage backends, the shared origin overlay and the
// logger together. The overlay store is opened exactly once here and handed
// to InitSessionStorages; nothing else constructs one, which is what keeps
// overlay state from diverging between consumers.
type Application struct {
	Config  Config
	Logger  *Logger
	Origins *storage.OriginStore
}

func NewApplication(cfg Config) (*Application, error) {
	logger := NewLogger(OpenLogWriter(cfg.LogFile))

	origins, err := storage.InitSessionStorages(storage.InitOptions{
		OriginsDBPath:     cfg.OriginsDBPath,
		Logger:            logger,
		ScanWorkers:       cfg.ScanWorkers,
		ClaudeProjectsDir: cfg.ClaudeDir,
		OpencodeDataDir:   cfg.OpencodeDir,
		CodexSessionsDir:  cfg.CodexDir,
	})
	if err != nil {
		return nil, fmt.Errorf("init session storages: %w", err)
	}

	return &Application{
		Config:  cfg,
		Logger:  logger,
		Origins: origins,
	}, nil
}

// Storage resolves one registered backend by agent id.
func (a *Application) Storage(agentID string) (storage.AgentSessionStorage, error) {
	backend, ok := storage.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", agentID)
	}
	return backend, nil
}

// RemoteByID resolves a configured remote descriptor. An empty id means
// local mode and resolves to nil.
func (a *Application) RemoteByID(id string) (*storage.SSHRemoteConfig, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	for _, rc := range a.Config.Remotes {
		if rc.ID != id {
			continue
		}
		if !rc.Enabled {
			return nil, fmt.Errorf("remote %q is disabled", id)
		}
		sc := rc.Storage()
		return &sc, nil
	}
	return nil, fmt.Errorf("unknown remote %q", id)
}

// AgentSearchResult groups one backend's search hits.
type AgentSearchResult struct {
	AgentID string                        `json:"agentId"`
	Results []storage.SessionSearchResult `json:"results"`
}

// SearchAllAgents fans one query out across every registered backend.
// Backend order follows registration order; a failing backend is logged and
// contributes no hits rather than sinking the whole search.
func (a *Application) SearchAllAgents(ctx context.Context, projectPath, query string, mode storage.SessionSearchMode, remote *storage.SSHRemoteConfig) ([]AgentSearchResult, error) {
	backends := storage.AllSessionStorages()
	out := make([]AgentSearchResult, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchFanout)
	for i, backend := range backends {
		i, backend := i, backend
		g.Go(func() error {
			results, err := backend.SearchSessions(gctx, projectPath, query, mode, remote)
			if err != nil {
				a.Logger.Error("agent search failed", map[string]interface{}{
					"agent": backend.AgentID(), "error": err.Error(),
				})
				results = []storage.SessionSearchResult{}
			}
			out[i] = AgentSearchResult{AgentID: backend.AgentID(), Results: results}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Application) Close() error {
	if a.Origins != nil {
		return a.Origins.Close()
	}
	return nil
}
