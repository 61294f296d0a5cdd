package storage

import "sync"

// Registry maps agent identifiers to their storage backends. At most one
// backend per agent id; re-registration replaces the prior instance in
// place, which tests and re-initialization rely on.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]AgentSessionStorage
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]AgentSessionStorage)}
}

// Register stores or overwrites the backend under its own agent id.
// Last write wins; a replaced backend keeps its original position in the
// registration order.
func (r *Registry) Register(backend AgentSessionStorage) {
	if backend == nil {
		return
	}
	id := backend.AgentID()
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[id]; !exists {
		r.order = append(r.order, id)
	}
	r.backends[id] = backend
}

// Get returns the backend for an agent id. Never errors; the second value
// reports existence.
func (r *Registry) Get(agentID string) (AgentSessionStorage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[agentID]
	return b, ok
}

// Has reports whether a backend is registered for the agent id.
func (r *Registry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[agentID]
	return ok
}

// All returns every registered backend in registration order.
func (r *Registry) All() []AgentSessionStorage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentSessionStorage, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id])
	}
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// Clear drops every registration without touching disk. Exists for test
// isolation and re-initialization.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = make(map[string]AgentSessionStorage)
	r.order = nil
}

// defaultRegistry is the process-wide table the application initializes at
// startup.
var defaultRegistry = NewRegistry()

// Register adds a backend to the process-wide registry.
func Register(backend AgentSessionStorage) { defaultRegistry.Register(backend) }

// Get looks up a backend in the process-wide registry.
func Get(agentID string) (AgentSessionStorage, bool) { return defaultRegistry.Get(agentID) }

// Has reports whether the process-wide registry has a backend for agentID.
func Has(agentID string) bool { return defaultRegistry.Has(agentID) }

// AllSessionStorages returns the process-wide backends in registration
// order.
func AllSessionStorages() []AgentSessionStorage { return defaultRegistry.All() }

// ClearRegistry drops every process-wide registration. Test/reset hook.
func ClearRegistry() { defaultRegistry.Clear() }

// InitOptions configures InitSessionStorages. The zero value is valid: a
// private origin store is opened at the default path and every backend uses
// its default root.
type InitOptions struct {
	// Origins is the shared overlay store. When nil a store is opened at
	// OriginsDBPath (or the default path). Passing the same instance the
	// rest of the process uses is what keeps overlay state from diverging.
	Origins       *OriginStore
	OriginsDBPath string

	Logger Logger

	// ScanWorkers sizes the rollout scan pool of the unindexed backend.
	// Values <= 0 keep the backend default.
	ScanWorkers int

	// Root overrides, primarily for tests.
	ClaudeProjectsDir string
	OpencodeDataDir   string
	CodexSessionsDir  string
}

// InitSessionStorages registers the built-in backends in the process-wide
// registry and returns the overlay store they share. Safe to call again:
// re-registration replaces the previous instances.
func InitSessionStorages(opts InitOptions) (*OriginStore, error) {
	origins := opts.Origins
	if origins == nil {
		path := opts.OriginsDBPath
		if path == "" {
			path = DefaultOriginsDBPath()
		}
		var err error
		origins, err = OpenOriginStore(path)
		if err != nil {
			return nil, err
		}
	}

	claude := NewClaudeStorage(origins, opts.Logger)
	if opts.ClaudeProjectsDir != "" {
		claude.ProjectsDir = opts.ClaudeProjectsDir
	}
	opencode := NewOpencodeStorage(origins, opts.Logger)
	if opts.OpencodeDataDir != "" {
		opencode.DataDir = opts.OpencodeDataDir
	}
	codex := NewCodexStorage(origins, opts.Logger)
	if opts.CodexSessionsDir != "" {
		codex.SessionsDir = opts.CodexSessionsDir
	}
	if opts.ScanWorkers > 0 {
		codex.ScanWorkers = opts.ScanWorkers
	}

	Register(claude)
	Register(opencode)
	Register(codex)
	return origins, nil
}
