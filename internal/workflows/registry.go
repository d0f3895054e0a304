package workflows

import (
	"sync"

	"log/slog"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"
)

// Registry owns the loaded workflow definitions and lookup tables,
// grouped per agent. It is constructed once by the host process and
// passed by reference into the engine; there is no package level cache.
// Definitions are immutable once loaded, reloading swaps the whole set.
type Registry struct {
	dir string

	mu      sync.RWMutex
	byAgent map[string][]*models.WorkflowDefinition
	lookups map[string]map[string]map[string]any
}

func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:     dir,
		byAgent: map[string][]*models.WorkflowDefinition{},
		lookups: map[string]map[string]map[string]any{},
	}
}

// NewRegistryFromDefinitions builds a registry without touching the
// filesystem, for embedding and for tests. Pattern compilation still
// happens so the definitions behave exactly like loaded ones.
func NewRegistryFromDefinitions(agentID string, defs []*models.WorkflowDefinition, lookups map[string]map[string]any) *Registry {
	r := NewRegistry("")
	doc := &models.WorkflowDocument{Version: "1", Character: agentID, Workflows: defs, LookupTables: lookups}
	compilePatterns(doc)
	r.byAgent[agentID] = defs
	if len(lookups) > 0 {
		r.lookups[agentID] = lookups
	}
	return r
}

// Load parses all documents in the registry directory. Definitions keep
// their declaration order per agent; documents are visited in file name
// order so repeated loads see the same order.
func (r *Registry) Load() error {
	docs, err := LoadDocuments(r.dir)
	if err != nil {
		return err
	}

	byAgent := map[string][]*models.WorkflowDefinition{}
	lookups := map[string]map[string]map[string]any{}
	for _, doc := range docs {
		byAgent[doc.Character] = append(byAgent[doc.Character], doc.Workflows...)
		if len(doc.LookupTables) > 0 {
			if lookups[doc.Character] == nil {
				lookups[doc.Character] = map[string]map[string]any{}
			}
			for name, table := range doc.LookupTables {
				lookups[doc.Character][name] = table
			}
		}
		slog.Info("Loaded workflow document", "agent", doc.Character, "workflows", len(doc.Workflows), "lookup_tables", len(doc.LookupTables))
	}

	r.mu.Lock()
	r.byAgent = byAgent
	r.lookups = lookups
	r.mu.Unlock()
	return nil
}

// Reload re-parses the documents on demand. There is no implicit hot
// reload; a failed reload leaves the previous definitions in place.
func (r *Registry) Reload() error {
	return r.Load()
}

// ForAgent returns the agent's definitions in declaration order, or nil
// when the agent has no workflow support.
func (r *Registry) ForAgent(agentID string) []*models.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAgent[agentID]
}

// Definition returns a single definition by workflow name.
func (r *Registry) Definition(agentID string, name string) *models.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.byAgent[agentID] {
		if def.Name == name {
			return def
		}
	}
	return nil
}

// LookupTable resolves a named lookup table for an agent, nil when absent.
func (r *Registry) LookupTable(agentID string, name string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookups[agentID][name]
}

// Agents returns every agent id with at least one loaded workflow.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]string, 0, len(r.byAgent))
	for agent := range r.byAgent {
		agents = append(agents, agent)
	}
	return agents
}
