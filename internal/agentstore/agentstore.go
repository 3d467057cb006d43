// Package agentstore implements AgentStore (spec.md §4 component list,
// §3 Agent entity): a persisted catalog of agents, independent of any
// particular session or branch.
package agentstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/domain"
	"go.uber.org/zap"
)

// Store is a mutex-guarded, atomically-persisted catalog of agents, one
// flat agents.json file under rootDir.
type Store struct {
	rootDir string
	path    string
	logger  *logger.Logger

	mu     sync.RWMutex
	agents map[string]*domain.Agent
}

// New loads (or initializes) the agent catalog under rootDir.
func New(rootDir string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Default()
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, apperr.Internal("create agentstore root", err)
	}
	s := &Store{
		rootDir: rootDir,
		path:    filepath.Join(rootDir, "agents.json"),
		logger:  log.WithFields(zap.String("component", "agentstore")),
		agents:  make(map[string]*domain.Agent),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.Internal("read agent catalog", err)
	}
	var list []*domain.Agent
	if err := json.Unmarshal(data, &list); err != nil {
		return apperr.CorruptState("agent catalog", err)
	}
	for _, a := range list {
		s.agents[a.ID] = a
	}
	return nil
}

func (s *Store) persistLocked() error {
	list := make([]*domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		list = append(list, a)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return apperr.Internal("marshal agent catalog", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*")
	if err != nil {
		return apperr.Internal("write agent catalog", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Internal("write agent catalog", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.Internal("sync agent catalog", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Internal("close agent catalog", err)
	}
	return os.Rename(tmpPath, s.path)
}

// Create registers a new agent and persists the catalog.
func (s *Store) Create(name, masterPrompt string, hookEvents map[domain.HookKind]bool, autoApprove bool, caps domain.AgentCaps) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind := range hookEvents {
		if !kind.IsValid() {
			return nil, apperr.Validation("hookEvents", "unknown hook kind "+string(kind))
		}
	}

	agent := &domain.Agent{
		ID:           uuid.NewString(),
		Name:         name,
		MasterPrompt: masterPrompt,
		HookEvents:   hookEvents,
		AutoApprove:  autoApprove,
		Caps:         caps,
		Status:       domain.AgentIdle,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	s.agents[agent.ID] = agent
	if err := s.persistLocked(); err != nil {
		delete(s.agents, agent.ID)
		return nil, err
	}
	return agent, nil
}

// Get returns the agent with the given ID.
func (s *Store) Get(id string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, apperr.NotFound("agent", id)
	}
	return a, nil
}

// List returns every agent known to the catalog.
func (s *Store) List() []*domain.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// ForConnection returns every agent currently bound to the given branch via
// its connection, used by HookIngestor to route a trigger event (spec.md §4.10).
func (s *Store) ForConnection(sessionID, branchID string) []*domain.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Agent
	for _, a := range s.agents {
		if a.Connection != nil && a.Connection.SessionID == sessionID && a.Connection.BranchID == branchID {
			out = append(out, a)
		}
	}
	return out
}

// Update applies mutate to the agent with id under the store's lock, then
// persists the result.
func (s *Store) Update(id string, mutate func(*domain.Agent)) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, apperr.NotFound("agent", id)
	}
	mutate(a)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes an agent from the catalog.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return apperr.NotFound("agent", id)
	}
	delete(s.agents, id)
	return s.persistLocked()
}
