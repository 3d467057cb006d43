package agentstore

import (
	"testing"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	agent, err := s.Create("watcher", "watch for approvals", map[domain.HookKind]bool{domain.HookStop: true}, false, domain.AgentCaps{MaxConsecutiveResponses: 3})
	require.NoError(t, err)

	fetched, err := s.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "watcher", fetched.Name)
	assert.Equal(t, domain.AgentIdle, fetched.Status)
}

func TestCreateRejectsUnknownHookKind(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("bad", "", map[domain.HookKind]bool{domain.HookKind("NotAHook"): true}, false, domain.AgentCaps{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	agent, err := s.Create("watcher", "", nil, false, domain.AgentCaps{})
	require.NoError(t, err)

	s2, err := New(dir, nil)
	require.NoError(t, err)
	fetched, err := s2.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.Name, fetched.Name)
}

func TestForConnectionFiltersByBranch(t *testing.T) {
	s := newTestStore(t)
	a1, err := s.Create("a1", "", nil, false, domain.AgentCaps{})
	require.NoError(t, err)
	_, err = s.Update(a1.ID, func(a *domain.Agent) {
		a.Connection = &domain.AgentConnection{SessionID: "s1", BranchID: "main"}
	})
	require.NoError(t, err)

	_, err = s.Create("a2", "", nil, false, domain.AgentCaps{})
	require.NoError(t, err)

	matches := s.ForConnection("s1", "main")
	require.Len(t, matches, 1)
	assert.Equal(t, "a1", matches[0].Name)
}

func TestDeleteRemovesAgent(t *testing.T) {
	s := newTestStore(t)
	agent, err := s.Create("a1", "", nil, false, domain.AgentCaps{})
	require.NoError(t, err)

	require.NoError(t, s.Delete(agent.ID))
	_, err = s.Get(agent.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}
