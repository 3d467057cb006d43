package hooks

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kandev/orka/internal/agentstore"
	"github.com/kandev/orka/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTrigger struct {
	calls int
	full  bool
}

func (f *fakeTrigger) Trigger() bool {
	f.calls++
	return !f.full
}

type fakeRuntimes struct {
	byAgent map[string]*fakeTrigger
}

func (f *fakeRuntimes) RuntimeFor(agentID string) (Trigger, bool) {
	rt, ok := f.byAgent[agentID]
	return rt, ok
}

func newAgentWithConnection(t *testing.T, store *agentstore.Store, hookEvents map[domain.HookKind]bool, conn domain.AgentConnection) *domain.Agent {
	t.Helper()
	agent, err := store.Create("watcher", "watch", hookEvents, false, domain.AgentCaps{})
	require.NoError(t, err)
	agent, err = store.Update(agent.ID, func(a *domain.Agent) { a.Connection = &conn })
	require.NoError(t, err)
	return agent
}

func TestRouteMatchesBySessionAndBranch(t *testing.T) {
	store, err := agentstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	agent := newAgentWithConnection(t, store, map[domain.HookKind]bool{domain.HookStop: true}, domain.AgentConnection{SessionID: "s1", BranchID: "main", MuxPaneID: "p1"})

	rt := &fakeTrigger{}
	ing := New(store, &fakeRuntimes{byAgent: map[string]*fakeTrigger{agent.ID: rt}}, nil)

	matched := ing.Route(domain.HookStop, "s1", "main", "")
	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, rt.calls)
}

func TestRouteMatchesByMuxPaneID(t *testing.T) {
	store, err := agentstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	agent := newAgentWithConnection(t, store, map[domain.HookKind]bool{domain.HookStop: true}, domain.AgentConnection{SessionID: "s1", BranchID: "main", MuxPaneID: "p1"})

	rt := &fakeTrigger{}
	ing := New(store, &fakeRuntimes{byAgent: map[string]*fakeTrigger{agent.ID: rt}}, nil)

	matched := ing.Route(domain.HookStop, "", "", "p1")
	assert.Equal(t, 1, matched)
}

func TestRouteDropsWhenHookKindNotSubscribed(t *testing.T) {
	store, err := agentstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	agent := newAgentWithConnection(t, store, map[domain.HookKind]bool{domain.HookStop: true}, domain.AgentConnection{SessionID: "s1", BranchID: "main", MuxPaneID: "p1"})

	rt := &fakeTrigger{}
	ing := New(store, &fakeRuntimes{byAgent: map[string]*fakeTrigger{agent.ID: rt}}, nil)

	matched := ing.Route(domain.HookNotification, "s1", "main", "")
	assert.Equal(t, 0, matched)
	assert.Equal(t, 0, rt.calls)
}

func TestRouteDropsWhenNoConnection(t *testing.T) {
	store, err := agentstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = store.Create("idle", "watch", map[domain.HookKind]bool{domain.HookStop: true}, false, domain.AgentCaps{})
	require.NoError(t, err)

	ing := New(store, &fakeRuntimes{byAgent: map[string]*fakeTrigger{}}, nil)
	matched := ing.Route(domain.HookStop, "s1", "main", "")
	assert.Equal(t, 0, matched)
}

func TestRouteCountsDroppedTriggerAsUnmatched(t *testing.T) {
	store, err := agentstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	agent := newAgentWithConnection(t, store, map[domain.HookKind]bool{domain.HookStop: true}, domain.AgentConnection{SessionID: "s1", BranchID: "main", MuxPaneID: "p1"})

	rt := &fakeTrigger{full: true}
	ing := New(store, &fakeRuntimes{byAgent: map[string]*fakeTrigger{agent.ID: rt}}, nil)

	matched := ing.Route(domain.HookStop, "s1", "main", "")
	assert.Equal(t, 0, matched)
	assert.Equal(t, 1, rt.calls)
}

func TestHandleHookRejectsUnknownHookKind(t *testing.T) {
	store, err := agentstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	ing := New(store, &fakeRuntimes{byAgent: map[string]*fakeTrigger{}}, nil)

	r := gin.New()
	ing.RegisterRoutes(r)

	body, _ := json.Marshal(map[string]interface{}{"hookKind": "NotAHook", "sessionId": "s1", "branchId": "main"})
	req := httptest.NewRequest(http.MethodPost, "/hooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHookAcceptsValidEvent(t *testing.T) {
	store, err := agentstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	agent := newAgentWithConnection(t, store, map[domain.HookKind]bool{domain.HookStop: true}, domain.AgentConnection{SessionID: "s1", BranchID: "main", MuxPaneID: "p1"})

	rt := &fakeTrigger{}
	ing := New(store, &fakeRuntimes{byAgent: map[string]*fakeTrigger{agent.ID: rt}}, nil)

	r := gin.New()
	ing.RegisterRoutes(r)

	body, _ := json.Marshal(map[string]interface{}{"hookKind": "Stop", "sessionId": "s1", "branchId": "main"})
	req := httptest.NewRequest(http.MethodPost, "/hooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, rt.calls)
}
