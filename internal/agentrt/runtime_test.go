package agentrt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kandev/orka/internal/agentstore"
	"github.com/kandev/orka/internal/capture"
	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/domain"
	"github.com/kandev/orka/internal/mux"
	"github.com/kandev/orka/internal/notify"
	"github.com/kandev/orka/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLogSink struct {
	mu     sync.Mutex
	events []domain.AgentLogEvent
}

func (m *memLogSink) Append(e domain.AgentLogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memLogSink) Events() []domain.AgentLogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AgentLogEvent, len(m.events))
	copy(out, m.events)
	return out
}

func setup(t *testing.T, caps domain.AgentCaps) (*Runtime, *agentstore.Store, *mux.FakeDriver, *policy.FakePolicy, *memLogSink, string) {
	t.Helper()
	store, err := agentstore.New(t.TempDir(), nil)
	require.NoError(t, err)

	driver := mux.NewFakeDriver()
	paneID, err := driver.NewSession(context.Background(), "s1", "/tmp/p1", "")
	require.NoError(t, err)

	agent, err := store.Create("watcher", "watch for approvals", map[domain.HookKind]bool{domain.HookStop: true}, false, caps)
	require.NoError(t, err)
	_, err = store.Update(agent.ID, func(a *domain.Agent) {
		a.Connection = &domain.AgentConnection{ProjectPath: "/tmp/p1", SessionID: "s1", BranchID: "main", MuxPaneID: paneID}
	})
	require.NoError(t, err)

	fakePolicy := policy.NewFakePolicy()
	logs := &memLogSink{}
	engine := capture.NewEngine(80, 24)

	rt := New(agent.ID, store, engine, driver, fakePolicy, notify.NewSink(notify.NewFakeProvider()), logs, nil)
	return rt, store, driver, fakePolicy, logs, paneID
}

func TestScenarioS4RespondIssuesOneSendKeys(t *testing.T) {
	rt, store, driver, fakePolicy, logs, paneID := setup(t, domain.AgentCaps{MaxConsecutiveResponses: 5, DecisionHistorySize: 10})
	fakePolicy.Enqueue(domain.Decision{Action: domain.ActionRespond, Response: "yes, continue"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	require.True(t, rt.Trigger(TriggerManual))

	require.Eventually(t, func() bool {
		a, _ := store.Get(rt.agentID)
		return a.ConsecutiveResponses == 1
	}, time.Second, 5*time.Millisecond)

	capturedText, err := driver.CapturePane(ctx, paneID, 200)
	require.NoError(t, err)
	assert.Contains(t, capturedText, "yes, continue")

	events := logs.Events()
	var cycleID string
	phases := map[domain.CyclePhase]bool{}
	for _, e := range events {
		if e.CycleID == "" {
			continue
		}
		cycleID = e.CycleID
		phases[e.Phase] = true
	}
	assert.NotEmpty(t, cycleID)
	assert.True(t, phases[domain.PhaseCapture])
	assert.True(t, phases[domain.PhaseAnalyze])
	assert.True(t, phases[domain.PhaseDecide])
	assert.True(t, phases[domain.PhaseExecute])
	assert.True(t, phases[domain.PhaseDone])
}

func TestScenarioS5CapBreachTransitionsToWaitingHuman(t *testing.T) {
	rt, store, _, fakePolicy, _, _ := setup(t, domain.AgentCaps{MaxConsecutiveResponses: 2, DecisionHistorySize: 10})
	fakePolicy.Enqueue(domain.Decision{Action: domain.ActionRespond, Response: "1"})
	fakePolicy.Enqueue(domain.Decision{Action: domain.ActionRespond, Response: "2"})
	fakePolicy.Enqueue(domain.Decision{Action: domain.ActionRespond, Response: "3"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))

	for i := 0; i < 3; i++ {
		rt.Trigger(TriggerManual)
		require.Eventually(t, func() bool {
			return fakePolicy.Calls() >= i+1
		}, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		a, _ := store.Get(rt.agentID)
		return a.Status == domain.AgentWaitingHuman
	}, time.Second, 5*time.Millisecond)

	a, err := store.Get(rt.agentID)
	require.NoError(t, err)
	assert.LessOrEqual(t, fakePolicy.Calls(), 3)
	assert.Equal(t, domain.AgentWaitingHuman, a.Status)
}

func TestScenarioS6MalformedPolicySubstitutesWait(t *testing.T) {
	rt, store, driver, fakePolicy, logs, paneID := setup(t, domain.AgentCaps{MaxConsecutiveResponses: 5, DecisionHistorySize: 10})
	fakePolicy.EnqueueError(apperr.PolicyProtocolError(assert.AnError))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	require.True(t, rt.Trigger(TriggerManual))

	require.Eventually(t, func() bool {
		a, _ := store.Get(rt.agentID)
		return len(a.DecisionHistory) == 1
	}, time.Second, 5*time.Millisecond)

	a, err := store.Get(rt.agentID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionWait, a.DecisionHistory[0].Action)
	assert.Equal(t, domain.AgentActive, a.Status)

	capturedText, err := driver.CapturePane(ctx, paneID, 200)
	require.NoError(t, err)
	assert.Empty(t, capturedText)

	foundProtocolError := false
	for _, e := range logs.Events() {
		if e.Message == "policy protocol error" {
			foundProtocolError = true
		}
	}
	assert.True(t, foundProtocolError)
}

func TestTriggerCoalescesWhenBufferFull(t *testing.T) {
	rt, _, _, _, _, _ := setup(t, domain.AgentCaps{})
	// Fill the buffer without starting the runtime, so nothing drains it.
	require.True(t, rt.Trigger(TriggerManual))
	assert.False(t, rt.Trigger(TriggerManual))
}

func TestStopTransitionsToIdle(t *testing.T) {
	rt, _, _, fakePolicy, _, _ := setup(t, domain.AgentCaps{})
	fakePolicy.Enqueue(domain.Decision{Action: domain.ActionWait})

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	rt.Stop()

	a, err := rt.store.Get(rt.agentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentIdle, a.Status)
}
