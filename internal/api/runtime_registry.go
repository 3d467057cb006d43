package api

import (
	"sync"

	"github.com/kandev/orka/internal/agentrt"
	"github.com/kandev/orka/internal/hooks"
)

// hookTrigger adapts an agentrt.Runtime to hooks.Trigger, fixing the
// trigger reason to TriggerHook since every call routed through
// HookIngestor originates from the AI CLI's own hook mechanism. This is
// the decoupling adapter internal/hooks was built to need: hooks.Trigger
// has no TriggerReason parameter, so it cannot see agentrt's type directly.
type hookTrigger struct {
	rt *agentrt.Runtime
}

func (h hookTrigger) Trigger() bool {
	return h.rt.Trigger(agentrt.TriggerHook)
}

// runtimeRegistry tracks the live agentrt.Runtime for every started agent
// and satisfies hooks.Runtimes so HookIngestor can route to them.
type runtimeRegistry struct {
	mu   sync.RWMutex
	byID map[string]*agentrt.Runtime
}

func newRuntimeRegistry() *runtimeRegistry {
	return &runtimeRegistry{byID: make(map[string]*agentrt.Runtime)}
}

func (r *runtimeRegistry) put(agentID string, rt *agentrt.Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[agentID] = rt
}

func (r *runtimeRegistry) remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, agentID)
}

func (r *runtimeRegistry) get(agentID string) (*agentrt.Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.byID[agentID]
	return rt, ok
}

// RuntimeFor implements hooks.Runtimes.
func (r *runtimeRegistry) RuntimeFor(agentID string) (hooks.Trigger, bool) {
	rt, ok := r.get(agentID)
	if !ok {
		return nil, false
	}
	return hookTrigger{rt: rt}, true
}
