package agentrt

import (
	"context"
	"time"

	"github.com/kandev/orka/internal/domain"
)

// startWatchdog polls the pane every pollIntervalMs and only fires a
// trigger when the capture's attention score exceeds attentionThreshold
// (spec.md §4.9). It is a no-op if pollIntervalMs is zero.
func (r *Runtime) startWatchdog(ctx context.Context) {
	agent, err := r.store.Get(r.agentID)
	if err != nil || agent.Caps.PollIntervalMs <= 0 {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(time.Duration(agent.Caps.PollIntervalMs) * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.pollOnce(ctx)
			}
		}
	}()
}

func (r *Runtime) pollOnce(ctx context.Context) {
	current, err := r.store.Get(r.agentID)
	if err != nil || current.Status != domain.AgentActive {
		return
	}
	if current.Connection == nil {
		return
	}

	state, err := r.engine.Capture(ctx, r.driver, current.Connection.MuxPaneID, 200)
	if err != nil {
		return
	}
	if state.AttentionScore > current.Caps.AttentionThreshold {
		r.Trigger(TriggerWatchdog)
	}
}
