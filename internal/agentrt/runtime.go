// Package agentrt implements AgentRuntime (spec.md §4.9): the per-agent
// capture→analyze→decide→execute→done control loop, rate caps, and trigger
// coalescing.
package agentrt

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/orka/internal/agentstore"
	"github.com/kandev/orka/internal/capture"
	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/domain"
	"github.com/kandev/orka/internal/mux"
	"github.com/kandev/orka/internal/notify"
	"github.com/kandev/orka/internal/policy"
	"go.uber.org/zap"
)

// TriggerReason identifies what caused a cycle to run.
type TriggerReason string

const (
	TriggerHook     TriggerReason = "hook"
	TriggerWatchdog TriggerReason = "watchdog"
	TriggerManual   TriggerReason = "manual"
)

// LogSink receives every AgentLogEvent a runtime emits (spec.md §3, §9).
type LogSink interface {
	Append(event domain.AgentLogEvent) error
}

// Runtime is one agent's control loop: trigger source coalescing, a
// strictly-serial cycle executor, and the idle/active/paused/waiting_human/
// error state machine of spec.md §4.9.
type Runtime struct {
	agentID string
	store   *agentstore.Store
	engine  *capture.Engine
	driver  mux.Driver
	pol     policy.Policy
	sink    *notify.Sink
	logs    LogSink
	logger  *logger.Logger

	mu          sync.Mutex
	cancelCycle context.CancelFunc
	pending     chan TriggerReason // buffer size 1: coalesced trigger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     bool
}

// New constructs a Runtime for the agent identified by agentID.
func New(agentID string, store *agentstore.Store, engine *capture.Engine, driver mux.Driver, pol policy.Policy, sink *notify.Sink, logs LogSink, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.Default()
	}
	return &Runtime{
		agentID: agentID,
		store:   store,
		engine:  engine,
		driver:  driver,
		pol:     pol,
		sink:    sink,
		logs:    logs,
		logger:  log.WithFields(zap.String("component", "agentrt"), zap.String("agentId", agentID)),
		pending: make(chan TriggerReason, 1),
	}
}

// Start transitions idle → active if the agent has a connection bound to a
// live pane, else it moves to error (spec.md §4.9).
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return apperr.Conflict("agent runtime already started")
	}
	r.mu.Unlock()

	agent, err := r.store.Get(r.agentID)
	if err != nil {
		return err
	}
	if agent.Connection == nil {
		r.setStatus(domain.AgentError, "no connection bound")
		return apperr.Conflict("agent has no connection bound")
	}
	alive, err := r.paneAlive(ctx, agent.Connection.MuxPaneID)
	if err != nil || !alive {
		r.setStatus(domain.AgentError, "target pane is not live")
		return apperr.Conflict("agent's target pane is not live")
	}

	r.mu.Lock()
	r.stopCh = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	r.setStatus(domain.AgentActive, "")

	r.wg.Add(1)
	go r.loop(ctx)
	r.startWatchdog(ctx)
	return nil
}

// paneAlive probes liveness with a capture rather than listPanes, since the
// runtime only has a pane ID, not the owning mux session name.
func (r *Runtime) paneAlive(ctx context.Context, paneID string) (bool, error) {
	_, err := r.driver.CapturePane(ctx, paneID, 1)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stop cancels any in-flight cycle and transitions to idle (spec.md §4.9, §5).
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	cancel := r.cancelCycle
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.setStatus(domain.AgentIdle, "")
}

// Pause transitions active → paused; the watchdog and hook triggers stop
// starting new cycles until Resume.
func (r *Runtime) Pause() error {
	return r.transitionStatus(domain.AgentActive, domain.AgentPaused)
}

// Resume transitions paused → active.
func (r *Runtime) Resume() error {
	return r.transitionStatus(domain.AgentPaused, domain.AgentActive)
}

// Acknowledge transitions waiting_human → active, the explicit human
// acknowledgement spec.md §4.9 requires before an agent resumes after a
// cap breach or request_help.
func (r *Runtime) Acknowledge() error {
	agent, err := r.store.Get(r.agentID)
	if err != nil {
		return err
	}
	if agent.Status != domain.AgentWaitingHuman {
		return apperr.Conflict("agent is not waiting on human acknowledgement")
	}
	_, err = r.store.Update(r.agentID, func(a *domain.Agent) {
		a.Status = domain.AgentActive
		a.ConsecutiveResponses = 0
	})
	return err
}

func (r *Runtime) transitionStatus(from, to domain.AgentStatus) error {
	agent, err := r.store.Get(r.agentID)
	if err != nil {
		return err
	}
	if agent.Status != from {
		return apperr.Conflict("agent is not in status " + string(from))
	}
	_, err = r.store.Update(r.agentID, func(a *domain.Agent) { a.Status = to })
	return err
}

// Trigger enqueues a cycle, coalescing with any already-pending trigger
// (buffer size 1, spec.md §5). Returns false (dropped) if the buffer was full.
func (r *Runtime) Trigger(reason TriggerReason) bool {
	select {
	case r.pending <- reason:
		return true
	default:
		r.emit(domain.AgentLogEvent{Level: domain.LogWarn, Message: "hook_dropped", Details: map[string]interface{}{"reason": reason}})
		return false
	}
}

func (r *Runtime) setStatus(status domain.AgentStatus, lastError string) {
	_, _ = r.store.Update(r.agentID, func(a *domain.Agent) {
		a.Status = status
		a.LastActivity = time.Now()
		a.LastError = lastError
	})
}

func (r *Runtime) emit(event domain.AgentLogEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.AgentID = r.agentID
	if r.logs != nil {
		_ = r.logs.Append(event)
	}
}

// loop waits for triggers and runs one cycle at a time, serially, until Stop.
func (r *Runtime) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case reason := <-r.pending:
			r.runCycleIfActive(ctx, reason)
		}
	}
}

func (r *Runtime) runCycleIfActive(parent context.Context, reason TriggerReason) {
	agent, err := r.store.Get(r.agentID)
	if err != nil || agent.Status != domain.AgentActive {
		return
	}

	cycleCtx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.cancelCycle = cancel
	r.mu.Unlock()
	defer cancel()

	r.runCycle(cycleCtx, agent, reason)

	if agent.Caps.ActionCooldownMs > 0 {
		select {
		case <-time.After(time.Duration(agent.Caps.ActionCooldownMs) * time.Millisecond):
		case <-cycleCtx.Done():
		}
	}
}
