package agentrt

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/tracing"
	"github.com/kandev/orka/internal/domain"
	"github.com/kandev/orka/internal/mux"
	"github.com/kandev/orka/internal/notify"
	"github.com/kandev/orka/internal/policy"
)

var cycleTracer = tracing.Tracer("orka-agentrt")

// runCycle executes one capture→analyze→decide→execute→done cycle for
// agent, grouping every emitted event under one cycleId (spec.md §4.9).
func (r *Runtime) runCycle(ctx context.Context, agent *domain.Agent, reason TriggerReason) {
	cycleID := uuid.NewString()
	logFields := []zap.Field{zap.String("cycleId", cycleID), zap.String("reason", string(reason))}
	r.logger.Info("cycle started", logFields...)

	ctx, span := cycleTracer.Start(ctx, "agentrt.cycle", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("agent_id", r.agentID),
		attribute.String("cycle_id", cycleID),
		attribute.String("trigger_reason", string(reason)),
	)
	defer span.End()

	// 1. capture
	r.emit(domain.AgentLogEvent{CycleID: cycleID, Phase: domain.PhaseCapture, Level: domain.LogInfo, Message: "capture started"})
	state, err := r.engine.Capture(ctx, r.driver, agent.Connection.MuxPaneID, 200)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.failCycle(cycleID, domain.PhaseCapture, err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	// 2. analyze
	r.emit(domain.AgentLogEvent{
		CycleID: cycleID, Phase: domain.PhaseAnalyze, Level: domain.LogInfo, Message: "analyzed capture",
		Details: map[string]interface{}{"classified": state.Classified, "attentionScore": state.AttentionScore},
	})

	// 3. decide
	decision, err := r.pol.Decide(ctx, policy.Request{
		MasterPrompt:    agent.MasterPrompt,
		TerminalState:   state,
		DecisionHistory: lastN(agent.DecisionHistory, agent.Caps.DecisionHistorySize),
	})
	if err != nil {
		if apperr.Is(err, apperr.CodePolicyProtocolError) {
			span.RecordError(err)
			r.emit(domain.AgentLogEvent{CycleID: cycleID, Phase: domain.PhaseDecide, Level: domain.LogError, Message: "policy protocol error", Details: map[string]interface{}{"error": err.Error()}})
			decision = policy.WaitDecision()
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.failCycle(cycleID, domain.PhaseDecide, err)
			return
		}
	}
	span.SetAttributes(attribute.String("decision_action", string(decision.Action)))
	r.emit(domain.AgentLogEvent{CycleID: cycleID, Phase: domain.PhaseDecide, Level: domain.LogInfo, Message: "decision received", Details: map[string]interface{}{"action": decision.Action}})

	// Idempotence gate: a stop() between decide and execute drops the action.
	fresh, err := r.store.Get(r.agentID)
	if err != nil || fresh.Status != domain.AgentActive || ctx.Err() != nil {
		r.emit(domain.AgentLogEvent{CycleID: cycleID, Phase: domain.PhaseDone, Level: domain.LogInfo, Message: "cycle dropped: agent no longer active"})
		return
	}

	// 4. execute
	if err := r.execute(ctx, agent.Connection.MuxPaneID, decision); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.failCycle(cycleID, domain.PhaseExecute, err)
		return
	}
	r.emit(domain.AgentLogEvent{CycleID: cycleID, Phase: domain.PhaseExecute, Level: domain.LogAction, Message: "executed decision", Details: map[string]interface{}{"action": decision.Action}})

	if decision.Action == domain.ActionRequestHelp {
		r.transitionToWaitingHuman(cycleID, "request_help")
		return
	}

	// 5. done
	r.finishCycle(cycleID, agent, decision)
}

// execute maps a Decision to at most one MuxDriver action (spec.md §4.9).
func (r *Runtime) execute(ctx context.Context, paneID string, decision domain.Decision) error {
	switch decision.Action {
	case domain.ActionRespond:
		return r.driver.SendKeys(ctx, paneID, decision.Response, true)
	case domain.ActionApprove:
		return r.driver.SendKeys(ctx, paneID, "y", true)
	case domain.ActionReject:
		return r.driver.SendKeys(ctx, paneID, "n", true)
	case domain.ActionCompact:
		return r.driver.SendKeys(ctx, paneID, "/compact", true)
	case domain.ActionInterrupt:
		return r.driver.SendKey(ctx, paneID, mux.KeyCtrlC)
	case domain.ActionWait, domain.ActionRequestHelp:
		return nil
	default:
		return apperr.Validation("decision.action", "unknown action "+string(decision.Action))
	}
}

// finishCycle appends the decision to history, updates consecutiveResponses,
// and enforces the maxConsecutiveResponses cap (spec.md §4.9).
func (r *Runtime) finishCycle(cycleID string, agent *domain.Agent, decision domain.Decision) {
	breach := false
	_, err := r.store.Update(r.agentID, func(a *domain.Agent) {
		a.DecisionHistory = appendCapped(a.DecisionHistory, decision, a.Caps.DecisionHistorySize)
		a.LastActivity = time.Now()

		if decision.Action == domain.ActionWait || decision.Action == domain.ActionRequestHelp {
			a.ConsecutiveResponses = 0
		} else {
			a.ConsecutiveResponses++
			if a.Caps.MaxConsecutiveResponses > 0 && a.ConsecutiveResponses >= a.Caps.MaxConsecutiveResponses {
				breach = true
			}
		}
	})
	if err != nil {
		r.logger.Error("failed to persist cycle result", zap.Error(err))
	}

	r.emit(domain.AgentLogEvent{CycleID: cycleID, Phase: domain.PhaseDone, Level: domain.LogInfo, Message: "cycle complete"})

	if breach {
		r.transitionToWaitingHuman(cycleID, "max_consecutive_responses_reached")
	}
}

// transitionToWaitingHuman moves the agent to waiting_human and posts a
// notification, per spec.md §4.9's cap-breach / request_help handling.
func (r *Runtime) transitionToWaitingHuman(cycleID, reason string) {
	_, err := r.store.Update(r.agentID, func(a *domain.Agent) { a.Status = domain.AgentWaitingHuman })
	if err != nil {
		r.logger.Error("failed to transition to waiting_human", zap.Error(err))
	}
	r.emit(domain.AgentLogEvent{CycleID: cycleID, Phase: domain.PhaseDone, Level: domain.LogWarn, Message: "transitioned to waiting_human", Details: map[string]interface{}{"reason": reason}})

	if r.sink != nil {
		_ = r.sink.Notify(context.Background(), notify.Message{
			EventType: "waiting_human",
			Title:     "Agent needs your attention",
			Body:      reason,
			AgentID:   r.agentID,
		})
	}
}

// failCycle logs a cycle-ending error and transitions the agent to error
// status; AgentRuntime never crashes the process (spec.md §7).
func (r *Runtime) failCycle(cycleID string, phase domain.CyclePhase, err error) {
	r.setStatus(domain.AgentError, err.Error())
	r.emit(domain.AgentLogEvent{CycleID: cycleID, Phase: phase, Level: domain.LogError, Message: "cycle failed", Details: map[string]interface{}{"error": err.Error()}})
}

func lastN(history []domain.Decision, n int) []domain.Decision {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func appendCapped(history []domain.Decision, d domain.Decision, limit int) []domain.Decision {
	history = append(history, d)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
