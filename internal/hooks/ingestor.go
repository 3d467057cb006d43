// Package hooks implements HookIngestor (spec.md §4.10): the HTTP endpoint
// the wrapped AI CLI calls to report lifecycle events, routed to every
// AgentRuntime bound to the matching pane.
package hooks

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/orka/internal/agentstore"
	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/domain"
)

// Trigger is the minimal surface an AgentRuntime exposes to the ingestor,
// kept to a no-argument bool so this package never needs to import
// agentrt's TriggerReason type.
type Trigger interface {
	Trigger() bool
}

// Runtimes resolves the live Trigger for an agent ID, so the ingestor never
// has to own runtime lifecycle (the caller — typically the top-level
// container — does).
type Runtimes interface {
	RuntimeFor(agentID string) (Trigger, bool)
}

// hookRequest is the wire shape of POST /hooks (spec.md §4.10, §6).
type hookRequest struct {
	HookKind  domain.HookKind        `json:"hookKind" binding:"required"`
	SessionID string                 `json:"sessionId"`
	BranchID  string                 `json:"branchId"`
	MuxPaneID string                 `json:"muxPaneId"`
	Payload   map[string]interface{} `json:"payload"`
}

// Ingestor is the HookIngestor: it never blocks the caller and never returns
// an error for an unmatched or filtered-out hook (spec.md §4.10, §5 backpressure).
type Ingestor struct {
	agents   *agentstore.Store
	runtimes Runtimes
	logger   *logger.Logger
}

// New constructs an Ingestor.
func New(agents *agentstore.Store, runtimes Runtimes, log *logger.Logger) *Ingestor {
	if log == nil {
		log = logger.Default()
	}
	return &Ingestor{agents: agents, runtimes: runtimes, logger: log.WithFields(zap.String("component", "hooks"))}
}

// RegisterRoutes mounts the ingestor's routes onto an existing gin engine.
func (ing *Ingestor) RegisterRoutes(r gin.IRouter) {
	r.POST("/hooks", ing.handleHook)
}

// handleHook parses the incoming event and fans it out to matching agents.
// Per spec.md §4.10 this always responds promptly; matching and triggering
// happen synchronously here but each Trigger call is itself non-blocking.
func (ing *Ingestor) handleHook(c *gin.Context) {
	var req hookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.Validation("request", err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if !req.HookKind.IsValid() {
		appErr := apperr.Validation("hookKind", "unknown hook kind "+string(req.HookKind))
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if req.MuxPaneID == "" && (req.SessionID == "" || req.BranchID == "") {
		appErr := apperr.Validation("request", "either muxPaneId or sessionId+branchId is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	matched := ing.Route(req.HookKind, req.SessionID, req.BranchID, req.MuxPaneID)
	c.JSON(http.StatusAccepted, gin.H{"matched": matched})
}

// Route matches the incoming hook against every agent's connection and
// hookEvents subscription, triggering each match independently and dropping
// (with a hook_filter log) everything else. It returns the number of agents
// whose Trigger call was accepted.
func (ing *Ingestor) Route(kind domain.HookKind, sessionID, branchID, muxPaneID string) int {
	matched := 0
	for _, agent := range ing.agents.List() {
		if !ing.targets(agent, sessionID, branchID, muxPaneID) {
			continue
		}
		if !agent.HookEvents[kind] {
			ing.logger.Debug("hook_filter",
				zap.String("agentId", agent.ID),
				zap.String("hookKind", string(kind)),
			)
			continue
		}

		rt, ok := ing.runtimes.RuntimeFor(agent.ID)
		if !ok {
			continue
		}
		if rt.Trigger() {
			matched++
		} else {
			ing.logger.Warn("hook_dropped",
				zap.String("agentId", agent.ID),
				zap.String("hookKind", string(kind)),
			)
		}
	}
	return matched
}

func (ing *Ingestor) targets(agent *domain.Agent, sessionID, branchID, muxPaneID string) bool {
	if agent.Connection == nil {
		return false
	}
	if muxPaneID != "" {
		return agent.Connection.MuxPaneID == muxPaneID
	}
	return agent.Connection.SessionID == sessionID && agent.Connection.BranchID == branchID
}
