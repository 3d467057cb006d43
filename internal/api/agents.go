package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orka/internal/agentrt"
	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/domain"
)

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, s.agents.List())
}

type createAgentRequest struct {
	Name         string                   `json:"name" binding:"required"`
	MasterPrompt string                   `json:"masterPrompt"`
	HookEvents   map[domain.HookKind]bool `json:"hookEvents"`
	AutoApprove  bool                     `json:"autoApprove"`
	Caps         domain.AgentCaps         `json:"caps"`
}

func (s *Server) createAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("body", err.Error()))
		return
	}
	agent, err := s.agents.Create(req.Name, req.MasterPrompt, req.HookEvents, req.AutoApprove, req.Caps)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.agents.Get(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

type updateAgentRequest struct {
	Name         *string                  `json:"name"`
	MasterPrompt *string                  `json:"masterPrompt"`
	HookEvents   map[domain.HookKind]bool `json:"hookEvents"`
	AutoApprove  *bool                    `json:"autoApprove"`
	Caps         *domain.AgentCaps        `json:"caps"`
}

func (s *Server) updateAgent(c *gin.Context) {
	var req updateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("body", err.Error()))
		return
	}
	agent, err := s.agents.Update(c.Param("id"), func(a *domain.Agent) {
		if req.Name != nil {
			a.Name = *req.Name
		}
		if req.MasterPrompt != nil {
			a.MasterPrompt = *req.MasterPrompt
		}
		if req.HookEvents != nil {
			a.HookEvents = req.HookEvents
		}
		if req.AutoApprove != nil {
			a.AutoApprove = *req.AutoApprove
		}
		if req.Caps != nil {
			a.Caps = *req.Caps
		}
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) deleteAgent(c *gin.Context) {
	id := c.Param("id")
	if rt, ok := s.runtimes.get(id); ok {
		rt.Stop()
		s.runtimes.remove(id)
	}
	if err := s.agents.Delete(id); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// runtimeFor returns the live runtime for id, constructing one lazily the
// first time an agent is started (spec.md §4.9 agents are idle until
// started, so there is nothing to run before then).
func (s *Server) runtimeFor(id string) (*agentrt.Runtime, error) {
	if rt, ok := s.runtimes.get(id); ok {
		return rt, nil
	}
	if _, err := s.agents.Get(id); err != nil {
		return nil, err
	}
	rt := agentrt.New(id, s.agents, s.engine, s.driver, s.pol, s.sink, s.logs, s.logger)
	s.runtimes.put(id, rt)
	return rt, nil
}

func (s *Server) startAgent(c *gin.Context) {
	rt, err := s.runtimeFor(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := rt.Start(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) stopAgent(c *gin.Context) {
	id := c.Param("id")
	rt, ok := s.runtimes.get(id)
	if !ok {
		respondErr(c, apperr.NotFound("running agent", id))
		return
	}
	rt.Stop()
	s.runtimes.remove(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) pauseAgent(c *gin.Context) {
	id := c.Param("id")
	rt, ok := s.runtimes.get(id)
	if !ok {
		respondErr(c, apperr.NotFound("running agent", id))
		return
	}
	if err := rt.Pause(); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) resumeAgent(c *gin.Context) {
	id := c.Param("id")
	rt, ok := s.runtimes.get(id)
	if !ok {
		respondErr(c, apperr.NotFound("running agent", id))
		return
	}
	if err := rt.Resume(); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) triggerAgent(c *gin.Context) {
	id := c.Param("id")
	rt, ok := s.runtimes.get(id)
	if !ok {
		respondErr(c, apperr.NotFound("running agent", id))
		return
	}
	accepted := rt.Trigger(agentrt.TriggerManual)
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

type connectAgentRequest struct {
	ProjectPath string `json:"projectPath" binding:"required"`
	SessionID   string `json:"sessionId" binding:"required"`
	BranchID    string `json:"branchId" binding:"required"`
}

func (s *Server) connectAgent(c *gin.Context) {
	var req connectAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("body", err.Error()))
		return
	}

	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		respondErr(c, err)
		return
	}
	b := sess.FindBranch(req.BranchID)
	if b == nil {
		respondErr(c, apperr.NotFound("branch", req.BranchID))
		return
	}

	agent, err := s.agents.Update(c.Param("id"), func(a *domain.Agent) {
		a.Connection = &domain.AgentConnection{
			ProjectPath: req.ProjectPath,
			SessionID:   req.SessionID,
			BranchID:    req.BranchID,
			MuxPaneID:   b.MuxPaneID,
		}
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) disconnectAgent(c *gin.Context) {
	agent, err := s.agents.Update(c.Param("id"), func(a *domain.Agent) {
		a.Connection = nil
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) agentStatus(c *gin.Context) {
	agent, err := s.agents.Get(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":               agent.Status,
		"consecutiveResponses": agent.ConsecutiveResponses,
		"lastActivity":         agent.LastActivity,
		"lastError":            agent.LastError,
		"decisionHistory":      agent.DecisionHistory,
	})
}

func (s *Server) agentLogs(c *gin.Context) {
	events, err := s.logs.List(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) clearAgentLogs(c *gin.Context) {
	if err := s.logs.Clear(c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
