package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/orka/internal/agentstore"
	"github.com/kandev/orka/internal/capture"
	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/hooks"
	"github.com/kandev/orka/internal/mux"
	"github.com/kandev/orka/internal/notify"
	"github.com/kandev/orka/internal/policy"
	"github.com/kandev/orka/internal/session"
	"github.com/kandev/orka/internal/store"
)

// Server wires every SPEC_FULL.md component behind the HTTP/JSON API
// described in spec.md §6, following the teacher's *Handler-struct-per-
// router-group pattern (see the orchestrator API's Handler type).
type Server struct {
	persist  *store.Store
	sessions *session.Manager
	agents   *agentstore.Store
	logs     *agentstore.LogStore
	runtimes *runtimeRegistry
	hooks    *hooks.Ingestor
	driver   mux.Driver
	engine   *capture.Engine
	pol      policy.Policy
	sink     *notify.Sink
	logger   *logger.Logger
}

// Deps bundles Server's collaborators, constructed by the orka container.
type Deps struct {
	Persist  *store.Store
	Sessions *session.Manager
	Agents   *agentstore.Store
	Logs     *agentstore.LogStore
	Driver   mux.Driver
	Engine   *capture.Engine
	Policy   policy.Policy
	Notify   *notify.Sink
	Logger   *logger.Logger
}

// New constructs a Server. It does not build an agentrt.Runtime for every
// agent eagerly: runtimes are created lazily on /agents/:id/start, matching
// the "idle until started" AgentStatus default (spec.md §4.9).
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	registry := newRuntimeRegistry()
	s := &Server{
		persist:  deps.Persist,
		sessions: deps.Sessions,
		agents:   deps.Agents,
		logs:     deps.Logs,
		runtimes: registry,
		hooks:    hooks.New(deps.Agents, registry, log),
		driver:   deps.Driver,
		engine:   deps.Engine,
		pol:      deps.Policy,
		sink:     deps.Notify,
		logger:   log.WithFields(zap.String("component", "api")),
	}
	return s
}

// RegisterRoutes mounts every endpoint from spec.md §6 onto r.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	r.GET("/projects", s.listProjects)
	r.POST("/projects", s.createProject)
	r.DELETE("/projects/:encodedPath", s.deleteProject)

	r.GET("/projects/:encodedPath/sessions", s.listSessions)
	r.POST("/projects/:encodedPath/sessions", s.createSession)
	r.GET("/projects/:encodedPath/sessions/:id", s.getSession)
	r.POST("/projects/:encodedPath/sessions/:id/resume", s.resumeSession)
	r.POST("/projects/:encodedPath/sessions/:id/detach", s.detachSession)
	r.DELETE("/projects/:encodedPath/sessions/:id", s.closeSession)

	r.POST("/projects/:encodedPath/sessions/:id/forks", s.createFork)
	r.POST("/projects/:encodedPath/sessions/:id/forks/:branchId/merge", s.mergeFork)
	r.POST("/projects/:encodedPath/sessions/:id/forks/:branchId/export", s.exportFork)
	r.DELETE("/projects/:encodedPath/sessions/:id/forks/:branchId", s.closeFork)
	r.POST("/projects/:encodedPath/sessions/:id/select", s.selectBranch)
	r.GET("/projects/:encodedPath/sessions/:id/active-branch", s.activeBranch)

	r.GET("/agents", s.listAgents)
	r.POST("/agents", s.createAgent)
	r.GET("/agents/:id", s.getAgent)
	r.PUT("/agents/:id", s.updateAgent)
	r.DELETE("/agents/:id", s.deleteAgent)
	r.POST("/agents/:id/start", s.startAgent)
	r.POST("/agents/:id/stop", s.stopAgent)
	r.POST("/agents/:id/pause", s.pauseAgent)
	r.POST("/agents/:id/resume", s.resumeAgent)
	r.POST("/agents/:id/trigger", s.triggerAgent)
	r.POST("/agents/:id/connect", s.connectAgent)
	r.POST("/agents/:id/disconnect", s.disconnectAgent)
	r.GET("/agents/:id/status", s.agentStatus)
	r.GET("/agents/:id/logs", s.agentLogs)
	r.DELETE("/agents/:id/logs", s.clearAgentLogs)

	s.hooks.RegisterRoutes(r)

	r.GET("/sessions/:id/stream", s.streamTerminal)
}

// respondErr writes err's typed AppError shape as the response, defaulting
// to 500 for anything that isn't one (spec.md §6 "5xx on internal").
func respondErr(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		if _, ok := err.(*apperr.AppError); !ok {
			c.JSON(status, gin.H{"error": "internal error"})
			return
		}
	}
	c.JSON(status, err)
}
