package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orka/internal/agentstore"
	"github.com/kandev/orka/internal/capture"
	"github.com/kandev/orka/internal/common/config"
	"github.com/kandev/orka/internal/domain"
	"github.com/kandev/orka/internal/mux"
	"github.com/kandev/orka/internal/notify"
	"github.com/kandev/orka/internal/policy"
	"github.com/kandev/orka/internal/portalloc"
	"github.com/kandev/orka/internal/session"
	"github.com/kandev/orka/internal/store"
	"github.com/kandev/orka/internal/viewer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	driver := mux.NewFakeDriver()
	persist, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	ports := portalloc.New(30100, 30110, nil)
	viewers := viewer.NewSupervisor(viewer.Config{BinaryPath: "/bin/sh", ExtraArgs: []string{"-c", "sleep 30"}}, ports, nil)
	t.Cleanup(func() { _ = viewers.StopAll() })

	muxCfg := config.MuxConfig{Binary: "tmux", SessionPrefix: "orka"}
	cliCfg := config.AgentCLIConfig{Binary: "claude", ResumeFlag: "--resume", ForkCommand: "/fork"}
	storageCfg := config.StorageConfig{Root: t.TempDir(), Exports: t.TempDir()}

	mgr := session.New(driver, viewers, persist, muxCfg, cliCfg, storageCfg, nil)
	agents, err := agentstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	logs := agentstore.NewLogStore(t.TempDir())

	srv := New(Deps{
		Persist:  persist,
		Sessions: mgr,
		Agents:   agents,
		Logs:     logs,
		Driver:   driver,
		Engine:   capture.NewEngine(80, 24),
		Policy:   policy.NewFakePolicy(),
		Notify:   notify.NewSink(notify.NewFakeProvider()),
	})

	r := gin.New()
	srv.RegisterRoutes(r)
	return srv, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestProjectLifecycle(t *testing.T) {
	_, r := setupServer(t)

	rec := doJSON(t, r, http.MethodPost, "/projects", createProjectRequest{Path: "/tmp/demo-project"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var projects []*domain.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "/tmp/demo-project", projects[0].Path)

	token := encodePath("/tmp/demo-project")
	rec = doJSON(t, r, http.MethodDelete, "/projects/"+token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionAndForkLifecycle(t *testing.T) {
	_, r := setupServer(t)
	token := encodePath("/tmp/fork-project")

	rec := doJSON(t, r, http.MethodPost, "/projects/"+token+"/sessions", createSessionRequest{Name: "s1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotNil(t, sess.Main)

	rec = doJSON(t, r, http.MethodPost, "/projects/"+token+"/sessions/"+sess.ID+"/forks",
		createForkRequest{Name: "fork1", ParentBranchID: sess.Main.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var fork domain.Branch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fork))

	rec = doJSON(t, r, http.MethodGet, "/projects/"+token+"/sessions/"+sess.ID+"/active-branch", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodDelete, "/projects/"+token+"/sessions/"+sess.ID+"/forks/"+fork.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAgentLifecycleEndpoints(t *testing.T) {
	_, r := setupServer(t)

	rec := doJSON(t, r, http.MethodPost, "/agents", createAgentRequest{
		Name:       "watcher",
		HookEvents: map[domain.HookKind]bool{domain.HookStop: true},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var agent domain.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))

	rec = doJSON(t, r, http.MethodGet, "/agents/"+agent.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/agents/"+agent.ID+"/logs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodDelete, "/agents/"+agent.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
