// Package session implements SessionManager (spec.md §4.6): it owns
// sessions and their branch trees, coordinating MuxDriver, ViewerSupervisor
// and PersistenceStore behind one synchronous, per-session-locked API.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/orka/internal/branch"
	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/config"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/domain"
	"github.com/kandev/orka/internal/eventbus"
	"github.com/kandev/orka/internal/mux"
	"github.com/kandev/orka/internal/store"
	"github.com/kandev/orka/internal/viewer"
)

// entry is the in-memory state the Manager keeps for one live session: the
// persisted Session plus its BranchTree, guarded by its own lock so
// unrelated sessions never block each other (spec.md §5 "SessionManager
// protects each Session with its own exclusive lock").
type entry struct {
	mu      sync.Mutex
	session *domain.Session
	tree    *branch.Tree
}

// Manager is SessionManager: create/resume/detach/close, fork/merge/export,
// and drift reconciliation, composed from its collaborators the way the
// teacher's lifecycle.Manager composes registry/worktree/session helpers.
type Manager struct {
	driver  mux.Driver
	viewers *viewer.Supervisor
	persist *store.Store
	muxCfg  config.MuxConfig
	cliCfg  config.AgentCLIConfig
	storage config.StorageConfig
	logger  *logger.Logger
	events  eventbus.Bus

	mu       sync.Mutex
	sessions map[string]*entry
}

// New constructs a Manager.
func New(driver mux.Driver, viewers *viewer.Supervisor, persist *store.Store, muxCfg config.MuxConfig, cliCfg config.AgentCLIConfig, storage config.StorageConfig, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		driver:   driver,
		viewers:  viewers,
		persist:  persist,
		muxCfg:   muxCfg,
		cliCfg:   cliCfg,
		storage:  storage,
		logger:   log.WithFields(zap.String("component", "session-manager")),
		sessions: make(map[string]*entry),
	}
}

// SetEventBus attaches the EventBus used to publish session lifecycle
// events (spec.md §4.6 creates/closes), following the teacher's optional
// setter-injection idiom (see orchestratorSvc.SetMessageCreator) rather
// than a required constructor argument, since the bus is an observability
// side channel and not load-bearing for any SessionManager operation.
func (m *Manager) SetEventBus(bus eventbus.Bus) {
	m.events = bus
}

func (m *Manager) publishLifecycle(eventType string, sess *domain.Session) {
	if m.events == nil {
		return
	}
	evt := eventbus.NewEvent(eventType, "session-manager", map[string]interface{}{
		"sessionId":   sess.ID,
		"projectPath": sess.ProjectPath,
		"status":      string(sess.Status),
	})
	if err := m.events.Publish(context.Background(), eventbus.SubjectSessionLifecycle, evt); err != nil {
		m.logger.Warn("publish session lifecycle event failed", zap.String("sessionId", sess.ID), zap.Error(err))
	}
}

// withRetry runs fn once, and a second time after a 200ms backoff if the
// first attempt failed with a transient BackendUnavailable (spec.md §4.6,
// §5 "a transient BackendUnavailable triggers one retry with 200ms backoff").
func withRetry(fn func() error) error {
	err := fn()
	if err != nil && apperr.Is(err, apperr.CodeBackendUnavailable) {
		time.Sleep(200 * time.Millisecond)
		err = fn()
	}
	return err
}

func (m *Manager) entryFor(sessionID string) (*entry, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("session", sessionID)
	}
	return e, nil
}

func muxSessionName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(uuid.NewString()[:13], "-", ""))
}

// CreateSession registers a new mux session, starts the AI CLI in the
// project directory on its main branch, allocates and starts a viewer, and
// persists the result (spec.md §4.6).
func (m *Manager) CreateSession(ctx context.Context, projectPath, name string) (*domain.Session, error) {
	sessionID := uuid.NewString()
	mainBranchID := uuid.NewString()
	muxName := muxSessionName(m.muxCfg.SessionPrefix)
	now := time.Now()

	sess := &domain.Session{
		ID:             sessionID,
		ProjectPath:    projectPath,
		Name:           name,
		Status:         domain.SessionActive,
		CreatedAt:      now,
		LastActivity:   now,
		MuxSessionName: muxName,
		Main: &domain.Branch{
			ID:             mainBranchID,
			SessionID:      sessionID,
			Name:           "main",
			Status:         domain.BranchActive,
			CreatedAt:      now,
			LastActivity:   now,
			TranscriptPath: m.persist.TranscriptPath(projectPath, mainBranchID),
		},
	}

	// persist intent: the session exists durably before any external
	// process is spawned, so a crash here leaves a record reconcile can heal.
	if err := m.persistAppend(projectPath, sess); err != nil {
		return nil, err
	}

	// perform
	paneID, err := m.newMuxPane(ctx, muxName, projectPath, m.cliCfg.Binary)
	if err != nil {
		_ = m.persistRemove(projectPath, sessionID)
		return nil, err
	}
	port, err := withRetryInt(func() (int, error) { return m.viewers.Spawn(ctx, sessionID) })
	if err != nil {
		_ = withRetry(func() error { return m.driver.KillSession(ctx, muxName) })
		_ = m.persistRemove(projectPath, sessionID)
		return nil, err
	}

	// persist outcome
	sess.Main.MuxPaneID = paneID
	sess.ViewerPort = &port
	if err := m.persistReplace(projectPath, sess); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sessionID] = &entry{session: sess, tree: branch.NewTree(sessionID, sess.Main, nil)}
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("sessionId", sessionID), zap.String("projectPath", projectPath))
	m.publishLifecycle("session.created", sess)
	return sess, nil
}

func (m *Manager) newMuxPane(ctx context.Context, muxName, cwd, command string) (string, error) {
	var paneID string
	err := withRetry(func() error {
		var innerErr error
		paneID, innerErr = m.driver.NewSession(ctx, muxName, cwd, command)
		return innerErr
	})
	return paneID, err
}

func withRetry2(fn func() (string, error)) (string, error) {
	var v string
	err := withRetry(func() error {
		var innerErr error
		v, innerErr = fn()
		return innerErr
	})
	return v, err
}

func withRetryInt(fn func() (int, error)) (int, error) {
	var v int
	err := withRetry(func() error {
		var innerErr error
		v, innerErr = fn()
		return innerErr
	})
	return v, err
}

// ResumeSession reattaches to a session's mux session if it is still alive,
// or recreates it and replays the AI CLI in resume mode, then reconciles
// the branch tree against the live backend (spec.md §4.6).
func (m *Manager) ResumeSession(ctx context.Context, projectPath, sessionID string) (*domain.Session, error) {
	_, sessions, err := m.persist.LoadProject(projectPath)
	if err != nil {
		return nil, err
	}
	sess := findSession(sessions, sessionID)
	if sess == nil {
		return nil, apperr.NotFound("session", sessionID)
	}

	alive, err := withRetryBool(func() (bool, error) { return m.driver.SessionExists(ctx, sess.MuxSessionName) })
	if err != nil {
		return nil, err
	}
	if !alive {
		resumeCmd := fmt.Sprintf("%s %s %s", m.cliCfg.Binary, m.cliCfg.ResumeFlag, sess.Main.TranscriptPath)
		paneID, err := m.newMuxPane(ctx, sess.MuxSessionName, projectPath, resumeCmd)
		if err != nil {
			return nil, err
		}
		m.logger.Info("recreated mux session for resume", zap.String("sessionId", sessionID), zap.String("resumeCmd", resumeCmd))
		sess.Main.MuxPaneID = paneID
	}

	port, err := withRetryInt(func() (int, error) { return m.viewers.Spawn(ctx, sessionID) })
	if err != nil {
		return nil, err
	}
	sess.ViewerPort = &port
	sess.Status = domain.SessionActive
	sess.LastActivity = time.Now()

	if err := m.persistReplace(projectPath, sess); err != nil {
		return nil, err
	}

	tree := branch.NewTree(sessionID, sess.Main, sess.Forks)
	m.mu.Lock()
	m.sessions[sessionID] = &entry{session: sess, tree: tree}
	m.mu.Unlock()

	if err := m.Reconcile(ctx, sessionID); err != nil {
		m.logger.Warn("reconcile after resume failed", zap.String("sessionId", sessionID), zap.Error(err))
	}
	return sess, nil
}

func withRetryBool(fn func() (bool, error)) (bool, error) {
	var v bool
	err := withRetry(func() error {
		var innerErr error
		v, innerErr = fn()
		return innerErr
	})
	return v, err
}

// DetachSession shuts down the viewer and marks the session saved, leaving
// the mux session running so a later ResumeSession can reattach (spec.md §4.6).
func (m *Manager) DetachSession(ctx context.Context, sessionID string) error {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := withRetry(func() error { return m.viewers.Stop(sessionID) }); err != nil {
		return err
	}
	e.session.Status = domain.SessionSaved
	e.session.ViewerPort = nil
	e.session.LastActivity = time.Now()

	if err := m.persistReplace(e.session.ProjectPath, e.session); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// CloseSession kills the viewer and mux session and marks the session closed.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	_ = withRetry(func() error { return m.viewers.Stop(sessionID) })
	if err := withRetry(func() error { return m.driver.KillSession(ctx, e.session.MuxSessionName) }); err != nil {
		return err
	}

	e.session.Status = domain.SessionClosed
	e.session.ViewerPort = nil
	e.session.LastActivity = time.Now()
	if err := m.persistReplace(e.session.ProjectPath, e.session); err != nil {
		return err
	}
	m.publishLifecycle("session.closed", e.session)

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// CreateFork enforces the single-active-child rule, splits a pane from
// parentBranchID, launches the AI CLI's fork command in it, and persists
// the new Branch (spec.md §4.6).
func (m *Manager) CreateFork(ctx context.Context, sessionID, parentBranchID, name string, vertical bool) (*domain.Branch, error) {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	parent := e.tree.Get(parentBranchID)
	if parent == nil {
		return nil, apperr.NotFound("branch", parentBranchID)
	}

	now := time.Now()
	childID := uuid.NewString()
	child := &domain.Branch{
		ID:             childID,
		SessionID:      sessionID,
		Name:           name,
		ParentID:       &parentBranchID,
		Status:         domain.BranchActive,
		CreatedAt:      now,
		LastActivity:   now,
		TranscriptPath: m.persist.TranscriptPath(e.session.ProjectPath, childID),
	}

	// AddChild validates the single-active-child invariant before anything
	// external happens.
	if err := e.tree.AddChild(parentBranchID, child); err != nil {
		return nil, err
	}

	var paneID string
	err = withRetry(func() error {
		var innerErr error
		paneID, innerErr = m.driver.SplitPane(ctx, parent.MuxPaneID, vertical)
		return innerErr
	})
	if err != nil {
		_ = e.tree.SetStatus(child.ID, domain.BranchClosed)
		return nil, err
	}
	if err := withRetry(func() error { return m.driver.SendKeys(ctx, paneID, m.cliCfg.ForkCommand, true) }); err != nil {
		return nil, err
	}
	child.MuxPaneID = paneID

	e.session.Forks = append(e.session.Forks, child)
	e.session.LastActivity = now
	if err := m.persistReplace(e.session.ProjectPath, e.session); err != nil {
		return nil, err
	}
	return child, nil
}

// MergeFork captures the branch's final transcript, injects a framed
// summary into the parent's transcript, marks the branch merged, and kills
// its pane (spec.md §4.6, §11 "mergeFork transcript-injection format").
func (m *Manager) MergeFork(ctx context.Context, sessionID, branchID string) error {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	child := e.tree.Get(branchID)
	if child == nil {
		return apperr.NotFound("branch", branchID)
	}
	if child.IsMain() {
		return apperr.Validation("branchId", "the main branch cannot be merged")
	}
	parentID := child.ParentID
	if parentID == nil {
		return apperr.CorruptState(e.session.ProjectPath, fmt.Errorf("fork %s has no parent", branchID))
	}
	parent := e.tree.Get(*parentID)
	if parent == nil {
		return apperr.NotFound("branch", *parentID)
	}

	transcript, err := m.persist.ReadTranscript(e.session.ProjectPath, branchID)
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("\n--- merged fork %q (%s) ---\n%s\n--- end merged fork ---\n", child.Name, child.ID, transcript)
	if err := m.persist.AppendTranscript(e.session.ProjectPath, *parentID, summary); err != nil {
		return err
	}

	if err := e.tree.SetStatus(branchID, domain.BranchMerged); err != nil {
		return err
	}
	_ = withRetry(func() error { return m.driver.KillPane(ctx, child.MuxPaneID) })

	child.LastActivity = time.Now()
	e.session.LastActivity = time.Now()
	return m.persistReplace(e.session.ProjectPath, e.session)
}

// ExportFork writes a self-contained transcript file for branchID to the
// configured exports directory, without mutating tree state (spec.md §4.6).
func (m *Manager) ExportFork(ctx context.Context, sessionID, branchID, name string) (string, error) {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.tree.Get(branchID)
	if b == nil {
		return "", apperr.NotFound("branch", branchID)
	}
	transcript, err := m.persist.ReadTranscript(e.session.ProjectPath, branchID)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = b.Name
	}
	artifactPath := fmt.Sprintf("%s/%s-%s.txt", strings.TrimSuffix(m.storage.Exports, "/"), sanitizeExportName(name), branchID[:8])
	if err := writeExport(artifactPath, transcript); err != nil {
		return "", apperr.Internal("failed to write export artifact", err)
	}
	return artifactPath, nil
}

func sanitizeExportName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "fork"
	}
	return b.String()
}

// CloseFork marks branchID closed and kills its pane; if it was the active
// child, its parent becomes eligible for a new active fork (spec.md §4.6).
func (m *Manager) CloseFork(ctx context.Context, sessionID, branchID string) error {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.tree.Get(branchID)
	if b == nil {
		return apperr.NotFound("branch", branchID)
	}
	if err := e.tree.SetStatus(branchID, domain.BranchClosed); err != nil {
		return err
	}
	_ = withRetry(func() error { return m.driver.KillPane(ctx, b.MuxPaneID) })

	e.session.LastActivity = time.Now()
	return m.persistReplace(e.session.ProjectPath, e.session)
}

// SelectBranch drives UI focus by selecting branchID's pane in the mux.
func (m *Manager) SelectBranch(ctx context.Context, sessionID, branchID string) error {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.tree.Get(branchID)
	if b == nil {
		return apperr.NotFound("branch", branchID)
	}
	return withRetry(func() error { return m.driver.SelectPane(ctx, b.MuxPaneID) })
}

// ActiveBranch returns the ID of the branch whose pane currently has mux
// focus (spec.md §6 "GET .../active-branch").
func (m *Manager) ActiveBranch(ctx context.Context, sessionID string) (string, error) {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	paneID, err := withRetry2(func() (string, error) { return m.driver.ActivePaneOf(ctx, e.session.MuxSessionName) })
	if err != nil {
		return "", err
	}
	for _, b := range e.tree.Walk() {
		if b.MuxPaneID == paneID {
			return b.ID, nil
		}
	}
	return "", apperr.NotFound("branch for active pane", paneID)
}

// Get returns a snapshot of the session, rebuilt from the live tree so
// callers (the API layer) always see current branch statuses.
func (m *Manager) Get(sessionID string) (*domain.Session, error) {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotSession(e), nil
}

// ListForProject returns every session known for projectPath, live entries
// reflecting in-memory state and the rest read straight from disk.
func (m *Manager) ListForProject(projectPath string) ([]*domain.Session, error) {
	_, sessions, err := m.persist.LoadProject(projectPath)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, 0, len(sessions))
	for _, sess := range sessions {
		m.mu.Lock()
		e, live := m.sessions[sess.ID]
		m.mu.Unlock()
		if !live {
			out = append(out, sess)
			continue
		}
		e.mu.Lock()
		out = append(out, snapshotSession(e))
		e.mu.Unlock()
	}
	return out, nil
}

func snapshotSession(e *entry) *domain.Session {
	branches := e.tree.Walk()
	sess := *e.session
	for _, b := range branches {
		if b.IsMain() {
			sess.Main = b
		}
	}
	var forks []*domain.Branch
	for _, b := range branches {
		if !b.IsMain() {
			forks = append(forks, b)
		}
	}
	sess.Forks = forks
	return &sess
}

// Reconcile lists the session's live panes and diffs them against the
// BranchTree: branches whose pane is missing are demoted to saved with a
// drift warning; panes absent from the tree are adopted as anonymous
// branches only if their title matches orka's naming convention, otherwise
// left alone with a warning (spec.md §4.6). Reconcile is idempotent.
func (m *Manager) Reconcile(ctx context.Context, sessionID string) error {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	panes, err := withRetryPanes(func() ([]mux.Pane, error) { return m.driver.ListPanes(ctx, e.session.MuxSessionName) })
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(panes))
	for _, p := range panes {
		live[p.ID] = true
	}

	liveBranches := e.tree.Walk()
	for _, b := range liveBranches {
		if b.Status.IsTerminal() {
			continue
		}
		if !live[b.MuxPaneID] {
			if err := e.tree.SetStatus(b.ID, domain.BranchSaved); err != nil && !apperr.Is(err, apperr.CodeConflict) {
				return err
			}
			m.logger.Warn("drift: branch pane missing, demoted to saved",
				zap.String("sessionId", sessionID), zap.String("branchId", b.ID))
		}
	}

	// Surviving panes are captured concurrently (each branch's own pane is
	// independent, so a slow or stuck multiplexer pane never holds up the
	// others) and LastActivity is refreshed wherever there is fresh output.
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range liveBranches {
		if b.Status.IsTerminal() || !live[b.MuxPaneID] {
			continue
		}
		br := b
		g.Go(func() error {
			content, err := withRetry2(func() (string, error) { return m.driver.CapturePane(gctx, br.MuxPaneID, 1) })
			if err != nil {
				m.logger.Warn("reconcile: capture failed, leaving lastActivity unchanged",
					zap.String("branchId", br.ID), zap.Error(err))
				return nil
			}
			if strings.TrimSpace(content) != "" {
				br.LastActivity = time.Now()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	known := make(map[string]bool, len(e.tree.Walk()))
	for _, b := range e.tree.Walk() {
		known[b.MuxPaneID] = true
	}
	for _, p := range panes {
		if known[p.ID] {
			continue
		}
		if isOrkaForkTitle(p.Title, m.muxCfg.SessionPrefix) {
			m.adoptAnonymousBranch(e, p)
			continue
		}
		m.logger.Warn("unrecognized pane not adopted",
			zap.String("sessionId", sessionID), zap.String("paneId", p.ID), zap.String("title", p.Title))
	}

	e.session.LastActivity = time.Now()
	return m.persistReplace(e.session.ProjectPath, e.session)
}

func withRetryPanes(fn func() ([]mux.Pane, error)) ([]mux.Pane, error) {
	var v []mux.Pane
	err := withRetry(func() error {
		var innerErr error
		v, innerErr = fn()
		return innerErr
	})
	return v, err
}

// isOrkaForkTitle reports whether a pane title matches the naming
// convention orka uses for panes it would have created itself.
func isOrkaForkTitle(title, prefix string) bool {
	return strings.HasPrefix(title, prefix+"-fork-")
}

func (m *Manager) adoptAnonymousBranch(e *entry, p mux.Pane) {
	now := time.Now()
	main := e.tree.Main()
	childID := uuid.NewString()
	child := &domain.Branch{
		ID:             childID,
		SessionID:      e.session.ID,
		Name:           p.Title,
		ParentID:       &main.ID,
		Status:         domain.BranchActive,
		MuxPaneID:      p.ID,
		CreatedAt:      now,
		LastActivity:   now,
		TranscriptPath: m.persist.TranscriptPath(e.session.ProjectPath, childID),
	}
	if err := e.tree.AddChild(main.ID, child); err != nil {
		m.logger.Warn("could not adopt anonymous branch", zap.String("paneId", p.ID), zap.Error(err))
		return
	}
	e.session.Forks = append(e.session.Forks, child)
	m.logger.Info("adopted anonymous branch", zap.String("sessionId", e.session.ID), zap.String("branchId", child.ID), zap.String("paneId", p.ID))
}

func findSession(sessions []*domain.Session, id string) *domain.Session {
	for _, s := range sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// persistAppend loads the project, appends sess, and saves (persist intent).
func (m *Manager) persistAppend(projectPath string, sess *domain.Session) error {
	project, sessions, err := m.persist.LoadProject(projectPath)
	if err != nil {
		return err
	}
	sessions = append(sessions, sess)
	return m.persist.SaveProject(project, sessions)
}

// persistReplace loads the project, replaces the session matching sess.ID,
// and saves (persist outcome).
func (m *Manager) persistReplace(projectPath string, sess *domain.Session) error {
	project, sessions, err := m.persist.LoadProject(projectPath)
	if err != nil {
		return err
	}
	replaced := false
	for i, s := range sessions {
		if s.ID == sess.ID {
			sessions[i] = sess
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, sess)
	}
	return m.persist.SaveProject(project, sessions)
}

func (m *Manager) persistRemove(projectPath, sessionID string) error {
	project, sessions, err := m.persist.LoadProject(projectPath)
	if err != nil {
		return err
	}
	out := sessions[:0]
	for _, s := range sessions {
		if s.ID != sessionID {
			out = append(out, s)
		}
	}
	return m.persist.SaveProject(project, out)
}
