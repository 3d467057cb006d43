// Package orka wires every subsystem package into one running daemon,
// following the teacher's provideOrchestrator container pattern: a single
// constructor takes a *config.Config and a *logger.Logger and returns a
// fully-assembled, startable service with no package-level singletons.
package orka

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/orka/internal/agentstore"
	"github.com/kandev/orka/internal/api"
	"github.com/kandev/orka/internal/capture"
	"github.com/kandev/orka/internal/common/config"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/eventbus"
	"github.com/kandev/orka/internal/mux"
	"github.com/kandev/orka/internal/notify"
	"github.com/kandev/orka/internal/policy"
	"github.com/kandev/orka/internal/portalloc"
	"github.com/kandev/orka/internal/session"
	"github.com/kandev/orka/internal/store"
	"github.com/kandev/orka/internal/viewer"
)

// Orchestrator owns every long-lived subsystem and its background
// goroutines. Start blocks until ctx is cancelled or a watched goroutine
// fails; Stop releases subprocess and file-handle resources.
type Orchestrator struct {
	cfg *config.Config
	log *logger.Logger

	Store    *store.Store
	Agents   *agentstore.Store
	Logs     *agentstore.LogStore
	Sessions *session.Manager
	Driver   mux.Driver
	Viewers  *viewer.Supervisor
	Ports    *portalloc.Allocator
	Engine   *capture.Engine
	Policy   policy.Policy
	Notify   *notify.Sink
	Events   eventbus.Bus
	API      *api.Server

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs every subsystem from cfg, following the teacher's
// dependency order: storage first, then the process-control layers that
// persist through it, then the API that fronts all of it.
func New(cfg *config.Config, log *logger.Logger) (*Orchestrator, error) {
	if log == nil {
		log = logger.Default()
	}

	root, err := expandHome(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage.root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage.root: %w", err)
	}
	exportsRoot, err := expandHome(cfg.Storage.Exports)
	if err != nil {
		return nil, fmt.Errorf("resolving storage.exports: %w", err)
	}
	if err := os.MkdirAll(exportsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage.exports: %w", err)
	}
	storageCfg := cfg.Storage
	storageCfg.Root = root
	storageCfg.Exports = exportsRoot

	persist, err := store.New(storageCfg.Root, log)
	if err != nil {
		return nil, fmt.Errorf("constructing store: %w", err)
	}

	// Both rooted at storageCfg.Root directly: agents.json sits there and
	// LogStore appends "agents/<id>/logs.jsonl" itself (spec.md §6 layout).
	agents, err := agentstore.New(storageCfg.Root, log)
	if err != nil {
		return nil, fmt.Errorf("constructing agent store: %w", err)
	}
	logs := agentstore.NewLogStore(storageCfg.Root)

	driver := mux.NewTmuxDriver(cfg.Mux.Binary)
	ports := portalloc.New(cfg.PortPool.MinPort, cfg.PortPool.MaxPort, log)
	viewers := viewer.NewSupervisor(viewer.Config{
		BinaryPath:  cfg.Viewer.Binary,
		MaxRestarts: cfg.Viewer.RestartBudget,
	}, ports, log)

	bus, err := eventbus.New(cfg.Events.NATS, log)
	if err != nil {
		return nil, fmt.Errorf("constructing event bus: %w", err)
	}
	busMode := "memory"
	if strings.TrimSpace(cfg.Events.NATS.URL) != "" {
		busMode = "nats"
	}
	log.Debug("event bus resolved", zap.String("mode", busMode))

	sessions := session.New(driver, viewers, persist, cfg.Mux, cfg.AgentCLI, storageCfg, log)
	sessions.SetEventBus(bus)

	engine := capture.NewEngine(80, 24)

	pol := policy.NewHTTPPolicy(policy.Config{
		Endpoint: cfg.Policy.Endpoint,
		APIKey:   cfg.Policy.APIKey,
		Model:    cfg.Policy.Model,
		Timeout:  cfg.Policy.Timeout(),
	}, log)

	sink := notify.NewSink(resolveNotifyProviders(cfg.Notification, log)...)

	srv := api.New(api.Deps{
		Persist:  persist,
		Sessions: sessions,
		Agents:   agents,
		Logs:     logs,
		Driver:   driver,
		Engine:   engine,
		Policy:   pol,
		Notify:   sink,
		Logger:   log,
	})

	return &Orchestrator{
		cfg:      cfg,
		log:      log,
		Store:    persist,
		Agents:   agents,
		Logs:     logs,
		Sessions: sessions,
		Driver:   driver,
		Viewers:  viewers,
		Ports:    ports,
		Engine:   engine,
		Policy:   pol,
		Notify:   sink,
		Events:   bus,
		API:      srv,
	}, nil
}

// resolveNotifyProviders picks the Provider set for cfg.Provider, defaulting
// to NoneProvider so Notify is always safe to call even when nothing is
// configured (spec.md §4 NotificationSink "best-effort, never blocking").
// The config default ("none") matches this default exactly, so a fresh
// deployment with zero config gets the behavior its config actually names
// instead of a silent mismatch; an unrecognized provider name still falls
// through to NoneProvider but is logged, since that case means a typo or a
// config value this build doesn't support rather than an intentional no-op.
func resolveNotifyProviders(cfg config.NotificationConfig, log *logger.Logger) []notify.Provider {
	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case "apprise":
		return []notify.Provider{notify.NewAppriseProvider()}
	case "", "none":
		return []notify.Provider{notify.NewNoneProvider()}
	default:
		log.Warn("unrecognized notification.provider, falling back to none", zap.String("provider", cfg.Provider))
		return []notify.Provider{notify.NewNoneProvider()}
	}
}

// Start launches every background goroutine (the external-edit watcher
// today; more join the same errgroup as they're added) and blocks until one
// of them returns or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	o.group = g

	g.Go(func() error {
		if err := o.Store.WatchExternalEdits(gctx); err != nil {
			o.log.Warn("external edit watcher stopped", zap.Error(err))
			return err
		}
		return nil
	})

	return g.Wait()
}

// Stop cancels every background goroutine and releases subprocess handles.
// Safe to call even if Start was never called.
func (o *Orchestrator) Stop() error {
	if o.cancel != nil {
		o.cancel()
	}
	var firstErr error
	if err := o.Viewers.StopAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	o.Events.Close()
	if o.group != nil {
		if err := o.group.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// expandHome resolves a leading "~" the way the teacher's config loader
// expects storage paths to be given, since viper never does this itself.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
