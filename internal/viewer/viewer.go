// Package viewer implements the ViewerSupervisor (spec.md §4.4): one HTTP
// terminal-viewer subprocess per active Session, bound to a port handed
// out by portalloc, restarted with bounded exponential backoff if it dies,
// and shut down gracefully on close.
package viewer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/logger"
	"go.uber.org/zap"
)

func signalForInterrupt() os.Signal { return os.Interrupt }

// Status is the lifecycle state of a supervised viewer process.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Config controls how viewer binaries are launched and restarted.
type Config struct {
	BinaryPath      string
	ExtraArgs       []string
	MaxRestarts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRestarts == 0 {
		c.MaxRestarts = 5
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// Instance supervises one viewer subprocess bound to a fixed port, modeled
// on the teacher's agentctl process.Manager subprocess lifecycle but with
// the addition of a restart loop with exponential backoff, grounded on the
// agentctl launcher's health-poll backoff idiom (100ms doubling to a cap).
type Instance struct {
	SessionID string
	Port      int

	cfg    Config
	logger *logger.Logger

	status atomic.Value // Status

	mu       sync.Mutex
	cmd      *exec.Cmd
	stopCh   chan struct{}
	doneCh   chan struct{}
	restarts int
}

// NewInstance creates a supervised viewer bound to port for sessionID.
func NewInstance(sessionID string, port int, cfg Config, log *logger.Logger) *Instance {
	if log == nil {
		log = logger.Default()
	}
	inst := &Instance{
		SessionID: sessionID,
		Port:      port,
		cfg:       cfg.withDefaults(),
		logger:    log.WithFields(zap.String("component", "viewer"), zap.String("sessionId", sessionID)),
	}
	inst.status.Store(StatusStopped)
	return inst
}

// Status returns the instance's current lifecycle state.
func (i *Instance) Status() Status {
	return i.status.Load().(Status)
}

// Start launches the viewer subprocess and begins supervising it. The
// supervision loop runs until Stop is called or restarts are exhausted.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.stopCh != nil {
		i.mu.Unlock()
		return apperr.Conflict("viewer already started")
	}
	i.stopCh = make(chan struct{})
	i.doneCh = make(chan struct{})
	i.mu.Unlock()

	if err := i.spawn(); err != nil {
		i.status.Store(StatusError)
		return err
	}
	i.status.Store(StatusRunning)

	go i.superviseLoop(ctx)
	return nil
}

func (i *Instance) spawn() error {
	args := append(append([]string{}, i.cfg.ExtraArgs...), fmt.Sprintf("--port=%d", i.Port))
	cmd := exec.Command(i.cfg.BinaryPath, args...)

	i.mu.Lock()
	i.cmd = cmd
	i.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return apperr.BackendUnavailable("viewer", err)
	}
	i.logger.Info("viewer process started", zap.Int("port", i.Port), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// superviseLoop waits for the subprocess to exit and restarts it with
// exponential backoff, up to cfg.MaxRestarts times.
func (i *Instance) superviseLoop(ctx context.Context) {
	defer close(i.doneCh)

	for {
		i.mu.Lock()
		cmd := i.cmd
		i.mu.Unlock()

		exitCh := make(chan error, 1)
		go func() { exitCh <- cmd.Wait() }()

		select {
		case <-i.stopCh:
			// Stop has signalled the process; doneCh closes only once it
			// has exited, so Stop's deadline-then-kill path can take effect.
			<-exitCh
			return
		case <-ctx.Done():
			return
		case err := <-exitCh:
			i.logger.Warn("viewer process exited", zap.Error(err), zap.Int("port", i.Port))
		}

		select {
		case <-i.stopCh:
			return
		default:
		}

		i.mu.Lock()
		i.restarts++
		restarts := i.restarts
		i.mu.Unlock()

		if restarts > i.cfg.MaxRestarts {
			i.status.Store(StatusError)
			i.logger.Error("viewer exceeded max restarts, giving up", zap.Int("maxRestarts", i.cfg.MaxRestarts))
			return
		}

		backoff := i.cfg.InitialBackoff * time.Duration(1<<uint(restarts-1))
		if backoff > i.cfg.MaxBackoff || backoff <= 0 {
			backoff = i.cfg.MaxBackoff
		}
		i.logger.Info("restarting viewer after backoff", zap.Duration("backoff", backoff), zap.Int("attempt", restarts))

		select {
		case <-time.After(backoff):
		case <-i.stopCh:
			return
		case <-ctx.Done():
			return
		}

		if err := i.spawn(); err != nil {
			i.status.Store(StatusError)
			i.logger.Error("viewer restart failed", zap.Error(err))
			return
		}
	}
}

// Stop gracefully terminates the viewer process: interrupt, then a hard
// kill if it hasn't exited within ShutdownTimeout (spec.md §4.4).
func (i *Instance) Stop() error {
	i.mu.Lock()
	if i.stopCh == nil {
		i.mu.Unlock()
		return nil
	}
	close(i.stopCh)
	cmd := i.cmd
	doneCh := i.doneCh
	i.mu.Unlock()

	i.status.Store(StatusStopping)

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(signalForInterrupt())
	}

	select {
	case <-doneCh:
	case <-time.After(i.cfg.ShutdownTimeout):
		if cmd != nil && cmd.Process != nil {
			i.logger.Warn("viewer did not exit before deadline, killing", zap.Int("port", i.Port))
			_ = cmd.Process.Kill()
		}
		<-doneCh
	}

	i.status.Store(StatusStopped)
	return nil
}
