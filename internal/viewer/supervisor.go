package viewer

import (
	"context"
	"sync"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/portalloc"
)

// Supervisor owns one Instance per active Session, acquiring its port from
// a shared portalloc.Allocator (spec.md §4.4).
type Supervisor struct {
	cfg    Config
	ports  *portalloc.Allocator
	logger *logger.Logger

	mu        sync.Mutex
	instances map[string]*Instance // sessionID -> Instance
}

// NewSupervisor returns a Supervisor that hands out ports from ports and
// launches viewer binaries per cfg.
func NewSupervisor(cfg Config, ports *portalloc.Allocator, log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.Default()
	}
	return &Supervisor{
		cfg:       cfg,
		ports:     ports,
		logger:    log,
		instances: make(map[string]*Instance),
	}
}

// Spawn acquires a port and starts a viewer for sessionID, returning the
// bound port. Conflict if a viewer is already running for this session.
func (s *Supervisor) Spawn(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	if _, ok := s.instances[sessionID]; ok {
		s.mu.Unlock()
		return 0, apperr.Conflict("viewer already running for session " + sessionID)
	}
	s.mu.Unlock()

	port, err := s.ports.Acquire(sessionID)
	if err != nil {
		return 0, err
	}

	inst := NewInstance(sessionID, port, s.cfg, s.logger)
	if err := inst.Start(ctx); err != nil {
		s.ports.Release(port)
		return 0, err
	}

	s.mu.Lock()
	s.instances[sessionID] = inst
	s.mu.Unlock()

	return port, nil
}

// Stop tears down the viewer for sessionID and releases its port. A no-op
// if no viewer is running for that session.
func (s *Supervisor) Stop(sessionID string) error {
	s.mu.Lock()
	inst, ok := s.instances[sessionID]
	if ok {
		delete(s.instances, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	err := inst.Stop()
	s.ports.Release(inst.Port)
	return err
}

// StatusOf returns the current status of sessionID's viewer, if any.
func (s *Supervisor) StatusOf(sessionID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[sessionID]
	if !ok {
		return "", false
	}
	return inst.Status(), true
}

// StopAll tears down every supervised viewer, best-effort, returning the
// last error encountered.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var lastErr error
	for _, id := range ids {
		if err := s.Stop(id); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
