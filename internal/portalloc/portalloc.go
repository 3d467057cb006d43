// Package portalloc hands out TCP ports from a configured pool for
// terminal-viewer processes (spec.md §4.2).
package portalloc

import (
	"net"
	"sync"
	"time"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/logger"
	"go.uber.org/zap"
)

// LivenessChecker reports whether the process bound to a port is still alive.
// The caller of StartSweep supplies it; the viewer package provides none,
// and the daemon does not start the sweep.
type LivenessChecker func(port int) bool

// Allocator is a thread-safe pool of ports in [minPort, maxPort], grounded
// on the teacher's agentctl/instance.PortAllocator but extended with a
// background liveness sweep (spec.md §4.2).
type Allocator struct {
	minPort, maxPort int

	mu        sync.Mutex
	allocated map[int]string // port -> owner ID

	logger  *logger.Logger
	checker LivenessChecker

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an Allocator managing ports in [minPort, maxPort].
func New(minPort, maxPort int, log *logger.Logger) *Allocator {
	if log == nil {
		log = logger.Default()
	}
	return &Allocator{
		minPort:   minPort,
		maxPort:   maxPort,
		allocated: make(map[int]string),
		logger:    log.WithFields(zap.String("component", "portalloc")),
	}
}

// Acquire reserves and returns the lowest free port for the given owner,
// probing OS-level availability before committing (spec.md §4.2).
func (a *Allocator) Acquire(owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.minPort; port <= a.maxPort; port++ {
		if _, taken := a.allocated[port]; taken {
			continue
		}
		if !probeAvailable(port) {
			continue
		}
		a.allocated[port] = owner
		return port, nil
	}
	return 0, apperr.Exhausted("port")
}

// Release frees port for reuse. A no-op if the port was not allocated.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, port)
}

// IsAllocated reports whether port is currently reserved.
func (a *Allocator) IsAllocated(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.allocated[port]
	return ok
}

// OwnerOf returns the owner ID a port is reserved for, if any.
func (a *Allocator) OwnerOf(port int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.allocated[port]
	return owner, ok
}

func probeAvailable(port int) bool {
	ln, err := net.Listen("tcp", addrFor(port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

func addrFor(port int) string {
	return net.JoinHostPort("127.0.0.1", itoa(port))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// StartSweep launches a background goroutine that reclaims ports whose
// bound process has exited, using checker to test liveness, polling every
// interval until Stop is called (spec.md §4.2).
func (a *Allocator) StartSweep(checker LivenessChecker, interval time.Duration) {
	a.checker = checker
	a.stopCh = make(chan struct{})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				a.sweepOnce()
			}
		}
	}()
}

func (a *Allocator) sweepOnce() {
	a.mu.Lock()
	var stale []int
	for port, owner := range a.allocated {
		if a.checker != nil && !a.checker(port) {
			stale = append(stale, port)
			a.logger.Warn("reclaiming port with dead owner", zap.Int("port", port), zap.String("owner", owner))
		}
	}
	for _, port := range stale {
		delete(a.allocated, port)
	}
	a.mu.Unlock()
}

// Stop halts the background sweep, if running.
func (a *Allocator) Stop() {
	if a.stopCh != nil {
		close(a.stopCh)
		a.wg.Wait()
	}
}
