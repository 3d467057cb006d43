package portalloc

import (
	"sync"
	"testing"
	"time"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWithinRangeAndNoDoubleAssignment(t *testing.T) {
	a := New(29000, 29002, nil)

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		port, err := a.Acquire("owner")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, port, 29000)
		assert.LessOrEqual(t, port, 29002)
		assert.False(t, seen[port], "port handed out twice concurrently")
		seen[port] = true
	}

	_, err := a.Acquire("owner")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeExhausted))
}

func TestReleaseAllowsReacquire(t *testing.T) {
	a := New(29000, 29000, nil)

	port, err := a.Acquire("owner-1")
	require.NoError(t, err)

	a.Release(port)
	assert.False(t, a.IsAllocated(port))

	port2, err := a.Acquire("owner-2")
	require.NoError(t, err)
	assert.Equal(t, port, port2)
}

func TestConcurrentAcquireNeverDoubleAssigns(t *testing.T) {
	a := New(29000, 29049, nil)

	var wg sync.WaitGroup
	results := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := a.Acquire("owner")
			if err == nil {
				results <- port
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for port := range results {
		require.False(t, seen[port], "port %d allocated twice", port)
		seen[port] = true
	}
}

func TestSweepReclaimsDeadOwnerPorts(t *testing.T) {
	a := New(29000, 29000, nil)
	port, err := a.Acquire("owner")
	require.NoError(t, err)

	dead := false
	a.StartSweep(func(p int) bool { return !dead }, 10*time.Millisecond)
	defer a.Stop()

	dead = true
	require.Eventually(t, func() bool {
		return !a.IsAllocated(port)
	}, time.Second, 5*time.Millisecond)
}
