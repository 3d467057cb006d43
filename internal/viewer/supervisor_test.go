package viewer

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/portalloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorSpawnAndStop(t *testing.T) {
	ports := portalloc.New(29200, 29210, nil)
	sup := NewSupervisor(longRunningConfig(), ports, nil)
	ctx := context.Background()

	port, err := sup.Spawn(ctx, "sess-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 29200)
	assert.True(t, ports.IsAllocated(port))

	status, ok := sup.StatusOf("sess-1")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, status)

	require.NoError(t, sup.Stop("sess-1"))
	assert.False(t, ports.IsAllocated(port))
	_, ok = sup.StatusOf("sess-1")
	assert.False(t, ok)
}

func TestSupervisorSpawnDuplicateIsConflict(t *testing.T) {
	ports := portalloc.New(29220, 29230, nil)
	sup := NewSupervisor(longRunningConfig(), ports, nil)
	ctx := context.Background()

	_, err := sup.Spawn(ctx, "sess-1")
	require.NoError(t, err)
	defer sup.StopAll()

	_, err = sup.Spawn(ctx, "sess-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
}

func TestSupervisorStopAllReleasesPorts(t *testing.T) {
	ports := portalloc.New(29240, 29250, nil)
	sup := NewSupervisor(longRunningConfig(), ports, nil)
	ctx := context.Background()

	_, err := sup.Spawn(ctx, "sess-1")
	require.NoError(t, err)
	_, err = sup.Spawn(ctx, "sess-2")
	require.NoError(t, err)

	require.NoError(t, sup.StopAll())

	time.Sleep(10 * time.Millisecond)
	assert.False(t, ports.IsAllocated(29240))
}
