package viewer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// longRunningConfig spawns a short shell script that sleeps, standing in
// for a real viewer binary without depending on one being installed.
func longRunningConfig() Config {
	return Config{
		BinaryPath:      "/bin/sh",
		ExtraArgs:       []string{"-c", "sleep 30"},
		ShutdownTimeout: 200 * time.Millisecond,
	}
}

func TestInstanceStartAndStop(t *testing.T) {
	inst := NewInstance("sess-1", 29100, longRunningConfig(), nil)
	ctx := context.Background()

	require.NoError(t, inst.Start(ctx))
	assert.Eventually(t, func() bool { return inst.Status() == StatusRunning }, time.Second, 5*time.Millisecond)

	require.NoError(t, inst.Stop())
	assert.Equal(t, StatusStopped, inst.Status())
}

func TestInstanceRestartsOnCrash(t *testing.T) {
	cfg := Config{
		BinaryPath:     "/bin/sh",
		ExtraArgs:      []string{"-c", "exit 1"},
		MaxRestarts:    2,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}
	inst := NewInstance("sess-2", 29101, cfg, nil)
	ctx := context.Background()

	require.NoError(t, inst.Start(ctx))

	assert.Eventually(t, func() bool {
		inst.mu.Lock()
		defer inst.mu.Unlock()
		return inst.restarts > cfg.MaxRestarts
	}, 2*time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return inst.Status() == StatusError }, time.Second, 5*time.Millisecond)
}
