package mux

import (
	"context"
	"testing"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeDriver_NewSessionAndSendKeys(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()

	paneID, err := d.NewSession(ctx, "s1", "/tmp/p1", "")
	require.NoError(t, err)
	require.NotEmpty(t, paneID)

	require.NoError(t, d.SendKeys(ctx, paneID, "ls", true))

	capture, err := d.CapturePane(ctx, paneID, 200)
	require.NoError(t, err)
	assert.Contains(t, capture, "ls")
}

func TestFakeDriver_DuplicateSessionConflict(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()

	_, err := d.NewSession(ctx, "s1", "/tmp/p1", "")
	require.NoError(t, err)

	_, err = d.NewSession(ctx, "s1", "/tmp/p1", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeAlreadyExists))
}

func TestFakeDriver_SplitAndKillPane(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()

	main, err := d.NewSession(ctx, "s1", "/tmp/p1", "")
	require.NoError(t, err)

	fork, err := d.SplitPane(ctx, main, true)
	require.NoError(t, err)
	require.NotEqual(t, main, fork)

	panes, err := d.ListPanes(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, panes, 2)

	require.NoError(t, d.KillPane(ctx, fork))
	panes, err = d.ListPanes(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, panes, 1)
}

func TestFakeDriver_KillSessionRemovesAllPanes(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()

	main, err := d.NewSession(ctx, "s1", "/tmp/p1", "")
	require.NoError(t, err)
	_, err = d.SplitPane(ctx, main, false)
	require.NoError(t, err)

	require.NoError(t, d.KillSession(ctx, "s1"))

	exists, err := d.SessionExists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFakeDriver_ExternalKillIsObservableForDrift(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()

	main, err := d.NewSession(ctx, "s1", "/tmp/p1", "")
	require.NoError(t, err)
	fork, err := d.SplitPane(ctx, main, false)
	require.NoError(t, err)

	d.KillPaneExternally(fork)

	panes, err := d.ListPanes(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, panes, 1, "externally killed pane should disappear from listPanes")
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, validateName("orka-session_1"))
	assert.Error(t, validateName("bad name; rm -rf /"))
	assert.Error(t, validateName(""))
}
