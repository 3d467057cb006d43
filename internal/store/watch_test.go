package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchExternalEditsReturnsOnCancelAfterStateFileWrite(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.WatchExternalEdits(ctx) }()

	time.Sleep(50 * time.Millisecond)

	dir := filepath.Join(s.rootDir, "proj-externally-created")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte(`{"version":1}`), 0o644))

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not return after cancel")
	}
}
