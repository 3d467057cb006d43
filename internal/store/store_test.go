package store

import (
	"os"
	"testing"
	"time"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	return s
}

func TestLoadProjectMissingReturnsEmptyState(t *testing.T) {
	s := newTestStore(t)
	project, sessions, err := s.LoadProject("/tmp/some/project")
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Equal(t, "/tmp/some/project", project.Path)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	project := &domain.Project{Path: "/tmp/proj", Name: "proj", RegisteredAt: time.Now()}
	sessions := []*domain.Session{
		{
			ID:          "sess-1",
			ProjectPath: project.Path,
			Name:        "main",
			Status:      domain.SessionActive,
			Main:        &domain.Branch{ID: "br-1", SessionID: "sess-1", Name: "main"},
		},
	}

	require.NoError(t, s.SaveProject(project, sessions))

	loadedProject, loadedSessions, err := s.LoadProject(project.Path)
	require.NoError(t, err)
	assert.Equal(t, project.Path, loadedProject.Path)
	require.Len(t, loadedSessions, 1)
	assert.Equal(t, "sess-1", loadedSessions[0].ID)
	assert.Equal(t, "br-1", loadedSessions[0].Main.ID)
}

func TestLoadProjectCorruptStateSurfacesError(t *testing.T) {
	s := newTestStore(t)
	project := &domain.Project{Path: "/tmp/proj2"}
	require.NoError(t, s.SaveProject(project, nil))

	require.NoError(t, os.WriteFile(s.stateFile(project.Path), []byte("{not json"), 0o644))

	_, _, err := s.LoadProject(project.Path)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeCorruptState))
}

func TestAppendAndReadTranscript(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendTranscript("/tmp/proj", "br-1", "line one"))
	require.NoError(t, s.AppendTranscript("/tmp/proj", "br-1", "line two"))

	content, err := s.ReadTranscript("/tmp/proj", "br-1")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", content)
}

func TestReadTranscriptMissingReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	content, err := s.ReadTranscript("/tmp/proj", "nope")
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestListProjectsSkipsCorruptEntries(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveProject(&domain.Project{Path: "/tmp/a"}, nil))
	require.NoError(t, s.SaveProject(&domain.Project{Path: "/tmp/b"}, nil))
	require.NoError(t, os.MkdirAll(s.projectDir("/tmp/corrupt"), 0o755))
	require.NoError(t, os.WriteFile(s.stateFile("/tmp/corrupt"), []byte("garbage"), 0o644))

	paths, err := s.ListProjects()
	require.NoError(t, err)
	assert.Contains(t, paths, "/tmp/a")
	assert.Contains(t, paths, "/tmp/b")
	assert.Len(t, paths, 2)
}
