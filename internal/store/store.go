// Package store is the PersistenceStore described in spec.md §4.3: one
// directory per project holding a state.json document plus one transcript
// log per branch. Every state.json write goes to a temp file, fsynced, then
// renamed into place, so a crash mid-write never leaves a half-written
// state.json; transcript logs are appended to in place.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/domain"
	"go.uber.org/zap"
)

// currentSchemaVersion is written into every state.json and checked on load.
const currentSchemaVersion = 1

// projectState is the on-disk shape of state.json.
type projectState struct {
	Version  int               `json:"version"`
	Project  domain.Project    `json:"project"`
	Sessions []*domain.Session `json:"sessions"`
}

// Store is a JSON-document PersistenceStore keyed by project path, grounded
// on the teacher's worktree.Store repository-interface shape (CRUD by ID)
// but backed by one directory-per-project instead of a SQL table.
type Store struct {
	rootDir string
	logger  *logger.Logger

	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	mu       sync.Mutex
	refCount int
}

// New returns a Store rooted at rootDir, creating it if necessary.
func New(rootDir string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Default()
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, apperr.Internal("create storage root", err)
	}
	return &Store{
		rootDir: rootDir,
		logger:  log.WithFields(zap.String("component", "store")),
		locks:   make(map[string]*projectLock),
	}, nil
}

func (s *Store) lockFor(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &projectLock{}
		s.locks[key] = l
	}
	l.refCount++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refCount--
		if l.refCount == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// projectDir returns the directory holding this project's state, keyed by
// a stable hash of its path so arbitrary filesystem paths are safe directory
// names.
func (s *Store) projectDir(projectPath string) string {
	return filepath.Join(s.rootDir, projectDirName(projectPath))
}

func projectDirName(projectPath string) string {
	h := fnv32a(projectPath)
	return fmt.Sprintf("proj-%08x", h)
}

// fnv32a is a tiny non-cryptographic hash; collisions are acceptable here
// since callers always have the full projectPath to disambiguate if needed.
func fnv32a(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

func (s *Store) stateFile(projectPath string) string {
	return filepath.Join(s.projectDir(projectPath), "state.json")
}

// TranscriptPath returns the append-only transcript log path for a branch.
func (s *Store) TranscriptPath(projectPath, branchID string) string {
	return filepath.Join(s.projectDir(projectPath), "transcripts", branchID+".log")
}

// writeAtomic writes data to path via a temp file in the same directory,
// fsyncs it, then renames it into place (spec.md §4.3, §8 property 7).
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadProject reads the persisted state for projectPath. A missing file
// returns an empty, freshly-versioned state rather than an error.
func (s *Store) LoadProject(projectPath string) (*domain.Project, []*domain.Session, error) {
	unlock := s.lockFor(projectPath)
	defer unlock()

	path := s.stateFile(projectPath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &domain.Project{Path: projectPath, Version: currentSchemaVersion}, nil, nil
	}
	if err != nil {
		return nil, nil, apperr.Internal("read project state", err)
	}

	var st projectState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, nil, apperr.CorruptState(projectPath, err)
	}
	if st.Version > currentSchemaVersion {
		return nil, nil, apperr.CorruptState(projectPath, fmt.Errorf("state schema version %d is newer than supported %d", st.Version, currentSchemaVersion))
	}
	migrate(&st)
	return &st.Project, st.Sessions, nil
}

// migrate upgrades older on-disk schema versions in place. There is
// currently only one version; this is the hook future migrations attach to.
func migrate(st *projectState) {
	if st.Version == 0 {
		st.Version = currentSchemaVersion
	}
}

// SaveProject persists project and its sessions atomically.
func (s *Store) SaveProject(project *domain.Project, sessions []*domain.Session) error {
	unlock := s.lockFor(project.Path)
	defer unlock()

	project.Version = currentSchemaVersion
	st := projectState{Version: currentSchemaVersion, Project: *project, Sessions: sessions}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return apperr.Internal("marshal project state", err)
	}
	if err := writeAtomic(s.stateFile(project.Path), data); err != nil {
		return apperr.Internal("write project state", err)
	}
	s.logger.Debug("saved project state", zap.String("project", project.Path), zap.Int("sessions", len(sessions)))
	return nil
}

// AppendTranscript appends a line to a branch's transcript log, creating it
// if necessary. Transcript logs are append-only and never rewritten, so no
// atomic-rename dance is needed here.
func (s *Store) AppendTranscript(projectPath, branchID, line string) error {
	path := s.TranscriptPath(projectPath, branchID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Internal("create transcript dir", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Internal("open transcript", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return apperr.Internal("append transcript", err)
	}
	return nil
}

// ReadTranscript returns the full contents of a branch's transcript log.
func (s *Store) ReadTranscript(projectPath, branchID string) (string, error) {
	data, err := os.ReadFile(s.TranscriptPath(projectPath, branchID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Internal("read transcript", err)
	}
	return string(data), nil
}

// ListProjects returns every project directory's recorded path.
func (s *Store) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Internal("list projects", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.rootDir, e.Name(), "state.json"))
		if err != nil {
			continue
		}
		var st projectState
		if err := json.Unmarshal(data, &st); err != nil {
			s.logger.Warn("skipping corrupt project state", zap.String("dir", e.Name()))
			continue
		}
		paths = append(paths, st.Project.Path)
	}
	return paths, nil
}

// DeleteProject removes a project's entire on-disk directory (state,
// transcripts, exports stay wherever the caller configured them, since
// exports are intentionally outside this store's tree).
func (s *Store) DeleteProject(projectPath string) error {
	unlock := s.lockFor(projectPath)
	defer unlock()

	if err := os.RemoveAll(s.projectDir(projectPath)); err != nil {
		return apperr.Internal("delete project state", err)
	}
	return nil
}
