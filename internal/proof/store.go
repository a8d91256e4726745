package proof

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/boshu2/agentops-guard/internal/marker"
	"github.com/boshu2/agentops-guard/internal/storage"
)

// DefaultFile is the proof file location relative to the project root.
const DefaultFile = ".agents/guard/proof-status"

// Store reads and writes the proof status of a project.
type Store interface {
	// Get returns the current status. A missing record is pending with a
	// zero timestamp, not an error.
	Get(project string) (Status, error)

	// Set replaces the status.
	Set(project string, st Status) error
}

// FileStore keeps the status in a one-line file inside the project.
type FileStore struct {
	// File is the proof file, relative to the project root unless absolute.
	File string

	// ScopeByProject appends the project hash to the file name so several
	// worktrees sharing one File location keep separate status.
	ScopeByProject bool
}

// NewFileStore returns a FileStore for file ("" means DefaultFile).
func NewFileStore(file string, scopeByProject bool) *FileStore {
	if file == "" {
		file = DefaultFile
	}
	return &FileStore{File: file, ScopeByProject: scopeByProject}
}

var _ Store = (*FileStore)(nil)

// Path returns the proof file for project.
func (s *FileStore) Path(project string) string {
	file := s.File
	if file == "" {
		file = DefaultFile
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(project, file)
	}
	if s.ScopeByProject {
		file += "-" + marker.ProjectHash(project)
	}
	return file
}

// Get implements Store.
func (s *FileStore) Get(project string) (Status, error) {
	if project == "" {
		return Status{}, ErrProjectRequired
	}
	data, err := storage.ReadLimited(s.Path(project), storage.MaxStateFileSize)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{State: StatePending}, nil
		}
		return Status{}, fmt.Errorf("read proof status: %w", err)
	}
	return Decode(string(data)), nil
}

// Set implements Store.
func (s *FileStore) Set(project string, st Status) error {
	if project == "" {
		return ErrProjectRequired
	}
	if _, err := ParseState(string(st.State)); err != nil {
		return err
	}
	if err := storage.WriteFile(s.Path(project), []byte(st.Encode()), 0644); err != nil {
		return fmt.Errorf("write proof status: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and dry runs.
type MemStore struct {
	mu     sync.Mutex
	status map[string]Status
	sets   int
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{status: make(map[string]Status)}
}

var _ Store = (*MemStore)(nil)

// Get implements Store.
func (m *MemStore) Get(project string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[project]
	if !ok {
		return Status{State: StatePending}, nil
	}
	return st, nil
}

// Set implements Store.
func (m *MemStore) Set(project string, st Status) error {
	if _, err := ParseState(string(st.State)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[project] = st
	m.sets++
	return nil
}

// Sets returns how many writes the store has accepted.
func (m *MemStore) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}
