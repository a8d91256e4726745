// Package marker records that a Guardian is active for a (session, project)
// pair. A marker is a zero-byte file whose name encodes both keys; its
// existence is the whole signal.
//
// Markers live outside the project tree (by default under
// ~/.agentops/guard/markers) so deleting or re-cloning a working copy does not
// silently drop an active Guardian.
package marker

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

const filePrefix = "guardian-"

// hashLen is the number of hex characters kept from the project digest.
const hashLen = 16

// projectDomainKey separates project-path digests from any other BLAKE3 use.
var projectDomainKey = [32]byte{
	'a', 'g', 'e', 'n', 't', 'o', 'p', 's', '.', 'g', 'u', 'a', 'r', 'd', '.',
	'p', 'r', 'o', 'j', 'e', 'c', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ProjectHash returns a short stable digest of a project root. The path is
// made absolute and cleaned first so "./repo" and "/abs/repo/" agree.
func ProjectHash(project string) string {
	if abs, err := filepath.Abs(project); err == nil {
		project = abs
	}
	project = filepath.Clean(project)

	hasher, err := blake3.NewKeyed(projectDomainKey[:])
	if err != nil {
		panic("marker: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write([]byte(project))
	return hex.EncodeToString(hasher.Sum(nil))[:hashLen]
}

// Store is the marker state shared by the dispatch gate, the invalidation
// guard, and the destructive git checks.
type Store interface {
	// Exists reports whether a marker is present. An empty session never
	// has a marker.
	Exists(session, project string) (bool, error)

	// Create records a marker. Creating an existing marker is not an error.
	Create(session, project string) error

	// Remove deletes a marker. Removing a missing marker is not an error.
	Remove(session, project string) error
}

// Entry describes one marker on disk.
type Entry struct {
	Session     string `json:"session" yaml:"session"`
	ProjectHash string `json:"project_hash" yaml:"project_hash"`
	Path        string `json:"path" yaml:"path"`
	CreatedAt   string `json:"created_at" yaml:"created_at"`
}

// FileStore keeps markers as files in Dir.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

var _ Store = (*FileStore)(nil)

// Path returns the marker file path for (session, project).
func (s *FileStore) Path(session, project string) string {
	return filepath.Join(s.Dir, fileName(session, ProjectHash(project)))
}

// Exists implements Store.
func (s *FileStore) Exists(session, project string) (bool, error) {
	if session == "" {
		return false, nil
	}
	_, err := os.Stat(s.Path(session, project))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat marker: %w", err)
	}
}

// Create implements Store. The file is flushed before Create returns so a
// later reader in another process sees it.
func (s *FileStore) Create(session, project string) error {
	if session == "" {
		return ErrSessionRequired
	}
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	f, err := os.OpenFile(s.Path(session, project), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close marker: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *FileStore) Remove(session, project string) error {
	if session == "" {
		return ErrSessionRequired
	}
	if err := os.Remove(s.Path(session, project)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}

// List returns every marker in Dir, sorted by session then project hash.
// A missing directory yields an empty list.
func (s *FileStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read marker dir: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		session, hash, ok := parseFileName(de.Name())
		if !ok {
			continue
		}
		e := Entry{Session: session, ProjectHash: hash, Path: filepath.Join(s.Dir, de.Name())}
		if info, err := de.Info(); err == nil {
			e.CreatedAt = info.ModTime().UTC().Format("2006-01-02T15:04:05Z")
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Session != entries[j].Session {
			return entries[i].Session < entries[j].Session
		}
		return entries[i].ProjectHash < entries[j].ProjectHash
	})
	return entries, nil
}

// RemoveSession deletes every marker belonging to session and returns how
// many were removed.
func (s *FileStore) RemoveSession(session string) (int, error) {
	if session == "" {
		return 0, ErrSessionRequired
	}
	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.Session != session {
			continue
		}
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove marker %s: %w", filepath.Base(e.Path), err)
		}
		removed++
	}
	return removed, nil
}

// MemStore is an in-memory Store for tests and dry runs.
type MemStore struct {
	mu      sync.Mutex
	markers map[string]struct{}
	creates int
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{markers: make(map[string]struct{})}
}

var _ Store = (*MemStore)(nil)

func memKey(session, project string) string {
	return fileName(session, ProjectHash(project))
}

// Exists implements Store.
func (m *MemStore) Exists(session, project string) (bool, error) {
	if session == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.markers[memKey(session, project)]
	return ok, nil
}

// Create implements Store.
func (m *MemStore) Create(session, project string) error {
	if session == "" {
		return ErrSessionRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[memKey(session, project)] = struct{}{}
	m.creates++
	return nil
}

// Remove implements Store.
func (m *MemStore) Remove(session, project string) error {
	if session == "" {
		return ErrSessionRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, memKey(session, project))
	return nil
}

// Count returns the number of distinct markers held.
func (m *MemStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markers)
}

// Creates returns how many times Create succeeded.
func (m *MemStore) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

func fileName(session, projectHash string) string {
	return filePrefix + escapeSession(session) + "-" + projectHash
}

// parseFileName splits "guardian-<session>-<hash>" and unescapes the
// session. The session may itself contain dashes; the hash is always the
// final hashLen characters.
func parseFileName(name string) (session, hash string, ok bool) {
	if !strings.HasPrefix(name, filePrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, filePrefix)
	if len(rest) < hashLen+2 || rest[len(rest)-hashLen-1] != '-' {
		return "", "", false
	}
	hash = rest[len(rest)-hashLen:]
	if _, err := hex.DecodeString(hash); err != nil {
		return "", "", false
	}
	session, ok = unescapeSession(rest[:len(rest)-hashLen-1])
	if !ok {
		return "", "", false
	}
	return session, hash, true
}

// escapeSession makes a session id filename-safe. The escaping is
// reversible, so distinct ids never share a marker.
func escapeSession(session string) string {
	return url.QueryEscape(session)
}

func unescapeSession(escaped string) (string, bool) {
	session, err := url.QueryUnescape(escaped)
	if err != nil || session == "" {
		return "", false
	}
	return session, true
}
