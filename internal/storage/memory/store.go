// Package memory keeps story directories and downloads in memory for tests
// and dry runs.
package memory

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
	"github.com/JakeFAU/hnarchiver/internal/storage"
)

// Store is an in-memory crawler.Store.
type Store struct {
	mu    sync.RWMutex
	dirs  map[string]crawler.StoryDir
	files map[string][]byte
}

var _ crawler.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		dirs:  make(map[string]crawler.StoryDir),
		files: make(map[string][]byte),
	}
}

// CreateStoryDir registers the directory for entry if it is not known yet.
func (s *Store) CreateStoryDir(_ context.Context, entry crawler.StoryEntry) (crawler.StoryDir, bool, error) {
	name := storage.StoryDirName(entry.ID, entry.Title, entry.URL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if dir, ok := s.dirs[name]; ok {
		return dir, false, nil
	}
	dir := crawler.StoryDir{StoryID: entry.ID, Name: name, Location: "memory://" + name}
	s.dirs[name] = dir
	return dir, true, nil
}

// SaveBinary stores a copy of body and returns a memory:// URI.
func (s *Store) SaveBinary(_ context.Context, dir *crawler.StoryDir, url string, body []byte) (string, error) {
	key := storage.FileName(url)
	if dir != nil {
		key = path.Join(dir.Name, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = append([]byte(nil), body...)
	return "memory://" + key, nil
}

// File returns the stored body for key ("<dir>/<file>" or "<file>").
func (s *Store) File(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.files[key]
	return body, ok
}

// Files lists every stored key, sorted.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.files))
	for k := range s.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dirs lists every story directory name, sorted.
func (s *Store) Dirs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.dirs))
	for k := range s.dirs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
