// Package local implements a filesystem story store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
	"github.com/JakeFAU/hnarchiver/internal/storage"
)

// Config captures the parameters for the filesystem store.
type Config struct {
	// BaseDir is the root directory that holds one subdirectory per story.
	BaseDir string `mapstructure:"path"`
	// Reserved names files in BaseDir itself that downloads must never
	// replace, such as a ledger kept next to the stories.
	Reserved []string `mapstructure:"reserved"`
}

// ErrReservedName is returned when a root-level download would replace a
// reserved or hidden file.
var ErrReservedName = errors.New("file name is reserved")

// Store writes story directories and downloads below a base directory.
type Store struct {
	baseDir  string
	reserved map[string]struct{}
}

var _ crawler.Store = (*Store)(nil)

// New creates the base directory if needed and checks that it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	reserved := make(map[string]struct{}, len(cfg.Reserved))
	for _, name := range cfg.Reserved {
		reserved[name] = struct{}{}
	}
	return &Store{baseDir: abs, reserved: reserved}, nil
}

// BaseDir returns the absolute root of the store.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// CreateStoryDir makes the directory for entry. os.Mkdir is the existence
// test, so two callers racing on the same story see exactly one creation.
func (s *Store) CreateStoryDir(_ context.Context, entry crawler.StoryEntry) (crawler.StoryDir, bool, error) {
	name := storage.StoryDirName(entry.ID, entry.Title, entry.URL)
	full, err := s.resolve(name)
	if err != nil {
		return crawler.StoryDir{}, false, err
	}
	dir := crawler.StoryDir{StoryID: entry.ID, Name: name, Location: full}

	err = os.Mkdir(full, 0o750)
	if err == nil {
		return dir, true, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return crawler.StoryDir{}, false, fmt.Errorf("create story directory %q: %w", name, err)
	}
	info, statErr := os.Stat(full)
	if statErr != nil {
		return crawler.StoryDir{}, false, fmt.Errorf("stat story directory %q: %w", name, statErr)
	}
	if !info.IsDir() {
		return crawler.StoryDir{}, false, fmt.Errorf("story path %q exists and is not a directory", name)
	}
	return dir, false, nil
}

// SaveBinary writes body to dir (or the base directory when dir is nil) and
// returns a file:// URI. An existing file of the same name is overwritten,
// except reserved and hidden files in the base directory.
func (s *Store) SaveBinary(_ context.Context, dir *crawler.StoryDir, url string, body []byte) (string, error) {
	rel := storage.FileName(url)
	if dir != nil {
		rel = filepath.Join(dir.Name, rel)
	} else if _, ok := s.reserved[rel]; ok || strings.HasPrefix(rel, ".") {
		return "", fmt.Errorf("save %q in store root: %w", rel, ErrReservedName)
	}
	full, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(full, body, 0o600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return "file://" + full, nil
}

// resolve joins rel onto the base directory and rejects anything that
// escapes it.
func (s *Store) resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, rel))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}
