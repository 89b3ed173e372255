package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

// FileBackend stores one "id<TAB>title<TAB>url" line per story in a text file.
type FileBackend struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileBackend returns a backend for the file at path. The file and its
// parent directory are created on first append.
func NewFileBackend(path string, logger *zap.Logger) *FileBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileBackend{path: path, logger: logger}
}

// Path returns the ledger file location.
func (b *FileBackend) Path() string {
	return b.path
}

// LoadIDs parses the id column of every line. A missing file is an empty
// ledger; unparseable lines are skipped with a warning.
func (b *FileBackend) LoadIDs(_ context.Context) ([]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var ids []int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		field, _, _ := strings.Cut(line, "\t")
		id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			b.logger.Warn("skipping malformed ledger line", zap.String("path", b.path), zap.Int("line", lineNo))
			continue
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	return ids, nil
}

// Append writes one line in a single write to a file opened with O_APPEND.
func (b *FileBackend) Append(_ context.Context, entry crawler.StoryEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create ledger directory: %w", err)
		}
	}
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G302 -- ledger is meant to be readable.
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	line := strings.Join([]string{
		strconv.FormatInt(entry.ID, 10),
		cleanField(entry.Title),
		cleanField(entry.URL),
	}, "\t") + "\n"
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write ledger line: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger file: %w", err)
	}
	return nil
}

// Close is a no-op; the file is reopened for every append.
func (b *FileBackend) Close() error {
	return nil
}

var fieldCleaner = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

func cleanField(s string) string {
	return fieldCleaner.Replace(s)
}
