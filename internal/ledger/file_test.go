package ledger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

func TestFileBackendMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	b := NewFileBackend(filepath.Join(t.TempDir(), "list.txt"), zap.NewNop())
	ids, err := b.LoadIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFileBackendAppendFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stories", "list.txt")
	b := NewFileBackend(path, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, crawler.StoryEntry{ID: 1, Title: "First", URL: "https://example.com/1"}))
	require.NoError(t, b.Append(ctx, crawler.StoryEntry{ID: 2, Title: "Tab\there\nnewline", URL: "https://example.com/2"}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"1\tFirst\thttps://example.com/1\n"+
			"2\tTab here newline\thttps://example.com/2\n",
		string(content))

	ids, err := b.LoadIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestFileBackendKeepsExistingLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("10\tOld\thttps://old.example\n"), 0o600))

	b := NewFileBackend(path, zap.NewNop())
	require.NoError(t, b.Append(context.Background(), crawler.StoryEntry{ID: 11, Title: "New", URL: "u"}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "10\tOld\thttps://old.example\n11\tNew\tu\n", string(content))
}

func TestFileBackendSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("5\ta\tb\n\nnot-a-number\tx\ty\n6\n"), 0o600))

	core, logs := observer.New(zapcore.WarnLevel)
	b := NewFileBackend(path, zap.New(core))
	ids, err := b.LoadIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, ids)
	assert.Equal(t, 1, logs.Len())
}

func TestFileBackendConcurrentAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "list.txt")
	l := New(NewFileBackend(path, zap.NewNop()), zap.NewNop())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Record(context.Background(), crawler.StoryEntry{ID: int64(i), Title: "t", URL: "u"}))
		}()
	}
	wg.Wait()

	reloaded := New(NewFileBackend(path, zap.NewNop()), zap.NewNop())
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, 50, reloaded.Len())
}
