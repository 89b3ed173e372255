// Package ledger remembers which stories have been archived, so later cycles
// and later runs skip them.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

// Backend is the durable side of a Ledger. Append must never rewrite or drop
// earlier entries.
type Backend interface {
	LoadIDs(ctx context.Context) ([]int64, error)
	Append(ctx context.Context, entry crawler.StoryEntry) error
	Close() error
}

// Ledger is an in-memory id set in front of an append-only backend. The set
// is loaded once by Load and then only grows through Record.
type Ledger struct {
	backend Backend
	logger  *zap.Logger

	mu  sync.RWMutex
	ids map[int64]struct{}
}

var _ crawler.Ledger = (*Ledger)(nil)

// New creates a Ledger. Call Load before the first cycle.
func New(backend Backend, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		backend: backend,
		logger:  logger,
		ids:     make(map[int64]struct{}),
	}
}

// Load reads every recorded id from the backend.
func (l *Ledger) Load(ctx context.Context) error {
	ids, err := l.backend.LoadIDs(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.ids[id] = struct{}{}
	}
	l.logger.Info("already downloaded stories", zap.Int("count", len(l.ids)))
	l.logger.Debug("already downloaded story ids", zap.Int64s("ids", l.sortedLocked()))
	return nil
}

// Has reports whether id has been recorded.
func (l *Ledger) Has(id int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// IDs returns every recorded id in ascending order.
func (l *Ledger) IDs() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sortedLocked()
}

// Len returns the number of recorded stories.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// Record appends entry to the backend and remembers its id. Recording a known
// id returns crawler.ErrAlreadyRecorded and writes nothing.
func (l *Ledger) Record(ctx context.Context, entry crawler.StoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[entry.ID]; ok {
		return crawler.ErrAlreadyRecorded
	}
	if err := l.backend.Append(ctx, entry); err != nil {
		return fmt.Errorf("append ledger entry %d: %w", entry.ID, err)
	}
	l.ids[entry.ID] = struct{}{}
	return nil
}

// Close releases the backend.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

func (l *Ledger) sortedLocked() []int64 {
	out := make([]int64, 0, len(l.ids))
	for id := range l.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
