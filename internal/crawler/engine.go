package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/hnarchiver/internal/links"
)

const untitled = "untitled"

// Engine walks one story's comment tree, downloading the story page and
// every link found in its comments.
type Engine struct {
	endpoints Endpoints
	store     Store
	ledger    Ledger
	clock     Clock
	logger    *zap.Logger
}

// NewEngine wires an Engine.
func NewEngine(endpoints Endpoints, store Store, ledger Ledger, clock Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		endpoints: endpoints,
		store:     store,
		ledger:    ledger,
		clock:     clock,
		logger:    logger,
	}
}

// Visit fetches post id, performs its downloads, then visits its children
// concurrently. dir is the story directory inherited from the nearest story
// ancestor; nil means the store root. A post that cannot be fetched counts as
// (0, 0). The returned error is non-nil only if a panic was recovered in the
// subtree; the result then covers the parts that completed.
func (e *Engine) Visit(ctx context.Context, gw Gateway, id int64, dir *StoryDir) (Result, error) {
	return e.visit(ctx, gw, id, target{dir: dir})
}

// target is where a subtree's downloads go. skip is set below a story whose
// directory could not be opened: its pages are counted but never saved.
type target struct {
	dir  *StoryDir
	skip bool
}

func (e *Engine) visit(ctx context.Context, gw Gateway, id int64, dst target) (res Result, err error) {
	defer recoverTraversal(id, &err)

	var item *Item
	if fetchErr := gw.FetchJSON(ctx, e.endpoints.Item(id), &item); fetchErr != nil || item == nil {
		return Result{}, nil
	}

	var refs int
	switch item.Type {
	case ItemStory:
		dst = e.visitStory(ctx, gw, id, item)
	case ItemComment:
		refs, err = e.visitComment(ctx, gw, id, item, dst)
	default:
		e.logger.Debug("nothing to download", zap.Int64("id", id), zap.String("type", string(item.Type)))
	}

	res = Result{Refs: refs}
	if len(item.Kids) == 0 {
		return res, err
	}

	children := make([]Result, len(item.Kids))
	var g errgroup.Group
	for i, kid := range item.Kids {
		g.Go(func() error {
			child, childErr := e.visit(ctx, gw, kid, dst)
			children[i] = child
			return childErr
		})
	}
	err = errors.Join(err, g.Wait())

	res.Comments = len(item.Kids)
	for _, child := range children {
		res = res.Add(child)
	}
	return res, err
}

// visitStory opens the story directory, records first captures in the
// ledger and downloads the story page. When the directory cannot be opened
// nothing under the story is saved.
func (e *Engine) visitStory(ctx context.Context, gw Gateway, id int64, item *Item) target {
	storyURL := item.URL
	if storyURL == "" {
		storyURL = e.endpoints.Discussion(id)
	}
	title := item.Title
	if title == "" {
		title = untitled
	}

	dir, err := e.openStory(ctx, StoryEntry{ID: id, Title: title, URL: storyURL})
	if err != nil {
		e.logger.Error("story directory unavailable, skipping its downloads",
			zap.Int64("story_id", id),
			zap.Error(err),
		)
		return target{skip: true}
	}
	_ = gw.Download(ctx, storyURL, dir)
	return target{dir: dir}
}

func (e *Engine) openStory(ctx context.Context, entry StoryEntry) (*StoryDir, error) {
	dir, created, err := e.store.CreateStoryDir(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("create story directory: %w", err)
	}
	if !created {
		return &dir, nil
	}

	if e.clock != nil {
		entry.RecordedAt = e.clock.Now()
	}
	if err := e.ledger.Record(ctx, entry); err != nil && !errors.Is(err, ErrAlreadyRecorded) {
		// The directory exists, so the story is still archived; only the
		// ledger line is missing and the story will be crawled again next run.
		e.logger.Error("record story failed", zap.Int64("story_id", entry.ID), zap.Error(err))
	}
	e.logger.Debug("story directory created", zap.Int64("story_id", entry.ID), zap.String("dir", dir.Name))
	return &dir, nil
}

// visitComment downloads every distinct link of a comment into dst.
func (e *Engine) visitComment(ctx context.Context, gw Gateway, id int64, item *Item, dst target) (int, error) {
	refs := links.Extract(item.Text)
	if len(refs) == 0 {
		return 0, nil
	}
	e.logger.Debug("links found", zap.Int64("id", id), zap.Strings("links", refs))
	if dst.skip {
		return len(refs), nil
	}

	var g errgroup.Group
	for _, ref := range refs {
		g.Go(func() (err error) {
			defer recoverTraversal(id, &err)
			_ = gw.Download(ctx, ref, dst.dir)
			return nil
		})
	}
	return len(refs), g.Wait()
}

// recoverTraversal turns a panic in the current goroutine into an
// ErrTraversalPanic stored in *err.
func recoverTraversal(id int64, err *error) {
	if rec := recover(); rec != nil {
		*err = errors.Join(*err, fmt.Errorf("%w: post %d: %v", ErrTraversalPanic, id, rec))
	}
}
