package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hnarchiver/internal/metrics"
)

// Story results reported to metrics.
const (
	storyResultOK     = "ok"
	storyResultFailed = "failed"
)

// OrchestratorConfig tunes a polling cycle.
type OrchestratorConfig struct {
	// Limit is how many of the top stories are considered each cycle.
	Limit int
	// Topic receives one StoryReport per traversed story when a publisher is set.
	Topic string
}

// Orchestrator runs polling cycles: it fetches the top stories, skips the
// ones already archived and traverses the rest concurrently.
type Orchestrator struct {
	cfg        OrchestratorConfig
	endpoints  Endpoints
	engine     *Engine
	ledger     Ledger
	newGateway GatewayFactory
	publisher  Publisher
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger
}

// NewOrchestrator wires an Orchestrator. publisher may be nil.
func NewOrchestrator(
	cfg OrchestratorConfig,
	endpoints Endpoints,
	engine *Engine,
	ledger Ledger,
	newGateway GatewayFactory,
	publisher Publisher,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		endpoints:  endpoints,
		engine:     engine,
		ledger:     ledger,
		newGateway: newGateway,
		publisher:  publisher,
		clock:      clock,
		ids:        ids,
		logger:     logger,
	}
}

// RunCycle performs one polling cycle. It returns an error when the top
// stories cannot be fetched or ctx ends before the traversals finish; the
// report is filled in either way.
func (o *Orchestrator) RunCycle(ctx context.Context, iteration int) (CycleReport, error) {
	start := o.clock.Now()
	cycleID, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("cycle id unavailable", zap.Error(err))
	}
	report := CycleReport{CycleID: cycleID, Iteration: iteration, StartedAt: start}
	gw := o.newGateway()

	var top []int64
	if err := gw.FetchJSON(ctx, o.endpoints.TopStoriesURL, &top); err != nil {
		report.Fetches = gw.Fetches()
		report.Elapsed = o.clock.Now().Sub(start)
		metrics.ObserveCycle("failed", report.Elapsed)
		return report, fmt.Errorf("fetch top stories: %w", err)
	}

	pending, skipped := o.selectStories(top)
	report.Skipped = skipped
	if len(skipped) > 0 {
		o.logger.Debug("skipping archived stories", zap.Int64s("ids", skipped))
	}

	report.Stories = make([]StoryReport, len(pending))
	var wg sync.WaitGroup
	for i, id := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.Stories[i] = o.runStory(ctx, gw, cycleID, iteration, id)
		}()
	}
	wg.Wait()

	report.Fetches = gw.Fetches()
	report.Elapsed = o.clock.Now().Sub(start)
	if err := ctx.Err(); err != nil {
		metrics.ObserveCycle("canceled", report.Elapsed)
		return report, err
	}
	metrics.ObserveCycle("succeeded", report.Elapsed)
	return report, nil
}

// selectStories keeps the first Limit ids and splits them into those still to
// crawl and those the ledger already has. Repeated ids are kept once.
func (o *Orchestrator) selectStories(top []int64) (pending, skipped []int64) {
	limit := o.cfg.Limit
	if limit < 0 || limit > len(top) {
		limit = len(top)
	}
	seen := make(map[int64]struct{}, limit)
	for _, id := range top[:limit] {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if o.ledger.Has(id) {
			skipped = append(skipped, id)
			continue
		}
		pending = append(pending, id)
	}
	return pending, skipped
}

func (o *Orchestrator) runStory(ctx context.Context, gw Gateway, cycleID string, iteration int, id int64) (report StoryReport) {
	report = StoryReport{CycleID: cycleID, Iteration: iteration, StoryID: id}
	defer func() {
		if rec := recover(); rec != nil {
			report.Error = fmt.Sprintf("%v: %v", ErrTraversalPanic, rec)
			o.logger.Error("story traversal panicked", zap.Int64("story_id", id), zap.Any("panic", rec))
			metrics.ObserveStory(storyResultFailed, report.Comments, report.Refs)
		}
	}()

	res, err := o.engine.Visit(ctx, gw, id, nil)
	report.Comments = res.Comments
	report.Refs = res.Refs

	result := storyResultOK
	if err != nil {
		result = storyResultFailed
		report.Error = err.Error()
		o.logger.Error("story traversal failed", zap.Int64("story_id", id), zap.Error(err))
	}
	metrics.ObserveStory(result, res.Comments, res.Refs)
	o.logger.Info("story crawled",
		zap.Int64("story_id", id),
		zap.Int("comments", res.Comments),
		zap.Int("refs", res.Refs),
		zap.Int("iteration", iteration),
	)
	o.notify(ctx, report)
	return report
}

func (o *Orchestrator) notify(ctx context.Context, report StoryReport) {
	if o.publisher == nil || ctx.Err() != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := o.publisher.Publish(pubCtx, o.cfg.Topic, report); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("publish story report failed", zap.Int64("story_id", report.StoryID), zap.Error(err))
	}
}
