package crawler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
	"github.com/JakeFAU/hnarchiver/internal/gateway"
	"github.com/JakeFAU/hnarchiver/internal/publisher/memory"
	memstore "github.com/JakeFAU/hnarchiver/internal/storage/memory"
)

type orchestratorHarness struct {
	web       *fakeWeb
	store     *memstore.Store
	ledger    *fakeLedger
	publisher *memory.Publisher
	logs      *observer.ObservedLogs
	gateways  []*gateway.Gateway
	mu        sync.Mutex
	orch      *crawler.Orchestrator
}

func newHarness(web *fakeWeb, limit int, archived ...int64) *orchestratorHarness {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	h := &orchestratorHarness{
		web:       web,
		store:     memstore.New(),
		ledger:    newFakeLedger(archived...),
		publisher: memory.NewPublisher(),
		logs:      logs,
	}
	engine := crawler.NewEngine(testEndpoints, h.store, h.ledger, fixedClock{t: epoch}, logger)
	factory := func() crawler.Gateway {
		gw := gateway.New(gateway.Config{ConnectionsLimit: 2}, h.web, h.store, logger)
		h.mu.Lock()
		h.gateways = append(h.gateways, gw)
		h.mu.Unlock()
		return gw
	}
	h.orch = crawler.NewOrchestrator(
		crawler.OrchestratorConfig{Limit: limit, Topic: "stories"},
		testEndpoints,
		engine,
		h.ledger,
		factory,
		h.publisher,
		fixedClock{t: epoch},
		&sequenceIDs{},
		logger,
	)
	return h
}

func TestRunCycleSkipsArchivedStories(t *testing.T) {
	t.Parallel()

	web := threadWeb().
		top(`[100, 200, 300, 400]`).
		item(200, `{"id":200,"type":"story","title":"Old","url":"https://example.com/old"}`).
		item(300, `{"id":300,"type":"story","title":"Beyond limit"}`)
	h := newHarness(web, 2, 200)

	report, err := h.orch.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "cycle-1", report.CycleID)
	assert.Equal(t, 1, report.Iteration)
	assert.Equal(t, []int64{200}, report.Skipped)
	require.Len(t, report.Stories, 1)
	assert.Equal(t, crawler.StoryReport{
		CycleID: "cycle-1", Iteration: 1, StoryID: 100, Comments: 3, Refs: 2,
	}, report.Stories[0])

	assert.False(t, web.wasRequested(testEndpoints.Item(200)), "archived story must not be fetched")
	assert.False(t, web.wasRequested(testEndpoints.Item(300)), "story beyond the limit must not be fetched")

	// Top stories, four posts, the story page and two links.
	assert.Equal(t, int64(8), report.Fetches)
	require.Len(t, h.gateways, 1)
	assert.Equal(t, report.Fetches, h.gateways[0].Fetches())
	assert.LessOrEqual(t, h.gateways[0].PeakInFlight(), 2)
}

func TestRunCycleVisitsRepeatedIDOnce(t *testing.T) {
	t.Parallel()

	web := threadWeb().
		top(`[100, 200, 100, 200]`).
		item(200, `{"id":200,"type":"story","title":"Old","url":"https://example.com/old"}`)
	h := newHarness(web, 30, 200)

	report, err := h.orch.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, report.Stories, 1)
	assert.Equal(t, int64(100), report.Stories[0].StoryID)
	assert.Equal(t, []int64{200}, report.Skipped)
	assert.Len(t, h.ledger.entries, 1)
	// Same fetches as a single visit: top stories, four posts, the page and two links.
	assert.Equal(t, int64(8), report.Fetches)
}

func TestRunCycleLogsAndPublishesEachStory(t *testing.T) {
	t.Parallel()

	web := threadWeb().
		top(`[100, 500]`).
		item(500, `{"id":500,"type":"story","title":"Quiet","url":"https://example.com/quiet"}`)
	h := newHarness(web, 30)

	report, err := h.orch.RunCycle(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, report.Stories, 2)

	crawled := h.logs.FilterMessage("story crawled").All()
	require.Len(t, crawled, 2)
	byID := map[int64]map[string]any{}
	for _, entry := range crawled {
		fields := entry.ContextMap()
		byID[fields["story_id"].(int64)] = fields
	}
	assert.Equal(t, int64(3), byID[100]["comments"])
	assert.Equal(t, int64(2), byID[100]["refs"])
	assert.Equal(t, int64(7), byID[100]["iteration"])
	assert.Equal(t, int64(0), byID[500]["comments"])

	messages := h.publisher.Messages()
	require.Len(t, messages, 2)
	for _, msg := range messages {
		assert.Equal(t, "stories", msg.Topic)
		assert.IsType(t, crawler.StoryReport{}, msg.Payload)
	}
}

func TestRunCycleNewGatewayEachCycle(t *testing.T) {
	t.Parallel()

	web := threadWeb().top(`[100]`)
	h := newHarness(web, 30)

	first, err := h.orch.RunCycle(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(8), first.Fetches)

	// 100 is now in the ledger, so the second cycle only fetches the top list.
	second, err := h.orch.RunCycle(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Fetches)
	assert.Equal(t, []int64{100}, second.Skipped)
	assert.Empty(t, second.Stories)
	assert.Equal(t, "cycle-2", second.CycleID)
	assert.Len(t, h.gateways, 2)
}

func TestRunCycleTopStoriesFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeWeb(), 30)

	report, err := h.orch.RunCycle(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, int64(1), report.Fetches)
	assert.Empty(t, report.Stories)
}

func TestRunCyclePanicIsolatedToStory(t *testing.T) {
	t.Parallel()

	web := threadWeb().
		top(`[100, 600]`).
		item(600, `{"id":600,"type":"story","title":"Fine","url":"https://example.com/fine"}`)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	store := memstore.New()
	ledger := newFakeLedger()
	engine := crawler.NewEngine(testEndpoints, store, ledger, fixedClock{t: epoch}, logger)
	factory := func() crawler.Gateway {
		return panicGateway{
			Gateway: gateway.New(gateway.Config{}, web, store, logger),
			url:     testEndpoints.Item(102),
		}
	}
	orch := crawler.NewOrchestrator(crawler.OrchestratorConfig{Limit: 30}, testEndpoints, engine, ledger,
		factory, nil, fixedClock{t: epoch}, &sequenceIDs{}, logger)

	report, err := orch.RunCycle(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, report.Stories, 2)

	failed, fine := report.Stories[0], report.Stories[1]
	assert.Equal(t, int64(100), failed.StoryID)
	assert.Contains(t, failed.Error, crawler.ErrTraversalPanic.Error())
	assert.Equal(t, int64(600), fine.StoryID)
	assert.Empty(t, fine.Error)

	failures := logs.FilterMessage("story traversal failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, int64(100), failures[0].ContextMap()["story_id"])
}

func TestRunCycleCanceled(t *testing.T) {
	t.Parallel()

	web := threadWeb().top(`[100]`).hangOn(testEndpoints.Item(100))
	h := newHarness(web, 30)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for !web.wasRequested(testEndpoints.Item(100)) {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	report, err := h.orch.RunCycle(ctx, 1)
	require.True(t, errors.Is(err, context.Canceled))
	require.Len(t, report.Stories, 1)
	assert.Equal(t, crawler.Result{}, crawler.Result{Comments: report.Stories[0].Comments, Refs: report.Stories[0].Refs})
	assert.Zero(t, h.logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}
