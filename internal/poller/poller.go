// Package poller repeats crawl cycles on a fixed period until stopped.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

// Runner executes one crawl cycle.
type Runner interface {
	RunCycle(ctx context.Context, iteration int) (crawler.CycleReport, error)
}

// Sleeper waits for a delay unless ctx ends first; it reports whether the
// full delay elapsed.
type Sleeper interface {
	Sleep(ctx context.Context, delay time.Duration) bool
}

// Config tunes the polling loop.
type Config struct {
	Period time.Duration
	Limit  int
}

// Poller drives a Runner and remembers the latest report.
type Poller struct {
	cfg     Config
	runner  Runner
	sleeper Sleeper
	logger  *zap.Logger

	mu        sync.RWMutex
	iteration int
	latest    *crawler.CycleReport
}

// New creates a Poller.
func New(cfg Config, runner Runner, sleeper Sleeper, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{cfg: cfg, runner: runner, sleeper: sleeper, logger: logger}
}

// Run polls until ctx is cancelled. Cycle failures are logged and the loop
// carries on; cancellation returns nil.
func (p *Poller) Run(ctx context.Context) error {
	for {
		_, _ = p.RunOnce(ctx)
		if ctx.Err() != nil {
			break
		}
		p.logger.Info("waiting", zap.Float64("seconds", p.cfg.Period.Seconds()))
		if !p.sleeper.Sleep(ctx, p.cfg.Period) {
			break
		}
	}
	p.logger.Info("polling stopped")
	return nil
}

// RunOnce runs the next cycle and records its report.
func (p *Poller) RunOnce(ctx context.Context) (crawler.CycleReport, error) {
	p.mu.Lock()
	p.iteration++
	iteration := p.iteration
	p.mu.Unlock()

	p.logger.Info("downloading top stories", zap.Int("limit", p.cfg.Limit), zap.Int("iteration", iteration))
	report, err := p.runner.RunCycle(ctx, iteration)

	p.mu.Lock()
	p.latest = &report
	p.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		p.logger.Info("cycle interrupted",
			zap.Int("iteration", iteration),
			zap.Float64("elapsed_seconds", report.Elapsed.Seconds()),
			zap.Int64("fetches", report.Fetches),
		)
	case err != nil:
		p.logger.Error("cycle failed", zap.Int("iteration", iteration), zap.Error(err))
	default:
		p.logger.Info("cycle finished",
			zap.Int("iteration", iteration),
			zap.Float64("elapsed_seconds", report.Elapsed.Seconds()),
			zap.Int64("fetches", report.Fetches),
			zap.Int("stories", len(report.Stories)),
			zap.Int("skipped", len(report.Skipped)),
		)
	}
	return report, err
}

// Latest returns the most recent cycle report, if any cycle has run.
func (p *Poller) Latest() (crawler.CycleReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return crawler.CycleReport{}, false
	}
	return *p.latest, true
}
