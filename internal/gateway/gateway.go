// Package gateway funnels every outbound request of a polling cycle through
// one place that counts it, caps per-host concurrency and applies the
// request timeout.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
	"github.com/JakeFAU/hnarchiver/internal/metrics"
	"github.com/JakeFAU/hnarchiver/internal/policy/ratelimit"
)

const (
	defaultConnectionsLimit = 3
	defaultTimeout          = 10 * time.Second
)

// Config tunes a Gateway.
type Config struct {
	// ConnectionsLimit caps simultaneous requests to one host.
	ConnectionsLimit int
	// Timeout bounds a single request once it holds a connection slot.
	Timeout time.Duration
	// PerHostRPS optionally throttles request starts per host. Zero disables it.
	PerHostRPS float64
}

// Gateway is a cycle-scoped crawler.Gateway.
type Gateway struct {
	cfg       Config
	transport crawler.Fetcher
	store     crawler.Store
	slots     *hostSlots
	limiter   *ratelimit.Limiter
	fetches   atomic.Int64
	logger    *zap.Logger
}

var _ crawler.Gateway = (*Gateway)(nil)

// New creates a gateway for one cycle.
func New(cfg Config, transport crawler.Fetcher, store crawler.Store, logger *zap.Logger) *Gateway {
	if cfg.ConnectionsLimit <= 0 {
		cfg.ConnectionsLimit = defaultConnectionsLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:       cfg,
		transport: transport,
		store:     store,
		slots:     newHostSlots(cfg.ConnectionsLimit),
		limiter:   ratelimit.New(ratelimit.Config{PerHostRPS: cfg.PerHostRPS}),
		logger:    logger,
	}
}

// Fetches returns the number of requests attempted so far.
func (g *Gateway) Fetches() int64 {
	return g.fetches.Load()
}

// InFlight returns how many requests to host currently hold a slot.
func (g *Gateway) InFlight(host string) int {
	return g.slots.current(host)
}

// PeakInFlight returns the highest per-host concurrency observed.
func (g *Gateway) PeakInFlight() int {
	return g.slots.peakInFlight()
}

// FetchJSON requests rawURL and decodes the body into dst. A JSON null body
// yields crawler.ErrNoData.
func (g *Gateway) FetchJSON(ctx context.Context, rawURL string, dst any) error {
	start := time.Now()
	resp, err := g.do(ctx, rawURL)
	if err != nil {
		g.observeFailure(ctx, metrics.ModeJSON, rawURL, err, time.Since(start))
		return err
	}

	body := bytes.TrimSpace(resp.Body)
	if bytes.Equal(body, []byte("null")) {
		metrics.ObserveFetch(metrics.ModeJSON, metrics.OutcomeNoData, time.Since(start), len(resp.Body))
		g.logger.Debug("no data", zap.String("url", rawURL))
		return crawler.ErrNoData
	}
	if err := json.Unmarshal(body, dst); err != nil {
		metrics.ObserveFetch(metrics.ModeJSON, metrics.OutcomeDecode, time.Since(start), len(resp.Body))
		g.logger.Error("decode response failed", zap.String("url", rawURL), zap.Error(err))
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}

	metrics.ObserveFetch(metrics.ModeJSON, metrics.OutcomeOK, time.Since(start), len(resp.Body))
	g.logger.Debug("response", zap.Int("status", resp.StatusCode), zap.String("url", rawURL))
	return nil
}

// Download requests rawURL and stores the body under dir. Error pages that
// come with a body are saved like any other page.
func (g *Gateway) Download(ctx context.Context, rawURL string, dir *crawler.StoryDir) error {
	start := time.Now()
	resp, err := g.do(ctx, rawURL)
	if err != nil && (resp.StatusCode == 0 || len(resp.Body) == 0) {
		g.observeFailure(ctx, metrics.ModeBinary, rawURL, err, time.Since(start))
		return err
	}
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeStatus
		g.logger.Warn("saving error page", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
	}

	if len(resp.Body) == 0 {
		metrics.ObserveFetch(metrics.ModeBinary, metrics.OutcomeOK, time.Since(start), 0)
		g.logger.Debug("nothing to save", zap.String("url", rawURL))
		return nil
	}
	location, err := g.store.SaveBinary(ctx, dir, rawURL, resp.Body)
	if err != nil {
		metrics.ObserveFetch(metrics.ModeBinary, metrics.OutcomeSaveError, time.Since(start), len(resp.Body))
		g.logger.Error("save download failed", zap.String("url", rawURL), zap.Error(err))
		return fmt.Errorf("save %s: %w", rawURL, err)
	}

	metrics.ObserveFetch(metrics.ModeBinary, outcome, time.Since(start), len(resp.Body))
	g.logger.Debug("response",
		zap.Int("status", resp.StatusCode),
		zap.String("url", rawURL),
		zap.String("location", location),
		zap.Int("bytes", len(resp.Body)),
	)
	return nil
}

// do counts the attempt, waits for a slot on the target host and performs the
// request under the per-request timeout. The slot is released on return. A
// response that arrived with an error status is returned alongside the error.
func (g *Gateway) do(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	g.fetches.Add(1)

	host, err := hostOf(rawURL)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	release, err := g.slots.acquire(ctx, host)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if g.limiter.Enabled() {
		if err := g.limiter.Wait(reqCtx, host); err != nil {
			return crawler.FetchResponse{}, err
		}
	}

	return g.transport.Fetch(reqCtx, crawler.FetchRequest{URL: rawURL})
}

func (g *Gateway) observeFailure(ctx context.Context, mode, rawURL string, err error, elapsed time.Duration) {
	if ctx.Err() != nil {
		// The whole cycle is shutting down; one line per pending request is noise.
		metrics.ObserveFetch(mode, metrics.OutcomeError, elapsed, 0)
		g.logger.Debug("request abandoned", zap.String("url", rawURL), zap.Error(ctx.Err()))
		return
	}
	if isTimeout(err) {
		metrics.ObserveFetch(mode, metrics.OutcomeTimeout, elapsed, 0)
		g.logger.Error("request timed out", zap.String("url", rawURL), zap.Duration("timeout", g.cfg.Timeout))
		return
	}
	metrics.ObserveFetch(mode, metrics.OutcomeError, elapsed, 0)
	g.logger.Error("request failed", zap.String("url", rawURL), zap.String("mode", mode), zap.Error(err))
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse url %q: missing host", rawURL)
	}
	return strings.ToLower(u.Host), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
