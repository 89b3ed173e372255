// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/hnarchiver/internal/api"
	"github.com/JakeFAU/hnarchiver/internal/clock/system"
	"github.com/JakeFAU/hnarchiver/internal/config"
	"github.com/JakeFAU/hnarchiver/internal/crawler"
	collyfetcher "github.com/JakeFAU/hnarchiver/internal/fetcher/colly"
	"github.com/JakeFAU/hnarchiver/internal/gateway"
	"github.com/JakeFAU/hnarchiver/internal/id/uuid"
	"github.com/JakeFAU/hnarchiver/internal/ledger"
	"github.com/JakeFAU/hnarchiver/internal/metrics"
	"github.com/JakeFAU/hnarchiver/internal/poller"
	memorypub "github.com/JakeFAU/hnarchiver/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/hnarchiver/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/hnarchiver/internal/storage/gcs"
	"github.com/JakeFAU/hnarchiver/internal/storage/local"
	"github.com/JakeFAU/hnarchiver/internal/storage/memory"
)

const shutdownTimeout = 5 * time.Second

// App holds the shared, long-lived services of the archiver. It is built
// once at startup and closed when the command finishes.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        crawler.Store
	ledger       *ledger.Ledger
	publisher    crawler.Publisher
	orchestrator *crawler.Orchestrator
	poller       *poller.Poller
	server       *http.Server

	closers []func() error
}

// New builds every service named by cfg and loads the ledger. Any failure is
// fatal; services opened before the failure are closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.store, err = a.buildStore(ctx); err != nil {
		return nil, err
	}
	backend, err := a.buildLedgerBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.ledger = ledger.New(backend, logger.Named("ledger"))
	a.closers = append(a.closers, a.ledger.Close)
	if err = a.ledger.Load(ctx); err != nil {
		return nil, err
	}
	if a.publisher, err = a.buildPublisher(ctx); err != nil {
		return nil, err
	}

	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.HTTP.UserAgent,
		Timeout:         cfg.HTTP.Timeout,
		MaxConnsPerHost: cfg.HTTP.ConnectionsLimit,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
	})
	gatewayLogger := logger.Named("gateway")
	newGateway := func() crawler.Gateway {
		return gateway.New(gateway.Config{
			ConnectionsLimit: cfg.HTTP.ConnectionsLimit,
			Timeout:          cfg.HTTP.Timeout,
			PerHostRPS:       cfg.HTTP.PerHostRPS,
		}, transport, a.store, gatewayLogger)
	}

	endpoints := crawler.Endpoints{
		ItemURL:       cfg.API.ItemURL,
		TopStoriesURL: cfg.API.TopStoriesURL,
		DiscussionURL: cfg.API.DiscussionURL,
	}
	clock := system.New()
	engine := crawler.NewEngine(endpoints, a.store, a.ledger, clock, logger.Named("engine"))
	a.orchestrator = crawler.NewOrchestrator(
		crawler.OrchestratorConfig{Limit: cfg.Poll.Limit, Topic: cfg.Notify.Topic},
		endpoints,
		engine,
		a.ledger,
		newGateway,
		a.publisher,
		clock,
		uuid.NewUUIDGenerator(),
		logger.Named("orchestrator"),
	)
	a.poller = poller.New(
		poller.Config{Period: cfg.Poll.Period, Limit: cfg.Poll.Limit},
		a.orchestrator,
		clock,
		logger.Named("poller"),
	)

	if cfg.Server.Addr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.NewServer(a.poller, a.ledger, logger.Named("api")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("ledger", cfg.Ledger.Provider),
		zap.String("notify", cfg.Notify.Provider),
	)
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (crawler.Store, error) {
	switch a.cfg.Storage.Provider {
	case config.StorageLocal:
		store, err := local.New(local.Config{
			BaseDir:  a.cfg.Storage.Path,
			Reserved: ledgerFilesIn(a.cfg),
		})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		a.logger.Info("using local storage", zap.String("path", store.BaseDir()))
		return store, nil
	case config.StorageMemory:
		a.logger.Info("using in-memory storage; downloads are discarded on exit")
		return memory.New(), nil
	case config.StorageGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcsstore.New(client, gcsstore.Config{
			Bucket: a.cfg.Storage.GCS.Bucket,
			Prefix: a.cfg.Storage.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.logger.Info("using gcs storage", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

// ledgerFilesIn lists the ledger files kept directly in storage.path, which
// root-level downloads must not replace.
func ledgerFilesIn(cfg config.Config) []string {
	var paths []string
	switch cfg.Ledger.Provider {
	case config.LedgerFile:
		paths = []string{cfg.LedgerFilePath()}
	case config.LedgerSQLite:
		db := cfg.LedgerSQLitePath()
		paths = []string{db, db + "-wal", db + "-shm", db + "-journal"}
	}
	root := filepath.Clean(cfg.Storage.Path)
	var names []string
	for _, p := range paths {
		if filepath.Clean(filepath.Dir(p)) == root {
			names = append(names, filepath.Base(p))
		}
	}
	return names
}

func (a *App) buildLedgerBackend(ctx context.Context) (ledger.Backend, error) {
	switch a.cfg.Ledger.Provider {
	case config.LedgerFile:
		path := a.cfg.LedgerFilePath()
		a.logger.Info("using file ledger", zap.String("path", path))
		return ledger.NewFileBackend(path, a.logger.Named("ledger")), nil
	case config.LedgerSQLite:
		path := a.cfg.LedgerSQLitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
		a.logger.Info("using sqlite ledger", zap.String("path", path))
		backend, err := ledger.NewSQLiteBackend(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("init sqlite ledger: %w", err)
		}
		return backend, nil
	case config.LedgerPostgres:
		a.logger.Info("using postgres ledger", zap.String("table", a.cfg.Ledger.Postgres.Table))
		backend, err := ledger.NewPostgresBackend(ctx, ledger.PostgresConfig{
			DSN:      a.cfg.Ledger.Postgres.DSN,
			Table:    a.cfg.Ledger.Postgres.Table,
			MaxConns: a.cfg.Ledger.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres ledger: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown ledger provider: %s", a.cfg.Ledger.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Notify.Provider {
	case config.NotifyNone:
		return nil, nil
	case config.NotifyMemory:
		return memorypub.NewPublisher(), nil
	case config.NotifyPubSub:
		client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpub.New(client)
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("publishing story reports", zap.String("topic", a.cfg.Notify.Topic))
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", a.cfg.Notify.Provider)
	}
}

// Poller returns the polling loop.
func (a *App) Poller() *poller.Poller {
	return a.poller
}

// Ledger returns the loaded story ledger.
func (a *App) Ledger() *ledger.Ledger {
	return a.ledger
}

// Store returns the configured persistence boundary.
func (a *App) Store() crawler.Store {
	return a.store
}

// Publisher returns the configured notifier, or nil when notifications are off.
func (a *App) Publisher() crawler.Publisher {
	return a.publisher
}

// Run polls until ctx ends, serving status alongside when configured.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ServeStatus(gctx) })
	g.Go(func() error { return a.poller.Run(gctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// RunOnce runs a single crawl cycle.
func (a *App) RunOnce(ctx context.Context) (crawler.CycleReport, error) {
	return a.poller.RunOnce(ctx)
}

// LedgerIDs lists every archived story id in ascending order.
func (a *App) LedgerIDs() []int64 {
	return a.ledger.IDs()
}

// ServeStatus runs the status server until ctx ends. It returns immediately
// when no server address is configured.
func (a *App) ServeStatus(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("status server listening", zap.String("addr", a.server.Addr))
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown status server: %w", err)
		}
		return nil
	}
}

// Close releases every service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
