// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/analysis"
	"github.com/JakeFAU/market-radar/internal/api"
	"github.com/JakeFAU/market-radar/internal/clock"
	"github.com/JakeFAU/market-radar/internal/config"
	"github.com/JakeFAU/market-radar/internal/evaluation"
	collyfetcher "github.com/JakeFAU/market-radar/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/market-radar/internal/fetcher/headless"
	"github.com/JakeFAU/market-radar/internal/hash/sha256"
	"github.com/JakeFAU/market-radar/internal/headless/detector"
	"github.com/JakeFAU/market-radar/internal/id"
	"github.com/JakeFAU/market-radar/internal/ingest"
	"github.com/JakeFAU/market-radar/internal/llm"
	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/metrics"
	"github.com/JakeFAU/market-radar/internal/notify/telegram"
	memorypublisher "github.com/JakeFAU/market-radar/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/market-radar/internal/publisher/pubsub"
	"github.com/JakeFAU/market-radar/internal/radar"
	"github.com/JakeFAU/market-radar/internal/ratelimit"
	"github.com/JakeFAU/market-radar/internal/scheduler"
	"github.com/JakeFAU/market-radar/internal/snapshot"
	"github.com/JakeFAU/market-radar/internal/source"
	"github.com/JakeFAU/market-radar/internal/source/betalist"
	"github.com/JakeFAU/market-radar/internal/source/hackernews"
	"github.com/JakeFAU/market-radar/internal/source/huggingface"
	"github.com/JakeFAU/market-radar/internal/source/producthunt"
	gcsstorage "github.com/JakeFAU/market-radar/internal/storage/gcs"
	localstorage "github.com/JakeFAU/market-radar/internal/storage/local"
	memorystorage "github.com/JakeFAU/market-radar/internal/storage/memory"
	pgstore "github.com/JakeFAU/market-radar/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/market-radar/internal/storage/sqlite"
	"github.com/JakeFAU/market-radar/internal/telemetry"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"

// Store is the persistence surface the application needs from a backend.
type Store interface {
	radar.EntityStore
	radar.RunStore
}

type migrator interface {
	Migrate(ctx context.Context) ([]string, error)
}

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store        Store
	orchestrator *ingest.Orchestrator
	evaluations  *evaluation.Service
	apiServer    *api.Server
	scheduler    *scheduler.Scheduler

	limiter         *ratelimit.Limiter
	headless        *headlessfetcher.Fetcher
	gcs             *gcsstorage.BlobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	tracerShutdown  func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("database", cfg.Database.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("port", cfg.Server.Port),
	)
	if err := app.build(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if a.cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Telemetry.ServiceName)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerShutdown = tp.Shutdown
	}

	store, err := OpenStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	if m, ok := store.(migrator); ok {
		applied, err := m.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", a.cfg.Database.Backend, err)
		}
		a.logger.Info("database migrated", zap.Strings("applied", applied))
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	notifier, err := a.setupNotifier()
	if err != nil {
		return err
	}

	clk := clock.NewSystem()
	a.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: a.cfg.RateLimit.RequestsPerSecond,
		Burst:             a.cfg.RateLimit.Burst,
	})
	snapshotter, err := a.setupSnapshotter(ctx, clk)
	if err != nil {
		return err
	}

	a.orchestrator, err = ingest.New(ingest.Deps{
		Adapters:    a.setupSources(clk),
		Store:       store,
		Runs:        store,
		Analyzer:    analysis.New(llm.New(llmConfig(a.cfg.Analysis)), a.logger),
		Snapshotter: snapshotter,
		Publisher:   publisher,
		Notifier:    notifier,
		Clock:       clk,
		IDs:         id.NewUUID(),
	}, ingest.Config{
		SourceTimeout: a.cfg.SourceTimeout(),
		WriteTimeout:  a.cfg.WriteTimeout(),
		Topic:         a.cfg.PubSub.TopicName,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.evaluations = evaluation.NewService(
		store,
		evaluation.New(llm.New(llmConfig(a.cfg.Evaluation)), a.logger),
		publisher,
		a.cfg.PubSub.TopicName,
		clk,
		a.logger,
	)

	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(api.Deps{
		Ingester:    a.orchestrator,
		Entities:    store,
		Runs:        store,
		Evaluations: a.evaluations,
	}, api.Options{
		APIKey:             apiKey,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		RequestTimeout:     time.Duration(a.cfg.Server.RequestTimeoutSeconds) * time.Second,
		DefaultIngestLimit: a.cfg.Ingest.DefaultLimit,
		MaxIngestLimit:     a.cfg.Ingest.MaxLimit,
	}, a.logger)

	if a.cfg.Schedule.Enabled {
		a.scheduler, err = scheduler.New(a.orchestrator, a.cfg.Schedule.Spec, a.cfg.Schedule.Timezone,
			a.cfg.Ingest.DefaultLimit, a.logger)
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}
	return nil
}

// OpenStore connects the configured database backend. The caller owns the
// returned store and must Close it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	logger = logging.OrNop(logger)
	switch cfg.Database.Backend {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:      cfg.Database.DSN,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		logger.Info("using postgres entity store")
		return store, nil
	case "sqlite":
		store, err := sqlitestore.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("using sqlite entity store", zap.String("path", cfg.Database.SQLitePath))
		return store, nil
	default:
		logger.Warn("using in-memory entity store, data is lost on exit")
		return memorystorage.NewEntityStore(), nil
	}
}

// Migrate applies pending SQL migrations for the configured backend and
// returns the versions applied.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]string, error) {
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	m, ok := store.(migrator)
	if !ok {
		return nil, fmt.Errorf("database backend %q has no migrations", cfg.Database.Backend)
	}
	applied, err := m.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate %s: %w", cfg.Database.Backend, err)
	}
	return applied, nil
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Model:   c.Model,
		Timeout: time.Duration(c.TimeoutSeconds) * time.Second,
	}
}

func (a *App) setupSources(clk radar.Clock) []radar.SourceAdapter {
	src := a.cfg.Sources
	feedFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   a.cfg.HTTPTimeout(),
		Transport: a.limiter.Transport(nil),
		Accept:    feedAccept,
	})
	httpClient := &http.Client{
		Timeout:   a.cfg.HTTPTimeout(),
		Transport: a.limiter.Transport(nil),
	}

	var adapters []radar.SourceAdapter
	add := func(f source.Fetcher, sc config.SourceConfig) {
		adapters = append(adapters, source.NewAdapter(f, sc.Timeout(), a.logger))
		a.logger.Info("source enabled", zap.String("source", f.Name()), zap.String("url", sc.URL))
	}
	if src.HackerNews.Enabled {
		add(hackernews.New(src.HackerNews.URL, httpClient, a.logger), src.HackerNews)
	}
	if src.ProductHunt.Enabled {
		add(producthunt.New(src.ProductHunt.URL, feedFetcher, clk), src.ProductHunt)
	}
	if src.BetaList.Enabled {
		add(betalist.New(src.BetaList.URL, src.BetaList.FallbackURL, feedFetcher, clk, a.logger), src.BetaList)
	}
	if src.HuggingFace.Enabled {
		add(huggingface.New(src.HuggingFace.URL, httpClient, clk), src.HuggingFace)
	}
	if len(adapters) == 0 {
		a.logger.Warn("no sources enabled, ingest runs will be empty")
	}
	return adapters
}

func (a *App) setupSnapshotter(ctx context.Context, clk radar.Clock) (radar.Snapshotter, error) {
	if !a.cfg.Snapshot.Enabled {
		a.logger.Info("landing page snapshots disabled")
		return nil, nil
	}
	blobs, err := a.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   a.cfg.HTTPTimeout(),
		Transport: a.limiter.Transport(nil),
		Accept:    "text/html,application/xhtml+xml",
	})
	var headless radar.Fetcher
	if a.cfg.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			a.headless = f
			headless = f
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}
	return snapshot.New(
		probe,
		headless,
		detector.NewHeuristic(a.cfg.Headless.PromotionThresh),
		blobs,
		sha256.New(),
		clk,
		snapshot.Config{
			ContentType:  a.cfg.Storage.ContentType,
			BlobPrefix:   a.cfg.Storage.Prefix,
			ExcerptRunes: a.cfg.Snapshot.ExcerptRunes,
		},
		a.logger,
	), nil
}

func (a *App) setupBlobStore(ctx context.Context) (radar.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		return store, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (radar.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(a.pubsubClient.Topic(a.cfg.PubSub.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupNotifier() (radar.Notifier, error) {
	tg := a.cfg.Notify.Telegram
	if !tg.Enabled {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(tg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init failed: %w", err)
	}
	n, err := telegram.New(telegram.NewBotSender(bot), tg.ChatID, tg.MinScore, a.logger)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier init failed: %w", err)
	}
	a.logger.Info("telegram digest enabled", zap.String("bot", bot.Self.UserName), zap.Int("min_score", tg.MinScore))
	return n, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Ingest runs a single ingestion cycle.
func (a *App) Ingest(ctx context.Context, limit int) (ingest.Report, error) {
	return a.orchestrator.Ingest(ctx, limit)
}

// Run serves HTTP and the schedule until ctx is canceled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return errors.Join(err, closeErr)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application. Calls after the first return
// the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.closeErr = a.close(ctx) })
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	var errs []error
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub client close: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	for _, err := range errs {
		a.logger.Warn("shutdown step failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
