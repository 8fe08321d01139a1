package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"CommunityScanner/internal/config"
	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/fetcher"
	"CommunityScanner/internal/infrastructure/ml"
	"CommunityScanner/internal/infrastructure/ranking"
	"CommunityScanner/internal/infrastructure/reddit"
	"CommunityScanner/internal/infrastructure/scheduler"
	"CommunityScanner/internal/infrastructure/storage"
	"CommunityScanner/internal/infrastructure/telegram"
	"CommunityScanner/internal/logging"
	"CommunityScanner/internal/normalize"
	"CommunityScanner/internal/ports"
	"CommunityScanner/internal/report"
	"CommunityScanner/internal/resolver"
	"CommunityScanner/internal/retry"
	"CommunityScanner/internal/source"
	"CommunityScanner/internal/usecase"
)

const stopTimeout = 30 * time.Second

// corpusStore is what every storage backend provides.
type corpusStore interface {
	ports.CursorStore
	ports.CorpusReader
}

// RunOptions are per-invocation overrides from the command line.
type RunOptions struct {
	Refresh    []string
	RefreshAll bool
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	entities   ports.EntitySource
	ranking    *ranking.TableSource
	normalizer *normalize.Normalizer
	resolver   *resolver.Resolver
	fetcher    *fetcher.Fetcher
	store      corpusStore
	mapFile    *storage.ResolutionMapFile
	notifier   *telegram.Notifier
	scorer     *ml.Client
	db         *sql.DB
}

// New builds the application from validated configuration. Close releases the
// database handle when the postgres driver is selected.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.Reddit.RequestsPerMinute)), 1)
	policy := retry.Policy{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		ThrottleAttempts: cfg.Retry.ThrottleAttempts,
		InitialBackoff:   cfg.Retry.InitialBackoff,
		MaxBackoff:       cfg.Retry.MaxBackoff,
		ThrottleBackoff:  cfg.Retry.ThrottleBackoff,
	}

	client := reddit.NewClient(reddit.Config{
		BaseURL:      cfg.Reddit.BaseURL,
		OAuthBaseURL: cfg.Reddit.OAuthBaseURL,
		TokenURL:     cfg.Reddit.TokenURL,
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
		Timeout:      cfg.Reddit.RequestTimeout,
	})

	res, err := resolver.New(client, resolver.Options{
		SearchLimit:         cfg.Resolver.SearchLimit,
		AcceptanceThreshold: cfg.Resolver.AcceptanceThreshold,
		Metric:              cfg.Resolver.Metric,
		ActivityWeight:      cfg.Resolver.ActivityWeight,
		MinMembers:          cfg.Resolver.MinMembers,
	}, policy, limiter, baseLogger.With("component", "resolver"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	a.resolver = res
	a.normalizer = normalize.New(cfg.Resolver.JitterWords, cfg.Resolver.Locations, cfg.Resolver.MaxCandidates)
	a.fetcher = fetcher.New(client, fetcher.Options{
		Sort:     cfg.Fetcher.Sort,
		PageSize: cfg.Fetcher.PageSize,
		MaxPages: cfg.Fetcher.MaxPages,
	}, policy, limiter, baseLogger.With("component", "fetcher"))

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := storage.OpenPostgres(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		pg := storage.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db = db
		a.store = pg
	default:
		a.store = storage.NewFileStore(cfg.Storage.DataDir, baseLogger.With("component", "store"))
	}
	a.mapFile = storage.NewResolutionMapFile(cfg.Resolution.MapPath)

	a.ranking = ranking.NewTableSource(&http.Client{Timeout: cfg.Reddit.RequestTimeout}, ranking.Options{
		URL:        cfg.Entities.Ranking.URL,
		MaxRank:    cfg.Entities.Ranking.MaxRank,
		RankPrefix: cfg.Entities.Ranking.RankPrefix,
		UserAgent:  cfg.Reddit.UserAgent,
	}, baseLogger.With("component", "source.ranking"))
	registry := source.NewRegistry()
	registry.Register(source.NewFileSource(cfg.Entities.Path))
	registry.Register(a.ranking)
	a.entities = source.NewStrategySource(registry, cfg.Entities.Source, baseLogger.With("component", "source"))

	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		a.notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}
	if cfg.ML.InferenceURL != "" {
		a.scorer = ml.NewClient(cfg.ML.InferenceURL, cfg.ML.APIKey)
	}
	return a, nil
}

// Close releases held resources.
func (a *Application) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Application) orchestrator(opts RunOptions) *usecase.Orchestrator {
	return usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Normalizer: a.normalizer,
		Resolver:   a.resolver,
		Fetcher:    a.fetcher,
		Store:      a.store,
		Map:        a.mapFile,
		Logger:     a.logger.With("component", "orchestrator"),
	}, usecase.OrchestratorOptions{
		BatchSize:        a.cfg.Fetcher.BatchSize,
		Limit:            a.cfg.Fetcher.Limit,
		Workers:          a.cfg.Orchestrator.Workers,
		InterEntityDelay: a.cfg.Orchestrator.InterEntityDelay,
		Refresh:          opts.Refresh,
		RefreshAll:       opts.RefreshAll,
	})
}

// Entities loads the configured entity list.
func (a *Application) Entities(ctx context.Context) ([]domain.Entity, error) {
	return a.entities.Entities(ctx)
}

// Resolve fills the resolution map without fetching content.
func (a *Application) Resolve(ctx context.Context, opts RunOptions) (domain.RunSummary, error) {
	entities, err := a.Entities(ctx)
	if err != nil {
		return domain.RunSummary{}, err
	}
	return a.orchestrator(opts).Resolve(ctx, entities)
}

// Scrape performs one resolve-and-fetch run and publishes the report when a
// notifier is configured.
func (a *Application) Scrape(ctx context.Context, opts RunOptions) (domain.RunSummary, error) {
	entities, err := a.Entities(ctx)
	if err != nil {
		return domain.RunSummary{}, err
	}
	summary, err := a.orchestrator(opts).Run(ctx, entities)
	if err != nil {
		return summary, err
	}
	if a.notifier != nil {
		if err := a.notifier.PublishReport(context.WithoutCancel(ctx), report.Summary(summary)); err != nil {
			a.logger.Warn("publish report failed", "error", err)
		}
	}
	return summary, nil
}

// Schedule runs Scrape on the configured cron expression until ctx ends.
func (a *Application) Schedule(ctx context.Context) error {
	driver, err := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location(), a.logger.With("component", "scheduler"))
	if err != nil {
		return err
	}

	sched := usecase.NewScheduler(driver, func(ctx context.Context, _ time.Time) error {
		summary, err := a.Scrape(ctx, RunOptions{})
		if err != nil {
			return err
		}
		a.logger.Info("scheduled run finished", "run_id", summary.RunID, "new_items", summary.NewItems(), "failed", summary.Failed())
		return nil
	}, a.logger.With("component", "scheduler"))

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	return sched.Stop(stopCtx)
}

// Export writes the committed corpus in format.
func (a *Application) Export(ctx context.Context, w io.Writer, format string) (usecase.ExportStats, error) {
	return usecase.ExportCorpus(ctx, a.store, w, format)
}

// Score runs the committed corpus through the sentiment service.
func (a *Application) Score(ctx context.Context, w io.Writer) (usecase.ScoreStats, error) {
	var scorer ports.SentimentScorer
	if a.scorer != nil {
		scorer = a.scorer
	}
	return usecase.ScoreCorpus(ctx, a.store, scorer, w, a.cfg.ML.BatchSize, a.logger.With("component", "scoring"))
}

// RankingEntities scrapes the ranking page and, when savePath is set, stores
// the list where the file source can read it.
func (a *Application) RankingEntities(ctx context.Context, savePath string) ([]domain.Entity, error) {
	entities, err := a.ranking.Entities(ctx)
	if err != nil {
		return nil, err
	}
	if savePath != "" {
		if err := source.SaveEntities(savePath, entities); err != nil {
			return nil, err
		}
		a.logger.Info("entity list saved", "path", savePath, "count", len(entities))
	}
	return entities, nil
}

// ResolutionMap returns the current map contents.
func (a *Application) ResolutionMap() ([]domain.ResolutionEntry, error) {
	return a.mapFile.Load()
}
