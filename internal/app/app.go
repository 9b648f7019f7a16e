package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"curator/internal/aggregate"
	"curator/internal/api"
	"curator/internal/collection"
	"curator/internal/config"
	"curator/internal/daemon"
	"curator/internal/evaluator"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/recommend"
	"curator/internal/services/emby"
	"curator/internal/services/llm"
	"curator/internal/services/tmdb"
	"curator/internal/store"
)

// App holds the wired services for one process.
type App struct {
	Config      *config.Config
	Store       *store.Store
	Ledger      *ledger.Ledger
	Registry    *aggregate.Registry
	Collections *collection.Service
	Evaluator   *evaluator.Evaluator

	CollectionAPI   *api.CollectionService
	SubscriptionAPI *api.SubscriptionService
	Upstreams       []daemon.Upstream
}

// Build opens the store and constructs every service described by cfg.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	registry, err := aggregate.LoadRegistry(cfg.Sources.RegistryPath)
	if err != nil {
		return nil, err
	}

	tmdbClient, err := tmdb.New(cfg.TMDB.APIKey, cfg.TMDB.BaseURL, cfg.TMDB.Language,
		tmdb.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout()}),
		tmdb.WithRateLimit(cfg.TMDB.RequestsPerSecond),
		tmdb.WithRegion(cfg.TMDB.Region),
		tmdb.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("tmdb client: %w", err)
	}
	matcher := tmdb.NewMatcher(tmdbClient)

	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}

	l := ledger.New(st, logger, ledger.WithBatchConcurrency(cfg.Ledger.BatchConcurrency))
	collections := collection.NewService(st, registry, logger)

	feedClient := &http.Client{Timeout: cfg.UpstreamTimeout()}
	resolver := aggregate.NewResolver(registry, map[aggregate.SourceKind]aggregate.Fetcher{
		aggregate.KindStatic:    tmdb.NewMatchingFetcher(aggregate.StaticFetcher(), matcher),
		aggregate.KindFeed:      tmdb.NewMatchingFetcher(aggregate.NewFeedFetcher(feedClient), matcher),
		aggregate.KindTMDBList:  tmdb.NewListFetcher(tmdbClient),
		aggregate.KindTMDBChart: tmdb.NewChartFetcher(tmdbClient, cfg.TMDB.MaxPages),
	}, logger)

	catalogOpts := []tmdb.CatalogOption{tmdb.WithMaxPages(cfg.TMDB.MaxPages)}
	deps := evaluator.Dependencies{
		Lists:  resolver,
		Ledger: l,
		Batch:  l,
	}
	upstreams := []daemon.Upstream{{
		Name:    "tmdb",
		Enabled: true,
		Check: func(ctx context.Context) error {
			_, err := tmdbClient.Genres(ctx, "movie")
			return err
		},
	}}

	var history recommend.HistorySource
	embyClient, embyOK := emby.NewConfiguredClient(cfg, logger)
	if embyOK {
		catalogOpts = append(catalogOpts, tmdb.WithScopeFilter(embyClient))
		deps.Presence = embyClient
		deps.Viewers = embyClient
		history = embyClient
		upstreams = append(upstreams, daemon.Upstream{Name: "emby", Enabled: true, Check: embyClient.Ping})
	} else {
		upstreams = append(upstreams, daemon.Upstream{Name: "emby"})
	}
	deps.Catalog = tmdb.NewCatalog(tmdbClient, logger, catalogOpts...)

	if cfg.LLM.Enabled {
		llmClient := llm.NewClient(cfg.GetLLM())
		deps.Recommender = recommend.NewProvider(llmClient, history, matcher, logger)
		upstreams = append(upstreams, daemon.Upstream{Name: "llm", Enabled: true, Check: llmClient.HealthCheck})
	} else {
		upstreams = append(upstreams, daemon.Upstream{Name: "llm"})
	}

	engine := evaluator.New(deps, evaluator.Options{
		Timeout:             cfg.UpstreamTimeout(),
		PresenceConcurrency: cfg.Evaluation.PresenceConcurrency,
		DefaultPageSize:     cfg.Evaluation.DefaultPageSize,
		MaxPageSize:         cfg.Evaluation.MaxPageSize,
	}, logger)

	return &App{
		Config:          cfg,
		Store:           st,
		Ledger:          l,
		Registry:        registry,
		Collections:     collections,
		Evaluator:       engine,
		CollectionAPI:   api.NewCollectionService(collections, engine),
		SubscriptionAPI: api.NewSubscriptionService(l, cfg.Ledger.BatchMaxSize),
		Upstreams:       upstreams,
	}, nil
}

// DaemonDependencies returns the services the daemon serves.
func (a *App) DaemonDependencies() daemon.Dependencies {
	return daemon.Dependencies{
		Collections:   a.CollectionAPI,
		Subscriptions: a.SubscriptionAPI,
		Upstreams:     a.Upstreams,
	}
}

// Close releases the store.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
