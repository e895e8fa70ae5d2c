// Package app assembles the pipeline from configuration and runs it
// alongside the health server until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/osintops/threatpipe/internal/core/geocode"
	"github.com/osintops/threatpipe/internal/core/llm"
	"github.com/osintops/threatpipe/internal/ingest/fetcher"
	"github.com/osintops/threatpipe/internal/pipeline"
	"github.com/osintops/threatpipe/internal/platform/breaker"
	"github.com/osintops/threatpipe/internal/platform/config"
	"github.com/osintops/threatpipe/internal/platform/observability"
	"github.com/osintops/threatpipe/internal/process/dedup"
	"github.com/osintops/threatpipe/internal/process/enrich"
	"github.com/osintops/threatpipe/internal/process/filter"
	"github.com/osintops/threatpipe/internal/process/location"
	"github.com/osintops/threatpipe/internal/process/location/batchqueue"
	"github.com/osintops/threatpipe/internal/storage"
)

// App owns the long-lived components.
type App struct {
	cfg    *config.Config
	logger *zerolog.Logger

	store    *storage.Store
	router   llm.Router
	pipeline *pipeline.Pipeline
	health   *observability.HealthServer
}

// New connects the database, applies migrations and wires every stage.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := storage.Migrate(cfg.PostgresDSN); err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	matcher, err := filter.Load(filter.Options{
		KeywordsFile: cfg.ThreatKeywordsFile,
		CoocWindow:   cfg.CoocWindowTokens,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("app: load filter: %w", err)
	}

	router := llm.NewRouter(cfg, logger)

	geocoder := geocode.New(geocode.Config{
		BaseURL:         cfg.NominatimBaseURL,
		UserAgent:       cfg.FetchUserAgent,
		TokensPerMinute: cfg.GeocodeTokensPerMinute,
		WaitCap:         cfg.RateLimitWaitCap,
		Breaker: breaker.Config{
			FailureThreshold:       cfg.CBFailureThreshold,
			MaxConsecutiveFailures: cfg.CBMaxConsecutiveFails,
			RequestVolumeThreshold: cfg.CBRequestVolume,
			CallTimeout:            cfg.CBCallTimeout,
			MaxDelay:               cfg.CBRecoveryTimeout,
		},
	}, logger)

	resolver := location.NewResolver(store, store, geocoder, location.NewGazetteer(), location.Budgets{
		Total:         cfg.LocationTotalTimeout,
		Cache:         cfg.LocationCacheTimeout,
		Deterministic: cfg.LocationDetTimeout,
		Reverse:       cfg.LocationReverseTimeout,
	}, logger)

	batchResolver := location.NewBatchResolver(router, resolver, cfg.LLMBatchBudget, logger)

	feedFetcher := fetcher.New(fetcher.Config{
		MaxConcurrency:     cfg.MaxConcurrency,
		PerHostConcurrency: cfg.PerHostConcurrency,
		FetchTimeout:       cfg.FetchTimeout,
		CutoffDays:         cfg.FetchCutoffDays,
		UserAgent:          cfg.FetchUserAgent,
	}, logger)

	enricher := enrich.New(router, cfg.ThreatTaxonomy, cfg.LLMCallTimeout, logger)
	deduper := dedup.New(store, cfg.DedupSemanticThreshold, logger)

	pipe := pipeline.New(
		pipeline.Config{
			Feeds:         cfg.Catalogue(),
			Interval:      cfg.ScheduleInterval,
			FilterStrict:  cfg.FilterStrict,
			RetentionDays: cfg.RetentionDays,
			Batch: batchqueue.Config{
				SizeThreshold: cfg.BatchSizeThreshold,
				AgeThreshold:  cfg.BatchTimeThreshold,
				RetryCap:      cfg.BatchRetryCap,
				TimerEnabled:  cfg.BatchTimerEnabled,
			},
		},
		feedFetcher, matcher, resolver, batchResolver, enricher, deduper, store, logger,
	)

	app := &App{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		router:   router,
		pipeline: pipe,
	}

	app.health = observability.NewHealthServer(cfg.HealthPort, store, app.componentStatus, logger)

	return app, nil
}

// Run blocks until ctx is cancelled and both the pipeline and the health
// server have stopped.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	a.logger.Info().
		Int("feeds", len(a.cfg.Catalogue())).
		Str("interval", a.cfg.ScheduleInterval.String()).
		Msg("app: starting")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.pipeline.Run(ctx)
		return nil
	})

	g.Go(func() error {
		err := a.health.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})

	return g.Wait()
}

func (a *App) componentStatus() map[string]any {
	return map[string]any{
		"llm_providers": a.router.ProviderStatuses(),
	}
}
