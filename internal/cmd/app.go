package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/config"
	"github.com/cambiowatch/cambiowatch/internal/core/engine"
	"github.com/cambiowatch/cambiowatch/internal/core/extractor"
	"github.com/cambiowatch/cambiowatch/internal/core/store"
	"github.com/cambiowatch/cambiowatch/internal/metrics"
	"github.com/cambiowatch/cambiowatch/internal/publish"
)

// app holds the wired scraping pipeline.
type app struct {
	cfg       *config.Config
	store     *store.Store
	state     *engine.State
	service   *engine.Service
	publisher *publish.KafkaPublisher
	limiter   *engine.QuotaLimiter
	logger    engine.Logger
}

type appOptions struct {
	// withStore opens and migrates the history store. A failure is fatal
	// unless optionalStore is set, in which case rates stay in memory only.
	withStore     bool
	optionalStore bool
	withKafka     bool
}

func buildApp(ctx context.Context, cfg *config.Config, logger engine.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, state: engine.NewState(), logger: logger}

	if opts.withStore {
		db, err := openStoreWith(ctx, cfg.Store)
		switch {
		case err == nil:
			a.store = db
		case opts.optionalStore:
			logger.Warn("History store unavailable, keeping rates in memory only", zap.Error(err))
		default:
			return nil, err
		}
	}

	extractors, err := extractor.Build(cfg.Scrape.Providers, extractor.Options{MaxTimeout: cfg.Scrape.HardTimeout})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build extractors: %w", err)
	}

	orch := &engine.Orchestrator{
		Launcher: &extractor.PlaywrightLauncher{
			Headless:  cfg.Scrape.Headless,
			Channel:   cfg.Scrape.BrowserChannel,
			UserAgent: cfg.Scrape.UserAgent,
		},
		Extractors:  extractors,
		State:       a.state,
		Logger:      logger,
		Budget:      cfg.Scrape.Budget,
		MinResults:  cfg.Scrape.MinResults,
		HardTimeout: cfg.Scrape.HardTimeout,
	}
	if a.store != nil {
		orch.Store = a.store
	}
	if opts.withKafka && cfg.Kafka.Enabled {
		a.publisher = publish.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		orch.Publisher = a.publisher
	}

	a.service = &engine.Service{
		Retry: &engine.Retry{
			Runner:     orch,
			State:      a.state,
			Logger:     logger,
			MaxRetries: cfg.Scrape.MaxRetries,
			Base:       cfg.Scrape.BackoffBase,
			Cap:        cfg.Scrape.BackoffCap,
		},
		State:  a.state,
		Logger: logger,
	}
	if a.store != nil {
		a.service.Store = a.store
		a.limiter = &engine.QuotaLimiter{Store: a.store, Limit: cfg.API.RefreshLimit, Window: cfg.API.RateWindow}
	} else {
		a.limiter = &engine.QuotaLimiter{Store: &engine.MemoryQuotaStore{}, Limit: cfg.API.RefreshLimit, Window: cfg.API.RateWindow}
	}

	return a, nil
}

// cleanup removes history older than the retention window.
func (a *app) cleanup(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	days := a.cfg.Retention.Days
	if days <= 0 {
		return nil
	}
	n, err := a.store.CleanOlderThan(ctx, time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return err
	}
	metrics.RecordRetention(days, n)
	a.logger.Info("Removed expired rates", zap.Int64("rows", n), zap.Int("retention_days", days))
	return nil
}

// close releases the store and the Kafka writer concurrently.
func (a *app) close() error {
	p := pool.New().WithErrors()
	if a.publisher != nil {
		p.Go(a.publisher.Close)
	}
	if a.store != nil {
		p.Go(a.store.Close)
	}
	return p.Wait()
}
