// Command gateway runs the multi-provider ensemble HTTP gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/admission"
	"github.com/neurastack/gateway/internal/background"
	"github.com/neurastack/gateway/internal/cache"
	"github.com/neurastack/gateway/internal/calibration"
	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/embedding"
	"github.com/neurastack/gateway/internal/ensemble"
	"github.com/neurastack/gateway/internal/handlers"
	"github.com/neurastack/gateway/internal/intent"
	"github.com/neurastack/gateway/internal/llm"
	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/observability"
	"github.com/neurastack/gateway/internal/scoring"
	"github.com/neurastack/gateway/internal/server"
	"github.com/neurastack/gateway/internal/storage"
	"github.com/neurastack/gateway/internal/synthesis"
	"github.com/neurastack/gateway/internal/telemetry"
	"github.com/neurastack/gateway/internal/validation"
	"github.com/neurastack/gateway/internal/voting"
)

const (
	telemetryBuffer   = 1024
	embeddingDims     = 256
	embeddingCacheCap = 2048
	historyCapacity   = 1000
	calibrationWarmN  = 200
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := newLogger(cfg.Server.LogLevel)

	metrics := observability.NewCollector(nil)
	sink := telemetry.NewSink(telemetryBuffer, logger, metrics)

	// Postgres is best-effort: when it is down the gateway runs memory-only
	// and calibration/history simply do not persist.
	var store *storage.Store
	var calibPersist calibration.Persister
	var historyPersist voting.HistoryPersister
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnTimeout)
		s, err := storage.Connect(ctx, cfg.Database, logger)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("postgres unavailable, continuing memory-only")
		} else if err := s.Migrate(context.Background()); err != nil {
			logger.WithError(err).Warn("migration failed, continuing memory-only")
			s.Close()
		} else {
			store = s
			calibPersist = s
			historyPersist = s
		}
	}

	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		redisClient = cache.NewRedisClient(&cfg.Redis)
	}
	responseCache := cache.NewResponseCache(cfg.Cache, redisClient, logger)

	calibStore := calibration.NewStore(calibration.Config{
		WindowSize:    cfg.Calibration.WindowSize,
		BinCount:      cfg.Calibration.BinCount,
		MinSamples:    cfg.Calibration.MinSamples,
		RebuildEvery:  cfg.Calibration.RebuildEvery,
		BrierWindow:   cfg.Calibration.BrierWindow,
		BrierSummaryN: cfg.Calibration.BrierSummaryN,
	}, logger, calibPersist)
	if store != nil {
		warmCalibration(store, calibStore, cfg.Providers, logger)
	}

	history := voting.NewHistory(historyCapacity, historyPersist, logger)

	scorer := scoring.NewDefaultScorer()
	embeddings := embedding.NewService(embedding.NewHashEmbedder(embeddingDims), embeddingCacheCap)
	intents := intent.NewClassifier()

	providersByTier, breakers := buildProviders(cfg, logger)

	voterCfg := voting.DefaultConfig()
	voterCfg.FastThreshold = cfg.Ensemble.FastThreshold
	voter := voting.NewVoter(voterCfg, history, logger)
	tieBreaker := voting.NewTieBreaker(history, logger)
	metaVoter := voting.NewMetaVoter(lookupProvider(cfg, cfg.Ensemble.MetaVoterProvider, logger), logger)
	abstention := voting.NewAbstentionPolicy(cfg.Ensemble.AbstentionThreshold, cfg.Ensemble.DiversityFloor, logger)

	synthesizer := synthesis.NewSynthesizer(synthesis.Config{
		MaxSections:         cfg.Synthesis.MaxSections,
		MinSectionWords:     cfg.Synthesis.MinSectionWords,
		QualityFloor:        cfg.Synthesis.QualityFloor,
		RedundancyThreshold: cfg.Synthesis.RedundancyThreshold,
	}, scorer, lookupProvider(cfg, cfg.Ensemble.SynthesisProvider, logger), logger)
	validator := validation.NewValidator(validation.Level(cfg.Validation.Level), scorer, logger)

	orchestrator := ensemble.NewOrchestrator(cfg.Ensemble, ensemble.Deps{
		Providers:   providersByTier,
		Scorer:      scorer,
		Embeddings:  embeddings,
		Calibration: calibStore,
		Intents:     intents,
		Voter:       voter,
		TieBreaker:  tieBreaker,
		MetaVoter:   metaVoter,
		Abstention:  abstention,
		Synthesizer: synthesizer,
		Validator:   validator,
		Cache:       responseCache,
		History:     history,
		Sink:        sink,
		Logger:      logger,
	})

	queue := admission.NewQueue(cfg.Admission, sink, logger)

	srv := server.New(cfg.Server, cfg.Monitoring, server.Handlers{
		Ensemble: handlers.NewEnsembleHandler(orchestrator, queue, cfg.Tiers, cfg.Providers, metrics, logger),
		Estimate: handlers.NewEstimateHandler(cfg.Tiers, cfg.Providers),
		Health:   handlers.NewHealthHandler(storeOrNil(store), responseCache, queue, breakers),
	}, metrics, logger)

	supervisor := background.NewSupervisor(logger,
		background.Task{
			Name:     "calibration-rebuild",
			Interval: cfg.Calibration.RebuildInterval,
			Run:      calibStore.RebuildAll,
		},
		background.Task{
			Name:     "cache-cleanup",
			Interval: cfg.Cache.CleanupInterval,
			Run: func(ctx context.Context) {
				removed := responseCache.Cleanup()
				if removed > 0 {
					logger.WithField("removed", removed).Debug("cache cleanup")
				}
			},
		},
	)
	supervisor.Start(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admission.ShutdownDrainTime)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown incomplete")
	}
	supervisor.Stop()
	sink.Stop()
	if store != nil {
		store.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("gateway stopped")
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// buildProviders constructs the per-tier provider lists, each upstream wrapped
// in a circuit breaker. A role missing from the provider table is skipped with
// a warning so one bad entry cannot take the tier down.
func buildProviders(cfg *config.Config, logger *logrus.Logger) (map[models.Tier][]llm.Provider, []*llm.CircuitBreaker) {
	byTier := make(map[models.Tier][]llm.Provider, len(cfg.Tiers))
	var breakers []*llm.CircuitBreaker
	for tierName, tierCfg := range cfg.Tiers {
		tier := models.Tier(tierName)
		for _, role := range tierCfg.Providers {
			providerCfg, ok := cfg.Providers[role]
			if !ok {
				logger.WithFields(logrus.Fields{"tier": tierName, "role": role}).Warn("provider role not configured")
				continue
			}
			upstream := llm.NewHTTPProvider(role, providerCfg, authStyleFor(providerCfg.Name), logger)
			breaker := llm.NewCircuitBreaker(upstream, llm.DefaultCircuitBreakerConfig(), logger)
			breakers = append(breakers, breaker)
			byTier[tier] = append(byTier[tier], breaker)
		}
	}
	return byTier, breakers
}

// lookupProvider resolves a single role for the synthesis or meta-voter
// backend. Returns nil when the role is unknown; both callers degrade
// gracefully without one.
func lookupProvider(cfg *config.Config, role string, logger *logrus.Logger) llm.Provider {
	providerCfg, ok := cfg.Providers[role]
	if !ok || role == "" {
		return nil
	}
	return llm.NewHTTPProvider(role, providerCfg, authStyleFor(providerCfg.Name), logger)
}

func authStyleFor(name string) llm.AuthStyle {
	switch name {
	case "anthropic":
		return llm.AuthHeader
	case "google":
		return llm.AuthQuery
	default:
		return llm.AuthBearer
	}
}

// warmCalibration replays the most recent persisted samples so calibration
// maps are available right after a restart.
func warmCalibration(store *storage.Store, calibStore *calibration.Store, providers map[string]config.ProviderConfig, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, p := range providers {
		samples, err := store.LoadCalibrationSamples(ctx, p.Model, calibrationWarmN)
		if err != nil {
			logger.WithError(err).WithField("model", p.Model).Warn("calibration warm load failed")
			continue
		}
		calibStore.Seed(samples)
	}
}

// storeOrNil avoids handing a typed-nil *storage.Store to the health handler's
// interface field.
func storeOrNil(store *storage.Store) handlers.HealthChecker {
	if store == nil {
		return nil
	}
	return store
}
