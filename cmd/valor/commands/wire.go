package commands

import (
	"fmt"

	"github.com/ekwalla/valor/internal/audit"
	"github.com/ekwalla/valor/internal/canonical"
	"github.com/ekwalla/valor/internal/contracts"
	"github.com/ekwalla/valor/internal/exposure"
	"github.com/ekwalla/valor/internal/orchestration"
	"github.com/ekwalla/valor/internal/portfolio"
	"github.com/ekwalla/valor/internal/run"
	"github.com/ekwalla/valor/internal/valuation"
	"github.com/ekwalla/valor/pkg/config"
	"github.com/ekwalla/valor/pkg/database"
	"github.com/ekwalla/valor/pkg/logger"
	"github.com/ekwalla/valor/pkg/redis"
)

// app bundles the wired components shared by the CLI commands.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *database.DB
	redis *redis.Client

	canonicalRepo *canonical.CanonicalRepository
	engine        *canonical.Engine
	manager       *run.Manager
	runRepo       *run.Repository
	exposureRepo  *exposure.Repository
	portfolioRepo *portfolio.Repository
	dailyClose    *orchestration.DailyClose
}

// buildApp loads config and wires the full pipeline against Postgres.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	redisClient, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	cache := redis.NewCache(redisClient, "valor")

	observationRepo := canonical.NewObservationRepository(db.Pool)
	sourceRepo := canonical.NewSourceRepository(db.Pool)
	canonicalRepo := canonical.NewCanonicalRepository(db.Pool)
	resolver := canonical.NewResolver(sourceRepo)
	engine := canonical.NewEngine(observationRepo, canonicalRepo, resolver, log)

	reader := valuation.NewCanonicalReader(canonicalRepo, cache, cfg.Analytics.MarketDataCacheTTL, log)
	valuer := valuation.NewEngine(reader, log)

	portfolioRepo := portfolio.NewRepository(db.Pool)
	instrumentRepo := portfolio.NewInstrumentRepository(db.Pool)
	runRepo := run.NewRepository(db.Pool)
	exposureRepo := exposure.NewRepository(db.Pool)
	auditRepo := audit.NewRepository(db.Pool)

	manager := run.NewManager(runRepo, portfolioRepo, portfolioRepo, instrumentRepo,
		exposureRepo, auditRepo, valuer, log)

	dailyClose := orchestration.NewDailyClose(engine, manager, portfolioRepo,
		contracts.ValuationPolicy(cfg.Analytics.DailyClosePolicy), cfg.Analytics.DailyCloseRate, log)

	return &app{
		cfg:           cfg,
		log:           log,
		db:            db,
		redis:         redisClient,
		canonicalRepo: canonicalRepo,
		engine:        engine,
		manager:       manager,
		runRepo:       runRepo,
		exposureRepo:  exposureRepo,
		portfolioRepo: portfolioRepo,
		dailyClose:    dailyClose,
	}, nil
}

// close releases database and redis connections.
func (a *app) close() {
	a.db.Close()
	if err := a.redis.Close(); err != nil {
		a.log.WithError(err).Warn("Close redis client")
	}
}
