package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/config"
	"github.com/upb/provider-orchestrator/repositories"
	"github.com/upb/provider-orchestrator/repositories/postgres"
	"github.com/upb/provider-orchestrator/services/batch"
	"github.com/upb/provider-orchestrator/services/health"
	"github.com/upb/provider-orchestrator/services/orchestrator"
	"github.com/upb/provider-orchestrator/services/outcomes"
	"github.com/upb/provider-orchestrator/services/providers"
	"github.com/upb/provider-orchestrator/services/routing"
)

// recorderStopTimeout bounds how long shutdown waits for pending outcomes
const recorderStopTimeout = 10 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// DB is nil when no database is configured
	DB *postgres.DB

	// Repositories
	Repositories repositories.Repositories

	// Provider orchestration
	Registry     *providers.Registry
	Prober       *providers.HTTPProber
	Orchestrator *orchestrator.Orchestrator

	// Recorder persists reported outcomes; nil without a database
	Recorder *outcomes.Recorder
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	var db *postgres.DB
	if cfg.Database.Enabled() {
		var err error
		db, err = postgres.NewDB(cfg.Database, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	} else {
		logger.Warn("no database configured, outcome persistence disabled")
	}

	deps, err := newDependencies(ctx, cfg, db, logger)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	return deps, nil
}

// newDependencies wires everything on top of an optional, already opened database
func newDependencies(ctx context.Context, cfg *config.Config, db *postgres.DB, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		DB:     db,
	}

	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if db != nil {
		if err := deps.initPersistence(ctx, cfg); err != nil {
			deps.Prober.Close()
			return nil, fmt.Errorf("failed to initialize persistence: %w", err)
		}
	}

	deps.initOrchestrator(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Int("providers", deps.Registry.Count()),
		zap.Bool("persistence", deps.Recorder != nil))
	return deps, nil
}

// initProviders loads the provider catalog and builds the registry and prober
func (d *Dependencies) initProviders(cfg *config.Config) error {
	loaded, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return err
	}

	for _, ref := range loaded.Unresolved {
		d.Logger.Warn("provider credential not set", zap.String("credential_ref", ref))
	}

	registry, err := providers.NewRegistry(loaded.Providers...)
	if err != nil {
		return err
	}
	d.Registry = registry

	d.Prober = providers.NewHTTPProber(providers.ProberConfig{
		Timeout:       cfg.Health.ProbeTimeout,
		MaxClients:    cfg.Health.ProbeConcurrency,
		RatePerSecond: cfg.Health.ProbeRatePerSec,
		Burst:         cfg.Health.ProbeBurst,
	}, d.Logger.Named("prober"))

	for _, p := range registry.List() {
		d.Logger.Info("provider registered",
			zap.String("provider_id", p.ID),
			zap.String("type", providers.CapabilityFor(p.Type).Type),
			zap.Strings("models", p.Models),
			zap.Bool("active", p.Active))
	}
	return nil
}

// initPersistence prepares the schema, repositories and outcome recorder
func (d *Dependencies) initPersistence(ctx context.Context, cfg *config.Config) error {
	if err := d.DB.InitSchema(ctx); err != nil {
		return err
	}

	d.Repositories = repositories.Repositories{
		Outcomes: postgres.NewOutcomeRepository(d.DB, d.Logger.Named("outcomes")),
	}

	recorderConfig := outcomes.DefaultConfig()
	if cfg.Outcomes.QueueSize > 0 {
		recorderConfig.QueueSize = cfg.Outcomes.QueueSize
	}
	if cfg.Outcomes.Workers > 0 {
		recorderConfig.Workers = cfg.Outcomes.Workers
	}

	d.Recorder = outcomes.NewRecorder(d.Repositories.Outcomes, recorderConfig, d.Logger.Named("recorder"))
	return d.Recorder.Start()
}

// initOrchestrator assembles the orchestration core from configuration
func (d *Dependencies) initOrchestrator(cfg *config.Config) {
	var opts []orchestrator.Option
	if d.Recorder != nil {
		opts = append(opts, orchestrator.WithOutcomeSink(d.Recorder))
	}

	d.Orchestrator = orchestrator.New(d.Registry, d.Prober, OrchestratorConfig(cfg), d.Logger, opts...)
}

// OrchestratorConfig maps application configuration onto orchestrator settings.
// Zero values keep the component defaults.
func OrchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()

	oc.Health = mergeHealth(oc.Health, cfg.Health)
	oc.Routing = mergeRouting(oc.Routing, cfg.Routing)

	oc.Batch = batch.Options{
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		Timeout:        cfg.Batch.Timeout,
	}
	return oc
}

func mergeHealth(hc health.Config, cfg config.HealthConfig) health.Config {
	if cfg.CacheTTL > 0 {
		hc.CacheTTL = cfg.CacheTTL
	}
	if cfg.LatencyThreshold > 0 {
		hc.LatencyThreshold = cfg.LatencyThreshold
	}
	if cfg.DownAfterFailures > 0 {
		hc.DownAfterFailures = cfg.DownAfterFailures
	}
	if cfg.RefreshInterval > 0 {
		hc.RefreshInterval = cfg.RefreshInterval
	}
	if cfg.ProbeTimeout > 0 {
		hc.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeConcurrency > 0 {
		hc.ProbeConcurrency = cfg.ProbeConcurrency
	}
	return hc
}

func mergeRouting(rc routing.Config, cfg config.RoutingConfig) routing.Config {
	if cfg.CacheTTL > 0 {
		rc.CacheTTL = cfg.CacheTTL
	}
	if cfg.CacheSize > 0 {
		rc.CacheSize = cfg.CacheSize
	}
	return rc
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Orchestrator != nil {
		d.Orchestrator.Stop()
	}

	if d.Recorder != nil {
		timeout := recorderStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Recorder.Stop(timeout); err != nil && !errors.Is(err, outcomes.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop outcome recorder: %w", err))
		}
	}

	if d.Prober != nil {
		d.Prober.Close()
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.DB = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
