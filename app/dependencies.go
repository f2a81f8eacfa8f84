package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/security-audit/auth"
	"github.com/upb/security-audit/config"
	"github.com/upb/security-audit/internal/guardrails"
	"github.com/upb/security-audit/internal/hashchain"
	"github.com/upb/security-audit/middleware"
	"github.com/upb/security-audit/repositories"
	"github.com/upb/security-audit/repositories/memory"
	"github.com/upb/security-audit/repositories/postgres"
	"github.com/upb/security-audit/services/actor"
	"github.com/upb/security-audit/services/audit"
	"github.com/upb/security-audit/services/securityevent"
	"go.uber.org/zap"
)

// actorCacheSweep is how often expired actor cache entries are dropped
const actorCacheSweep = time.Minute

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil with the memory store
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	SecurityEvents repositories.SecurityEventRepository
	Users          repositories.UserDirectory
	ChainLock      hashchain.ScopeLock

	// Pipeline
	Hasher     *hashchain.Hasher
	Guardrails *guardrails.Engine
	ActorCache *actor.Cache
	Actors     *actor.Resolver
	Events     *securityevent.Logger
	Dispatcher *audit.Dispatcher
	Audit      *audit.Adapter

	// Auth
	TokenValidator middleware.TokenValidator
	AuthMiddleware *middleware.AuthMiddleware

	stopCleanup chan struct{}
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := deps.initPipeline(cfg); err != nil {
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize security event pipeline: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Dispatcher.Stop(cfg.Server.ShutdownTimeout)
		close(deps.stopCleanup)
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.SecurityEvents.Store),
		zap.String("chain_lock", cfg.SecurityEvents.ChainLock))
	return deps, nil
}

// initStore opens the security event store and the matching chain lock
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	if cfg.SecurityEvents.Store == config.StoreMemory {
		d.SecurityEvents = memory.NewSecurityEventStore()
		d.Users = memory.NewUserDirectory()
		d.ChainLock = hashchain.NewMutexScopeLock()
		d.Logger.Warn("security events are kept in memory and lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		d.closeStore()
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.SecurityEvents.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			d.closeStore()
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	repos := factory.NewRepositories()
	d.SecurityEvents = repos.SecurityEvents
	d.Users = repos.Users

	if cfg.SecurityEvents.ChainLock == config.ChainLockAdvisory {
		d.ChainLock = factory.NewScopeLock()
	} else {
		d.ChainLock = hashchain.NewMutexScopeLock()
	}

	d.Logger.Info("repositories initialized")
	return nil
}

// initPipeline builds the hash chain, guardrails, actor resolver and the
// security event logger, then starts the dispatcher
func (d *Dependencies) initPipeline(cfg *config.Config) error {
	hasher, err := hashchain.NewHasher(cfg.ChainKey())
	if err != nil {
		return err
	}
	d.Hasher = hasher

	d.Guardrails = guardrails.NewEngine(guardrails.DefaultRules())
	if path := cfg.SecurityEvents.GuardrailRulesFile; path != "" {
		rules, err := guardrails.LoadRulesFile(path)
		if err != nil {
			return err
		}
		d.Guardrails.Extend(rules)
		d.Logger.Info("guardrail rules loaded",
			zap.String("path", path),
			zap.Int("rules", len(rules)))
	}

	d.ActorCache = actor.NewCache(cfg.SecurityEvents.ActorCacheSize, cfg.SecurityEvents.ActorCacheTTL)
	d.stopCleanup = make(chan struct{})
	go d.ActorCache.StartCleanupWorker(actorCacheSweep, d.stopCleanup)
	d.Actors = actor.NewResolver(d.Users, d.ActorCache, d.Logger)

	d.Events = securityevent.NewLogger(d.SecurityEvents, d.Actors, d.Hasher, d.ChainLock, d.Logger, securityevent.Config{
		WriteTimeout: cfg.SecurityEvents.WriteTimeout,
		Guardrails:   d.Guardrails,
	})

	d.Dispatcher = audit.NewDispatcher(d.Events, d.Logger, audit.Config{
		BufferSize:  cfg.SecurityEvents.DispatchBuffer,
		WorkerCount: cfg.SecurityEvents.DispatchWorkers,
	})
	if err := d.Dispatcher.Start(); err != nil {
		close(d.stopCleanup)
		return err
	}

	var legacy securityevent.Emitter = d.Events
	if cfg.SecurityEvents.AsyncLegacy {
		legacy = d.Dispatcher
	}
	d.Audit = audit.NewAdapter(legacy, d.Logger)
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, ingestion endpoints reject every token")
		d.TokenValidator = auth.RejectAllValidator{}
	} else {
		validator, err := auth.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		if err != nil {
			return err
		}
		d.TokenValidator = validator
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.TokenValidator, d.Logger)
	return nil
}

// SQLDB returns the pool behind the security event store, or nil with the
// memory store
func (d *Dependencies) SQLDB() *sql.DB {
	if d.DB == nil {
		return nil
	}
	return d.DB.DB
}

func (d *Dependencies) closeStore() {
	if d.RepoFactory == nil {
		return
	}
	if err := d.RepoFactory.Close(); err != nil {
		d.Logger.Warn("failed to close database", zap.Error(err))
	}
	d.RepoFactory = nil
	d.DB = nil
}

// Close drains the dispatcher and releases the store
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Dispatcher != nil {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Dispatcher.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop dispatcher: %w", err))
		}
	}

	if d.stopCleanup != nil {
		close(d.stopCleanup)
		d.stopCleanup = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
