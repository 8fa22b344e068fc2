package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	platformcache "github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/policy"
	"github.com/odyssey-erp/odyssey-authz/internal/roles"
)

// Services holds the runtime graph shared by authzd and authzctl.
type Services struct {
	Config    *Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Cache     cache.Cache
	Evaluator policy.Evaluator
	Audit     audit.Sink
	Store     *roles.Store
	Roles     *roles.Service
	Engine    *authz.Engine
	Timeline  *audit.Service
	Guard     authz.Middleware

	memory      *cache.Memory
	broadcaster *cache.Broadcaster
	queue       *asynq.Client
}

// BuildServices connects to PostgreSQL and, when a backend needs it, Redis,
// then assembles the engine.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Services, error) {
	s := &Services{Config: cfg, Logger: logger}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		return nil, err
	}
	s.Pool = pool

	if needsRedis(cfg) {
		client, err := platformcache.New(ctx, cfg.RedisOptions())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Redis = client
	}

	if err := s.assemble(cfg, logger, metrics); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) assemble(cfg *Config, logger *slog.Logger, metrics *observability.Metrics) error {
	evaluator, err := NewEvaluator(cfg)
	if err != nil {
		return err
	}
	s.Evaluator = evaluator

	s.Cache, s.memory, s.broadcaster = NewDecisionCache(cfg, s.Redis, logger)

	var enqueuer audit.Enqueuer
	if cfg.AuditSink == AuditSinkQueue && s.Redis != nil {
		s.queue = asynq.NewClient(cfg.AsynqRedis())
		enqueuer = s.queue
	}
	s.Audit = NewAuditSink(cfg, s.Pool, enqueuer, logger)

	s.Store = roles.NewStore(s.Pool)
	engine, err := authz.New(authz.Dependencies{
		Roles:   s.Store,
		Policy:  s.Evaluator,
		Cache:   s.Cache,
		Audit:   s.Audit,
		Logger:  logger,
		Metrics: metrics,
	}, cfg.EngineOptions())
	if err != nil {
		return err
	}
	s.Engine = engine
	s.Roles = roles.NewService(s.Store, engine, cfg.Application, logger)
	s.Timeline = audit.NewService(s.Pool)
	s.Guard = authz.Middleware{
		Engine:    engine,
		Principal: authz.HeaderExtractor(cfg.PrincipalHeader),
		Tenant:    authz.HeaderExtractor(cfg.TenantHeader),
		Logger:    logger,
	}
	return nil
}

// Background starts cache maintenance: expiry sweeps for in-process caches
// and the invalidation subscription for broadcast caches.
func (s *Services) Background(ctx context.Context) error {
	if s.memory != nil {
		go s.memory.Run(ctx, s.Config.CacheSweepInterval)
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Listen(ctx); err != nil {
			return fmt.Errorf("listen for invalidations: %w", err)
		}
	}
	return nil
}

// ReloadPolicy refreshes the evaluator's rules and drops every cached
// decision, since any of them may have changed.
func (s *Services) ReloadPolicy(ctx context.Context) error {
	reloader, ok := s.Evaluator.(policy.Reloader)
	if !ok {
		return fmt.Errorf("policy engine %q does not support reload", s.Config.PolicyEngine)
	}
	if err := reloader.Reload(ctx); err != nil {
		return err
	}
	return s.Engine.InvalidateAll(ctx)
}

// Close releases connections.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.queue != nil {
		if err := s.queue.Close(); err != nil && s.Logger != nil {
			s.Logger.Warn("asynq client close", slog.Any("error", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil && s.Logger != nil {
			s.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func needsRedis(cfg *Config) bool {
	switch cfg.CacheBackend {
	case CacheBackendRedis, CacheBackendBroadcast:
		return true
	}
	return cfg.AuditSink == AuditSinkQueue
}

// NewEvaluator builds the configured policy engine. Empty paths select the
// embedded default rules.
func NewEvaluator(cfg *Config) (policy.Evaluator, error) {
	switch cfg.PolicyEngine {
	case PolicyEngineCedar:
		return policy.NewCedar(policy.CedarConfig{Path: cfg.PolicyPath})
	case PolicyEngineCasbin, "":
		return policy.NewCasbin(policy.CasbinConfig{ModelPath: cfg.PolicyModelPath, PolicyPath: cfg.PolicyPath})
	default:
		return nil, fmt.Errorf("unsupported policy engine %q", cfg.PolicyEngine)
	}
}

// NewDecisionCache builds the configured cache. The memory and broadcaster
// results are non-nil only when the backend needs background maintenance.
// A nil Cache disables caching.
func NewDecisionCache(cfg *Config, client *redis.Client, logger *slog.Logger) (cache.Cache, *cache.Memory, *cache.Broadcaster) {
	switch cfg.CacheBackend {
	case CacheBackendRedis:
		if client == nil {
			return nil, nil, nil
		}
		return cache.NewRedis(client), nil, nil
	case CacheBackendMemory:
		memory := cache.NewMemory()
		return memory, memory, nil
	case CacheBackendBroadcast:
		memory := cache.NewMemory()
		if client == nil {
			return memory, memory, nil
		}
		b := cache.NewBroadcaster(memory, client, cfg.InvalidationChannel, logger)
		return b, memory, b
	default:
		return nil, nil, nil
	}
}

// NewAuditSink builds the configured denial sink. A nil result disables
// auditing.
func NewAuditSink(cfg *Config, execer audit.Execer, queue audit.Enqueuer, logger *slog.Logger) audit.Sink {
	switch cfg.AuditSink {
	case AuditSinkQueue:
		if queue == nil {
			return audit.NewSlogSink(logger)
		}
		return audit.NewQueueSink(queue, cfg.AuditQueue)
	case AuditSinkPostgres:
		if execer == nil {
			return audit.NewSlogSink(logger)
		}
		return audit.NewPostgresSink(execer)
	case AuditSinkLog:
		return audit.NewSlogSink(logger)
	default:
		return nil
	}
}
