package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Ghostmonday/formmonkeyplatform/internal/audit"
	"github.com/Ghostmonday/formmonkeyplatform/internal/backend"
	"github.com/Ghostmonday/formmonkeyplatform/internal/correct"
	"github.com/Ghostmonday/formmonkeyplatform/internal/learn"
	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/predict"
	"github.com/Ghostmonday/formmonkeyplatform/internal/resilience"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
	anthropicpkg "github.com/Ghostmonday/formmonkeyplatform/pkg/anthropic"
)

// Backend priorities. The chain walks them in descending order; rules sits
// at the bottom as the free, infallible last resort.
const (
	priorityClaude = 100
	priorityRemote = 50
	priorityRules  = 0
)

// engineEnv holds the initialized store, fallback chain, and correction
// pipeline needed by the predict/correct/serve commands.
type engineEnv struct {
	Store    store.Store
	Catalog  *model.FieldCatalog
	Chain    *predict.Chain
	Service  *correct.Service
	Batcher  *correct.Batcher
	Audit    *audit.Recorder
	Governor *resilience.Governor
	Breakers *resilience.BackendBreakers
	Queue    learn.Queue
	Analyzer *learn.Analyzer

	redis *redis.Client
}

// Close flushes pending batched commits and releases resources. Callers
// should defer env.Close().
func (e *engineEnv) Close() {
	if e.Batcher != nil {
		e.Batcher.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.Path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, resilience machinery, prediction backends,
// and the correction pipeline. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	catalog := cfg.Catalog()

	gov := resilience.NewGovernor(resilience.FromGovernorConfig(
		cfg.Resilience.RequestsPerMinute, cfg.Resilience.MaxHourlyCost))
	breakers := resilience.NewBackendBreakers(resilience.FromCircuitConfig(
		cfg.Resilience.FailureThreshold, cfg.Resilience.RecoveryTimeoutSecs, cfg.Resilience.SuccessThreshold))

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	regs := []predict.Registration{
		{
			Backend: backend.NewAnthropicBackend(anthropicClient, backend.AnthropicOptions{
				Model:       cfg.Anthropic.Model,
				MaxTokens:   cfg.Anthropic.MaxTokens,
				Temperature: cfg.Anthropic.Temperature,
			}),
			Priority:     priorityClaude,
			CostEstimate: cfg.Anthropic.CostEstimate,
			Timeout:      time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
		},
		{
			Backend:  backend.NewRulesBackend(catalog),
			Priority: priorityRules,
			Free:     true,
		},
	}

	if cfg.Remote.Enabled {
		regs = append(regs, predict.Registration{
			Backend: backend.NewRemoteBackend(backend.RemoteOptions{
				Name:      cfg.Remote.Name,
				URL:       cfg.Remote.URL,
				APIKey:    cfg.Remote.APIKey,
				Timeout:   time.Duration(cfg.Remote.TimeoutSecs) * time.Second,
				RateLimit: rate.Limit(cfg.Remote.RateLimit),
				Burst:     cfg.Remote.Burst,
			}),
			Priority:     priorityRemote,
			CostEstimate: cfg.Remote.CostEstimate,
			Timeout:      time.Duration(cfg.Remote.TimeoutSecs) * time.Second,
		})
		zap.L().Info("remote prediction backend enabled", zap.String("url", cfg.Remote.URL))
	}

	chain := predict.NewChain(regs, gov, breakers, predict.ChainConfig{
		Retry: resilience.FromRetryConfig(
			cfg.Resilience.RetryMaxAttempts, cfg.Resilience.RetryBaseDelayMs, cfg.Resilience.RetryMaxDelayMs),
		ConfidenceFloor: cfg.Predict.ConfidenceFloor,
	})

	env := &engineEnv{
		Store:    st,
		Catalog:  catalog,
		Chain:    chain,
		Governor: gov,
		Breakers: breakers,
	}

	if cfg.Learn.RedisAddr != "" {
		env.redis = redis.NewClient(&redis.Options{Addr: cfg.Learn.RedisAddr})
		env.Queue = learn.NewRedisQueue(env.redis, cfg.Learn.Namespace)
		zap.L().Info("deferred learning queue on redis", zap.String("addr", cfg.Learn.RedisAddr))
	} else {
		env.Queue = learn.NewMemoryQueue()
		zap.L().Debug("FORMMONKEY_LEARN_REDIS_ADDR not set, using in-process learning queue")
	}
	env.Analyzer = learn.NewAnalyzer(env.Queue, st, learn.AnalyzerConfig{
		Interval:  time.Duration(cfg.Learn.IntervalSecs) * time.Second,
		BatchSize: cfg.Learn.BatchSize,
	})

	env.Audit = audit.NewRecorder(st)
	validator := correct.NewValidator(catalog, st)
	env.Batcher = correct.NewBatcher(st, cfg.Batch.MaxSize, time.Duration(cfg.Batch.MaxWaitSecs)*time.Second)
	if _, err := env.Batcher.Recover(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "requeue pending corrections")
	}
	env.Service = correct.NewService(st, validator, env.Batcher, env.Queue, env.Audit, correct.ServiceConfig{
		Window: time.Duration(cfg.Correction.WindowMs) * time.Millisecond,
		Policy: correct.ConflictPolicy(cfg.Correction.ConflictPolicy),
	})

	zap.L().Info("engine initialized",
		zap.Strings("backends", chain.Backends()),
		zap.Int("catalog_fields", len(catalog.Fields)),
		zap.String("store_driver", cfg.Store.Driver),
	)

	return env, nil
}
