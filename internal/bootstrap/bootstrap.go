// Package bootstrap assembles the orchestrator's services from configuration
// so every binary wires them the same way.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"genflow/internal/adapter/repo"
	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/infra/credentials"
	"genflow/internal/ledger"
	"genflow/internal/providers"
	"genflow/internal/providers/llm"
	"genflow/internal/providers/qwen"
	"genflow/internal/providers/taskapi"
	"genflow/internal/segments"
	"genflow/internal/sweep"
	"genflow/internal/workflows"
)

// Stores are the persistence collaborators. SQL backs the credentials
// fallback and may be nil.
type Stores struct {
	Workflows domain.WorkflowRepository
	Ledger    domain.LedgerStore
	SQL       infra.SQLExecutor
}

// Services is the assembled object graph.
type Services struct {
	Config      *infra.Config
	Logger      *infra.Logger
	Runner      *infra.SQLRunner
	Prices      ledger.Prices
	Policy      sweep.Policy
	Credentials *credentials.Store
	Ledger      *ledger.Ledger
	Registry    *providers.Registry
	Segments    *segments.Manager
	Scheduler   *sweep.Scheduler
	Workflows   *workflows.Service

	closers []func()
}

// Close releases pools and clients in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Open connects to PostgreSQL and builds the services on top of it.
func Open(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Services, error) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	runner := infra.NewSQLRunner(pool, *infra.LoggerOrDiscard(logger))
	svc, err := Build(ctx, cfg, logger, Stores{
		Workflows: repo.NewWorkflowRepository(runner, runner),
		Ledger:    repo.NewLedgerStore(runner),
		SQL:       runner,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	svc.Runner = runner
	svc.closers = append([]func(){pool.Close}, svc.closers...)
	return svc, nil
}

// Build wires every service over stores.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger, stores Stores) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if stores.Workflows == nil || stores.Ledger == nil {
		return nil, errors.New("bootstrap: workflow and ledger stores are required")
	}
	logger = infra.LoggerOrDiscard(logger)
	svc := &Services{Config: cfg, Logger: logger}

	policyFile, err := infra.LoadPolicyFile(cfg.SweepPolicyFile)
	if err != nil {
		return nil, err
	}
	if svc.Policy, err = sweep.DefaultPolicy().WithFile(policyFile.Sweep); err != nil {
		return nil, err
	}
	if svc.Prices, err = ledger.DefaultPrices().WithOverrides(policyFile.Pricing); err != nil {
		return nil, err
	}

	if svc.Ledger, err = ledger.New(ledger.Options{Store: stores.Ledger, Logger: logger}); err != nil {
		return nil, err
	}

	svc.Credentials = credentials.NewStore(stores.SQL)
	if svc.Registry, err = buildRegistry(ctx, cfg, logger, svc.Credentials); err != nil {
		return nil, err
	}
	llmKey := resolveKey(ctx, logger, svc.Credentials, credentials.ProviderLLM, cfg.LLMAPIKey)
	textModel := llm.NewClient(llm.Options{
		APIKey:     llmKey,
		Model:      cfg.LLMModel,
		BaseURL:    cfg.LLMBaseURL,
		HTTPClient: providerHTTPClient(cfg, logger),
		OnFallback: func(reason string, err error) {
			logger.Warn().Err(err).Str("reason", reason).Msg("llm: using static fallback")
		},
	})

	guard := buildGuard(ctx, cfg, logger, svc)

	if svc.Segments, err = segments.New(segments.Options{
		Repo:      stores.Workflows,
		Ledger:    svc.Ledger,
		Providers: svc.Registry,
		Guard:     guard,
		Prices:    svc.Prices,
		Logger:    logger,
	}); err != nil {
		return nil, err
	}
	if svc.Scheduler, err = sweep.New(sweep.Options{
		Repo:      stores.Workflows,
		Segments:  svc.Segments,
		Providers: svc.Registry,
		Analyzer:  textModel,
		Drafter:   textModel,
		Ledger:    svc.Ledger,
		Policy:    svc.Policy,
		Logger:    logger,
	}); err != nil {
		return nil, err
	}
	if svc.Workflows, err = workflows.New(workflows.Options{
		Repo:   stores.Workflows,
		Ledger: svc.Ledger,
		Prices: svc.Prices,
		Logger: logger,
	}); err != nil {
		return nil, err
	}
	return svc, nil
}

func providerHTTPClient(cfg *infra.Config, logger *infra.Logger) *http.Client {
	return infra.NewHTTPClient(infra.HTTPClientOptions{
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderMaxRetries,
		Logger:     logger,
	})
}

// buildRegistry binds the task API to every stage and registers DashScope
// for its own image model when a key is available.
func buildRegistry(ctx context.Context, cfg *infra.Config, logger *infra.Logger, creds *credentials.Store) (*providers.Registry, error) {
	reg := providers.NewRegistry()
	client := providerHTTPClient(cfg, logger)

	taskKey := resolveKey(ctx, logger, creds, credentials.ProviderTaskAPI, cfg.TaskAPIKey)
	if taskKey == "" {
		logger.Warn().Msg("bootstrap: task api key missing, submissions will fail until one is stored")
	}
	for _, stage := range []domain.Stage{domain.StageImage, domain.StageVideo, domain.StageMerge} {
		c, err := taskapi.NewClient(taskapi.Options{
			APIKey:     taskKey,
			BaseURL:    cfg.TaskAPIBaseURL,
			Stage:      stage,
			HTTPClient: client,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %s provider: %w", stage, err)
		}
		reg.SetDefault(stage, c)
	}

	if key := resolveKey(ctx, logger, creds, credentials.ProviderDashScope, cfg.DashScopeAPIKey); key != "" {
		q, err := qwen.NewClient(qwen.Options{
			APIKey:     key,
			BaseURL:    cfg.DashScopeURL,
			Model:      cfg.DashScopeModel,
			HTTPClient: client,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: dashscope provider: %w", err)
		}
		reg.Register(domain.StageImage, q.Model(), q)
	}
	return reg, nil
}

func resolveKey(ctx context.Context, logger *infra.Logger, creds *credentials.Store, provider, fromEnv string) string {
	key, err := creds.Resolve(ctx, provider, fromEnv)
	if err != nil {
		logger.Warn().Err(err).Str("provider", provider).Msg("bootstrap: failed to load stored api key")
		return ""
	}
	return key
}

// buildGuard shares regenerate guards through Redis when configured and
// falls back to an in-process guard otherwise.
func buildGuard(ctx context.Context, cfg *infra.Config, logger *infra.Logger, svc *Services) infra.Guard {
	if cfg.RedisURL == "" {
		return infra.NewLocalGuard()
	}
	guard, err := infra.NewRedisGuard(cfg.RedisURL, "", logger)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: invalid REDIS_URL, using in-process guard")
		return infra.NewLocalGuard()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := guard.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Msg("bootstrap: redis unreachable, using in-process guard")
		_ = guard.Close()
		return infra.NewLocalGuard()
	}
	svc.closers = append(svc.closers, func() { _ = guard.Close() })
	return guard
}
