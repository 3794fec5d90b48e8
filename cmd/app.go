package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rulesmith/internal/agent"
	"github.com/sells-group/rulesmith/internal/engine"
	"github.com/sells-group/rulesmith/internal/extract"
	"github.com/sells-group/rulesmith/internal/fetcher"
	"github.com/sells-group/rulesmith/internal/gate"
	"github.com/sells-group/rulesmith/internal/ledger"
	"github.com/sells-group/rulesmith/internal/orchestrator"
	"github.com/sells-group/rulesmith/internal/registry"
	"github.com/sells-group/rulesmith/internal/store"
	anthropicpkg "github.com/sells-group/rulesmith/pkg/anthropic"
	"github.com/sells-group/rulesmith/pkg/perplexity"
)

// appEnv holds the wired components the commands share.
type appEnv struct {
	Store        store.Store
	Registry     *registry.Registry
	Ledger       *ledger.Ledger
	Orchestrator *orchestrator.Orchestrator
	Fetcher      fetcher.Fetcher
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initApp sets up the store, agents, engines, and orchestrator. Callers
// should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("RULESMITH_ANTHROPIC_KEY is required")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := registry.New(st)
	led := ledger.New(st)

	agentCfg := agent.Config{
		Timeout:    cfg.Agent.Timeout(),
		RatePerSec: cfg.Agent.RatePerSec,
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	proposer := agent.Pair{
		Primary: agent.NewAnthropic(anthropicClient, cfg.Anthropic.ProposerModel, agentCfg),
	}
	if cfg.Perplexity.Key != "" {
		perplexityClient := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model))
		proposer.Fallback = agent.NewPerplexity(perplexityClient, cfg.Perplexity.Model, agentCfg)
		zap.L().Info("perplexity fallback proposer enabled")
	} else {
		zap.L().Debug("RULESMITH_PERPLEXITY_KEY not set, no fallback proposer")
	}
	validator := agent.Pair{
		Primary: agent.NewAnthropic(anthropicClient, cfg.Anthropic.ValidatorModel, agentCfg),
	}

	weights := gate.Weights{
		Title: cfg.Gate.TitleWeight,
		Body:  cfg.Gate.BodyWeight,
		Date:  cfg.Gate.DateWeight,
		URL:   cfg.Gate.URLWeight,
	}

	engCfg := engine.Config{
		MaxRetries:         cfg.Engine.MaxRetries,
		BackoffInitial:     time.Duration(cfg.Engine.BackoffInitialSecs) * time.Second,
		RepairThreshold:    cfg.Engine.RepairThreshold,
		DiscoveryThreshold: cfg.Engine.DiscoveryThreshold,
		MetadataQualityBar: cfg.Engine.MetadataQualityBar,
		ExemplarLimit:      cfg.Engine.ExemplarLimit,
		GateWeights:        weights,
		Consensus: engine.ConsensusWeights{
			Proposer:  cfg.Engine.ProposerWeight,
			Validator: cfg.Engine.ValidatorWeight,
			Quality:   cfg.Engine.QualityWeight,
		},
	}

	extractor := extract.NewRegex()
	deps := engine.Deps{
		Proposer:  proposer,
		Validator: validator,
		Extractor: extractor,
		Registry:  reg,
		Ledger:    led,
	}

	orch := orchestrator.New(
		orchestrator.Config{Threshold: cfg.Gate.Threshold, Weights: weights},
		reg, extractor,
		engine.NewRepair(engCfg, deps),
		engine.NewDiscovery(engCfg, deps),
	)

	return &appEnv{
		Store:        st,
		Registry:     reg,
		Ledger:       led,
		Orchestrator: orch,
		Fetcher: fetcher.NewHTTP(fetcher.Options{
			UserAgent:   cfg.Fetcher.UserAgent,
			Timeout:     time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
			MaxRetries:  cfg.Fetcher.MaxRetries,
			RatePerHost: cfg.Fetcher.RatePerHost,
		}),
	}, nil
}

// initStoreOnly opens and migrates the store for commands that don't need
// inference agents (rules, reviews, migrate).
func initStoreOnly(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return &appEnv{
		Store:    st,
		Registry: registry.New(st),
		Ledger:   ledger.New(st),
	}, nil
}
