// Package svc wires the application: store, market provider, agent
// transport, engines, invoker and scheduler, all hanging off one context.
package svc

import (
	"fmt"
	"time"

	"github.com/nykznykz/gauntlet/internal/config"
	"github.com/nykznykz/gauntlet/internal/engine"
	"github.com/nykznykz/gauntlet/internal/invoker"
	"github.com/nykznykz/gauntlet/internal/scheduler"
	"github.com/nykznykz/gauntlet/internal/store"
	"github.com/nykznykz/gauntlet/pkg/agent"
	"github.com/nykznykz/gauntlet/pkg/market"
)

// ServiceContext aggregates every long-lived component.
type ServiceContext struct {
	Config *config.Config

	Store         *store.Store
	Market        market.Provider
	MarketConfig  *market.Config
	AgentRegistry *agent.Registry
	Trading       *engine.TradingEngine
	Invoker       *invoker.Invoker
	Scheduler     *scheduler.Scheduler
}

// NewServiceContext builds the full dependency graph from configuration.
func NewServiceContext(c *config.Config) (*ServiceContext, error) {
	if c.Postgres.DSN == "" {
		return nil, fmt.Errorf("svc: postgres DSN is required (set Postgres.DSN or DATABASE_URL)")
	}

	marketCfg, err := market.LoadConfig(c.ResolvePath(c.MarketFile))
	if err != nil {
		return nil, err
	}
	provider, err := market.NewBinanceProvider(marketCfg)
	if err != nil {
		return nil, err
	}

	agentCfg, err := agent.LoadConfig(c.ResolvePath(c.AgentsFile))
	if err != nil {
		return nil, err
	}
	registry, err := agent.NewRegistry(agentCfg)
	if err != nil {
		return nil, err
	}

	st := store.New(c.Postgres.DSN)
	trading := engine.NewTradingEngine(st, provider)
	inv := invoker.New(st, trading, registry, provider, marketCfg.Symbols)

	sched := scheduler.New(scheduler.Config{
		MarkToMarketInterval: time.Duration(c.Scheduler.MarkToMarketIntervalMinutes) * time.Minute,
		DecisionInterval:     time.Duration(c.Scheduler.DecisionIntervalMinutes) * time.Minute,
		MaxConcurrent:        c.Scheduler.MaxConcurrentInvocations,
	}, st, provider, inv)

	return &ServiceContext{
		Config:        c,
		Store:         st,
		Market:        provider,
		MarketConfig:  marketCfg,
		AgentRegistry: registry,
		Trading:       trading,
		Invoker:       inv,
		Scheduler:     sched,
	}, nil
}
