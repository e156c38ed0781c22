// Package scheduler owns the two clocks of the simulation: a frequent
// mark-to-market sweep and a slower agent-decision sweep. The clocks are
// independent; decisions never block revaluation. They share only the
// database and its per-participant locks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/internal/engine"
	"github.com/nykznykz/gauntlet/pkg/market"
)

// Store is the persistence surface the scheduler sweeps through.
type Store interface {
	engine.TxStore
	AllOpenPositions(ctx context.Context) ([]domain.Position, error)
	RunningCompetitions(ctx context.Context, now time.Time) ([]domain.Competition, error)
	ActiveParticipants(ctx context.Context, competitionIDs []uuid.UUID) ([]domain.Participant, error)
}

// AgentInvoker runs one agent round. Satisfied by *invoker.Invoker.
type AgentInvoker interface {
	Invoke(ctx context.Context, participantID uuid.UUID) (*domain.Invocation, error)
}

// Config tunes the two clock periods and the decision fan-out width.
type Config struct {
	MarkToMarketInterval time.Duration
	DecisionInterval     time.Duration
	MaxConcurrent        int
}

// Scheduler drives the periodic sweeps.
type Scheduler struct {
	cfg     Config
	store   Store
	prices  market.Provider
	invoker AgentInvoker
}

// New wires a scheduler.
func New(cfg Config, store Store, prices market.Provider, invoker AgentInvoker) *Scheduler {
	if cfg.MarkToMarketInterval <= 0 {
		cfg.MarkToMarketInterval = time.Minute
	}
	if cfg.DecisionInterval <= 0 {
		cfg.DecisionInterval = 5 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Scheduler{cfg: cfg, store: store, prices: prices, invoker: invoker}
}

// Run starts both clocks and blocks until ctx is cancelled. Each clock runs
// once immediately on startup.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.MarkToMarketInterval)
		defer ticker.Stop()
		s.MarkToMarket(ctx)
		for {
			select {
			case <-ctx.Done():
				logx.Info("scheduler: mark-to-market clock stopped")
				return
			case <-ticker.C:
				s.MarkToMarket(ctx)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.DecisionInterval)
		defer ticker.Stop()
		s.DecisionSweep(ctx)
		for {
			select {
			case <-ctx.Done():
				logx.Info("scheduler: decision clock stopped")
				return
			case <-ticker.C:
				s.DecisionSweep(ctx)
			}
		}
	}()

	wg.Wait()
}

// MarkToMarket restates every open position at the current market price,
// recomputes the affected portfolios and runs the liquidation check. One
// participant's failure never stops the sweep.
func (s *Scheduler) MarkToMarket(ctx context.Context) {
	positions, err := s.store.AllOpenPositions(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("scheduler: load open positions: %v", err)
		return
	}
	if len(positions) == 0 {
		return
	}

	prices := market.Prices(ctx, s.prices, symbolsOf(positions))

	updated := 0
	for participantID, portfolioID := range portfoliosOf(positions) {
		if err := s.markParticipant(ctx, participantID, portfolioID, prices); err != nil {
			logx.WithContext(ctx).Errorf("scheduler: mark-to-market participant=%s: %v", participantID, err)
			continue
		}
		updated++
	}
	logx.WithContext(ctx).Infof("scheduler: mark-to-market complete positions=%d portfolios=%d symbols=%d",
		len(positions), updated, len(prices))
}

func (s *Scheduler) markParticipant(ctx context.Context, participantID, portfolioID uuid.UUID, prices map[string]decimal.Decimal) error {
	return s.store.Transact(ctx, participantID, func(tx engine.Store) error {
		participant, err := tx.ParticipantByID(ctx, participantID)
		if err != nil {
			return err
		}
		competition, err := tx.CompetitionByID(ctx, participant.CompetitionID)
		if err != nil {
			return err
		}
		portfolio, err := tx.PortfolioByParticipant(ctx, participantID)
		if err != nil {
			return err
		}

		positions, err := tx.PositionsByPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}
		for i := range positions {
			price, ok := prices[positions[i].Symbol]
			if !ok {
				logx.WithContext(ctx).Slowf("scheduler: no price for %s, position %s skipped this tick",
					positions[i].Symbol, positions[i].ID)
				continue
			}
			engine.Revalue(&positions[i], price)
			if err := tx.SavePosition(ctx, &positions[i]); err != nil {
				return err
			}
		}

		manager := engine.NewPortfolioManager(tx, s.prices)
		if err := manager.Update(ctx, portfolio); err != nil {
			return err
		}
		if err := manager.UpdateParticipantEquity(ctx, participant, portfolio.Equity); err != nil {
			return err
		}
		_, err = manager.CheckAndLiquidate(ctx, participant, portfolio, competition)
		return err
	})
}

// DecisionSweep invokes every active participant of every running
// competition through a bounded worker pool. A failed invocation is logged
// and its siblings proceed.
func (s *Scheduler) DecisionSweep(ctx context.Context) {
	now := time.Now().UTC()
	competitions, err := s.store.RunningCompetitions(ctx, now)
	if err != nil {
		logx.WithContext(ctx).Errorf("scheduler: load running competitions: %v", err)
		return
	}

	eligible := make([]uuid.UUID, 0, len(competitions))
	for _, competition := range competitions {
		if !TradingWindowOpen(&competition, now) {
			logx.WithContext(ctx).Infof("scheduler: competition %s outside trading window, skipped", competition.Name)
			continue
		}
		eligible = append(eligible, competition.ID)
	}
	if len(eligible) == 0 {
		return
	}

	participants, err := s.store.ActiveParticipants(ctx, eligible)
	if err != nil {
		logx.WithContext(ctx).Errorf("scheduler: load active participants: %v", err)
		return
	}
	if len(participants) == 0 {
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	for _, participant := range participants {
		wg.Add(1)
		sem <- struct{}{}
		go func(id uuid.UUID, name string) {
			defer wg.Done()
			defer func() { <-sem }()
			invocation, err := s.invoker.Invoke(ctx, id)
			switch {
			case err != nil:
				logx.WithContext(ctx).Errorf("scheduler: invoke participant=%s error=%v", name, err)
			case invocation == nil:
				logx.WithContext(ctx).Infof("scheduler: participant=%s skipped (inactive)", name)
			default:
				logx.WithContext(ctx).Infof("scheduler: participant=%s invocation=%s status=%s",
					name, invocation.ID, invocation.Status)
			}
		}(participant.ID, participant.Name)
	}
	wg.Wait()
	logx.WithContext(ctx).Infof("scheduler: decision sweep complete participants=%d", len(participants))
}

// TradingWindowOpen reports whether a competition may trade right now.
// Crypto trades around the clock, so the market-hours gate only bites when a
// competition allows non-crypto asset classes.
func TradingWindowOpen(competition *domain.Competition, now time.Time) bool {
	if !competition.MarketHoursOnly {
		return true
	}
	cryptoOnly := true
	for _, class := range competition.AllowedAssetClasses {
		if class != "crypto" {
			cryptoOnly = false
			break
		}
	}
	if cryptoOnly {
		return true
	}
	switch now.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

func symbolsOf(positions []domain.Position) []string {
	seen := make(map[string]struct{}, len(positions))
	var out []string
	for _, position := range positions {
		if _, ok := seen[position.Symbol]; ok {
			continue
		}
		seen[position.Symbol] = struct{}{}
		out = append(out, position.Symbol)
	}
	return out
}

// portfoliosOf maps each affected participant to its portfolio.
func portfoliosOf(positions []domain.Position) map[uuid.UUID]uuid.UUID {
	out := make(map[uuid.UUID]uuid.UUID)
	for _, position := range positions {
		out[position.ParticipantID] = position.PortfolioID
	}
	return out
}
