package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nykznykz/gauntlet/internal/domain"
)

// SeedAgent describes one baked-in participant of the default competition.
type SeedAgent struct {
	Name     string
	Provider string
	Model    string
	Config   map[string]any
}

// SeedConfig describes the default competition the reset flow recreates.
type SeedConfig struct {
	Name                 string
	DurationHours        int
	InvocationInterval   int
	InitialCapital       decimal.Decimal
	MaxLeverage          decimal.Decimal
	MaintenanceMarginPct decimal.Decimal
	Agents               []SeedAgent
}

// DefaultSeed is the competition recreated by the reset flow (the daemon's
// -reset flag).
func DefaultSeed() SeedConfig {
	return SeedConfig{
		Name:                 "Alpha Arena",
		DurationHours:        24 * 7,
		InvocationInterval:   5,
		InitialCapital:       decimal.NewFromInt(10_000),
		MaxLeverage:          decimal.NewFromInt(10),
		MaintenanceMarginPct: decimal.NewFromInt(5),
		Agents: []SeedAgent{
			{Name: "gpt-trader", Provider: "openai", Model: "gpt-4o"},
			{Name: "deepseek-trader", Provider: "deepseek", Model: "deepseek-chat"},
			{Name: "qwen-trader", Provider: "qwen", Model: "qwen-max"},
		},
	}
}

// ResetAndSeed hard-wipes every competition (cascades clear the whole tree)
// and recreates the default competition with its baked-in agents, each with
// a fresh portfolio and an opening history point.
func (s *Store) ResetAndSeed(ctx context.Context, cfg SeedConfig) (*domain.Competition, error) {
	if err := s.DeleteAllCompetitions(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	competition := &domain.Competition{
		ID:                        uuid.New(),
		Name:                      cfg.Name,
		Status:                    domain.CompetitionActive,
		StartTime:                 now,
		EndTime:                   now.Add(time.Duration(cfg.DurationHours) * time.Hour),
		InvocationIntervalMinutes: cfg.InvocationInterval,
		InitialCapital:            cfg.InitialCapital,
		MaxLeverage:               cfg.MaxLeverage,
		MaintenanceMarginPct:      cfg.MaintenanceMarginPct,
		AllowedAssetClasses:       []string{"crypto"},
		MaxParticipants:           len(cfg.Agents),
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if err := s.InsertCompetition(ctx, competition); err != nil {
		return nil, err
	}

	for _, agent := range cfg.Agents {
		participant := &domain.Participant{
			ID:             uuid.New(),
			CompetitionID:  competition.ID,
			Name:           agent.Name,
			AgentProvider:  agent.Provider,
			AgentModel:     agent.Model,
			AgentConfig:    agent.Config,
			Status:         domain.ParticipantActive,
			InitialCapital: cfg.InitialCapital,
			CurrentEquity:  cfg.InitialCapital,
			PeakEquity:     cfg.InitialCapital,
			TimeoutSeconds: 30,
			JoinedAt:       now,
		}
		if err := s.InsertParticipant(ctx, participant); err != nil {
			return nil, fmt.Errorf("seed participant %s: %w", agent.Name, err)
		}

		portfolio := &domain.Portfolio{
			ID:              uuid.New(),
			ParticipantID:   participant.ID,
			CashBalance:     cfg.InitialCapital,
			Equity:          cfg.InitialCapital,
			MarginUsed:      decimal.Zero,
			MarginAvailable: cfg.InitialCapital,
			RealizedPnL:     decimal.Zero,
			UnrealizedPnL:   decimal.Zero,
			TotalPnL:        decimal.Zero,
			CurrentLeverage: decimal.Zero,
			UpdatedAt:       now,
		}
		if err := s.InsertPortfolio(ctx, portfolio); err != nil {
			return nil, fmt.Errorf("seed portfolio for %s: %w", agent.Name, err)
		}
		point := &domain.HistoryPoint{
			ID:            uuid.New(),
			ParticipantID: participant.ID,
			Equity:        portfolio.Equity,
			CashBalance:   portfolio.CashBalance,
			MarginUsed:    portfolio.MarginUsed,
			RealizedPnL:   portfolio.RealizedPnL,
			UnrealizedPnL: portfolio.UnrealizedPnL,
			TotalPnL:      portfolio.TotalPnL,
			RecordedAt:    now,
		}
		if err := s.AppendHistory(ctx, point); err != nil {
			return nil, fmt.Errorf("seed history for %s: %w", agent.Name, err)
		}
	}

	logx.WithContext(ctx).Infof("store: reseeded competition %s with %d agents", competition.Name, len(cfg.Agents))
	return competition, nil
}
