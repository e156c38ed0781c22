package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/pkg/calc"
)

// PortfolioManager keeps portfolio aggregates consistent with the current
// position set and appends a history snapshot after every update. Margin is
// reserved, not debited: cash only moves when realized P&L lands on close.
type PortfolioManager struct {
	store  Store
	prices PriceSource
}

// NewPortfolioManager binds a manager to a store (live connection or open
// transaction) and a price source for liquidation closes.
func NewPortfolioManager(store Store, prices PriceSource) *PortfolioManager {
	return &PortfolioManager{store: store, prices: prices}
}

// CreatePortfolio initializes a participant's account at its initial capital
// and records the zero-motion opening history point.
func (m *PortfolioManager) CreatePortfolio(ctx context.Context, participant *domain.Participant) (*domain.Portfolio, error) {
	portfolio := &domain.Portfolio{
		ID:              uuid.New(),
		ParticipantID:   participant.ID,
		CashBalance:     participant.InitialCapital,
		Equity:          participant.InitialCapital,
		MarginUsed:      decimal.Zero,
		MarginAvailable: participant.InitialCapital,
		RealizedPnL:     decimal.Zero,
		UnrealizedPnL:   decimal.Zero,
		TotalPnL:        decimal.Zero,
		CurrentLeverage: decimal.Zero,
		MarginLevel:     nil,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := m.store.InsertPortfolio(ctx, portfolio); err != nil {
		return nil, fmt.Errorf("create portfolio: %w", err)
	}
	if err := m.appendHistory(ctx, portfolio); err != nil {
		return nil, err
	}
	return portfolio, nil
}

// Update recomputes every aggregate from the portfolio's current positions
// and appends a history point. margin_used is always derived from positions,
// never adjusted in place.
func (m *PortfolioManager) Update(ctx context.Context, portfolio *domain.Portfolio) error {
	positions, err := m.store.PositionsByPortfolio(ctx, portfolio.ID)
	if err != nil {
		return fmt.Errorf("update portfolio: load positions: %w", err)
	}

	marginUsed := decimal.Zero
	unrealized := decimal.Zero
	notional := decimal.Zero
	for _, position := range positions {
		marginUsed = marginUsed.Add(position.MarginRequired)
		unrealized = unrealized.Add(position.UnrealizedPnL)
		notional = notional.Add(position.NotionalValue)
	}

	portfolio.Equity = calc.Equity(portfolio.CashBalance, unrealized)
	portfolio.MarginUsed = marginUsed
	portfolio.MarginAvailable = portfolio.Equity.Sub(marginUsed)
	portfolio.UnrealizedPnL = unrealized
	portfolio.TotalPnL = portfolio.RealizedPnL.Add(unrealized)
	portfolio.CurrentLeverage = calc.CurrentLeverage(notional, portfolio.Equity)
	if marginUsed.Sign() > 0 {
		level := calc.MarginLevel(portfolio.Equity, marginUsed)
		portfolio.MarginLevel = &level
	} else {
		portfolio.MarginLevel = nil
	}
	portfolio.UpdatedAt = time.Now().UTC()

	if err := m.store.SavePortfolio(ctx, portfolio); err != nil {
		return fmt.Errorf("update portfolio: save: %w", err)
	}
	return m.appendHistory(ctx, portfolio)
}

// AllocateMargin reserves margin for a freshly opened position. Cash stays in
// the account; the reservation surfaces through Update picking up the new
// position's margin lock.
func (m *PortfolioManager) AllocateMargin(ctx context.Context, portfolio *domain.Portfolio, _ decimal.Decimal) error {
	return m.Update(ctx, portfolio)
}

// ReleaseMargin settles a close: realized P&L lands in cash and in the
// cumulative counter. The freed margin needs no bookkeeping here — the
// position row is already gone, so Update sees the lower aggregate.
func (m *PortfolioManager) ReleaseMargin(ctx context.Context, portfolio *domain.Portfolio, _ decimal.Decimal, realizedPnL decimal.Decimal) error {
	portfolio.CashBalance = portfolio.CashBalance.Add(realizedPnL)
	portfolio.RealizedPnL = portfolio.RealizedPnL.Add(realizedPnL)
	return m.Update(ctx, portfolio)
}

// UpdateParticipantEquity tracks the participant's equity, bumping the peak
// when a new high prints.
func (m *PortfolioManager) UpdateParticipantEquity(ctx context.Context, participant *domain.Participant, newEquity decimal.Decimal) error {
	participant.CurrentEquity = newEquity
	if newEquity.GreaterThan(participant.PeakEquity) {
		participant.PeakEquity = newEquity
	}
	if err := m.store.SaveParticipant(ctx, participant); err != nil {
		return fmt.Errorf("update participant equity: %w", err)
	}
	return nil
}

// CheckAndLiquidate force-closes every position of a participant whose
// margin level fell through the competition's maintenance threshold.
// Positions whose symbol has no price right now are skipped and stay open;
// the participant is still marked liquidated, and later calls return false
// for a participant that is no longer active. Returns true when a
// liquidation ran.
func (m *PortfolioManager) CheckAndLiquidate(
	ctx context.Context,
	participant *domain.Participant,
	portfolio *domain.Portfolio,
	competition *domain.Competition,
) (bool, error) {
	if participant.Status != domain.ParticipantActive || portfolio.MarginUsed.Sign() <= 0 {
		return false, nil
	}

	marginLevel := calc.MarginLevel(portfolio.Equity, portfolio.MarginUsed)
	initialMarginPct := calc.InitialMarginPct(competition.MaxLeverage)
	if !calc.CheckLiquidation(marginLevel, competition.MaintenanceMarginPct, initialMarginPct) {
		return false, nil
	}

	logx.WithContext(ctx).Errorf("liquidation triggered participant=%s margin_level=%s equity=%s margin_used=%s",
		participant.ID, marginLevel.StringFixed(2), portfolio.Equity.StringFixed(2), portfolio.MarginUsed.StringFixed(2))

	positions, err := m.store.PositionsByPortfolio(ctx, portfolio.ID)
	if err != nil {
		return false, fmt.Errorf("liquidate: load positions: %w", err)
	}
	for i := range positions {
		position := &positions[i]
		price, err := m.prices.Price(ctx, position.Symbol)
		if err != nil {
			logx.WithContext(ctx).Errorf("liquidate: no price for %s, skipping position %s: %v",
				position.Symbol, position.ID, err)
			continue
		}
		result := StageClose(position, price)
		if err := m.store.DeletePosition(ctx, position.ID); err != nil {
			return false, fmt.Errorf("liquidate: remove position %s: %w", position.ID, err)
		}
		portfolio.CashBalance = portfolio.CashBalance.Add(result.RealizedPnL)
		portfolio.RealizedPnL = portfolio.RealizedPnL.Add(result.RealizedPnL)
	}

	if err := m.Update(ctx, portfolio); err != nil {
		return false, err
	}

	participant.Status = domain.ParticipantLiquidated
	if err := m.UpdateParticipantEquity(ctx, participant, portfolio.Equity); err != nil {
		return false, err
	}
	return true, nil
}

func (m *PortfolioManager) appendHistory(ctx context.Context, portfolio *domain.Portfolio) error {
	point := &domain.HistoryPoint{
		ID:            uuid.New(),
		ParticipantID: portfolio.ParticipantID,
		Equity:        portfolio.Equity,
		CashBalance:   portfolio.CashBalance,
		MarginUsed:    portfolio.MarginUsed,
		RealizedPnL:   portfolio.RealizedPnL,
		UnrealizedPnL: portfolio.UnrealizedPnL,
		TotalPnL:      portfolio.TotalPnL,
		RecordedAt:    time.Now().UTC(),
	}
	if err := m.store.AppendHistory(ctx, point); err != nil {
		return fmt.Errorf("append portfolio history: %w", err)
	}
	return nil
}
