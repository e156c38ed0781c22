package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/pkg/calc"
)

// TradingEngine validates agent orders against risk rules and executes them
// against the current market price. Every executed order runs inside one
// per-participant transaction; a failure rolls back that order alone.
type TradingEngine struct {
	store  TxStore
	prices PriceSource
}

// NewTradingEngine wires the engine to its store and price feed.
func NewTradingEngine(store TxStore, prices PriceSource) *TradingEngine {
	return &TradingEngine{store: store, prices: prices}
}

// ValidateInput bundles the request under validation.
type ValidateInput struct {
	Participant *domain.Participant
	Competition *domain.Competition
	Portfolio   *domain.Portfolio
	Symbol      string
	Side        string
	Quantity    decimal.Decimal
	Leverage    decimal.Decimal
	Action      string
	PositionID  *uuid.UUID
}

// Validate applies the risk rules in order and reports the first failure as
// a human-readable rejection reason.
func (e *TradingEngine) Validate(ctx context.Context, in ValidateInput) (bool, string) {
	if in.Participant.Status != domain.ParticipantActive {
		return false, fmt.Sprintf("Participant is %s", in.Participant.Status)
	}
	if in.Leverage.GreaterThan(in.Competition.MaxLeverage) {
		return false, fmt.Sprintf("Leverage %s exceeds max %s", in.Leverage, in.Competition.MaxLeverage)
	}

	switch in.Action {
	case domain.ActionOpen:
		price, err := e.prices.Price(ctx, in.Symbol)
		if err != nil {
			return false, fmt.Sprintf("Could not fetch price for %s", in.Symbol)
		}
		marginRequired := calc.MarginRequired(calc.NotionalValue(in.Quantity, price), in.Leverage)
		if marginRequired.GreaterThan(in.Portfolio.MarginAvailable) {
			return false, fmt.Sprintf("Insufficient margin. Required: %s, Available: %s",
				marginRequired.StringFixed(2), in.Portfolio.MarginAvailable.StringFixed(2))
		}
	case domain.ActionClose, domain.ActionIncrease, domain.ActionDecrease:
		if in.PositionID == nil {
			return false, "Position ID required for close/increase/decrease"
		}
		position, err := e.store.PositionByID(ctx, *in.PositionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, fmt.Sprintf("Position %s not found", in.PositionID)
			}
			logx.WithContext(ctx).Errorf("validate: position lookup %s: %v", in.PositionID, err)
			return false, fmt.Sprintf("Position %s not found", in.PositionID)
		}
		if position.ParticipantID != in.Participant.ID {
			return false, "Position does not belong to this participant"
		}
	}
	return true, ""
}

// Execute fills a validated order at the current market price and records
// the resulting trade. The whole mutation set for one order commits or rolls
// back atomically under the participant's portfolio lock.
func (e *TradingEngine) Execute(ctx context.Context, order *domain.Order, action string, positionID *uuid.UUID, exitPlan *domain.ExitPlan) (*domain.Trade, error) {
	var trade *domain.Trade
	err := e.store.Transact(ctx, order.ParticipantID, func(tx Store) error {
		participant, err := tx.ParticipantByID(ctx, order.ParticipantID)
		if err != nil {
			return fmt.Errorf("load participant: %w", err)
		}
		portfolio, err := tx.PortfolioByParticipant(ctx, order.ParticipantID)
		if err != nil {
			return fmt.Errorf("load portfolio: %w", err)
		}

		switch action {
		case domain.ActionOpen:
			trade, err = e.executeOpen(ctx, tx, order, participant, portfolio, exitPlan)
		case domain.ActionClose:
			trade, err = e.executeClose(ctx, tx, order, participant, portfolio, positionID)
		default:
			order.Status = domain.OrderRejected
			order.RejectionReason = fmt.Sprintf("Action %s not yet implemented", action)
			return tx.SaveOrder(ctx, order)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("execute order %s: %w", order.ID, err)
	}
	return trade, nil
}

func (e *TradingEngine) executeOpen(
	ctx context.Context,
	tx Store,
	order *domain.Order,
	participant *domain.Participant,
	portfolio *domain.Portfolio,
	exitPlan *domain.ExitPlan,
) (*domain.Trade, error) {
	price, err := e.prices.Price(ctx, order.Symbol)
	if err != nil {
		order.Status = domain.OrderRejected
		order.RejectionReason = "Could not fetch market price"
		if saveErr := tx.SaveOrder(ctx, order); saveErr != nil {
			return nil, saveErr
		}
		return nil, nil
	}

	side := SideFromOrder(order.Side)
	notional := calc.NotionalValue(order.Quantity, price)
	marginRequired := calc.MarginRequired(notional, order.Leverage)

	position := NewPosition(portfolio, order.Symbol, order.AssetClass, side,
		order.Quantity, price, order.Leverage, exitPlan)
	if err := tx.InsertPosition(ctx, position); err != nil {
		return nil, fmt.Errorf("open position: %w", err)
	}

	manager := NewPortfolioManager(tx, e.prices)
	if err := manager.AllocateMargin(ctx, portfolio, marginRequired); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	positionID := position.ID
	trade := &domain.Trade{
		ID:            uuid.New(),
		OrderID:       order.ID,
		ParticipantID: participant.ID,
		PositionID:    &positionID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Price:         price,
		Action:        domain.ActionOpen,
		Leverage:      order.Leverage,
		NotionalValue: notional,
		MarginImpact:  marginRequired,
		ExecutedAt:    now,
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record open trade: %w", err)
	}

	order.Status = domain.OrderExecuted
	order.ExecutedPrice = &price
	order.ExecutedAt = &now
	if err := tx.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("mark order executed: %w", err)
	}

	if err := manager.UpdateParticipantEquity(ctx, participant, portfolio.Equity); err != nil {
		return nil, err
	}
	return trade, nil
}

func (e *TradingEngine) executeClose(
	ctx context.Context,
	tx Store,
	order *domain.Order,
	participant *domain.Participant,
	portfolio *domain.Portfolio,
	positionID *uuid.UUID,
) (*domain.Trade, error) {
	var position *domain.Position
	var err error
	if positionID != nil {
		position, err = tx.PositionByID(ctx, *positionID)
	} else {
		// Legacy fallback when the agent omitted the position id.
		position, err = tx.PositionBySymbol(ctx, participant.ID, order.Symbol)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			order.Status = domain.OrderRejected
			order.RejectionReason = "Position not found"
			if saveErr := tx.SaveOrder(ctx, order); saveErr != nil {
				return nil, saveErr
			}
			return nil, nil
		}
		return nil, fmt.Errorf("close: load position: %w", err)
	}

	// The stored position is authoritative: close at its symbol's price even
	// when the agent named a different symbol on the order.
	price, err := e.prices.Price(ctx, position.Symbol)
	if err != nil {
		order.Status = domain.OrderRejected
		order.RejectionReason = "Could not fetch market price"
		if saveErr := tx.SaveOrder(ctx, order); saveErr != nil {
			return nil, saveErr
		}
		return nil, nil
	}

	result := StageClose(position, price)
	if err := tx.DeletePosition(ctx, position.ID); err != nil {
		return nil, fmt.Errorf("close: remove position: %w", err)
	}

	manager := NewPortfolioManager(tx, e.prices)
	if err := manager.ReleaseMargin(ctx, portfolio, result.MarginReleased, result.RealizedPnL); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	realizedPnL := result.RealizedPnL
	realizedPnLPct := result.RealizedPnLPct
	trade := &domain.Trade{
		ID:            uuid.New(),
		OrderID:       order.ID,
		ParticipantID: participant.ID,
		// The position row is removed in this transaction; the trade keeps
		// only a weak reference.
		PositionID:     nil,
		Symbol:         position.Symbol,
		Side:           order.Side,
		Quantity:       position.Quantity,
		Price:          price,
		Action:         domain.ActionClose,
		Leverage:       position.Leverage,
		NotionalValue:  calc.NotionalValue(position.Quantity, price),
		MarginImpact:   result.MarginReleased.Neg(),
		RealizedPnL:    &realizedPnL,
		RealizedPnLPct: &realizedPnLPct,
		ExecutedAt:     now,
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record close trade: %w", err)
	}

	participant.TotalTrades++
	switch result.RealizedPnL.Sign() {
	case 1:
		participant.WinningTrades++
	case -1:
		participant.LosingTrades++
	}

	order.Status = domain.OrderExecuted
	order.ExecutedPrice = &price
	order.ExecutedAt = &now
	order.Symbol = position.Symbol
	if err := tx.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("mark order executed: %w", err)
	}

	if err := manager.UpdateParticipantEquity(ctx, participant, portfolio.Equity); err != nil {
		return nil, err
	}
	return trade, nil
}
