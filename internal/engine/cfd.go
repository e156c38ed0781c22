// Package engine implements the simulation core: CFD position lifecycle,
// portfolio accounting and order execution.
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/pkg/calc"
)

// CloseResult summarizes a staged close: the realized P&L carried into cash
// and the margin lock that the position's removal frees.
type CloseResult struct {
	RealizedPnL    decimal.Decimal
	RealizedPnLPct decimal.Decimal
	MarginReleased decimal.Decimal
}

// NewPosition builds an open CFD exposure. Margin is frozen from the entry
// notional; the mark starts at the entry price so unrealized P&L opens at
// zero.
func NewPosition(
	portfolio *domain.Portfolio,
	symbol, assetClass string,
	side calc.Side,
	quantity, entryPrice, leverage decimal.Decimal,
	exitPlan *domain.ExitPlan,
) *domain.Position {
	entryNotional := calc.NotionalValue(quantity, entryPrice)
	return &domain.Position{
		ID:             uuid.New(),
		PortfolioID:    portfolio.ID,
		ParticipantID:  portfolio.ParticipantID,
		Symbol:         symbol,
		AssetClass:     assetClass,
		Side:           side,
		Quantity:       quantity,
		EntryPrice:     entryPrice,
		CurrentPrice:   entryPrice,
		Leverage:       leverage,
		MarginRequired: calc.MarginRequired(entryNotional, leverage),
		NotionalValue:  entryNotional,
		UnrealizedPnL:  decimal.Zero,
		ExitPlan:       exitPlan,
		OpenedAt:       time.Now().UTC(),
	}
}

// Revalue restates a position at a new market price. The margin lock is the
// entry-time value and is deliberately not recomputed.
func Revalue(position *domain.Position, newPrice decimal.Decimal) {
	position.CurrentPrice = newPrice
	position.NotionalValue = calc.NotionalValue(position.Quantity, newPrice)
	position.UnrealizedPnL = calc.UnrealizedPnL(position.Side, position.Quantity, position.EntryPrice, newPrice)
	entryValue := calc.NotionalValue(position.Quantity, position.EntryPrice)
	position.UnrealizedPnLPct = calc.PnLPercentage(position.UnrealizedPnL, entryValue)
}

// StageClose applies a final revaluation at the close price and returns the
// realized outcome. The position row itself is not touched; the caller owns
// the transaction in which the row removal and the portfolio update land
// together.
func StageClose(position *domain.Position, closePrice decimal.Decimal) CloseResult {
	Revalue(position, closePrice)
	return CloseResult{
		RealizedPnL:    position.UnrealizedPnL,
		RealizedPnLPct: position.UnrealizedPnLPct,
		MarginReleased: position.MarginRequired,
	}
}

// SideFromOrder canonicalizes an order side into a position side:
// buy opens long, sell opens short.
func SideFromOrder(orderSide string) calc.Side {
	if orderSide == "sell" {
		return calc.SideShort
	}
	return calc.SideLong
}

// ClosingSide returns the order side that flattens a position.
func ClosingSide(side calc.Side) string {
	if side == calc.SideLong {
		return "sell"
	}
	return "buy"
}
