// Package calc provides the pure arithmetic kernel for CFD accounting:
// notional value, margin, P&L, equity, margin level, leverage and the
// liquidation predicate. Every function is total over decimals.
package calc

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// MarginLevelUndefined is the sentinel returned by MarginLevel when no margin
// is in use. Effectively infinite.
var MarginLevelUndefined = decimal.NewFromInt(9999)

// Side identifies the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// NotionalValue returns the face value of an exposure: quantity * price.
func NotionalValue(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price)
}

// MarginRequired returns the collateral locked for a position.
func MarginRequired(notional, leverage decimal.Decimal) decimal.Decimal {
	return notional.Div(leverage)
}

// UnrealizedPnL returns the mark-to-market P&L of a position.
// Longs profit when price rises, shorts when it falls.
func UnrealizedPnL(side Side, quantity, entryPrice, currentPrice decimal.Decimal) decimal.Decimal {
	if side == SideShort {
		return quantity.Mul(entryPrice.Sub(currentPrice))
	}
	return quantity.Mul(currentPrice.Sub(entryPrice))
}

// PnLPercentage expresses pnl as a percentage of base. Zero when base is zero.
func PnLPercentage(pnl, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(base).Mul(hundred)
}

// Equity returns the current account value: cash plus unrealized P&L.
func Equity(cashBalance, unrealizedPnL decimal.Decimal) decimal.Decimal {
	return cashBalance.Add(unrealizedPnL)
}

// MarginLevel returns equity / marginUsed * 100, the solvency gauge.
// When marginUsed is zero there is nothing to measure against and the
// MarginLevelUndefined sentinel is returned.
func MarginLevel(equity, marginUsed decimal.Decimal) decimal.Decimal {
	if marginUsed.IsZero() {
		return MarginLevelUndefined
	}
	return equity.Div(marginUsed).Mul(hundred)
}

// CurrentLeverage returns total notional exposure over equity. Zero when
// equity is zero.
func CurrentLeverage(totalNotional, equity decimal.Decimal) decimal.Decimal {
	if equity.IsZero() {
		return decimal.Zero
	}
	return totalNotional.Div(equity)
}

// InitialMarginPct derives the initial margin percentage implied by the
// competition's leverage ceiling: 100 / maxLeverage.
func InitialMarginPct(maxLeverage decimal.Decimal) decimal.Decimal {
	return hundred.Div(maxLeverage)
}

// CheckLiquidation reports whether the margin level has fallen below the
// liquidation threshold (maintenanceMarginPct / initialMarginPct) * 100.
func CheckLiquidation(marginLevel, maintenanceMarginPct, initialMarginPct decimal.Decimal) bool {
	threshold := maintenanceMarginPct.Div(initialMarginPct).Mul(hundred)
	return marginLevel.LessThan(threshold)
}

// WinRate returns winning trades as a percentage of total. Zero when no
// trades have closed yet.
func WinRate(winningTrades, totalTrades int) decimal.Decimal {
	if totalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(winningTrades)).
		Div(decimal.NewFromInt(int64(totalTrades))).
		Mul(hundred)
}
