package invoker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/pkg/market"
)

// systemPrompt is the static half of every invocation: trading rules, CFD
// mechanics and the response grammar. The dynamic context travels in the
// user payload.
const systemPrompt = `You are an AI trading agent competing in a CFD trading competition. On each invocation you receive a JSON document describing the competition, your portfolio, current market data and the leaderboard. Decide your next action and reply with a single JSON document.

## CFD mechanics
- Positions are contracts for difference: you never hold the asset, only the exposure. Longs profit when price rises, shorts when it falls.
- Opening a position locks margin = (quantity * price) / leverage. Margin stays reserved until the position closes; your cash balance does not move on open.
- Unrealized P&L moves your equity tick by tick. Equity = cash + unrealized P&L.
- If your margin level (equity / margin_used * 100) falls below the maintenance threshold, ALL your positions are force-closed and you are out of the competition.
- Margin availability is the only sizing constraint. There is no per-position size cap.

## Orders
- "open" requires symbol, side ("buy" = long, "sell" = short), quantity and leverage. Optionally attach an exit_plan with profit_target, stop_loss and an invalidation note; it will be echoed back to you while the position is open.
- "close" requires the position_id exactly as listed in your portfolio. Side and quantity are inferred from the position when omitted.
- Orders are processed in array order. Each order is validated and executed independently; one rejected order does not cancel the others.

## Response format
Reply with JSON only (a fenced code block is acceptable):
{
  "decision": "trade" | "hold",
  "reasoning": "<= 500 characters",
  "confidence": 0.0-1.0 (optional),
  "orders": [
    {"action": "open", "symbol": "BTCUSDT", "side": "buy", "quantity": 0.05, "leverage": 2, "exit_plan": {"profit_target": 110000, "stop_loss": 95000, "invalidation": "..."}},
    {"action": "close", "position_id": "<uuid>"}
  ]
}
When you hold, send an empty orders array.`

// promptPosition is a position as the agent sees it, id included so it can
// close what it opened.
type promptPosition struct {
	PositionID       string           `json:"position_id"`
	Symbol           string           `json:"symbol"`
	AssetClass       string           `json:"asset_class"`
	Side             string           `json:"side"`
	Quantity         float64          `json:"quantity"`
	EntryPrice       float64          `json:"entry_price"`
	CurrentPrice     float64          `json:"current_price"`
	Leverage         float64          `json:"leverage"`
	NotionalValue    float64          `json:"notional_value"`
	UnrealizedPnL    float64          `json:"unrealized_pnl"`
	UnrealizedPnLPct float64          `json:"unrealized_pnl_pct"`
	MarginRequired   float64          `json:"margin_required"`
	OpenedAt         string           `json:"opened_at"`
	ExitPlan         *domain.ExitPlan `json:"your_original_exit_plan,omitempty"`
}

type promptPortfolio struct {
	CashBalance     float64          `json:"cash_balance"`
	Equity          float64          `json:"equity"`
	MarginUsed      float64          `json:"margin_used"`
	MarginAvailable float64          `json:"margin_available"`
	RealizedPnL     float64          `json:"realized_pnl"`
	UnrealizedPnL   float64          `json:"unrealized_pnl"`
	TotalPnL        float64          `json:"total_pnl"`
	CurrentLeverage float64          `json:"current_leverage"`
	Positions       []promptPosition `json:"positions"`
}

type promptCompetition struct {
	CompetitionName string `json:"competition_name"`
	CurrentTime     string `json:"current_time"`
	TimeRemaining   string `json:"time_remaining"`
}

type promptRules struct {
	MaxLeverage          float64  `json:"max_leverage"`
	MaintenanceMarginPct float64  `json:"maintenance_margin_pct"`
	AllowedAssetClasses  []string `json:"allowed_asset_classes"`
	MarketHoursOnly      bool     `json:"market_hours_only"`
}

type promptPayload struct {
	CompetitionContext promptCompetition         `json:"competition_context"`
	Portfolio          promptPortfolio           `json:"portfolio"`
	MarketData         []market.SymbolSnapshot   `json:"market_data"`
	TradingRules       promptRules               `json:"trading_rules"`
	Leaderboard        []domain.LeaderboardEntry `json:"leaderboard"`
}

// buildUserPayload assembles the dynamic JSON document handed to the agent.
func buildUserPayload(
	competition *domain.Competition,
	portfolio *domain.Portfolio,
	positions []domain.Position,
	snapshots []market.SymbolSnapshot,
	leaderboard []domain.LeaderboardEntry,
	now time.Time,
) ([]byte, error) {
	promptPositions := make([]promptPosition, 0, len(positions))
	for _, p := range positions {
		promptPositions = append(promptPositions, promptPosition{
			PositionID:       p.ID.String(),
			Symbol:           p.Symbol,
			AssetClass:       p.AssetClass,
			Side:             string(p.Side),
			Quantity:         toFloat(p.Quantity),
			EntryPrice:       toFloat(p.EntryPrice),
			CurrentPrice:     toFloat(p.CurrentPrice),
			Leverage:         toFloat(p.Leverage),
			NotionalValue:    toFloat(p.NotionalValue),
			UnrealizedPnL:    toFloat(p.UnrealizedPnL),
			UnrealizedPnLPct: toFloat(p.UnrealizedPnLPct),
			MarginRequired:   toFloat(p.MarginRequired),
			OpenedAt:         p.OpenedAt.UTC().Format(time.RFC3339),
			ExitPlan:         p.ExitPlan,
		})
	}

	payload := promptPayload{
		CompetitionContext: promptCompetition{
			CompetitionName: competition.Name,
			CurrentTime:     now.UTC().Format(time.RFC3339),
			TimeRemaining:   competition.EndTime.Sub(now).Truncate(time.Second).String(),
		},
		Portfolio: promptPortfolio{
			CashBalance:     toFloat(portfolio.CashBalance),
			Equity:          toFloat(portfolio.Equity),
			MarginUsed:      toFloat(portfolio.MarginUsed),
			MarginAvailable: toFloat(portfolio.MarginAvailable),
			RealizedPnL:     toFloat(portfolio.RealizedPnL),
			UnrealizedPnL:   toFloat(portfolio.UnrealizedPnL),
			TotalPnL:        toFloat(portfolio.TotalPnL),
			CurrentLeverage: toFloat(portfolio.CurrentLeverage),
			Positions:       promptPositions,
		},
		MarketData: snapshots,
		TradingRules: promptRules{
			MaxLeverage:          toFloat(competition.MaxLeverage),
			MaintenanceMarginPct: toFloat(competition.MaintenanceMarginPct),
			AllowedAssetClasses:  competition.AllowedAssetClasses,
			MarketHoursOnly:      competition.MarketHoursOnly,
		},
		Leaderboard: leaderboard,
	}

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("invoker: encode user payload: %w", err)
	}
	return encoded, nil
}

func toFloat(d decimal.Decimal) float64 { return d.InexactFloat64() }
