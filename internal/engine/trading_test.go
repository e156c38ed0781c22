package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/pkg/calc"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store       *memStore
	prices      *fakePrices
	engine      *TradingEngine
	manager     *PortfolioManager
	competition *domain.Competition
	participant *domain.Participant
	portfolio   *domain.Portfolio
}

// newFixture seeds one active competition with one participant holding
// 10,000 of capital under 10x max leverage and 5% maintenance margin.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	prices := newFakePrices()

	competition := &domain.Competition{
		ID:                   uuid.New(),
		Name:                 "alpha arena",
		Status:               domain.CompetitionActive,
		StartTime:            time.Now().Add(-time.Hour),
		EndTime:              time.Now().Add(24 * time.Hour),
		InitialCapital:       dec("10000"),
		MaxLeverage:          dec("10"),
		MaintenanceMarginPct: dec("5"),
		AllowedAssetClasses:  []string{"crypto"},
	}
	store.competitions[competition.ID] = competition

	participant := &domain.Participant{
		ID:             uuid.New(),
		CompetitionID:  competition.ID,
		Name:           "claude",
		AgentProvider:  "openai",
		AgentModel:     "gpt-4o",
		Status:         domain.ParticipantActive,
		InitialCapital: dec("10000"),
		CurrentEquity:  dec("10000"),
		PeakEquity:     dec("10000"),
	}
	store.participants[participant.ID] = participant

	manager := NewPortfolioManager(store, prices)
	portfolio, err := manager.CreatePortfolio(context.Background(), participant)
	require.NoError(t, err)

	return &fixture{
		store:       store,
		prices:      prices,
		engine:      NewTradingEngine(store, prices),
		manager:     manager,
		competition: competition,
		participant: participant,
		portfolio:   portfolio,
	}
}

func (f *fixture) reload(t *testing.T) {
	t.Helper()
	portfolio, err := f.store.PortfolioByParticipant(context.Background(), f.participant.ID)
	require.NoError(t, err)
	f.portfolio = portfolio
	participant, err := f.store.ParticipantByID(context.Background(), f.participant.ID)
	require.NoError(t, err)
	f.participant = participant
}

func (f *fixture) newOrder(symbol, side, quantity, leverage string) *domain.Order {
	return &domain.Order{
		ID:            uuid.New(),
		ParticipantID: f.participant.ID,
		CompetitionID: f.competition.ID,
		Symbol:        symbol,
		AssetClass:    "crypto",
		OrderType:     "market",
		Side:          side,
		Quantity:      dec(quantity),
		Leverage:      dec(leverage),
		Status:        domain.OrderPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// assertIdentities checks the §3 accounting identities against the stored
// position set.
func assertIdentities(t *testing.T, f *fixture) {
	t.Helper()
	positions, err := f.store.PositionsByPortfolio(context.Background(), f.portfolio.ID)
	require.NoError(t, err)

	marginUsed := decimal.Zero
	unrealized := decimal.Zero
	for _, p := range positions {
		marginUsed = marginUsed.Add(p.MarginRequired)
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	p := f.portfolio
	assert.True(t, p.Equity.Equal(p.CashBalance.Add(p.UnrealizedPnL)), "equity identity")
	assert.True(t, p.MarginUsed.Equal(marginUsed), "margin_used identity")
	assert.True(t, p.UnrealizedPnL.Equal(unrealized), "unrealized identity")
	assert.True(t, p.MarginAvailable.Equal(p.Equity.Sub(p.MarginUsed)), "margin_available identity")
	assert.True(t, p.TotalPnL.Equal(p.RealizedPnL.Add(p.UnrealizedPnL)), "total_pnl identity")
	if p.MarginUsed.Sign() == 0 {
		assert.Nil(t, p.MarginLevel)
	} else {
		require.NotNil(t, p.MarginLevel)
		assert.True(t, p.MarginLevel.Equal(p.Equity.Div(p.MarginUsed).Mul(dec("100"))))
	}
}

func TestOpenLongRevalueClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("BTCUSDT", "100000")

	order := f.newOrder("BTCUSDT", "buy", "0.05", "2")
	trade, err := f.engine.Execute(ctx, order, domain.ActionOpen, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, trade)
	f.reload(t)

	assert.True(t, f.portfolio.MarginUsed.Equal(dec("2500")), "margin_used = %s", f.portfolio.MarginUsed)
	assert.True(t, f.portfolio.MarginAvailable.Equal(dec("7500")))
	assert.True(t, f.portfolio.CashBalance.Equal(dec("10000")), "reserve model keeps cash untouched")
	assert.True(t, f.portfolio.Equity.Equal(dec("10000")))
	assertIdentities(t, f)

	// Mark-to-market at 105k.
	f.prices.set("BTCUSDT", "105000")
	positions, err := f.store.PositionsByPortfolio(ctx, f.portfolio.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	Revalue(&positions[0], dec("105000"))
	require.NoError(t, f.store.SavePosition(ctx, &positions[0]))
	require.NoError(t, f.manager.Update(ctx, f.portfolio))

	assert.True(t, f.portfolio.UnrealizedPnL.Equal(dec("250")))
	assert.True(t, f.portfolio.Equity.Equal(dec("10250")))
	require.NotNil(t, f.portfolio.MarginLevel)
	assert.True(t, f.portfolio.MarginLevel.Equal(dec("410")))
	assertIdentities(t, f)

	// Close at 105k.
	closeOrder := f.newOrder("BTCUSDT", "sell", "0.05", "2")
	positionID := positions[0].ID
	trade, err = f.engine.Execute(ctx, closeOrder, domain.ActionClose, &positionID, nil)
	require.NoError(t, err)
	require.NotNil(t, trade)
	f.reload(t)

	require.NotNil(t, trade.RealizedPnL)
	assert.True(t, trade.RealizedPnL.Equal(dec("250")))
	assert.Nil(t, trade.PositionID, "close trades drop the position reference")
	assert.True(t, trade.MarginImpact.Equal(dec("-2500")))
	assert.True(t, f.portfolio.CashBalance.Equal(dec("10250")))
	assert.True(t, f.portfolio.MarginUsed.IsZero())
	assert.True(t, f.portfolio.Equity.Equal(dec("10250")))
	assert.Equal(t, 1, f.participant.TotalTrades)
	assert.Equal(t, 1, f.participant.WinningTrades)
	assert.Equal(t, 0, f.participant.LosingTrades)
	assertIdentities(t, f)
}

func TestShortWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("ETHUSDT", "4000")

	order := f.newOrder("ETHUSDT", "sell", "1", "5")
	_, err := f.engine.Execute(ctx, order, domain.ActionOpen, nil, nil)
	require.NoError(t, err)
	f.reload(t)

	positions, err := f.store.PositionsByPortfolio(ctx, f.portfolio.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, calc.SideShort, positions[0].Side)

	Revalue(&positions[0], dec("3800"))
	require.NoError(t, f.store.SavePosition(ctx, &positions[0]))
	require.NoError(t, f.manager.Update(ctx, f.portfolio))
	assert.True(t, f.portfolio.UnrealizedPnL.Equal(dec("200")))

	f.prices.set("ETHUSDT", "3800")
	closeOrder := f.newOrder("ETHUSDT", "buy", "1", "5")
	positionID := positions[0].ID
	trade, err := f.engine.Execute(ctx, closeOrder, domain.ActionClose, &positionID, nil)
	require.NoError(t, err)
	require.NotNil(t, trade.RealizedPnL)
	assert.True(t, trade.RealizedPnL.Equal(dec("200")))
}

func TestOpenThenCloseFlatIsBreakEven(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("BTCUSDT", "100000")

	order := f.newOrder("BTCUSDT", "buy", "0.05", "2")
	_, err := f.engine.Execute(ctx, order, domain.ActionOpen, nil, nil)
	require.NoError(t, err)

	positions, err := f.store.PositionsByPortfolio(ctx, f.portfolio.ID)
	require.NoError(t, err)
	positionID := positions[0].ID

	closeOrder := f.newOrder("BTCUSDT", "sell", "0.05", "2")
	trade, err := f.engine.Execute(ctx, closeOrder, domain.ActionClose, &positionID, nil)
	require.NoError(t, err)
	f.reload(t)

	assert.True(t, trade.RealizedPnL.IsZero())
	assert.True(t, f.portfolio.CashBalance.Equal(dec("10000")))
	assert.True(t, f.portfolio.MarginUsed.IsZero())
	assert.True(t, f.portfolio.Equity.Equal(dec("10000")))
	// A break-even close counts as neither win nor loss.
	assert.Equal(t, 1, f.participant.TotalTrades)
	assert.Equal(t, 0, f.participant.WinningTrades)
	assert.Equal(t, 0, f.participant.LosingTrades)
}

func TestValidateInsufficientMargin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("BTCUSDT", "100000")

	// Lock 2500 of margin first so only 7500 remains.
	order := f.newOrder("BTCUSDT", "buy", "0.05", "2")
	_, err := f.engine.Execute(ctx, order, domain.ActionOpen, nil, nil)
	require.NoError(t, err)
	f.reload(t)

	ok, reason := f.engine.Validate(ctx, ValidateInput{
		Participant: f.participant,
		Competition: f.competition,
		Portfolio:   f.portfolio,
		Symbol:      "BTCUSDT",
		Side:        "buy",
		Quantity:    dec("0.2"),
		Leverage:    dec("2"),
		Action:      domain.ActionOpen,
	})
	assert.False(t, ok)
	assert.Contains(t, reason, "Insufficient margin")
}

func TestValidateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("BTCUSDT", "100000")

	t.Run("leverage above competition cap", func(t *testing.T) {
		ok, reason := f.engine.Validate(ctx, ValidateInput{
			Participant: f.participant,
			Competition: f.competition,
			Portfolio:   f.portfolio,
			Symbol:      "BTCUSDT",
			Quantity:    dec("0.01"),
			Leverage:    dec("20"),
			Action:      domain.ActionOpen,
		})
		assert.False(t, ok)
		assert.Contains(t, reason, "exceeds max")
	})

	t.Run("price feed miss", func(t *testing.T) {
		ok, reason := f.engine.Validate(ctx, ValidateInput{
			Participant: f.participant,
			Competition: f.competition,
			Portfolio:   f.portfolio,
			Symbol:      "DOGEUSDT",
			Quantity:    dec("1"),
			Leverage:    dec("2"),
			Action:      domain.ActionOpen,
		})
		assert.False(t, ok)
		assert.Contains(t, reason, "Could not fetch price")
	})

	t.Run("close without position id", func(t *testing.T) {
		ok, reason := f.engine.Validate(ctx, ValidateInput{
			Participant: f.participant,
			Competition: f.competition,
			Portfolio:   f.portfolio,
			Symbol:      "BTCUSDT",
			Action:      domain.ActionClose,
		})
		assert.False(t, ok)
		assert.Contains(t, reason, "Position ID required")
	})

	t.Run("unknown position", func(t *testing.T) {
		missing := uuid.New()
		ok, reason := f.engine.Validate(ctx, ValidateInput{
			Participant: f.participant,
			Competition: f.competition,
			Portfolio:   f.portfolio,
			Symbol:      "BTCUSDT",
			Action:      domain.ActionClose,
			PositionID:  &missing,
		})
		assert.False(t, ok)
		assert.Contains(t, reason, "not found")
	})

	t.Run("foreign position", func(t *testing.T) {
		foreign := NewPosition(&domain.Portfolio{ID: uuid.New(), ParticipantID: uuid.New()},
			"BTCUSDT", "crypto", calc.SideLong, dec("0.01"), dec("100000"), dec("2"), nil)
		require.NoError(t, f.store.InsertPosition(ctx, foreign))

		ok, reason := f.engine.Validate(ctx, ValidateInput{
			Participant: f.participant,
			Competition: f.competition,
			Portfolio:   f.portfolio,
			Symbol:      "BTCUSDT",
			Action:      domain.ActionClose,
			PositionID:  &foreign.ID,
		})
		assert.False(t, ok)
		assert.Contains(t, reason, "does not belong")
	})

	t.Run("inactive participant", func(t *testing.T) {
		liquidated := *f.participant
		liquidated.Status = domain.ParticipantLiquidated
		ok, reason := f.engine.Validate(ctx, ValidateInput{
			Participant: &liquidated,
			Competition: f.competition,
			Portfolio:   f.portfolio,
			Symbol:      "BTCUSDT",
			Quantity:    dec("0.01"),
			Leverage:    dec("2"),
			Action:      domain.ActionOpen,
		})
		assert.False(t, ok)
		assert.Contains(t, reason, "liquidated")
	})
}

func TestCloseUsesStoredPositionSymbol(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("ETHUSDT", "4000")
	f.prices.set("BTCUSDT", "100000")

	order := f.newOrder("ETHUSDT", "buy", "1", "2")
	_, err := f.engine.Execute(ctx, order, domain.ActionOpen, nil, nil)
	require.NoError(t, err)

	positions, err := f.store.PositionsByPortfolio(ctx, f.portfolio.ID)
	require.NoError(t, err)
	positionID := positions[0].ID

	f.prices.set("ETHUSDT", "4100")

	// The agent names the wrong symbol; the stored position wins.
	closeOrder := f.newOrder("BTCUSDT", "sell", "1", "2")
	trade, err := f.engine.Execute(ctx, closeOrder, domain.ActionClose, &positionID, nil)
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, "ETHUSDT", trade.Symbol)
	assert.True(t, trade.Price.Equal(dec("4100")), "filled at the ETH price, not BTC")
	assert.True(t, trade.RealizedPnL.Equal(dec("100")))

	_, err = f.store.PositionByID(ctx, positionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteRejectsOnPriceMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder("BTCUSDT", "buy", "0.05", "2")
	trade, err := f.engine.Execute(ctx, order, domain.ActionOpen, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, trade)

	stored := f.store.orders[order.ID]
	require.NotNil(t, stored)
	assert.Equal(t, domain.OrderRejected, stored.Status)
	assert.Equal(t, "Could not fetch market price", stored.RejectionReason)
	assert.Empty(t, f.store.trades)
}

func TestExecuteReturnsErrorOnTradeInsertFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("BTCUSDT", "100000")
	f.store.failInsertTrade = true

	order := f.newOrder("BTCUSDT", "buy", "0.05", "2")
	_, err := f.engine.Execute(ctx, order, domain.ActionOpen, nil, nil)
	assert.Error(t, err)
}

func TestLiquidationSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("BTCUSDT", "100000")

	// Open 1 BTC at 10x: margin_used = 10,000, entire equity locked.
	order := f.newOrder("BTCUSDT", "buy", "1", "10")
	_, err := f.engine.Execute(ctx, order, domain.ActionOpen, nil, nil)
	require.NoError(t, err)
	f.reload(t)
	require.True(t, f.portfolio.MarginUsed.Equal(dec("10000")))

	// Price falls 6%: equity 4,000, margin level 40% < 50% threshold.
	f.prices.set("BTCUSDT", "94000")
	positions, err := f.store.PositionsByPortfolio(ctx, f.portfolio.ID)
	require.NoError(t, err)
	Revalue(&positions[0], dec("94000"))
	require.NoError(t, f.store.SavePosition(ctx, &positions[0]))
	require.NoError(t, f.manager.Update(ctx, f.portfolio))
	require.True(t, f.portfolio.Equity.Equal(dec("4000")))
	require.NotNil(t, f.portfolio.MarginLevel)
	require.True(t, f.portfolio.MarginLevel.Equal(dec("40")))

	liquidated, err := f.manager.CheckAndLiquidate(ctx, f.participant, f.portfolio, f.competition)
	require.NoError(t, err)
	assert.True(t, liquidated)

	f.reload(t)
	assert.Equal(t, domain.ParticipantLiquidated, f.participant.Status)
	assert.True(t, f.portfolio.MarginUsed.IsZero())
	remaining, err := f.store.PositionsByPortfolio(ctx, f.portfolio.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.True(t, f.portfolio.Equity.Equal(dec("4000")))
	assertIdentities(t, f)
}

func TestHealthyPortfolioIsNotLiquidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("BTCUSDT", "100000")

	order := f.newOrder("BTCUSDT", "buy", "0.05", "2")
	_, err := f.engine.Execute(ctx, order, domain.ActionOpen, nil, nil)
	require.NoError(t, err)
	f.reload(t)

	liquidated, err := f.manager.CheckAndLiquidate(ctx, f.participant, f.portfolio, f.competition)
	require.NoError(t, err)
	assert.False(t, liquidated)
	assert.Equal(t, domain.ParticipantActive, f.participant.Status)
}

func TestLiquidatedParticipantIsNeverRevisited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.participant.Status = domain.ParticipantLiquidated
	f.portfolio.MarginUsed = dec("10000")
	f.portfolio.Equity = dec("1000")

	liquidated, err := f.manager.CheckAndLiquidate(ctx, f.participant, f.portfolio, f.competition)
	require.NoError(t, err)
	assert.False(t, liquidated)
}

func TestLiquidationSkipsSymbolsWithoutPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("BTCUSDT", "100000")
	f.prices.set("ETHUSDT", "4000")

	_, err := f.engine.Execute(ctx, f.newOrder("BTCUSDT", "buy", "0.5", "10"), domain.ActionOpen, nil, nil)
	require.NoError(t, err)
	_, err = f.engine.Execute(ctx, f.newOrder("ETHUSDT", "buy", "12.5", "10"), domain.ActionOpen, nil, nil)
	require.NoError(t, err)
	f.reload(t)

	// Crash both marks, then lose the ETH feed.
	positions, err := f.store.PositionsByPortfolio(ctx, f.portfolio.ID)
	require.NoError(t, err)
	for i := range positions {
		switch positions[i].Symbol {
		case "BTCUSDT":
			Revalue(&positions[i], dec("94000"))
		case "ETHUSDT":
			Revalue(&positions[i], dec("3760"))
		}
		require.NoError(t, f.store.SavePosition(ctx, &positions[i]))
	}
	require.NoError(t, f.manager.Update(ctx, f.portfolio))
	f.prices.set("BTCUSDT", "94000")
	delete(f.prices.prices, "ETHUSDT")

	liquidated, err := f.manager.CheckAndLiquidate(ctx, f.participant, f.portfolio, f.competition)
	require.NoError(t, err)
	assert.True(t, liquidated)

	// The unpriced ETH position stays open; BTC closed.
	remaining, err := f.store.PositionsByPortfolio(ctx, f.portfolio.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "ETHUSDT", remaining[0].Symbol)
	assertIdentities(t, f)
}
