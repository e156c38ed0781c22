package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/pkg/calc"
)

func testPortfolio() *domain.Portfolio {
	return &domain.Portfolio{ID: uuid.New(), ParticipantID: uuid.New()}
}

func TestNewPositionFreezesMargin(t *testing.T) {
	p := NewPosition(testPortfolio(), "BTCUSDT", "crypto", calc.SideLong,
		dec("0.05"), dec("100000"), dec("2"), nil)

	assert.True(t, p.MarginRequired.Equal(dec("2500")))
	assert.True(t, p.NotionalValue.Equal(dec("5000")))
	assert.True(t, p.UnrealizedPnL.IsZero())
	assert.True(t, p.CurrentPrice.Equal(p.EntryPrice))
}

func TestRevalueKeepsMarginLock(t *testing.T) {
	p := NewPosition(testPortfolio(), "BTCUSDT", "crypto", calc.SideLong,
		dec("0.05"), dec("100000"), dec("2"), nil)

	Revalue(p, dec("105000"))
	assert.True(t, p.CurrentPrice.Equal(dec("105000")))
	assert.True(t, p.NotionalValue.Equal(dec("5250")))
	assert.True(t, p.UnrealizedPnL.Equal(dec("250")))
	assert.True(t, p.UnrealizedPnLPct.Equal(dec("5")))
	assert.True(t, p.MarginRequired.Equal(dec("2500")), "margin is the entry-time lock")
}

func TestStageCloseRoundTrips(t *testing.T) {
	t.Run("long at entry*(1+r)", func(t *testing.T) {
		// r = 5%: realized = qty * entry * r.
		p := NewPosition(testPortfolio(), "BTCUSDT", "crypto", calc.SideLong,
			dec("0.05"), dec("100000"), dec("2"), nil)
		result := StageClose(p, dec("105000"))
		assert.True(t, result.RealizedPnL.Equal(dec("250")))
		assert.True(t, result.RealizedPnLPct.Equal(dec("5")))
		assert.True(t, result.MarginReleased.Equal(dec("2500")))
	})

	t.Run("short at entry*(1-r)", func(t *testing.T) {
		p := NewPosition(testPortfolio(), "ETHUSDT", "crypto", calc.SideShort,
			dec("1"), dec("4000"), dec("5"), nil)
		result := StageClose(p, dec("3800"))
		assert.True(t, result.RealizedPnL.Equal(dec("200")))
		assert.True(t, result.MarginReleased.Equal(dec("800")))
	})

	t.Run("flat close realizes zero", func(t *testing.T) {
		p := NewPosition(testPortfolio(), "ETHUSDT", "crypto", calc.SideShort,
			dec("1"), dec("4000"), dec("5"), nil)
		result := StageClose(p, dec("4000"))
		assert.True(t, result.RealizedPnL.IsZero())
	})
}

func TestLeverageChangesMarginNotPnL(t *testing.T) {
	low := NewPosition(testPortfolio(), "BTCUSDT", "crypto", calc.SideLong,
		dec("0.1"), dec("100000"), dec("2"), nil)
	high := NewPosition(testPortfolio(), "BTCUSDT", "crypto", calc.SideLong,
		dec("0.1"), dec("100000"), dec("10"), nil)

	require.True(t, low.MarginRequired.Div(high.MarginRequired).Equal(dec("5")))

	Revalue(low, dec("101000"))
	Revalue(high, dec("101000"))
	assert.True(t, low.UnrealizedPnL.Equal(high.UnrealizedPnL))
}

func TestSideMapping(t *testing.T) {
	assert.Equal(t, calc.SideLong, SideFromOrder("buy"))
	assert.Equal(t, calc.SideShort, SideFromOrder("sell"))
	assert.Equal(t, "sell", ClosingSide(calc.SideLong))
	assert.Equal(t, "buy", ClosingSide(calc.SideShort))
}
