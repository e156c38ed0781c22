package market

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nykznykz/gauntlet/pkg/market/indicators"
)

// Timeframes packed into agent prompts, shortest first.
var promptTimeframes = []string{"1m", "5m", "15m", "1h"}

const (
	// candleFetchLimit is sized for indicator warmup (MACD needs the most).
	candleFetchLimit = 50
	// promptCandleCount bounds how many candles each timeframe shows the agent.
	promptCandleCount = 5
	// indicatorMinCandles is the floor under which indicators are reported null.
	indicatorMinCandles = 20
)

// Prices fetches the current price for every symbol, skipping symbols whose
// fetch fails. Failures are logged and tolerated; callers decide what a miss
// means.
func Prices(ctx context.Context, provider Provider, symbols []string) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		price, err := provider.Price(ctx, symbol)
		if err != nil {
			logx.WithContext(ctx).Slowf("market: price fetch failed symbol=%s error=%v", symbol, err)
			continue
		}
		prices[symbol] = price
	}
	return prices
}

// BuildSnapshot assembles the multi-timeframe market view for every symbol:
// per timeframe the last few candles plus the latest indicator values
// computed over a longer fetch window. A symbol whose price fetch fails still
// appears with a nil CurrentPrice so the agent sees the universe it may
// trade.
func BuildSnapshot(ctx context.Context, provider Provider, symbols []string) []SymbolSnapshot {
	snapshots := make([]SymbolSnapshot, 0, len(symbols))
	for _, symbol := range symbols {
		snapshot := SymbolSnapshot{
			Symbol:     symbol,
			Timeframes: make(map[string]TimeframeData, len(promptTimeframes)),
		}

		if price, err := provider.Price(ctx, symbol); err == nil {
			v, _ := price.Float64()
			snapshot.CurrentPrice = &v
		} else {
			logx.WithContext(ctx).Slowf("market: snapshot price failed symbol=%s error=%v", symbol, err)
		}

		for _, timeframe := range promptTimeframes {
			candles, err := provider.OHLCV(ctx, symbol, timeframe, candleFetchLimit)
			if err != nil {
				logx.WithContext(ctx).Slowf("market: snapshot klines failed symbol=%s timeframe=%s error=%v",
					symbol, timeframe, err)
				continue
			}
			snapshot.Timeframes[timeframe] = buildTimeframe(candles)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}

func buildTimeframe(candles []Candle) TimeframeData {
	data := TimeframeData{PriceHistory: candles}
	if len(candles) > promptCandleCount {
		data.PriceHistory = candles[len(candles)-promptCandleCount:]
	}
	if len(candles) < indicatorMinCandles {
		return data
	}

	closes := make([]float64, len(candles))
	for i, candle := range candles {
		closes[i] = candle.Close
	}

	macd, signal, hist := indicators.MACD(closes)
	data.Indicators = IndicatorSet{
		EMA20:         indicators.Latest(indicators.EMA(closes, 20)),
		RSI7:          indicators.Latest(indicators.RSI(closes, 7)),
		RSI14:         indicators.Latest(indicators.RSI(closes, 14)),
		MACD:          indicators.Latest(macd),
		MACDSignal:    indicators.Latest(signal),
		MACDHistogram: indicators.Latest(hist),
	}
	return data
}
