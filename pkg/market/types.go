// Package market defines the market-data contract consumed by the trading
// runtime: spot prices, 24h tickers and OHLCV candles, plus the
// multi-timeframe snapshot packed into agent prompts.
package market

import (
	"context"

	"github.com/shopspring/decimal"
)

// Provider is an abstract market data source.
type Provider interface {
	// Price returns the current last price for a symbol.
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	// Ticker returns 24h rolling statistics for a symbol.
	Ticker(ctx context.Context, symbol string) (*Ticker, error)
	// OHLCV returns up to limit candles for the timeframe, oldest first.
	OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// Ticker holds 24h rolling statistics for a symbol.
type Ticker struct {
	Symbol       string          `json:"symbol"`
	Last         decimal.Decimal `json:"last"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	High24h      decimal.Decimal `json:"high_24h"`
	Low24h       decimal.Decimal `json:"low_24h"`
	Volume24h    decimal.Decimal `json:"volume_24h"`
	ChangePct24h decimal.Decimal `json:"change_24h_pct"`
}

// Candle is one OHLCV bar. Timestamp is the bar open time in epoch
// milliseconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// IndicatorSet carries the latest value of each prompt indicator. A nil
// field means the timeframe had too little history to compute it.
type IndicatorSet struct {
	EMA20         *float64 `json:"ema_20"`
	RSI7          *float64 `json:"rsi_7"`
	RSI14         *float64 `json:"rsi_14"`
	MACD          *float64 `json:"macd"`
	MACDSignal    *float64 `json:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram"`
}

// TimeframeData is the per-timeframe slice of a symbol snapshot: the last
// few candles plus the latest indicator values computed over a longer fetch.
type TimeframeData struct {
	PriceHistory []Candle     `json:"price_history"`
	Indicators   IndicatorSet `json:"technical_indicators"`
}

// SymbolSnapshot is the multi-timeframe market view for one symbol.
type SymbolSnapshot struct {
	Symbol       string                   `json:"symbol"`
	CurrentPrice *float64                 `json:"current_price"`
	Timeframes   map[string]TimeframeData `json:"timeframes"`
}
