package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/collection"
)

// BinanceProvider serves spot market data from the Binance public REST API.
// No API key is required for the endpoints it uses. Prices are cached with a
// short TTL so the mark-to-market sweep and the decision sweep don't hammer
// the exchange.
type BinanceProvider struct {
	cfg        *Config
	httpClient *http.Client
	priceCache *collection.Cache
}

// BinanceOption customises the provider.
type BinanceOption func(*BinanceProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) BinanceOption {
	return func(p *BinanceProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// NewBinanceProvider constructs a provider from the supplied configuration.
func NewBinanceProvider(cfg *Config, opts ...BinanceOption) (*BinanceProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("market: config is required")
	}
	cache, err := collection.NewCache(cfg.PriceCacheTTL, collection.WithName("binance-price"))
	if err != nil {
		return nil, fmt.Errorf("market: init price cache: %w", err)
	}
	p := &BinanceProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		priceCache: cache,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Price returns the last traded price for a symbol, served from the TTL
// cache when fresh.
func (p *BinanceProvider) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	cached, err := p.priceCache.Take("price:"+symbol, func() (any, error) {
		return p.fetchPrice(ctx, symbol)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return cached.(decimal.Decimal), nil
}

// Ticker returns 24h rolling statistics for a symbol.
func (p *BinanceProvider) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	var raw struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		BidPrice           string `json:"bidPrice"`
		AskPrice           string `json:"askPrice"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := p.getJSON(ctx, "/api/v3/ticker/24hr", url.Values{"symbol": {symbol}}, &raw); err != nil {
		return nil, err
	}

	ticker := &Ticker{Symbol: symbol}
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&ticker.Last, raw.LastPrice},
		{&ticker.Bid, raw.BidPrice},
		{&ticker.Ask, raw.AskPrice},
		{&ticker.High24h, raw.HighPrice},
		{&ticker.Low24h, raw.LowPrice},
		{&ticker.Volume24h, raw.QuoteVolume},
		{&ticker.ChangePct24h, raw.PriceChangePercent},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("market: ticker %s: bad decimal %q", symbol, f.src)
		}
		*f.dst = value
	}
	return ticker, nil
}

// OHLCV returns up to limit candles for the timeframe, oldest first. Binance
// kline rows are heterogeneous arrays; only the OHLCV columns are kept.
func (p *BinanceProvider) OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows [][]json.RawMessage
	query := url.Values{
		"symbol":   {symbol},
		"interval": {timeframe},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := p.getJSON(ctx, "/api/v3/klines", query, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("market: klines %s: short row (%d columns)", symbol, len(row))
		}
		var candle Candle
		if err := json.Unmarshal(row[0], &candle.Timestamp); err != nil {
			return nil, fmt.Errorf("market: klines %s: open time: %w", symbol, err)
		}
		cols := []struct {
			dst *float64
			raw json.RawMessage
		}{
			{&candle.Open, row[1]},
			{&candle.High, row[2]},
			{&candle.Low, row[3]},
			{&candle.Close, row[4]},
			{&candle.Volume, row[5]},
		}
		for _, col := range cols {
			var s string
			if err := json.Unmarshal(col.raw, &s); err != nil {
				return nil, fmt.Errorf("market: klines %s: %w", symbol, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("market: klines %s: bad number %q", symbol, s)
			}
			*col.dst = v
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func (p *BinanceProvider) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var raw struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := p.getJSON(ctx, "/api/v3/ticker/price", url.Values{"symbol": {symbol}}, &raw); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("market: price %s: bad decimal %q", symbol, raw.Price)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("market: price %s: non-positive %s", symbol, price)
	}
	return price, nil
}

func (p *BinanceProvider) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := p.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("market: build request %s: %w", path, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("market: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("market: get %s: http %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("market: decode %s: %w", path, err)
	}
	return nil
}
