// Package exchange wraps the Binance USDT-M futures market data API and the
// force-order liquidation stream behind the narrow interfaces the analyzers
// consume.
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"futures-sentinel/internal/models"
)

// Client fetches market data over the futures REST API. Methods return
// (nil, nil) when the exchange answers with an empty result, which is
// distinct from a fetch error.
type Client struct {
	api *futures.Client
}

// NewClient builds a market data client. Keys may be empty; all consumed
// endpoints are public.
func NewClient(apiKey, secretKey string) *Client {
	return &Client{api: futures.NewClient(apiKey, secretKey)}
}

// Candles fetches up to limit chronological OHLCV bars.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s klines: %w", symbol, interval, err)
	}
	if len(klines) == 0 {
		return nil, nil
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		open, err1 := strconv.ParseFloat(k.Open, 64)
		high, err2 := strconv.ParseFloat(k.High, 64)
		low, err3 := strconv.ParseFloat(k.Low, 64)
		closePrice, err4 := strconv.ParseFloat(k.Close, 64)
		volume, err5 := strconv.ParseFloat(k.Volume, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return nil, fmt.Errorf("parse %s kline at %d: malformed numeric field", symbol, k.OpenTime)
		}
		quoteVolume, _ := strconv.ParseFloat(k.QuoteAssetVolume, 64)

		candles = append(candles, models.Candle{
			OpenTime:    time.UnixMilli(k.OpenTime),
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closePrice,
			Volume:      volume,
			QuoteVolume: quoteVolume,
		})
	}
	return candles, nil
}

// OrderBook fetches the top levels of the book: bids descending, asks
// ascending, as served by the exchange.
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (bids, asks []models.OrderBookLevel, err error) {
	res, err := c.api.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s depth: %w", symbol, err)
	}

	bids = make([]models.OrderBookLevel, 0, len(res.Bids))
	for _, lvl := range res.Bids {
		price, _ := strconv.ParseFloat(lvl.Price, 64)
		size, _ := strconv.ParseFloat(lvl.Quantity, 64)
		if price > 0 && size > 0 {
			bids = append(bids, models.OrderBookLevel{Price: price, Size: size})
		}
	}
	asks = make([]models.OrderBookLevel, 0, len(res.Asks))
	for _, lvl := range res.Asks {
		price, _ := strconv.ParseFloat(lvl.Price, 64)
		size, _ := strconv.ParseFloat(lvl.Quantity, 64)
		if price > 0 && size > 0 {
			asks = append(asks, models.OrderBookLevel{Price: price, Size: size})
		}
	}
	return bids, asks, nil
}

// RecentTrades fetches up to limit aggregated trades, newest-first. The
// aggressor side is derived from the buyer-is-maker flag.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	aggTrades, err := c.api.NewAggTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s trades: %w", symbol, err)
	}
	if len(aggTrades) == 0 {
		return nil, nil
	}

	trades := make([]models.Trade, 0, len(aggTrades))
	// The API returns oldest-first; reverse to newest-first for the tape
	// analyzers.
	for i := len(aggTrades) - 1; i >= 0; i-- {
		at := aggTrades[i]
		price, _ := strconv.ParseFloat(at.Price, 64)
		size, _ := strconv.ParseFloat(at.Quantity, 64)
		side := models.SideBuy
		if at.IsBuyerMaker {
			side = models.SideSell
		}
		trades = append(trades, models.Trade{
			ID:        at.AggTradeID,
			Timestamp: time.UnixMilli(at.Timestamp),
			Price:     price,
			Size:      size,
			Side:      side,
		})
	}
	return trades, nil
}

// FundingRate fetches the symbol's current funding rate from the premium
// index endpoint.
func (c *Client) FundingRate(ctx context.Context, symbol string) (float64, error) {
	indexes, err := c.api.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch %s premium index: %w", symbol, err)
	}
	if len(indexes) == 0 {
		return 0, fmt.Errorf("no premium index for %s", symbol)
	}
	rate, err := strconv.ParseFloat(indexes[0].LastFundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s funding rate %q: %w", symbol, indexes[0].LastFundingRate, err)
	}
	return rate, nil
}
