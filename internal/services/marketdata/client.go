// Package marketdata fetches prices, trades and klines from a Binance compatible API
// and maps them into chart points. It keeps no state and never retries.
package marketdata

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/spotsim/internal/domain"
)

const dailyInterval = "1d"

// Client implements the market data source for a single pair.
type Client struct {
	api  *binance.Client
	pair domain.Pair
}

// NewClient creates a market data client for pair.
func NewClient(api *binance.Client, pair domain.Pair) *Client {
	return &Client{api: api, pair: pair}
}

// FetchScalarPrice returns the latest ticker price.
func (c *Client) FetchScalarPrice(ctx context.Context) (float64, error) {
	const op = "fetch price"

	prices, err := c.api.NewListPricesService().Symbol(c.pair.Symbol()).Do(ctx)
	if err != nil {
		return 0, classify(op, err)
	}
	if len(prices) == 0 {
		return 0, &ParseError{Op: op, Err: errors.Errorf("empty prices for %s", c.pair.String())}
	}

	price, err := parseFloat(prices[0].Price, "price")
	if err != nil {
		return 0, &ParseError{Op: op, Err: err}
	}
	return price, nil
}

// FetchSeries returns the series for r: raw trades for the live range, bars otherwise.
func (c *Client) FetchSeries(ctx context.Context, r domain.Range) ([]domain.PricePoint, error) {
	if r.IsLive() {
		return c.fetchTrades(ctx, domain.LiveTradeLimit)
	}

	res, ok := r.Resolution()
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownRange, "%q", string(r))
	}
	return c.fetchBars(ctx, res.Interval, res.Limit)
}

// FetchDailyOpen returns the open of the latest daily bar.
func (c *Client) FetchDailyOpen(ctx context.Context) (float64, error) {
	bars, err := c.fetchBars(ctx, dailyInterval, 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 || bars[0].Candle == nil {
		return 0, &ParseError{Op: "fetch daily open", Err: errors.New("no daily bar returned")}
	}
	return bars[0].Candle.Open, nil
}

func (c *Client) fetchTrades(ctx context.Context, limit int) ([]domain.PricePoint, error) {
	const op = "fetch trades"

	trades, err := c.api.NewRecentTradesService().
		Symbol(c.pair.Symbol()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify(op, err)
	}

	points := make([]domain.PricePoint, len(trades))
	for i, t := range trades {
		price, err := parseFloat(t.Price, "price")
		if err != nil {
			return nil, &ParseError{Op: op, Err: errors.Wrapf(err, "trade at index %d", i)}
		}
		if i > 0 && t.Time < points[i-1].Timestamp {
			return nil, &ParseError{Op: op, Err: errors.Errorf("trade at index %d is older than its predecessor", i)}
		}
		points[i] = domain.PricePoint{Timestamp: t.Time, Price: price}
	}

	return points, nil
}

func (c *Client) fetchBars(ctx context.Context, interval string, limit int) ([]domain.PricePoint, error) {
	op := "fetch klines " + interval

	klines, err := c.api.NewKlinesService().
		Symbol(c.pair.Symbol()).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}

	points := make([]domain.PricePoint, len(klines))
	for i, k := range klines {
		point, err := barToPoint(k)
		if err != nil {
			return nil, &ParseError{Op: op, Err: errors.Wrapf(err, "kline at index %d", i)}
		}
		if i > 0 && point.Timestamp <= points[i-1].Timestamp {
			return nil, &ParseError{Op: op, Err: errors.Errorf("kline at index %d is not after its predecessor", i)}
		}
		points[i] = point
	}

	return points, nil
}

// barToPoint maps a kline into a point: close becomes the price.
func barToPoint(k *binance.Kline) (domain.PricePoint, error) {
	open, err := parseFloat(k.Open, "open")
	if err != nil {
		return domain.PricePoint{}, err
	}
	high, err := parseFloat(k.High, "high")
	if err != nil {
		return domain.PricePoint{}, err
	}
	low, err := parseFloat(k.Low, "low")
	if err != nil {
		return domain.PricePoint{}, err
	}
	closePrice, err := parseFloat(k.Close, "close")
	if err != nil {
		return domain.PricePoint{}, err
	}
	volume, err := parseFloat(k.Volume, "volume")
	if err != nil {
		return domain.PricePoint{}, err
	}

	return domain.PricePoint{
		Timestamp: k.OpenTime,
		Price:     closePrice,
		Candle: &domain.Candle{
			Open:   open,
			High:   high,
			Low:    low,
			Volume: volume,
		},
	}, nil
}

func parseFloat(s, field string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse %s", field)
	}
	return v, nil
}
