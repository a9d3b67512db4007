package domain

import "time"

// Candle carries the bar fields of a point built from a kline.
type Candle struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
}

// PricePoint is a single point of the chart series.
// Price is the close for bars and the trade price for raw trades.
type PricePoint struct {
	// Timestamp milliseconds since epoch.
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	// Candle is nil for raw trades and live ticks.
	Candle *Candle `json:"candle,omitempty"`
	// IsLive marks a tick sourced from the price poll.
	IsLive bool `json:"isLive,omitempty"`
}

// NewLiveTick creates a live point for the polled price.
func NewLiveTick(at time.Time, price float64) PricePoint {
	return PricePoint{Timestamp: at.UnixMilli(), Price: price, IsLive: true}
}

// Time returns the point timestamp as time.Time.
func (p PricePoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// ChangeFrom returns the absolute and percent change of the point price against open.
// ok is false when open is zero.
func (p PricePoint) ChangeFrom(open float64) (change, percent float64, ok bool) {
	if open == 0 {
		return 0, 0, false
	}
	change = p.Price - open
	return change, change / open * 100, true
}

// LiveIndex returns the index of the live point in series or -1.
func LiveIndex(series []PricePoint) int {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].IsLive {
			return i
		}
	}
	return -1
}
