package synchronizer

import (
	"time"

	"github.com/vadiminshakov/spotsim/internal/domain"
)

// MergeLiveTick applies a polled price to the live series.
//
// If the series ends with a live point, that point is replaced in place, so the tail
// follows the price without growing the series. Otherwise a new live point is appended.
// The tick never goes back in time relative to the last point, which keeps timestamps
// non-decreasing when the local clock lags the exchange.
// The input slice is not modified. An empty series is returned unchanged.
func MergeLiveTick(series []domain.PricePoint, price float64, now time.Time) []domain.PricePoint {
	if len(series) == 0 {
		return series
	}

	tick := domain.NewLiveTick(now, price)
	history := series
	if series[len(series)-1].IsLive {
		history = series[:len(series)-1]
	}
	if len(history) > 0 && tick.Timestamp < history[len(history)-1].Timestamp {
		tick.Timestamp = history[len(history)-1].Timestamp
	}

	merged := make([]domain.PricePoint, 0, len(history)+1)
	merged = append(merged, history...)
	return append(merged, tick)
}

// CarryLiveTick returns fresh with the live point of prev re-appended, so a background
// refresh never drops the tick currently shown at the end of the line.
// fresh is expected to hold historical points only; the input slices are not modified.
func CarryLiveTick(prev, fresh []domain.PricePoint) []domain.PricePoint {
	idx := domain.LiveIndex(prev)
	if idx < 0 {
		return fresh
	}

	tick := prev[idx]
	if len(fresh) > 0 && tick.Timestamp < fresh[len(fresh)-1].Timestamp {
		tick.Timestamp = fresh[len(fresh)-1].Timestamp
	}

	carried := make([]domain.PricePoint, 0, len(fresh)+1)
	carried = append(carried, fresh...)
	return append(carried, tick)
}

// DeriveChange computes the 24h change from the current price and the daily open.
// Both results are nil until both inputs are known, and when open is zero.
func DeriveChange(current, open *float64) (change, percent *float64) {
	if current == nil || open == nil {
		return nil, nil
	}

	c, p, ok := domain.PricePoint{Price: *current}.ChangeFrom(*open)
	if !ok {
		return nil, nil
	}
	return &c, &p
}
