package window

import (
	"sync"

	"github.com/vadiminshakov/spotsim/internal/domain"
)

// Controller holds the window of a single chart.
// It never fails; every operation is total over its inputs.
type Controller struct {
	mu         sync.Mutex
	window     Window
	generation uint64
}

// NewController creates a controller showing the full series.
func NewController() *Controller {
	return &Controller{window: Full()}
}

// Window returns the current window.
func (c *Controller) Window() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// Zoomed reports whether a brush selection is active.
func (c *Controller) Zoomed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.window.IsFull()
}

// Reset restores the full window.
func (c *Controller) Reset() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = Full()
	return c.window
}

// Brush zooms to the points between the indices start and end, both inclusive.
// Indices are clamped into the series and swapped when reversed.
// An empty series leaves the window unchanged.
func (c *Controller) Brush(series []domain.PricePoint, start, end int) Window {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(series) == 0 {
		return c.window
	}

	start, end = clamp(start, len(series)), clamp(end, len(series))
	if start > end {
		start, end = end, start
	}

	slice := series[start : end+1]
	prices := make([]float64, len(slice))
	for i, p := range slice {
		prices[i] = p.Price
	}
	lo, hi := priceSpan(prices)

	c.window = Window{
		X: [2]Bound{Value(float64(series[start].Timestamp)), Value(float64(series[end].Timestamp))},
		Y: [2]Bound{Value(lo), Value(hi)},
	}
	return c.window
}

// Observe resets the window when the series identity changed since the last call.
// Live ticks keep the generation, so they never reset a zoom.
func (c *Controller) Observe(generation uint64) Window {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		c.generation = generation
		c.window = Full()
	}
	return c.window
}

// Resolve replaces the sentinels of w with concrete extents taken from series.
// Sentinels stay in place when the series is empty.
func Resolve(w Window, series []domain.PricePoint) Window {
	if len(series) == 0 {
		return w
	}

	resolved := w
	for i, b := range w.X {
		switch b.Sentinel {
		case DataMin:
			resolved.X[i] = Value(float64(series[0].Timestamp))
		case DataMax:
			resolved.X[i] = Value(float64(series[len(series)-1].Timestamp))
		}
	}

	if w.Y[0].IsSentinel() || w.Y[1].IsSentinel() {
		lo, hi := visiblePriceSpan(resolved.X, series)
		if w.Y[0].IsSentinel() {
			resolved.Y[0] = Value(lo)
		}
		if w.Y[1].IsSentinel() {
			resolved.Y[1] = Value(hi)
		}
	}
	return resolved
}

func visiblePriceSpan(x [2]Bound, series []domain.PricePoint) (lo, hi float64) {
	from, to := x[0].Value, x[1].Value
	var prices []float64
	for _, p := range series {
		if ts := float64(p.Timestamp); ts >= from && ts <= to {
			prices = append(prices, p.Price)
		}
	}
	if len(prices) == 0 {
		for _, p := range series {
			prices = append(prices, p.Price)
		}
	}
	return priceSpan(prices)
}

func clamp(i, n int) int {
	return min(max(i, 0), n-1)
}
