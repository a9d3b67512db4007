// Package window derives the visible sub-domain of the price chart from the current
// series and the user's brush and reset gestures.
package window

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Sentinel marks a bound that the consumer resolves against the data.
type Sentinel string

const (
	// DataMin is the first timestamp of the series.
	DataMin Sentinel = "dataMin"
	// DataMax is the last timestamp of the series.
	DataMax Sentinel = "dataMax"
	// Auto lets the price axis fit the visible points.
	Auto Sentinel = "auto"
)

// padding is the share of the price spread added above and below a brushed slice.
const padding = 0.1

// Bound is one end of a domain: either a concrete value or a sentinel.
type Bound struct {
	Value    float64
	Sentinel Sentinel
}

// Value returns a concrete bound.
func Value(v float64) Bound {
	return Bound{Value: v}
}

// Of returns a sentinel bound.
func Of(s Sentinel) Bound {
	return Bound{Sentinel: s}
}

// IsSentinel reports whether b is symbolic.
func (b Bound) IsSentinel() bool {
	return b.Sentinel != ""
}

func (b Bound) String() string {
	if b.IsSentinel() {
		return string(b.Sentinel)
	}
	return strconv.FormatFloat(b.Value, 'f', -1, 64)
}

// MarshalJSON encodes a sentinel as a string and a value as a number.
func (b Bound) MarshalJSON() ([]byte, error) {
	if b.IsSentinel() {
		return json.Marshal(string(b.Sentinel))
	}
	return json.Marshal(b.Value)
}

// UnmarshalJSON accepts either form produced by MarshalJSON.
func (b *Bound) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch Sentinel(s) {
		case DataMin, DataMax, Auto:
			*b = Of(Sentinel(s))
			return nil
		}
		return errors.Errorf("unknown bound sentinel %q", s)
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "decode bound")
	}
	*b = Value(v)
	return nil
}

// Window is a view over the series, never a copy of it.
type Window struct {
	X [2]Bound `json:"xDomain"`
	Y [2]Bound `json:"yDomain"`
}

// Full is the unzoomed window: the whole data extent, autoscaled prices.
func Full() Window {
	return Window{
		X: [2]Bound{Of(DataMin), Of(DataMax)},
		Y: [2]Bound{Of(Auto), Of(Auto)},
	}
}

// IsFull reports whether the x domain is the data-driven sentinel pair.
func (w Window) IsFull() bool {
	return w.X[0] == Of(DataMin) && w.X[1] == Of(DataMax)
}

// priceSpan returns the padded price extent of the points, with the floor clamped at zero.
func priceSpan(prices []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range prices {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	spread := hi - lo
	return math.Max(0, lo-padding*spread), hi + padding*spread
}
