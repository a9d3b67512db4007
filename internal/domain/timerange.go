package domain

import (
	"time"

	"github.com/pkg/errors"
)

// Range time window granularity selected by the user.
type Range string

const (
	// RangeLive is the real-time view built from raw trades plus live ticks.
	RangeLive Range = "1m"
	Range30m  Range = "30m"
	Range1h   Range = "1h"
	Range12h  Range = "12h"
	Range1d   Range = "1d"
	Range7d   Range = "7d"
	Range30d  Range = "30d"
)

// DefaultRange is selected when a session starts.
const DefaultRange = Range7d

// LiveTradeLimit is the number of recent trades fetched for the live range.
const LiveTradeLimit = 1000

// ErrUnknownRange is returned for a range outside of the supported set.
var ErrUnknownRange = errors.New("unknown range")

// Resolution bar size and bar count requested for a range.
type Resolution struct {
	// Interval exchange kline interval, e.g. "15m".
	Interval string
	// Bar duration of a single bar.
	Bar time.Duration
	// Limit number of bars.
	Limit int
}

var resolutions = map[Range]Resolution{
	Range30m: {Interval: "1m", Bar: time.Minute, Limit: 30},
	Range1h:  {Interval: "1m", Bar: time.Minute, Limit: 60},
	Range12h: {Interval: "15m", Bar: 15 * time.Minute, Limit: 48},
	Range1d:  {Interval: "1h", Bar: time.Hour, Limit: 24},
	Range7d:  {Interval: "1d", Bar: 24 * time.Hour, Limit: 7},
	Range30d: {Interval: "1d", Bar: 24 * time.Hour, Limit: 30},
}

var labels = map[Range]string{
	RangeLive: "1m",
	Range30m:  "30m",
	Range1h:   "1H",
	Range12h:  "12H",
	Range1d:   "1D",
	Range7d:   "7D",
	Range30d:  "1M",
}

// Ranges returns all supported ranges in display order.
func Ranges() []Range {
	return []Range{RangeLive, Range30m, Range1h, Range12h, Range1d, Range7d, Range30d}
}

// ParseRange validates s as a Range.
func ParseRange(s string) (Range, error) {
	r := Range(s)
	if !r.IsValid() {
		return "", errors.Wrapf(ErrUnknownRange, "%q", s)
	}
	return r, nil
}

// IsValid checks if the Range value is supported.
func (r Range) IsValid() bool {
	_, ok := labels[r]
	return ok
}

// IsLive reports whether r is the raw-trade range.
func (r Range) IsLive() bool {
	return r == RangeLive
}

// Resolution returns the kline resolution of r. ok is false for the live range.
func (r Range) Resolution() (Resolution, bool) {
	res, ok := resolutions[r]
	return res, ok
}

// Label returns the button label shown for the range.
func (r Range) Label() string {
	return labels[r]
}

// StepLine reports whether the range should be drawn as a step line.
func (r Range) StepLine() bool {
	return r.IsLive()
}

// String returns the string representation.
func (r Range) String() string {
	return string(r)
}
