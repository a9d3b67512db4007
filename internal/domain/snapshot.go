package domain

import "time"

// Phase state of the series synchronizer.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// MarketSnapshot read-only view of the synchronized market state.
// Series is never mutated after the snapshot was published.
type MarketSnapshot struct {
	CurrentPrice *float64     `json:"currentPrice"`
	Series       []PricePoint `json:"series"`
	ActiveRange  Range        `json:"activeRange"`
	// SeriesRange is the range Series was fetched for. It differs from ActiveRange
	// while a range switch is loading or after it failed.
	SeriesRange           Range     `json:"seriesRange,omitempty"`
	Phase                 Phase     `json:"phase"`
	Loading               bool      `json:"loading"`
	Error                 string    `json:"error,omitempty"`
	OpenPrice24h          *float64  `json:"openPrice24h"`
	PriceChange24h        *float64  `json:"priceChange24h"`
	PriceChangePercent24h *float64  `json:"priceChangePercent24h"`
	Generation            uint64    `json:"generation"`
	UpdatedAt             time.Time `json:"updatedAt"`
}
