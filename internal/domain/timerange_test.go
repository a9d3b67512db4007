package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRange_Resolution(t *testing.T) {
	tests := []struct {
		r        Range
		interval string
		limit    int
	}{
		{Range30m, "1m", 30},
		{Range1h, "1m", 60},
		{Range12h, "15m", 48},
		{Range1d, "1h", 24},
		{Range7d, "1d", 7},
		{Range30d, "1d", 30},
	}

	for _, tt := range tests {
		t.Run(tt.r.String(), func(t *testing.T) {
			res, ok := tt.r.Resolution()
			require.True(t, ok)
			assert.Equal(t, tt.interval, res.Interval)
			assert.Equal(t, tt.limit, res.Limit)
		})
	}

	_, ok := RangeLive.Resolution()
	assert.False(t, ok, "live range is served from raw trades")
}

func TestParseRange(t *testing.T) {
	for _, r := range Ranges() {
		parsed, err := ParseRange(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}

	_, err := ParseRange("10m")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRange))
}

func TestRange_Presentation(t *testing.T) {
	assert.Equal(t, "1M", Range30d.Label())
	assert.Equal(t, "1H", Range1h.Label())
	assert.True(t, RangeLive.StepLine())
	assert.False(t, Range7d.StepLine())
	assert.Len(t, Ranges(), 7)
}
