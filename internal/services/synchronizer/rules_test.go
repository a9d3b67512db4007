package synchronizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/spotsim/internal/domain"
)

func historical(n int) []domain.PricePoint {
	points := make([]domain.PricePoint, n)
	for i := range points {
		points[i] = domain.PricePoint{Timestamp: int64(1000 + i*10), Price: 100 + float64(i)}
	}
	return points
}

func TestMergeLiveTick_AppendsToHistoricalSeries(t *testing.T) {
	series := historical(5)
	now := time.UnixMilli(5000)

	merged := MergeLiveTick(series, 123.4, now)

	require.Len(t, merged, 6)
	last := merged[len(merged)-1]
	assert.True(t, last.IsLive)
	assert.Equal(t, 123.4, last.Price)
	assert.Equal(t, int64(5000), last.Timestamp)
	assert.Equal(t, series, merged[:5])
	assert.Len(t, series, 5, "input is not modified")
}

func TestMergeLiveTick_ReplacesTrailingLivePoint(t *testing.T) {
	series := append(historical(5), domain.NewLiveTick(time.UnixMilli(5000), 120))
	before := len(series)

	first := MergeLiveTick(series, 121, time.UnixMilli(6000))
	second := MergeLiveTick(first, 122, time.UnixMilli(7000))

	require.Len(t, second, before)
	assert.Equal(t, 1, countLive(second))
	last := second[len(second)-1]
	assert.True(t, last.IsLive)
	assert.Equal(t, 122.0, last.Price)
	assert.Equal(t, int64(7000), last.Timestamp)
	assert.Equal(t, 120.0, series[len(series)-1].Price, "input is not modified")
}

func TestMergeLiveTick_EmptySeries(t *testing.T) {
	assert.Empty(t, MergeLiveTick(nil, 100, time.Now()))
}

func TestMergeLiveTick_ClampsToLastTimestamp(t *testing.T) {
	series := historical(3)
	lastTs := series[2].Timestamp

	merged := MergeLiveTick(series, 99, time.UnixMilli(lastTs-500))

	require.Len(t, merged, 4)
	assert.Equal(t, lastTs, merged[3].Timestamp)
}

func TestCarryLiveTick(t *testing.T) {
	t.Run("keeps the pre-refresh live point", func(t *testing.T) {
		tick := domain.NewLiveTick(time.UnixMilli(9000), 150)
		prev := append(historical(4), tick)
		fresh := historical(6)

		refreshed := CarryLiveTick(prev, fresh)

		require.Len(t, refreshed, 7)
		assert.Equal(t, tick, refreshed[len(refreshed)-1])
		assert.Equal(t, 1, countLive(refreshed))
	})

	t.Run("without live point fresh is used as is", func(t *testing.T) {
		fresh := historical(6)
		assert.Equal(t, fresh, CarryLiveTick(historical(4), fresh))
	})

	t.Run("live point older than fresh data moves to its tail", func(t *testing.T) {
		prev := append(historical(2), domain.NewLiveTick(time.UnixMilli(1015), 150))
		fresh := historical(6)

		refreshed := CarryLiveTick(prev, fresh)

		last := refreshed[len(refreshed)-1]
		assert.True(t, last.IsLive)
		assert.Equal(t, 150.0, last.Price)
		assert.Equal(t, fresh[5].Timestamp, last.Timestamp)
	})
}

func TestDeriveChange(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	change, percent := DeriveChange(f(31000), f(30000))
	require.NotNil(t, change)
	require.NotNil(t, percent)
	assert.InDelta(t, 1000, *change, 1e-9)
	assert.InDelta(t, 3.333333333, *percent, 1e-6)

	change, percent = DeriveChange(f(31000), f(0))
	assert.Nil(t, change)
	assert.Nil(t, percent)

	change, percent = DeriveChange(nil, f(30000))
	assert.Nil(t, change)
	assert.Nil(t, percent)

	change, percent = DeriveChange(f(31000), nil)
	assert.Nil(t, change)
	assert.Nil(t, percent)
}

func countLive(series []domain.PricePoint) int {
	n := 0
	for _, p := range series {
		if p.IsLive {
			n++
		}
	}
	return n
}
