package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/analysis/indicator"
	"backlab/internal/market"
)

func candlesFromCloses(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{OpenTime: int64(i) * 3_600_000, Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func TestBreakoutSignals(t *testing.T) {
	gen := Breakout{Indicators: indicator.Settings{Window: 3}}
	// highs = close+1, lows = close-1
	bars := gen.Generate(candlesFromCloses(10, 10, 10, 12, 10, 7, 10))
	require.Len(t, bars, 7)

	want := []market.Signal{market.Flat, market.Flat, market.Flat, market.Long, market.Flat, market.Short, market.Flat}
	for i, w := range want {
		assert.Equal(t, w, bars[i].Signal, "bar %d", i)
	}
}

func TestBreakoutShortWinsWhenBothHold(t *testing.T) {
	candles := []market.Candle{
		{OpenTime: 1, High: 10, Low: 9, Close: 9.5},
		{OpenTime: 2, High: 10, Low: 9, Close: 9.5},
		// a wide bar cannot exceed high and undercut low at once, so force it with inverted bounds
		{OpenTime: 3, High: 5, Low: 15, Close: 9.5},
		{OpenTime: 4, High: 10, Low: 9, Close: 9.5},
	}
	bars := Breakout{Indicators: indicator.Settings{Window: 1}}.Generate(candles)
	// bar 3 compares against bar 2: rolling high 5, rolling low 15
	assert.Equal(t, market.Short, bars[3].Signal)
}

func TestCrossoverDropsWarmupAndSigns(t *testing.T) {
	gen := Crossover{Indicators: indicator.Settings{ShortMA: 2, LongMA: 3}}
	bars := gen.Generate(candlesFromCloses(1, 2, 3, 2, 1, 1, 1))
	require.Len(t, bars, 5, "first long-1 bars dropped")

	assert.Equal(t, int64(2*3_600_000), bars[0].OpenTime)
	assert.Equal(t, market.Long, bars[0].Signal)  // 2.5 vs 2
	assert.Equal(t, market.Long, bars[1].Signal)  // 2.5 vs 2.333
	assert.Equal(t, market.Short, bars[2].Signal) // 1.5 vs 2
	assert.Equal(t, market.Flat, bars[4].Signal)  // 1 vs 1

	assert.Empty(t, gen.Generate(candlesFromCloses(1, 2)))
}

func TestFactory(t *testing.T) {
	g, err := New("1", DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "Breakout", g.Name())
	assert.Equal(t, KindLongOnly, g.Kind())

	g, err = New(" Crossover ", DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, KindLongShort, g.Kind())
	assert.Equal(t, 50, g.(Crossover).Indicators.ShortMA)

	_, err = New("3", DefaultParams())
	assert.Error(t, err)
	_, err = New("2", Params{ShortWindow: 5, LongWindow: 5})
	assert.Error(t, err)

	name, ok := Normalize("2")
	assert.True(t, ok)
	assert.Equal(t, NameCrossover, name)
}
