package strategy

import (
	"backlab/internal/analysis/indicator"
	"backlab/internal/market"
)

// Crossover 比较短、长周期均线：短线在上做多，在下做空，相等时空仓。
// 任一已配置指标缺失的 K 线（预热期）会被剔除。
type Crossover struct {
	Indicators indicator.Settings
}

func (Crossover) Name() string { return "Moving Average Crossover" }

func (Crossover) Kind() Kind { return KindLongShort }

func (c Crossover) Generate(candles []market.Candle) []market.Bar {
	bars := indicator.Annotate(candles, c.Indicators)
	out := make([]market.Bar, 0, len(bars))
	for _, bar := range bars {
		if !c.complete(bar) {
			continue
		}
		switch {
		case bar.ShortMA > bar.LongMA:
			bar.Signal = market.Long
		case bar.ShortMA < bar.LongMA:
			bar.Signal = market.Short
		default:
			bar.Signal = market.Flat
		}
		out = append(out, bar)
	}
	return out
}

func (c Crossover) complete(bar market.Bar) bool {
	s := c.Indicators
	checks := []struct {
		enabled bool
		value   float64
	}{
		{s.Window > 0, bar.RollingHigh},
		{s.Window > 0, bar.RollingLow},
		{s.ATRPeriod > 0, bar.ATR},
		{true, bar.ShortMA},
		{true, bar.LongMA},
	}
	for _, chk := range checks {
		if chk.enabled && !indicator.Valid(chk.value) {
			return false
		}
	}
	return true
}
