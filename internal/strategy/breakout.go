package strategy

import (
	"backlab/internal/analysis/indicator"
	"backlab/internal/market"
)

// Breakout 在收盘价突破上一根 K 线的 N 周期高点时做多，跌破低点时做空；
// 两者同时成立时以做空为准。
type Breakout struct {
	Indicators indicator.Settings
}

func (Breakout) Name() string { return "Breakout" }

func (Breakout) Kind() Kind { return KindLongOnly }

func (b Breakout) Generate(candles []market.Candle) []market.Bar {
	bars := indicator.Annotate(candles, b.Indicators)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1]
		close := bars[i].Close
		signal := market.Flat
		if indicator.Valid(prev.RollingHigh) && close > prev.RollingHigh {
			signal = market.Long
		}
		if indicator.Valid(prev.RollingLow) && close < prev.RollingLow {
			signal = market.Short
		}
		bars[i].Signal = signal
	}
	return bars
}
