package indicator

import (
	"math"

	"github.com/markcheno/go-talib"

	"backlab/internal/market"
)

// Settings 描述派生指标的窗口参数，<=0 表示不计算。
type Settings struct {
	Window    int
	ATRPeriod int
	ShortMA   int
	LongMA    int
}

// Annotate 为每根 K 线计算滚动高低点、ATR 与均线，返回新的 Bar 序列。
// 窗口未满的位置保持 NaN。
func Annotate(candles []market.Candle, cfg Settings) []market.Bar {
	bars := market.Bars(candles)
	if len(bars) == 0 {
		return bars
	}
	highs, lows, closes := columns(candles)
	if cfg.Window > 0 {
		fill(bars, RollingMax(highs, cfg.Window), func(b *market.Bar, v float64) { b.RollingHigh = v })
		fill(bars, RollingMin(lows, cfg.Window), func(b *market.Bar, v float64) { b.RollingLow = v })
	}
	if cfg.ATRPeriod > 0 {
		fill(bars, ATR(highs, lows, closes, cfg.ATRPeriod), func(b *market.Bar, v float64) { b.ATR = v })
	}
	if cfg.ShortMA > 0 {
		fill(bars, SMA(closes, cfg.ShortMA), func(b *market.Bar, v float64) { b.ShortMA = v })
	}
	if cfg.LongMA > 0 {
		fill(bars, SMA(closes, cfg.LongMA), func(b *market.Bar, v float64) { b.LongMA = v })
	}
	return bars
}

func columns(candles []market.Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	return highs, lows, closes
}

func fill(bars []market.Bar, series []float64, set func(*market.Bar, float64)) {
	for i := range bars {
		set(&bars[i], series[i])
	}
}

// RollingMax 返回包含当前值在内的 period 窗口最大值。
func RollingMax(values []float64, period int) []float64 {
	return rolling(values, period, talib.Max)
}

// RollingMin 返回包含当前值在内的 period 窗口最小值。
func RollingMin(values []float64, period int) []float64 {
	return rolling(values, period, talib.Min)
}

// SMA 返回简单移动平均。
func SMA(values []float64, period int) []float64 {
	return rolling(values, period, talib.Sma)
}

// TrueRange 返回 max(h-l, |h-prevC|, |l-prevC|)，首根只取 h-l。
func TrueRange(highs, lows, closes []float64) []float64 {
	n := len(highs)
	if n == 0 {
		return nil
	}
	out := make([]float64, n)
	if n > 1 {
		copy(out, talib.TRange(highs, lows, closes))
	}
	out[0] = highs[0] - lows[0]
	return out
}

// ATR 是真实波幅的简单滚动均值（非 Wilder 平滑）。
func ATR(highs, lows, closes []float64, period int) []float64 {
	return SMA(TrueRange(highs, lows, closes), period)
}

// rolling 包装 talib 窗口函数：数据不足时整列 NaN，预热位置置为 NaN。
func rolling(values []float64, period int, fn func([]float64, int) []float64) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	if period == 1 {
		// talib 的 Max/Min 在 period<2 时返回零值
		copy(out, values)
		return out
	}
	res := fn(values, period)
	for i := period - 1; i < len(values); i++ {
		out[i] = res[i]
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Valid 判断指标值是否可用。
func Valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
