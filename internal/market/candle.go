package market

import (
	"math"
	"time"
)

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Time 返回开盘时间（UTC）。
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Signal 是策略对单根 K 线给出的方向指令。
type Signal int

const (
	Short Signal = -1
	Flat  Signal = 0
	Long  Signal = 1
)

func (s Signal) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Bar 是带指标与信号的 K 线，生成后不再修改。NaN 表示该指标尚不可用。
type Bar struct {
	Candle
	RollingHigh float64 `json:"rolling_high"`
	RollingLow  float64 `json:"rolling_low"`
	ATR         float64 `json:"atr"`
	ShortMA     float64 `json:"short_ma"`
	LongMA      float64 `json:"long_ma"`
	Signal      Signal  `json:"signal"`
}

// NewBar 包装 K 线，所有派生字段初始化为 NaN。
func NewBar(c Candle) Bar {
	nan := math.NaN()
	return Bar{Candle: c, RollingHigh: nan, RollingLow: nan, ATR: nan, ShortMA: nan, LongMA: nan}
}

// Bars 将 K 线序列转换为未标注的 Bar 序列。
func Bars(candles []Candle) []Bar {
	out := make([]Bar, len(candles))
	for i, c := range candles {
		out[i] = NewBar(c)
	}
	return out
}
