// Package strategy 为 K 线序列生成交易信号。
package strategy

import (
	"fmt"
	"strings"

	"backlab/internal/analysis/indicator"
	"backlab/internal/market"
)

// Kind 决定信号交给哪种模拟器执行。
type Kind string

const (
	// KindLongOnly 对应只做多的突破模拟器。
	KindLongOnly Kind = "long_only"
	// KindLongShort 对应多空双向的百分比模拟器。
	KindLongShort Kind = "long_short"
)

// Generator 为每根 K 线标注 Long/Short/Flat 信号。
// 实现不得修改入参，返回的 Bar 序列保持时间升序。
type Generator interface {
	Name() string
	Kind() Kind
	Generate(candles []market.Candle) []market.Bar
}

// Params 汇总两种策略的窗口参数。
type Params struct {
	Window      int
	ATRPeriod   int
	ShortWindow int
	LongWindow  int
}

// DefaultParams 与默认配置保持一致。
func DefaultParams() Params {
	return Params{Window: 20, ATRPeriod: 14, ShortWindow: 50, LongWindow: 200}
}

const (
	NameBreakout  = "breakout"
	NameCrossover = "crossover"
)

// Normalize 将菜单编号或别名转换为策略名，无法识别时返回 false。
func Normalize(choice string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case "1", NameBreakout:
		return NameBreakout, true
	case "2", NameCrossover, "ma", "moving_average":
		return NameCrossover, true
	default:
		return "", false
	}
}

// New 按名称或菜单编号构造信号生成器。
func New(choice string, p Params) (Generator, error) {
	name, ok := Normalize(choice)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", choice)
	}
	settings := indicator.Settings{Window: p.Window, ATRPeriod: p.ATRPeriod}
	if name == NameBreakout {
		return Breakout{Indicators: settings}, nil
	}
	if p.ShortWindow >= p.LongWindow {
		return nil, fmt.Errorf("short window %d must be below long window %d", p.ShortWindow, p.LongWindow)
	}
	settings.ShortMA, settings.LongMA = p.ShortWindow, p.LongWindow
	return Crossover{Indicators: settings}, nil
}
