package backtest

import (
	"context"
	"fmt"

	"backlab/internal/config"
	"backlab/internal/market"
	"backlab/internal/strategy"
)

// RunSpec 是一次完整回测（信号生成 + 模拟）的参数快照。
type RunSpec struct {
	Strategy  string                 `json:"strategy"`
	Backtest  config.BacktestConfig  `json:"backtest"`
	Breakout  config.BreakoutConfig  `json:"breakout"`
	Crossover config.CrossoverConfig `json:"crossover"`
}

// NewRunSpec 从全局配置构造 RunSpec。
func NewRunSpec(cfg *config.Config, strategyName string) RunSpec {
	return RunSpec{
		Strategy:  strategyName,
		Backtest:  cfg.Backtest,
		Breakout:  cfg.Breakout,
		Crossover: cfg.Crossover,
	}
}

func (s RunSpec) params() strategy.Params {
	return strategy.Params{
		Window:      s.Breakout.Window,
		ATRPeriod:   s.Breakout.ATRPeriod,
		ShortWindow: s.Crossover.ShortWindow,
		LongWindow:  s.Crossover.LongWindow,
	}
}

// Run 为 candles 生成信号并交给对应的模拟器。
func Run(ctx context.Context, candles []market.Candle, spec RunSpec, opts ...Option) (Result, error) {
	gen, err := strategy.New(spec.Strategy, spec.params())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	bars := gen.Generate(candles)
	opts = append([]Option{WithStrategyName(gen.Name())}, opts...)
	switch gen.Kind() {
	case strategy.KindLongOnly:
		return Simulate(ctx, bars, BreakoutConfig{
			InitialCapital: spec.Backtest.InitialCapital,
			RiskPercent:    spec.Backtest.RiskPercent,
			TakeProfitR:    spec.Breakout.TakeProfitR,
			MaxTrades:      spec.Backtest.MaxTrades,
			StopLookback:   spec.Breakout.StopLookback,
		}, opts...)
	case strategy.KindLongShort:
		return SimulateLongShort(ctx, bars, PercentConfig{
			InitialCapital: spec.Backtest.InitialCapital,
			RiskPercent:    spec.Backtest.RiskPercent,
			TakeProfitPct:  spec.Crossover.TakeProfitPct,
			StopLossPct:    spec.Crossover.StopLossPct,
			MaxTrades:      spec.Backtest.MaxTrades,
		}, opts...)
	default:
		return Result{}, fmt.Errorf("%w: unsupported strategy kind %s", ErrInvalidConfig, gen.Kind())
	}
}
