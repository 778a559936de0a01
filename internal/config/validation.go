package config

import (
	"fmt"
	"math"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Breakout.validate(); err != nil {
		return err
	}
	return c.Crossover.validate()
}

func (d DataConfig) validate() error {
	switch d.Source {
	case "spot", "futures":
	default:
		return fmt.Errorf("data.source must be spot or futures, got %q", d.Source)
	}
	if d.RateLimitPerMin < 0 {
		return fmt.Errorf("data.rate_limit_per_min must be >= 0")
	}
	if d.MaxBatch < 0 || d.MaxBatch > 1500 {
		return fmt.Errorf("data.max_batch must be within [0,1500]")
	}
	return nil
}

func (b BacktestConfig) validate() error {
	if !(b.InitialCapital > 0) || math.IsInf(b.InitialCapital, 0) {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	if !(b.RiskPercent > 0 && b.RiskPercent <= 1) {
		return fmt.Errorf("backtest.risk_percent must be within (0,1]")
	}
	if b.MaxTrades < 0 {
		return fmt.Errorf("backtest.max_trades must be >= 0")
	}
	if b.DelaySeconds < 0 {
		return fmt.Errorf("backtest.delay_seconds must be >= 0")
	}
	return nil
}

func (b BreakoutConfig) validate() error {
	if b.Window < 1 {
		return fmt.Errorf("breakout.window must be >= 1")
	}
	if b.StopLookback < 1 {
		return fmt.Errorf("breakout.stop_lookback must be >= 1")
	}
	if !(b.TakeProfitR > 0) {
		return fmt.Errorf("breakout.take_profit_r must be > 0")
	}
	if b.ATRPeriod < 1 {
		return fmt.Errorf("breakout.atr_period must be >= 1")
	}
	return nil
}

func (c CrossoverConfig) validate() error {
	if c.ShortWindow < 1 || c.LongWindow < 1 {
		return fmt.Errorf("crossover windows must be >= 1")
	}
	if c.ShortWindow >= c.LongWindow {
		return fmt.Errorf("crossover.short_window (%d) must be < long_window (%d)", c.ShortWindow, c.LongWindow)
	}
	if !(c.TakeProfitPct > 0) || !(c.StopLossPct > 0) {
		return fmt.Errorf("crossover.take_profit_pct and stop_loss_pct must be > 0")
	}
	if c.StopLossPct >= 1 {
		return fmt.Errorf("crossover.stop_loss_pct must be < 1")
	}
	return nil
}
