package backtest

import (
	"fmt"
	"math"

	"backlab/internal/market"
)

// BreakoutConfig 是只做多突破模拟器的参数。
type BreakoutConfig struct {
	InitialCapital float64 `json:"initial_capital"`
	RiskPercent    float64 `json:"risk_percent"`
	TakeProfitR    float64 `json:"take_profit_r"`
	MaxTrades      int     `json:"max_trades"`
	StopLookback   int     `json:"stop_lookback"`
}

// DefaultBreakoutConfig 返回默认参数：1% 风险、2R 止盈、20 根回看、最多 100 笔。
func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{InitialCapital: 10000, RiskPercent: 0.01, TakeProfitR: 2, MaxTrades: 100, StopLookback: 20}
}

func (c BreakoutConfig) withDefaults() BreakoutConfig {
	if c.TakeProfitR == 0 {
		c.TakeProfitR = 2
	}
	if c.StopLookback == 0 {
		c.StopLookback = 20
	}
	return c
}

func (c BreakoutConfig) validate() error {
	if err := validateAccount(c.InitialCapital, c.RiskPercent, c.MaxTrades); err != nil {
		return err
	}
	if !(c.TakeProfitR > 0) || math.IsInf(c.TakeProfitR, 0) {
		return fmt.Errorf("%w: take profit multiple must be > 0", ErrInvalidConfig)
	}
	if c.StopLookback < 1 {
		return fmt.Errorf("%w: stop lookback must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// PercentConfig 是多空百分比止盈止损模拟器的参数。
type PercentConfig struct {
	InitialCapital float64 `json:"initial_capital"`
	RiskPercent    float64 `json:"risk_percent"`
	TakeProfitPct  float64 `json:"take_profit_pct"`
	StopLossPct    float64 `json:"stop_loss_pct"`
	MaxTrades      int     `json:"max_trades"`
}

// DefaultPercentConfig 返回默认参数：1% 风险、1% 止盈、1% 止损、最多 100 笔。
func DefaultPercentConfig() PercentConfig {
	return PercentConfig{InitialCapital: 10000, RiskPercent: 0.01, TakeProfitPct: 0.01, StopLossPct: 0.01, MaxTrades: 100}
}

func (c PercentConfig) validate() error {
	if err := validateAccount(c.InitialCapital, c.RiskPercent, c.MaxTrades); err != nil {
		return err
	}
	if !(c.TakeProfitPct > 0) || !(c.StopLossPct > 0) {
		return fmt.Errorf("%w: take profit / stop loss percent must be > 0", ErrInvalidConfig)
	}
	return nil
}

func validateAccount(capital, risk float64, maxTrades int) error {
	if !(capital > 0) || math.IsInf(capital, 0) {
		return fmt.Errorf("%w: initial capital must be > 0", ErrInvalidConfig)
	}
	if !(risk > 0 && risk <= 1) {
		return fmt.Errorf("%w: risk percent must be within (0,1]", ErrInvalidConfig)
	}
	if maxTrades < 0 {
		return fmt.Errorf("%w: max trades must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// BreakoutPolicy 只做多：止损取前 StopLookback 根 K 线最低价，止盈为 R 倍止损距离。
type BreakoutPolicy struct {
	cfg BreakoutConfig
}

func NewBreakoutPolicy(cfg BreakoutConfig) BreakoutPolicy {
	return BreakoutPolicy{cfg: cfg.withDefaults()}
}

func (p BreakoutPolicy) Name() string { return "long_only_breakout" }

func (p BreakoutPolicy) Lookback() int { return p.cfg.StopLookback }

func (p BreakoutPolicy) Exit(pos Position, bar market.Bar) (float64, Reason, bool) {
	return exitLong(pos, bar)
}

func (p BreakoutPolicy) Enter(balance float64, bar market.Bar, lows []float64) (Position, error) {
	if bar.Signal != market.Long {
		return Position{}, nil
	}
	if len(lows) == 0 {
		return Position{}, fmt.Errorf("%w: no prior bars for stop at %d", ErrEntryRejected, bar.OpenTime)
	}
	stop := lows[0]
	for _, l := range lows[1:] {
		stop = math.Min(stop, l)
	}
	entry := bar.Close
	dist := entry - stop
	if !(dist > 0) {
		return Position{}, fmt.Errorf("%w: stop %.8f not below entry %.8f at %d", ErrEntryRejected, stop, entry, bar.OpenTime)
	}
	return Position{
		Side:       SideLong,
		Size:       p.cfg.RiskPercent * balance / dist,
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: entry + p.cfg.TakeProfitR*dist,
	}, nil
}

func (p BreakoutPolicy) Liquidation() LiquidationRule {
	return LiquidationRule{Action: ActionSell, Counted: false}
}

// PercentPolicy 多空双向：止损止盈为入场价的固定百分比。
type PercentPolicy struct {
	cfg PercentConfig
}

func NewPercentPolicy(cfg PercentConfig) PercentPolicy {
	return PercentPolicy{cfg: cfg}
}

func (p PercentPolicy) Name() string { return "long_short_percent" }

func (p PercentPolicy) Lookback() int { return 0 }

func (p PercentPolicy) Exit(pos Position, bar market.Bar) (float64, Reason, bool) {
	if pos.Side == SideShort {
		return exitShort(pos, bar)
	}
	return exitLong(pos, bar)
}

func (p PercentPolicy) Enter(balance float64, bar market.Bar, _ []float64) (Position, error) {
	entry := bar.Close
	size := p.cfg.RiskPercent * balance / (entry * p.cfg.StopLossPct)
	switch bar.Signal {
	case market.Long:
		return Position{
			Side:       SideLong,
			Size:       size,
			Entry:      entry,
			StopLoss:   entry * (1 - p.cfg.StopLossPct),
			TakeProfit: entry * (1 + p.cfg.TakeProfitPct),
		}, nil
	case market.Short:
		return Position{
			Side:       SideShort,
			Size:       -size,
			Entry:      entry,
			StopLoss:   entry * (1 + p.cfg.StopLossPct),
			TakeProfit: entry * (1 - p.cfg.TakeProfitPct),
		}, nil
	default:
		return Position{}, nil
	}
}

func (p PercentPolicy) Liquidation() LiquidationRule {
	return LiquidationRule{Action: ActionClose, Counted: true}
}

// exitLong 在收盘价触及止损/止盈或出现做空信号时平多，成交价限制在 [止损, 止盈]。
func exitLong(pos Position, bar market.Bar) (float64, Reason, bool) {
	c := bar.Close
	var reason Reason
	switch {
	case c <= pos.StopLoss:
		reason = ReasonStopLoss
	case c >= pos.TakeProfit:
		reason = ReasonTakeProfit
	case bar.Signal == market.Short:
		reason = ReasonSignal
	default:
		return 0, "", false
	}
	return math.Min(math.Max(c, pos.StopLoss), pos.TakeProfit), reason, true
}

// exitShort 是 exitLong 的镜像，成交价限制在 [止盈, 止损]。
func exitShort(pos Position, bar market.Bar) (float64, Reason, bool) {
	c := bar.Close
	var reason Reason
	switch {
	case c >= pos.StopLoss:
		reason = ReasonStopLoss
	case c <= pos.TakeProfit:
		reason = ReasonTakeProfit
	case bar.Signal == market.Long:
		reason = ReasonSignal
	default:
		return 0, "", false
	}
	return math.Max(math.Min(c, pos.StopLoss), pos.TakeProfit), reason, true
}
