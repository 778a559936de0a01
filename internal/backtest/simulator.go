package backtest

import (
	"context"
	"fmt"
	"math"

	"backlab/internal/logger"
	"backlab/internal/market"
)

// Option 调整单次模拟的外围行为，不影响计算结果。
type Option func(*options)

type options struct {
	pacer    Pacer
	recorder TradeRecorder
	name     string
}

// WithPacer 设置成交之间的展示停顿。
func WithPacer(p Pacer) Option {
	return func(o *options) {
		if p != nil {
			o.pacer = p
		}
	}
}

// WithRecorder 注册逐笔成交观察者。
func WithRecorder(r TradeRecorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithStrategyName 设置结果中的策略名称。
func WithStrategyName(name string) Option {
	return func(o *options) { o.name = name }
}

// Simulate 以只做多突破规则回放 bars。
func Simulate(ctx context.Context, bars []market.Bar, cfg BreakoutConfig, opts ...Option) (Result, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	return simulate(ctx, bars, NewBreakoutPolicy(cfg), cfg.InitialCapital, cfg.MaxTrades, opts)
}

// SimulateLongShort 以多空百分比止盈止损规则回放 bars。
func SimulateLongShort(ctx context.Context, bars []market.Bar, cfg PercentConfig, opts ...Option) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	return simulate(ctx, bars, NewPercentPolicy(cfg), cfg.InitialCapital, cfg.MaxTrades, opts)
}

func simulate(ctx context.Context, bars []market.Bar, policy Policy, capital float64, maxTrades int, opts []Option) (Result, error) {
	o := options{pacer: NoopPacer{}, name: policy.Name()}
	for _, opt := range opts {
		opt(&o)
	}
	machine, err := NewMachine(policy, maxTrades)
	if err != nil {
		return Result{}, err
	}

	state := NewState(capital)
	stats := newPortfolioStats(capital)
	trades := make([]Trade, 0)
	for _, bar := range bars {
		if state.Halted {
			break
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		next, emitted, err := machine.Step(state, bar)
		if err != nil {
			return Result{}, err
		}
		if next.Account.Rejected > state.Account.Rejected {
			logger.Warnf("[backtest] entry rejected at %s close=%.4f: stop distance not positive",
				bar.Time().Format("2006-01-02 15:04"), bar.Close)
		}
		state = next
		for _, t := range emitted {
			trades = append(trades, t)
			stats.recordTrade(t)
			if o.recorder != nil {
				if err := o.recorder.RecordTrade(ctx, t); err != nil {
					return Result{}, fmt.Errorf("record trade %d: %w", t.Seq, err)
				}
			}
			if err := o.pacer.Pause(ctx); err != nil {
				return Result{}, err
			}
		}
		stats.recordSnapshot(bar, state)
	}

	res := Result{
		Strategy:       o.name,
		InitialCapital: capital,
		FinalValue:     state.Account.Balance,
		ReturnPct:      ReturnPct(capital, state.Account.Balance),
		TradesExecuted: state.Account.Executed,
		Trades:         trades,
		Equity:         stats.points,
		Stats:          stats.summary(state),
	}
	if state.Position.Open() {
		pos := state.Position
		res.OpenPosition = &pos
	}
	logger.Infof("[backtest] %s finished: bars=%d trades=%d final=%.2f return=%.2f%%",
		res.Strategy, state.Bars, res.TradesExecuted, res.FinalValue, res.ReturnPct)
	return res, nil
}

// portfolioStats 逐根 K 线跟踪盯市权益、峰谷与最大回撤。
type portfolioStats struct {
	initial     float64
	peak        float64
	valley      float64
	maxDrawdown float64
	wins        int
	losses      int
	points      []EquityPoint
}

func newPortfolioStats(initial float64) *portfolioStats {
	return &portfolioStats{initial: initial, peak: initial, valley: initial}
}

func (p *portfolioStats) recordTrade(t Trade) {
	if !t.Closing() {
		return
	}
	if t.PnL >= 0 {
		p.wins++
	} else {
		p.losses++
	}
}

func (p *portfolioStats) recordSnapshot(bar market.Bar, s State) {
	equity := s.Account.Balance
	if s.Position.Open() {
		equity += s.Position.PnL(bar.Close)
	}
	p.peak = math.Max(p.peak, equity)
	p.valley = math.Min(p.valley, equity)
	if p.peak > 0 {
		if dd := (p.peak - equity) / p.peak * 100; dd > p.maxDrawdown {
			p.maxDrawdown = dd
		}
	}
	p.points = append(p.points, EquityPoint{Time: bar.OpenTime, Price: bar.Close, Balance: s.Account.Balance, Equity: equity})
}

func (p *portfolioStats) summary(s State) Stats {
	closed := p.wins + p.losses
	winRate := 0.0
	if closed > 0 {
		winRate = float64(p.wins) / float64(closed) * 100
	}
	return Stats{
		Profit:         s.Account.Balance - p.initial,
		Wins:           p.wins,
		Losses:         p.losses,
		WinRate:        winRate,
		MaxDrawdownPct: p.maxDrawdown,
		EquityPeak:     p.peak,
		EquityValley:   p.valley,
		Rejected:       s.Account.Rejected,
		Bars:           s.Bars,
		Halted:         s.Halted,
	}
}
