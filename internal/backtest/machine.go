package backtest

import (
	"errors"
	"fmt"
	"math"

	"backlab/internal/market"
)

// LiquidationRule 描述达到交易次数上限时的强制清算方式。
type LiquidationRule struct {
	Action  Action
	Counted bool
}

// Policy 决定开平仓价格与仓位规模，由 Machine 驱动。
type Policy interface {
	Name() string
	// Lookback 是 Machine 需要为 Enter 保留的历史低点数量，0 表示不需要。
	Lookback() int
	// Exit 判断持仓是否在本根 K 线平仓，返回成交价与原因。
	Exit(pos Position, bar market.Bar) (float64, Reason, bool)
	// Enter 在空仓时根据信号开仓；无信号返回零值 Position，
	// 止损距离退化时返回包装 ErrEntryRejected 的错误。
	Enter(balance float64, bar market.Bar, lows []float64) (Position, error)
	Liquidation() LiquidationRule
}

// State 是状态机在两根 K 线之间的全部状态，按值传递。
type State struct {
	Account  Account
	Position Position
	Halted   bool
	Bars     int
	Logged   int
	LastTime int64
	// lows 为前 Lookback 根 K 线的最低价，只读共享，追加时复制。
	lows []float64
}

// NewState 返回初始空仓状态。
func NewState(initialCapital float64) State {
	return State{Account: Account{Balance: initialCapital}, Position: Position{Side: SideFlat}}
}

// Machine 是 Flat/Long/Short 有限状态机。
type Machine struct {
	policy    Policy
	maxTrades int
}

func NewMachine(policy Policy, maxTrades int) (Machine, error) {
	if policy == nil {
		return Machine{}, fmt.Errorf("%w: policy is nil", ErrInvalidConfig)
	}
	if maxTrades < 0 {
		return Machine{}, fmt.Errorf("%w: max trades must be >= 0", ErrInvalidConfig)
	}
	return Machine{policy: policy, maxTrades: maxTrades}, nil
}

// Step 处理一根 K 线：先平仓，再开仓，最后检查交易次数上限。
// 不修改入参 state，同一根 K 线最多产生平仓、开仓、清算三条记录。
func (m Machine) Step(s State, bar market.Bar) (State, []Trade, error) {
	if s.Halted {
		return s, nil, nil
	}
	if err := checkBar(bar); err != nil {
		return s, nil, err
	}
	if s.Bars > 0 && bar.OpenTime <= s.LastTime {
		return s, nil, fmt.Errorf("%w: bar %d not after %d", ErrInvalidSeries, bar.OpenTime, s.LastTime)
	}

	next := s
	var trades []Trade
	emit := func(t Trade) {
		next.Logged++
		t.Seq = next.Logged
		t.Time = bar.OpenTime
		t.Balance = next.Account.Balance
		trades = append(trades, t)
	}

	if pos := next.Position; pos.Open() {
		if price, reason, ok := m.policy.Exit(pos, bar); ok {
			pnl := pos.PnL(price)
			next.Account.Balance += pnl
			next.Account.Executed++
			next.Position = Position{Side: SideFlat}
			emit(Trade{Action: closeAction(pos.Side), Side: pos.Side, Price: price,
				StopLoss: pos.StopLoss, TakeProfit: pos.TakeProfit, PnL: pnl, Reason: reason})
		}
	}

	if !next.Position.Open() && next.Account.Executed < m.maxTrades {
		pos, err := m.policy.Enter(next.Account.Balance, bar, s.lows)
		switch {
		case errors.Is(err, ErrEntryRejected):
			next.Account.Rejected++
		case err != nil:
			return s, nil, err
		case pos.Open():
			pos.OpenedAt = bar.OpenTime
			next.Position = pos
			next.Account.Executed++
			emit(Trade{Action: openAction(pos.Side), Side: pos.Side, Price: pos.Entry, Size: pos.Size,
				StopLoss: pos.StopLoss, TakeProfit: pos.TakeProfit, Reason: ReasonEntry})
		}
	}

	if next.Account.Executed >= m.maxTrades {
		if pos := next.Position; pos.Open() {
			rule := m.policy.Liquidation()
			pnl := pos.PnL(bar.Close)
			next.Account.Balance += pnl
			if rule.Counted {
				next.Account.Executed++
			}
			next.Position = Position{Side: SideFlat}
			emit(Trade{Action: rule.Action, Side: pos.Side, Price: bar.Close,
				StopLoss: pos.StopLoss, TakeProfit: pos.TakeProfit, PnL: pnl, Reason: ReasonLiquidation})
		}
		next.Halted = true
	}

	next.lows = pushWindow(s.lows, bar.Low, m.policy.Lookback())
	next.LastTime = bar.OpenTime
	next.Bars++
	return next, trades, nil
}

// Lows 返回当前保留的历史低点副本。
func (s State) Lows() []float64 {
	return append([]float64(nil), s.lows...)
}

func pushWindow(window []float64, v float64, size int) []float64 {
	if size <= 0 {
		return nil
	}
	start := 0
	if len(window) >= size {
		start = len(window) - size + 1
	}
	out := make([]float64, 0, size)
	out = append(out, window[start:]...)
	return append(out, v)
}

func checkBar(bar market.Bar) error {
	if math.IsNaN(bar.Close) || math.IsInf(bar.Close, 0) || bar.Close <= 0 {
		return fmt.Errorf("%w: close %v at %d", ErrInvalidSeries, bar.Close, bar.OpenTime)
	}
	if math.IsNaN(bar.Low) || math.IsInf(bar.Low, 0) {
		return fmt.Errorf("%w: low %v at %d", ErrInvalidSeries, bar.Low, bar.OpenTime)
	}
	return nil
}

func openAction(side Side) Action {
	if side == SideShort {
		return ActionSell
	}
	return ActionBuy
}

func closeAction(side Side) Action {
	if side == SideShort {
		return ActionBuy
	}
	return ActionSell
}
