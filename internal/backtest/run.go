package backtest

import (
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidConfig 表示模拟参数不满足前置条件。
	ErrInvalidConfig = errors.New("invalid backtest config")
	// ErrInvalidSeries 表示 K 线序列不满足时间升序或价格非法。
	ErrInvalidSeries = errors.New("invalid bar series")
	// ErrEntryRejected 表示开仓因止损距离退化被拒绝。
	ErrEntryRejected = errors.New("entry rejected")
)

// Side 是持仓方向。
type Side string

const (
	SideFlat  Side = "flat"
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Action 是成交记录的动作。
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionClose Action = "close"
)

// Reason 说明一笔成交的触发原因。
type Reason string

const (
	ReasonEntry       Reason = "entry"
	ReasonStopLoss    Reason = "stop_loss"
	ReasonTakeProfit  Reason = "take_profit"
	ReasonSignal      Reason = "signal"
	ReasonLiquidation Reason = "liquidation"
)

// Position 是当前持仓；Size 带方向，空头为负。
type Position struct {
	Side       Side    `json:"side"`
	Size       float64 `json:"size"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	OpenedAt   int64   `json:"opened_at"`
}

// Open 表示是否持仓。
func (p Position) Open() bool {
	return p.Side != SideFlat && p.Side != "" && p.Size != 0
}

// PnL 以 price 平仓时的已实现盈亏，空头同样适用。
func (p Position) PnL(price float64) float64 {
	return (price - p.Entry) * p.Size
}

// Account 只在平仓或强制清算时变动余额。
type Account struct {
	Balance  float64 `json:"balance"`
	Executed int     `json:"executed"`
	Rejected int     `json:"rejected"`
}

// Trade 是追加写入的成交记录。Size 为成交后的持仓量，Balance 为成交后的账户价值。
type Trade struct {
	Seq        int     `json:"seq" yaml:"seq"`
	Time       int64   `json:"time" yaml:"time"`
	Action     Action  `json:"action" yaml:"action"`
	Side       Side    `json:"side" yaml:"side"`
	Price      float64 `json:"price" yaml:"price"`
	Size       float64 `json:"size" yaml:"size"`
	Balance    float64 `json:"balance" yaml:"balance"`
	StopLoss   float64 `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit float64 `json:"take_profit" yaml:"take_profit"`
	PnL        float64 `json:"pnl" yaml:"pnl"`
	Reason     Reason  `json:"reason" yaml:"reason"`
}

// Closing 表示该记录是否实现了盈亏（平仓或清算）。
func (t Trade) Closing() bool {
	return t.Reason != ReasonEntry
}

// EquityPoint 是逐根 K 线的资金曲线采样（按收盘价盯市）。
type EquityPoint struct {
	Time    int64   `json:"time" yaml:"time"`
	Price   float64 `json:"price" yaml:"price"`
	Balance float64 `json:"balance" yaml:"balance"`
	Equity  float64 `json:"equity" yaml:"equity"`
}

// Stats 汇总收益与风控指标。
type Stats struct {
	Profit         float64 `json:"profit" yaml:"profit"`
	Wins           int     `json:"wins" yaml:"wins"`
	Losses         int     `json:"losses" yaml:"losses"`
	WinRate        float64 `json:"win_rate" yaml:"win_rate"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	EquityPeak     float64 `json:"equity_peak" yaml:"equity_peak"`
	EquityValley   float64 `json:"equity_valley" yaml:"equity_valley"`
	Rejected       int     `json:"rejected" yaml:"rejected"`
	Bars           int     `json:"bars" yaml:"bars"`
	Halted         bool    `json:"halted" yaml:"halted"`
}

// Result 是一次模拟的最终输出。
type Result struct {
	Strategy       string        `json:"strategy" yaml:"strategy"`
	InitialCapital float64       `json:"initial_capital" yaml:"initial_capital"`
	FinalValue     float64       `json:"final_value" yaml:"final_value"`
	ReturnPct      float64       `json:"return_pct" yaml:"return_pct"`
	TradesExecuted int           `json:"trades_executed" yaml:"trades_executed"`
	Trades         []Trade       `json:"trades" yaml:"trades"`
	Equity         []EquityPoint `json:"equity,omitempty" yaml:"equity,omitempty"`
	OpenPosition   *Position     `json:"open_position,omitempty" yaml:"open_position,omitempty"`
	Stats          Stats         `json:"stats" yaml:"stats"`
}

// ReturnPct 按 (final/initial − 1) × 100 计算收益率。
func ReturnPct(initial, final float64) float64 {
	if initial == 0 {
		return 0
	}
	return (final/initial - 1) * 100
}

// MarshalStats 返回 stats JSON。
func (r Result) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}
