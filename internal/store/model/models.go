package model

import (
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusDone   RunStatus = "done"
	RunStatusFailed RunStatus = "failed"
)

// BacktestRunModel 是一次回测的摘要行。
type BacktestRunModel struct {
	ID               string         `gorm:"column:id;primaryKey;size:36"`
	Strategy         string         `gorm:"column:strategy;index"`
	Symbol           string         `gorm:"column:symbol;index"`
	Timeframe        string         `gorm:"column:timeframe"`
	DataSource       string         `gorm:"column:data_source"`
	Status           RunStatus      `gorm:"column:status"`
	Message          string         `gorm:"column:message"`
	InitialCapital   float64        `gorm:"column:initial_capital"`
	FinalValue       float64        `gorm:"column:final_value"`
	ReturnPct        float64        `gorm:"column:return_pct"`
	TradesExecuted   int            `gorm:"column:trades_executed"`
	Bars             int            `gorm:"column:bars"`
	ConfigJSON       datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON        datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	EquityJSON       datatypes.JSON `gorm:"column:equity_json;type:TEXT"`
	OpenPositionJSON datatypes.JSON `gorm:"column:open_position_json;type:TEXT"`
	CreatedAtUnix    int64          `gorm:"column:created_at;index"`
	FinishedAtUnix   *int64         `gorm:"column:finished_at"`
}

func (BacktestRunModel) TableName() string { return "backtest_runs" }

// BacktestTradeModel 是成交日志中的一行，(run_id, seq) 唯一。
type BacktestTradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string  `gorm:"column:run_id;size:36;uniqueIndex:idx_backtest_trade_run_seq"`
	Seq        int     `gorm:"column:seq;uniqueIndex:idx_backtest_trade_run_seq"`
	TimeMillis int64   `gorm:"column:time"`
	Action     string  `gorm:"column:action"`
	Side       string  `gorm:"column:side"`
	Price      float64 `gorm:"column:price"`
	Size       float64 `gorm:"column:size"`
	Balance    float64 `gorm:"column:balance"`
	StopLoss   float64 `gorm:"column:stop_loss"`
	TakeProfit float64 `gorm:"column:take_profit"`
	PnL        float64 `gorm:"column:pnl"`
	Reason     string  `gorm:"column:reason"`
}

func (BacktestTradeModel) TableName() string { return "backtest_trades" }
