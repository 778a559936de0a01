package config

import (
	"strings"
	"time"
)

// Config 是 backlab 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Data      DataConfig      `toml:"data"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Breakout  BreakoutConfig  `toml:"breakout"`
	Crossover CrossoverConfig `toml:"crossover"`
	HTTP      HTTPConfig      `toml:"http"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 描述行情数据来源：本地 CSV 或 SQLite K 线缓存。
type DataConfig struct {
	CSVPath         string `toml:"csv_path"`
	Dir             string `toml:"dir"`
	Symbol          string `toml:"symbol"`
	Timeframe       string `toml:"timeframe"`
	Source          string `toml:"source"`
	SpotREST        string `toml:"spot_rest"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
}

// BacktestConfig 是两种模拟器共用的账户与节奏参数。
type BacktestConfig struct {
	InitialCapital float64 `toml:"initial_capital"`
	RiskPercent    float64 `toml:"risk_percent"`
	MaxTrades      int     `toml:"max_trades"`
	DelaySeconds   float64 `toml:"delay_seconds"`
	ResultsDB      string  `toml:"results_db"`
}

// Delay 返回逐笔输出之间的停顿。
func (b BacktestConfig) Delay() time.Duration {
	if b.DelaySeconds <= 0 {
		return 0
	}
	return time.Duration(b.DelaySeconds * float64(time.Second))
}

type BreakoutConfig struct {
	Window       int     `toml:"window"`
	StopLookback int     `toml:"stop_lookback"`
	TakeProfitR  float64 `toml:"take_profit_r"`
	ATRPeriod    int     `toml:"atr_period"`
}

type CrossoverConfig struct {
	ShortWindow   int     `toml:"short_window"`
	LongWindow    int     `toml:"long_window"`
	TakeProfitPct float64 `toml:"take_profit_pct"`
	StopLossPct   float64 `toml:"stop_loss_pct"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
