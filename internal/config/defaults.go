package config

import "strings"

// 默认值常量
const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultDataDir        = "data/candles"
	defaultDataSymbol     = "BTCUSDT"
	defaultDataTimeframe  = "1h"
	defaultDataSource     = "spot"
	defaultSpotREST       = "https://api.binance.com"
	defaultRateLimit      = 1200
	defaultMaxBatch       = 1000
	defaultInitialCapital = 10000
	defaultRiskPercent    = 0.01
	defaultMaxTrades      = 100
	defaultDelaySeconds   = 0.05
	defaultResultsDB      = "data/results.db"
	defaultBreakoutWindow = 20
	defaultStopLookback   = 20
	defaultTakeProfitR    = 2
	defaultATRPeriod      = 14
	defaultShortWindow    = 50
	defaultLongWindow     = 200
	defaultTakeProfitPct  = 0.01
	defaultStopLossPct    = 0.01
	DefaultHTTPAddr       = ":9991"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Breakout.applyDefaults(keys)
	c.Crossover.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	d.Source = strings.ToLower(strings.TrimSpace(d.Source))
	applyFieldDefaults(keys,
		stringFieldDefault("data.dir", &d.Dir, defaultDataDir),
		stringFieldDefault("data.symbol", &d.Symbol, defaultDataSymbol),
		stringFieldDefault("data.timeframe", &d.Timeframe, defaultDataTimeframe),
		stringFieldDefault("data.source", &d.Source, defaultDataSource),
		stringFieldDefault("data.spot_rest", &d.SpotREST, defaultSpotREST),
		intFieldDefault("data.rate_limit_per_min", &d.RateLimitPerMin, defaultRateLimit),
		intFieldDefault("data.max_batch", &d.MaxBatch, defaultMaxBatch),
	)
	d.Symbol = strings.ToUpper(strings.TrimSpace(d.Symbol))
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("backtest.initial_capital", &b.InitialCapital, defaultInitialCapital),
		floatFieldDefault("backtest.risk_percent", &b.RiskPercent, defaultRiskPercent),
		intFieldDefault("backtest.max_trades", &b.MaxTrades, defaultMaxTrades),
		floatFieldDefault("backtest.delay_seconds", &b.DelaySeconds, defaultDelaySeconds),
		stringFieldDefault("backtest.results_db", &b.ResultsDB, defaultResultsDB),
	)
}

func (b *BreakoutConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("breakout.window", &b.Window, defaultBreakoutWindow),
		intFieldDefault("breakout.stop_lookback", &b.StopLookback, defaultStopLookback),
		floatFieldDefault("breakout.take_profit_r", &b.TakeProfitR, defaultTakeProfitR),
		intFieldDefault("breakout.atr_period", &b.ATRPeriod, defaultATRPeriod),
	)
}

func (c *CrossoverConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("crossover.short_window", &c.ShortWindow, defaultShortWindow),
		intFieldDefault("crossover.long_window", &c.LongWindow, defaultLongWindow),
		floatFieldDefault("crossover.take_profit_pct", &c.TakeProfitPct, defaultTakeProfitPct),
		floatFieldDefault("crossover.stop_loss_pct", &c.StopLossPct, defaultStopLossPct),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, stringFieldDefault("http.addr", &h.Addr, DefaultHTTPAddr))
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
