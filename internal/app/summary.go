package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	brcfg "backlab/internal/config"
	"backlab/internal/market"
)

type StartupSummary struct {
	Data      DataSummary
	Account   AccountSummary
	Breakout  brcfg.BreakoutConfig
	Crossover brcfg.CrossoverConfig
	HTTPAddr  string
	ResultsDB string
	Out       io.Writer
}

type DataSummary struct {
	Dir       string
	Source    string
	Symbol    string
	Timeframe string
	CSVPath   string
}

type AccountSummary struct {
	InitialCapital float64
	RiskPercent    float64
	MaxTrades      int
}

func newStartupSummary(cfg *brcfg.Config, src market.CandleSource) *StartupSummary {
	source := "-"
	if src != nil {
		source = src.Name()
	}
	return &StartupSummary{
		Data: DataSummary{
			Dir:       cfg.Data.Dir,
			Source:    source,
			Symbol:    cfg.Data.Symbol,
			Timeframe: cfg.Data.Timeframe,
			CSVPath:   cfg.Data.CSVPath,
		},
		Account: AccountSummary{
			InitialCapital: cfg.Backtest.InitialCapital,
			RiskPercent:    cfg.Backtest.RiskPercent,
			MaxTrades:      cfg.Backtest.MaxTrades,
		},
		Breakout:  cfg.Breakout,
		Crossover: cfg.Crossover,
		HTTPAddr:  cfg.HTTP.Addr,
		ResultsDB: cfg.Backtest.ResultsDB,
	}
}

func (s *StartupSummary) Print() {
	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintf(out, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(out, strings.Repeat("=", 80))

	fmt.Fprintln(out, "[行情数据 (MARKET DATA)]")
	fmt.Fprintf(out, "  缓存目录: %s\n", orDash(s.Data.Dir))
	fmt.Fprintf(out, "  行情源: %s\n", orDash(s.Data.Source))
	fmt.Fprintf(out, "  默认标的: %s\n", formatList([]string{s.Data.Symbol, s.Data.Timeframe}))
	fmt.Fprintf(out, "  CSV 文件: %s\n", orDash(s.Data.CSVPath))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "[账户参数 (ACCOUNT)]")
	fmt.Fprintf(out, "  初始资金: %.2f\n", s.Account.InitialCapital)
	fmt.Fprintf(out, "  单笔风险: %.2f%%\n", s.Account.RiskPercent*100)
	fmt.Fprintf(out, "  最大交易数: %d\n", s.Account.MaxTrades)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "[策略参数 (STRATEGIES)]")
	fmt.Fprintf(out, "  > Breakout: 窗口 %d, 止损回看 %d, 止盈 %.2fR\n",
		s.Breakout.Window, s.Breakout.StopLookback, s.Breakout.TakeProfitR)
	fmt.Fprintf(out, "  > Crossover: 均线 %d/%d, 止盈 %.2f%%, 止损 %.2f%%\n",
		s.Crossover.ShortWindow, s.Crossover.LongWindow, s.Crossover.TakeProfitPct*100, s.Crossover.StopLossPct*100)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "[服务 (SERVICE)]")
	fmt.Fprintf(out, "  HTTP 地址: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintf(out, "  结果库: %s\n", orDash(s.ResultsDB))
	fmt.Fprintln(out, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		return "-"
	}
	return strings.Join(kept, ", ")
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
