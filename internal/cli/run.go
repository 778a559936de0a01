package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"backlab/internal/backtest"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/report"
	"backlab/internal/store/gormstore"
	"backlab/internal/strategy"

	"github.com/spf13/cobra"
)

type runFlags struct {
	strategy  string
	csv       string
	symbol    string
	timeframe string
	chart     string
	png       string
	export    string
	noDelay   bool
	noSave    bool
	plain     bool
}

func newRunCmd(s *session) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "运行一次回测并打印交易日志与摘要",
		Example: `  backlab run --strategy 1 --csv data/BTCUSD_history.csv
  backlab run --strategy crossover --symbol BTCUSDT --timeframe 1h --chart out/equity.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runBacktest(contextOf(cmd), f, cmd.Flags().Changed("strategy"))
		},
	}
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "策略：1|2|breakout|crossover（缺省时交互询问）")
	cmd.Flags().StringVar(&f.csv, "csv", "", "CSV 行情文件（覆盖 data.csv_path）")
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "从 K 线缓存读取的交易对（覆盖 data.symbol）")
	cmd.Flags().StringVar(&f.timeframe, "timeframe", "", "K 线周期（覆盖 data.timeframe）")
	cmd.Flags().StringVar(&f.chart, "chart", "", "输出权益曲线 HTML")
	cmd.Flags().StringVar(&f.png, "png", "", "输出权益曲线 PNG（需要本机 Chrome）")
	cmd.Flags().StringVar(&f.export, "export", "", "导出结果到 .json/.yaml")
	cmd.Flags().BoolVar(&f.noDelay, "no-delay", false, "逐笔输出之间不停顿")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "不写入回测结果库")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "关闭彩色输出")
	return cmd
}

// resolveChoice 返回规范化的策略名；ok=false 表示选择无效。
func (s *session) resolveChoice(f runFlags, fromFlag bool) (string, bool, error) {
	if fromFlag {
		name, ok := strategy.Normalize(f.strategy)
		return name, ok, nil
	}
	choice, err := strategyPrompt(s.out)
	if err != nil {
		return "", false, err
	}
	if choice != "1" && choice != "2" {
		return "", false, nil
	}
	name, ok := strategy.Normalize(choice)
	return name, ok, nil
}

func (s *session) runBacktest(ctx context.Context, f runFlags, fromFlag bool) error {
	name, ok, err := s.resolveChoice(f, fromFlag)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(s.out, "Invalid choice. Exiting.")
		return nil
	}

	cfg := s.cfg
	req := backtest.DataRequest{
		CSVPath:   firstNonEmpty(f.csv, cfg.Data.CSVPath),
		Symbol:    strings.ToUpper(firstNonEmpty(f.symbol, cfg.Data.Symbol)),
		Timeframe: firstNonEmpty(f.timeframe, cfg.Data.Timeframe),
	}
	if f.csv == "" && f.symbol != "" {
		req.CSVPath = ""
	}

	var candles *market.Store
	if req.CSVPath == "" {
		candles, err = market.NewStore(cfg.Data.Dir)
		if err != nil {
			return fmt.Errorf("open candle cache: %w", err)
		}
		defer candles.Close()
	}

	pacer := backtest.NewPacer(cfg.Backtest.Delay())
	if f.noDelay {
		pacer = backtest.NoopPacer{}
	}
	spec := backtest.NewRunSpec(cfg, name)
	logger.Infof("[backtest] %s on %s", name, req.Describe())
	res, err := backtest.NewService(candles).Execute(ctx, spec, req,
		backtest.WithRecorder(report.NewTradeLog(s.out, !f.plain && s.out == os.Stdout)),
		backtest.WithPacer(pacer),
	)
	if err != nil {
		return err
	}
	if err := report.WriteSummary(s.out, res); err != nil {
		return err
	}
	return s.writeOutputs(ctx, f, spec, req, res)
}

func (s *session) writeOutputs(ctx context.Context, f runFlags, spec backtest.RunSpec, req backtest.DataRequest, res backtest.Result) error {
	title := fmt.Sprintf("%s %s", res.Strategy, req.Describe())
	if f.chart != "" {
		if err := report.WriteChartHTML(f.chart, res, title); err != nil {
			return err
		}
		fmt.Fprintln(s.out, okStyle.Render("✓ chart written to "+f.chart))
	}
	if f.png != "" {
		if err := report.WriteChartPNG(ctx, f.png, res, title); err != nil {
			fmt.Fprintln(s.out, warnStyle.Render("! png skipped: "+err.Error()))
		} else {
			fmt.Fprintln(s.out, okStyle.Render("✓ png written to "+f.png))
		}
	}
	if f.export != "" {
		if err := report.ExportFile(f.export, res); err != nil {
			return err
		}
		fmt.Fprintln(s.out, okStyle.Render("✓ result exported to "+f.export))
	}
	if f.noSave {
		return nil
	}
	runs, err := gormstore.NewGormStore(s.cfg.Backtest.ResultsDB)
	if err != nil {
		return err
	}
	defer runs.Close()
	rec, err := runs.SaveRun(ctx, gormstore.RunMeta{
		Symbol:     req.Symbol,
		Timeframe:  req.Timeframe,
		DataSource: req.Describe(),
		Config:     spec,
	}, res)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, okStyle.Render("✓ run saved: "+rec.ID))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
