package cli

import (
	"fmt"
	"strings"
	"time"

	"backlab/internal/market"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

// newSource 构造远端行情源，测试中可替换。
var newSource = market.NewSource

type fetchFlags struct {
	symbol    string
	timeframe string
	start     string
	end       string
	source    string
}

func newFetchCmd(s *session) *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "补齐本地 K 线缓存",
		Example: `  backlab fetch --symbol BTCUSDT --timeframe 1h --start 2024-01-01 --end 2024-03-01
  backlab fetch --symbol ETHUSDT --timeframe 4h --start 1704067200000 --source futures`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.fetch(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "交易对，例如 BTCUSDT")
	cmd.Flags().StringVar(&f.timeframe, "timeframe", "", "K 线周期，例如 1h")
	cmd.Flags().StringVar(&f.start, "start", "", "起始时间（日期、RFC3339 或毫秒时间戳）")
	cmd.Flags().StringVar(&f.end, "end", "", "结束时间（缺省为当前时间）")
	cmd.Flags().StringVar(&f.source, "source", "", "行情源 spot|futures（覆盖 data.source）")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("timeframe")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func (s *session) fetch(cmd *cobra.Command, f fetchFlags) error {
	start, err := parseTimeArg(f.start)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end := time.Now().UnixMilli()
	if strings.TrimSpace(f.end) != "" {
		if end, err = parseTimeArg(f.end); err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
	}
	if end <= start {
		return fmt.Errorf("--end must be after --start")
	}

	cfg := s.cfg
	src, err := newSource(firstNonEmpty(f.source, cfg.Data.Source), cfg.Data.SpotREST)
	if err != nil {
		return err
	}
	store, err := market.NewStore(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("open candle cache: %w", err)
	}
	defer store.Close()
	fetcher, err := market.NewFetcher(market.FetcherConfig{
		Store:           store,
		Source:          src,
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
		MaxBatch:        cfg.Data.MaxBatch,
	})
	if err != nil {
		return err
	}

	job, err := fetcher.Sync(contextOf(cmd), market.FetchParams{
		Symbol:    f.symbol,
		Timeframe: f.timeframe,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s %s@%s: inserted=%d completed=%d/%d missing=%d",
		job.Status, job.Params.Symbol, job.Params.Timeframe, job.Inserted, job.Completed, job.Total, len(job.Missing))
	switch job.Status {
	case market.JobStatusDone:
		fmt.Fprintln(s.out, okStyle.Render("✓ "+line))
	case market.JobStatusFailed:
		return fmt.Errorf("fetch failed: %s", job.Message)
	default:
		fmt.Fprintln(s.out, warnStyle.Render("! "+line))
	}
	for _, w := range job.Warnings {
		fmt.Fprintln(s.out, warnStyle.Render("  - "+w))
	}
	return nil
}

// parseTimeArg 接受毫秒时间戳或 cast 能识别的日期格式（按 UTC 解析）。
func parseTimeArg(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("empty time")
	}
	if ms, err := cast.ToInt64E(v); err == nil {
		return ms, nil
	}
	t, err := cast.ToTimeInDefaultLocationE(v, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
