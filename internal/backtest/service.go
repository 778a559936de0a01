package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"backlab/internal/market"
)

// ErrNoData 表示所选数据源在给定区间内没有 K 线。
var ErrNoData = errors.New("no candles for the requested range")

// DataRequest 选择行情来源：CSV 优先，其次内联 K 线，最后是本地缓存。
type DataRequest struct {
	CSVPath   string          `json:"csv_path,omitempty"`
	Symbol    string          `json:"symbol,omitempty"`
	Timeframe string          `json:"timeframe,omitempty"`
	Start     int64           `json:"start,omitempty"`
	End       int64           `json:"end,omitempty"`
	Candles   []market.Candle `json:"-"`
}

// Describe 返回便于记录的数据来源描述。
func (r DataRequest) Describe() string {
	switch {
	case strings.TrimSpace(r.CSVPath) != "":
		return "csv:" + strings.TrimSpace(r.CSVPath)
	case len(r.Candles) > 0:
		return fmt.Sprintf("inline:%d", len(r.Candles))
	default:
		return fmt.Sprintf("cache:%s@%s", strings.ToUpper(r.Symbol), r.Timeframe)
	}
}

// Service 负责取数并执行一次回测，持久化交给调用方。
type Service struct {
	candles *market.Store
}

// NewService 创建 Service；candles 为空时只能使用 CSV 或内联数据。
func NewService(candles *market.Store) *Service {
	return &Service{candles: candles}
}

// LoadCandles 按 req 读取 K 线，结果按开盘时间升序。
func (s *Service) LoadCandles(ctx context.Context, req DataRequest) ([]market.Candle, error) {
	if path := strings.TrimSpace(req.CSVPath); path != "" {
		candles, err := market.LoadCSV(path)
		if err != nil {
			return nil, err
		}
		return requireData(candles, req)
	}
	if len(req.Candles) > 0 {
		candles := append([]market.Candle(nil), req.Candles...)
		sort.SliceStable(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
		return requireData(candles, req)
	}
	if s == nil || s.candles == nil {
		return nil, fmt.Errorf("%w: candle cache not configured", ErrNoData)
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 必填")
	}
	tf, err := market.ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, err
	}
	candles, err := s.candles.RangeCandles(ctx, symbol, tf.Key, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("load cached candles %s@%s: %w", symbol, tf.Key, err)
	}
	return requireData(candles, req)
}

// Execute 取数后按 spec 运行回测。
func (s *Service) Execute(ctx context.Context, spec RunSpec, req DataRequest, opts ...Option) (Result, error) {
	candles, err := s.LoadCandles(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Run(ctx, candles, spec, opts...)
}

func requireData(candles []market.Candle, req DataRequest) ([]market.Candle, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, req.Describe())
	}
	return candles, nil
}
