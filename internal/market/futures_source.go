package market

import (
	"context"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
)

// FuturesSource 通过 go-binance SDK 读取 USDT 合约历史 K 线。
type FuturesSource struct {
	client *futures.Client
}

func NewFuturesSource() *FuturesSource {
	return &FuturesSource{client: futures.NewClient("", "")}
}

func (s *FuturesSource) Name() string { return "futures" }

func (s *FuturesSource) Fetch(ctx context.Context, req FetchRequest) ([]Candle, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	svc := s.client.NewKlinesService().
		Symbol(strings.ToUpper(req.Symbol)).
		Interval(req.Interval).
		Limit(req.limit())
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(klines))
	for _, kl := range klines {
		out = append(out, Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
