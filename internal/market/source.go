package market

import (
	"context"
	"fmt"
	"strings"
)

// FetchRequest 描述一次远端 K 线拉取（毫秒时间）。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64
	Limit    int
}

func (r FetchRequest) validate() error {
	if strings.TrimSpace(r.Symbol) == "" || strings.TrimSpace(r.Interval) == "" {
		return fmt.Errorf("symbol/interval must not be empty")
	}
	return nil
}

func (r FetchRequest) limit() int {
	if r.Limit <= 0 || r.Limit > 1000 {
		return 1000
	}
	return r.Limit
}

// CandleSource 抽象远端历史 K 线来源。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Candle, error)
	Name() string
}

// NewSource 按名称构造数据源：spot 使用 REST，futures 使用 SDK。
func NewSource(name, spotREST string) (CandleSource, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "spot":
		return NewSpotSource(spotREST), nil
	case "futures":
		return NewFuturesSource(), nil
	default:
		return nil, fmt.Errorf("unknown candle source: %s", name)
	}
}
