package backtest

import "context"

// TradeRecorder 在每笔成交产生时收到通知，例如实时打印交易表。
type TradeRecorder interface {
	RecordTrade(ctx context.Context, trade Trade) error
}

// RecorderFunc 将函数适配为 TradeRecorder。
type RecorderFunc func(ctx context.Context, trade Trade) error

func (f RecorderFunc) RecordTrade(ctx context.Context, trade Trade) error {
	return f(ctx, trade)
}

// MultiRecorder 依次通知多个 recorder，遇到首个错误即返回。
type MultiRecorder []TradeRecorder

func (m MultiRecorder) RecordTrade(ctx context.Context, trade Trade) error {
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordTrade(ctx, trade); err != nil {
			return err
		}
	}
	return nil
}
