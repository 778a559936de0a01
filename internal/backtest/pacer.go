package backtest

import (
	"context"
	"time"
)

// Pacer 在相邻两笔成交输出之间停顿，仅用于展示节奏。
type Pacer interface {
	Pause(ctx context.Context) error
}

// NoopPacer 不做任何等待。
type NoopPacer struct{}

func (NoopPacer) Pause(context.Context) error { return nil }

// SleepPacer 固定等待 Delay，可被 ctx 取消。
type SleepPacer struct {
	Delay time.Duration
}

func (p SleepPacer) Pause(ctx context.Context) error {
	return sleepWithContext(ctx, p.Delay)
}

// NewPacer 按时长返回合适的 Pacer，<=0 时为 NoopPacer。
func NewPacer(d time.Duration) Pacer {
	if d <= 0 {
		return NoopPacer{}
	}
	return SleepPacer{Delay: d}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
