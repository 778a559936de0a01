package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	brcfg "backlab/internal/config"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/store/gormstore"
	backtesthttp "backlab/internal/transport/http/backtest"

	"golang.org/x/sync/errgroup"
)

// App 负责 serve 模式的编排：加载配置→初始化存储→启动回测 HTTP 服务。
type App struct {
	cfg     *brcfg.Config
	watcher *brcfg.Watcher
	candles *market.Store
	runs    *gormstore.GormStore
	fetcher *market.Fetcher
	server  *backtesthttp.Server
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。watcher 可为空，此时配置不热更新。
func NewApp(cfg *brcfg.Config, watcher *brcfg.Watcher, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, watcher, opts)
}

// Run 启动 HTTP 服务并阻塞到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.watcher != nil {
		a.watcher.Subscribe(func(next *brcfg.Config) {
			logger.SetLevel(next.App.LogLevel)
			logger.InfoBlock(fmt.Sprintf("[app] 配置已更新，后续回测使用新参数\n  capital=%.2f risk=%.4f max_trades=%d\n  breakout=%d/%d crossover=%d/%d",
				next.Backtest.InitialCapital, next.Backtest.RiskPercent, next.Backtest.MaxTrades,
				next.Breakout.Window, next.Breakout.StopLookback, next.Crossover.ShortWindow, next.Crossover.LongWindow))
		})
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Handler 暴露 HTTP 路由，便于测试直接调用。
func (a *App) Handler() http.Handler {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Handler()
}

// Close 释放 K 线缓存与结果库连接。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.runs != nil {
		errs = append(errs, a.runs.Close())
		a.runs = nil
	}
	if a.candles != nil {
		errs = append(errs, a.candles.Close())
		a.candles = nil
	}
	return errors.Join(errs...)
}
