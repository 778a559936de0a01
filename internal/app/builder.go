package app

import (
	"context"
	"fmt"
	"strings"

	"backlab/internal/backtest"
	brcfg "backlab/internal/config"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/store/gormstore"
	backtesthttp "backlab/internal/transport/http/backtest"
)

// AppBuilder 按配置组装 serve 模式的依赖，各步骤可替换以便测试。
type AppBuilder struct {
	cfg     *brcfg.Config
	watcher *brcfg.Watcher

	candleStoreFn func(brcfg.DataConfig) (*market.Store, error)
	runStoreFn    func(brcfg.BacktestConfig) (*gormstore.GormStore, error)
	sourceFn      func(brcfg.DataConfig) (market.CandleSource, error)
}

type AppBuilderOption func(*AppBuilder)

// WithSource 替换远端 K 线来源。
func WithSource(src market.CandleSource) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(brcfg.DataConfig) (market.CandleSource, error) { return src, nil }
	}
}

func NewAppBuilder(cfg *brcfg.Config, watcher *brcfg.Watcher, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		watcher:       watcher,
		candleStoreFn: provideCandleStore,
		runStoreFn:    provideRunStore,
		sourceFn:      provideSource,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build 创建存储、补数器与 HTTP 服务；任一步失败都会释放已创建的资源。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	candles, err := b.candleStoreFn(b.cfg.Data)
	if err != nil {
		return nil, err
	}
	runs, err := b.runStoreFn(b.cfg.Backtest)
	if err != nil {
		_ = candles.Close()
		return nil, err
	}
	src, err := b.sourceFn(b.cfg.Data)
	if err != nil {
		_ = runs.Close()
		_ = candles.Close()
		return nil, err
	}
	fetcher, err := provideFetcher(b.cfg.Data, candles, src)
	if err != nil {
		_ = runs.Close()
		_ = candles.Close()
		return nil, err
	}
	svc := backtest.NewService(candles)
	server, err := provideHTTPServer(b.cfg.HTTP, svc, fetcher, candles, runs, provideSettings(b.cfg, b.watcher))
	if err != nil {
		_ = runs.Close()
		_ = candles.Close()
		return nil, err
	}
	return &App{
		cfg:     b.cfg,
		watcher: b.watcher,
		candles: candles,
		runs:    runs,
		fetcher: fetcher,
		server:  server,
		Summary: newStartupSummary(b.cfg, src),
	}, nil
}

func provideCandleStore(cfg brcfg.DataConfig) (*market.Store, error) {
	st, err := market.NewStore(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线缓存失败: %w", err)
	}
	logger.Infof("✓ K 线缓存目录 %s", cfg.Dir)
	return st, nil
}

func provideRunStore(cfg brcfg.BacktestConfig) (*gormstore.GormStore, error) {
	st, err := gormstore.NewGormStore(cfg.ResultsDB)
	if err != nil {
		return nil, fmt.Errorf("初始化回测结果库失败: %w", err)
	}
	logger.Infof("✓ 回测结果库 %s", cfg.ResultsDB)
	return st, nil
}

func provideSource(cfg brcfg.DataConfig) (market.CandleSource, error) {
	src, err := market.NewSource(cfg.Source, cfg.SpotREST)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	return src, nil
}

func provideFetcher(cfg brcfg.DataConfig, candles *market.Store, src market.CandleSource) (*market.Fetcher, error) {
	return market.NewFetcher(market.FetcherConfig{
		Store:           candles,
		Source:          src,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxBatch:        cfg.MaxBatch,
	})
}

// provideSettings 优先返回热加载后的最新配置。
func provideSettings(cfg *brcfg.Config, watcher *brcfg.Watcher) func() *brcfg.Config {
	if watcher == nil {
		return func() *brcfg.Config { return cfg }
	}
	return watcher.Current
}

func provideHTTPServer(cfg brcfg.HTTPConfig, svc *backtest.Service, fetcher *market.Fetcher, candles *market.Store, runs *gormstore.GormStore, settings func() *brcfg.Config) (*backtesthttp.Server, error) {
	server, err := backtesthttp.NewServer(backtesthttp.Config{
		Addr:     strings.TrimSpace(cfg.Addr),
		Service:  svc,
		Fetcher:  fetcher,
		Candles:  candles,
		Runs:     runs,
		Settings: settings,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测 HTTP 失败: %w", err)
	}
	return server, nil
}
