package app

import (
	"context"

	"backlab/internal/config"
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config, watcher *config.Watcher, opts []AppBuilderOption) *AppBuilder {
	return NewAppBuilder(cfg, watcher, opts...)
}
