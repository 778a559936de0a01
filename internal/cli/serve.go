package cli

import (
	"context"
	"os/signal"
	"syscall"

	"backlab/internal/app"
	brcfg "backlab/internal/config"
	"backlab/internal/logger"

	"github.com/spf13/cobra"
)

func newServeCmd(s *session) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动回测 HTTP 服务（配置文件变更时热加载）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := s.cfg
			var watcher *brcfg.Watcher
			if s.configPath != "" {
				w, err := brcfg.NewWatcher(s.configPath)
				if err != nil {
					return err
				}
				watcher = w
				cfg = w.Current()
			}
			if addr != "" {
				copied := *cfg
				copied.HTTP.Addr = addr
				cfg = &copied
			}
			a, err := app.NewApp(cfg, watcher)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger.Infof("[app] serving backtest api on %s", cfg.HTTP.Addr)
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址（覆盖 http.addr）")
	return cmd
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
