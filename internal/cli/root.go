package cli

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	brcfg "backlab/internal/config"
	"backlab/internal/logger"

	"github.com/spf13/cobra"
)

// DefaultConfigPath 在未指定 --config 且未设置 BACKLAB_CONFIG 时尝试加载。
const DefaultConfigPath = "configs/backlab.yaml"

// session 保存一次命令执行期间共享的配置与输出。
type session struct {
	configPath string
	cfg        *brcfg.Config
	out        io.Writer
	logFile    *os.File
}

// NewRootCmd 构造 backlab 命令树。
func NewRootCmd() *cobra.Command {
	s := &session{out: os.Stdout}

	root := &cobra.Command{
		Use:   "backlab",
		Short: "backlab - OHLC 回测交易模拟器",
		Long: `backlab 基于历史 K 线运行突破策略与均线交叉策略的交易模拟，
输出逐笔交易日志与收益摘要，并提供 K 线补数与回测 HTTP 服务。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s.out = cmd.OutOrStdout()
			return s.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if s.logFile != nil {
				logger.SetOutput(nil)
				log.SetOutput(os.Stderr)
				return s.logFile.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&s.configPath, "config", os.Getenv("BACKLAB_CONFIG"), "配置文件路径（默认 "+DefaultConfigPath+"，不存在时使用内置默认值）")

	root.AddCommand(newRunCmd(s))
	root.AddCommand(newFetchCmd(s))
	root.AddCommand(newServeCmd(s))
	return root
}

// Execute 运行命令树，出错时返回非零退出码。
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), errorStyle.Render("Error: "+err.Error()))
		return 1
	}
	return 0
}

func (s *session) load() error {
	path := strings.TrimSpace(s.configPath)
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err == nil {
			path = DefaultConfigPath
		}
	}
	cfg, err := brcfg.Load(path)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	s.configPath = path
	s.cfg = cfg
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return fmt.Errorf("初始化日志文件失败: %w", err)
	}
	s.logFile = logFile
	logger.SetLevel(cfg.App.LogLevel)
	if path != "" {
		logger.Debugf("✓ 配置加载成功（环境=%s，文件=%s）", cfg.App.Env, path)
	}
	return nil
}

// setupLogOutput 把日志同时写到 stderr 与 path。
func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stderr, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
