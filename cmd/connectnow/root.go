package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/config"
	"github.com/d60-Lab/connectnow/pkg/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "connectnow",
	Short: "connectnow social backend",
	Long: `connectnow 社交网络后端：关注关系、动态、私信、通知与 AI 助手。

子命令:
  serve    启动 HTTP 服务与后台 worker
  migrate  执行数据库迁移
  seed     写入演示数据`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c
		if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger.Info("config loaded", zap.String("mode", cfg.Server.Mode), zap.String("db", cfg.Database.Driver))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}
