package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"CoVault/internal/config"
	"CoVault/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "covaultd",
	Short: "covaultd 是智能体与人类共管金库的编排守护进程",
	Long: `covaultd 管理一个由自治智能体与人类所有者共同控制的多签金库:
入驻引导、动作提案、确认跟踪与达到阈值后的上链执行。
状态变更操作只通过命令行完成，HTTP 服务只暴露只读视图。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 挂载全部子命令并运行。
func Execute(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "covaultd: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "配置文件路径 (默认 $COVAULT_CONFIG 或 configs/covault.json)")
	rootCmd.PersistentFlags().Uint64("chain", 0, "覆盖配置中的链 ID")
}

// loadConfig 解析配置并初始化全局日志。找不到配置文件时退回默认配置，
// 让 covaultd 无需任何文件也能在公共网络上跑起来。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("COVAULT_CONFIG")
	}
	if path == "" {
		path = filepath.Join("configs", "covault.json")
	}

	var cfg *config.Config
	if _, err := os.Stat(path); err == nil {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default(".")
	}

	if chainID, _ := cmd.Flags().GetUint64("chain"); chainID != 0 {
		cfg.Network.ChainID = chainID
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditEnabled,
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}
