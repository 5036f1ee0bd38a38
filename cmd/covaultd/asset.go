package main

import (
	"context"
	"fmt"
	"strconv"

	"CoVault/internal/chain"

	"github.com/spf13/cobra"
)

func parseDecimals(raw string) (uint8, error) {
	value, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("无效的精度: %q", raw)
	}
	return uint8(value), nil
}

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "资产解析与自定义代币登记",
}

var assetResolveCmd = &cobra.Command{
	Use:   "resolve <symbol-or-address>",
	Short: "把代币符号或合约地址解析为规范的资产描述",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			entry, err := orch.ResolveAsset(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(entry)
		})
	},
}

var assetAddCmd = &cobra.Command{
	Use:   "add <symbol> <address> <decimals>",
	Short: "为当前网络登记一个自定义代币",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			address, err := parseAddress(args[1])
			if err != nil {
				return err
			}
			decimals, err := parseDecimals(args[2])
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			entry := chain.Asset{Symbol: args[0], Address: address, Decimals: decimals}
			if err := orch.AddCustomAsset(ctx, entry); err != nil {
				return err
			}
			return printJSON(entry)
		})
	},
}

func init() {
	assetCmd.AddCommand(assetResolveCmd, assetAddCmd)
	rootCmd.AddCommand(assetCmd)
}
