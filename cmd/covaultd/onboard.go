package main

import (
	"context"
	"math/big"

	"github.com/spf13/cobra"
)

// 智能体余额检查的兜底下限: 0.01 个原生币。
var defaultMinFundingWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "入驻流程: 创建智能体身份、登记所有者并部署金库",
}

var onboardStartCmd = &cobra.Command{
	Use:   "start",
	Short: "创建(或加载)智能体签名身份",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			address, err := a.machine().Start(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"agent_address": address.Hex(),
				"network":       a.profile.Name,
				"chain_id":      a.profile.ChainID,
			})
		})
	},
}

var onboardFundsCmd = &cobra.Command{
	Use:   "funds",
	Short: "检查智能体地址的 gas 余额是否达到入驻下限",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			minimum := minFunding(cmd, a)
			m := a.machine()
			if _, err := m.Start(ctx); err != nil {
				return err
			}
			report, err := m.CheckAgentFunds(ctx, minimum)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"balance_wei": report.Balance.String(),
				"minimum_wei": report.Minimum.String(),
				"sufficient":  report.Sufficient,
				"stage":       string(report.Stage),
			})
		})
	},
}

var onboardAddOwnerCmd = &cobra.Command{
	Use:   "add-owner <address>",
	Short: "登记一个人类所有者地址",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			m := a.machine()
			if _, err := m.Start(ctx); err != nil {
				return err
			}
			if err := m.AddOwnerAddress(ctx, args[0]); err != nil {
				return err
			}
			return printJSON(map[string]any{"owner": args[0], "added": true})
		})
	},
}

var onboardOverviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "展示部署前的所有者名单、阈值与费用估算",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			threshold, _ := cmd.Flags().GetUint64("threshold")
			m := a.machine()
			if _, err := m.Start(ctx); err != nil {
				return err
			}
			overview, err := m.DeployOverview(ctx, threshold)
			if err != nil {
				return err
			}
			owners := make([]string, 0, len(overview.Owners))
			for _, owner := range overview.Owners {
				owners = append(owners, owner.Hex())
			}
			out := map[string]any{
				"owners":    owners,
				"threshold": overview.Threshold,
			}
			if overview.FundingEstimate != nil {
				out["funding_estimate_wei"] = overview.FundingEstimate.String()
			}
			return printJSON(out)
		})
	},
}

var onboardDeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "部署金库合约并登记到本地注册表",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			threshold, _ := cmd.Flags().GetUint64("threshold")
			m := a.machine()
			if _, err := m.Start(ctx); err != nil {
				return err
			}
			result, err := m.Deploy(ctx, threshold)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"vault_address": result.Address.Hex(),
				"deploy_tx":     result.TxHash.Hex(),
				"chain_id":      a.profile.ChainID,
			})
		})
	},
}

// minFunding 取余额下限: 命令行旗标优先，其次配置，最后兜底常量。
func minFunding(cmd *cobra.Command, a *app) *big.Int {
	if raw, _ := cmd.Flags().GetString("min-wei"); raw != "" {
		if amount, err := parseWei(raw); err == nil {
			return amount
		}
	}
	if raw := a.cfg.Network.MinFundingWei; raw != "" {
		if amount, ok := new(big.Int).SetString(raw, 10); ok && amount.Sign() > 0 {
			return amount
		}
	}
	return new(big.Int).Set(defaultMinFundingWei)
}

func init() {
	onboardFundsCmd.Flags().String("min-wei", "", "余额下限，十进制 wei")
	onboardOverviewCmd.Flags().Uint64("threshold", 0, "确认阈值 (默认等于所有者人数)")
	onboardDeployCmd.Flags().Uint64("threshold", 0, "确认阈值 (默认等于所有者人数)")

	onboardCmd.AddCommand(onboardStartCmd, onboardFundsCmd, onboardAddOwnerCmd,
		onboardOverviewCmd, onboardDeployCmd)
	rootCmd.AddCommand(onboardCmd)
}
