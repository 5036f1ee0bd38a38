package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "以智能体身份发起金库动作提案",
}

var proposeTransferCmd = &cobra.Command{
	Use:   "transfer <to> <amount-wei>",
	Short: "提案一笔原生币转账",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			to, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := parseWei(args[1])
			if err != nil {
				return err
			}
			description, _ := cmd.Flags().GetString("desc")
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			prop, err := orch.ProposeTransfer(ctx, to, amount, description)
			if err != nil {
				return err
			}
			return printJSON(prop)
		})
	},
}

var proposeTokenCmd = &cobra.Command{
	Use:   "token <asset> <to> <amount>",
	Short: "提案一笔代币转账，asset 可以是符号或合约地址，amount 为最小单位",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			to, err := parseAddress(args[1])
			if err != nil {
				return err
			}
			amount, err := parseWei(args[2])
			if err != nil {
				return err
			}
			description, _ := cmd.Flags().GetString("desc")
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			prop, err := orch.ProposeAssetTransfer(ctx, args[0], to, amount, description)
			if err != nil {
				return err
			}
			return printJSON(prop)
		})
	},
}

var proposeSwapCmd = &cobra.Command{
	Use:   "swap <from-asset> <to-asset> <amount>",
	Short: "提案一笔代币兑换 (授权加兑换的两步批量动作)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			amount, err := parseWei(args[2])
			if err != nil {
				return err
			}
			slippage := slippageBps(cmd, a)
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			prop, err := orch.ProposeSwap(ctx, args[0], args[1], amount, slippage)
			if err != nil {
				return err
			}
			return printJSON(prop)
		})
	},
}

var proposeWrapCmd = &cobra.Command{
	Use:   "wrap <amount-wei>",
	Short: "提案把原生币包装为 ERC20 形态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			amount, err := parseWei(args[0])
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			prop, err := orch.ProposeWrap(ctx, amount)
			if err != nil {
				return err
			}
			return printJSON(prop)
		})
	},
}

var proposeUnwrapCmd = &cobra.Command{
	Use:   "unwrap <amount-wei>",
	Short: "提案把包装代币解回原生币",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			amount, err := parseWei(args[0])
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			prop, err := orch.ProposeUnwrap(ctx, amount)
			if err != nil {
				return err
			}
			return printJSON(prop)
		})
	},
}

var proposeSupplyCmd = &cobra.Command{
	Use:   "supply <asset> <amount>",
	Short: "提案把资产存入借贷池生息 (授权加存入的两步批量动作)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			amount, err := parseWei(args[1])
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			prop, err := orch.ProposeLendingSupply(ctx, args[0], amount)
			if err != nil {
				return err
			}
			return printJSON(prop)
		})
	},
}

var proposeWithdrawCmd = &cobra.Command{
	Use:   "withdraw <asset> <amount>",
	Short: "提案从借贷池取回资产",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			amount, err := parseWei(args[1])
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			prop, err := orch.ProposeLendingWithdraw(ctx, args[0], amount)
			if err != nil {
				return err
			}
			return printJSON(prop)
		})
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote <from-asset> <to-asset> <amount>",
	Short: "查询兑换报价，不产生任何提案",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			amount, err := parseWei(args[2])
			if err != nil {
				return err
			}
			slippage := slippageBps(cmd, a)
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			quote, err := orch.QuoteSwap(ctx, args[0], args[1], amount, slippage)
			if err != nil {
				return err
			}
			path := make([]string, 0, len(quote.Path))
			for _, hop := range quote.Path {
				path = append(path, hop.Hex())
			}
			return printJSON(map[string]any{
				"path":         path,
				"expected_out": quote.ExpectedOut.String(),
				"min_out":      quote.MinOut.String(),
				"slippage_bps": quote.SlippageBps,
			})
		})
	},
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("无效的地址: %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func slippageBps(cmd *cobra.Command, a *app) int64 {
	if bps, _ := cmd.Flags().GetInt64("slippage-bps"); bps > 0 {
		return bps
	}
	return a.cfg.Network.SlippageBps
}

func init() {
	proposeTransferCmd.Flags().String("desc", "", "提案备注")
	proposeTokenCmd.Flags().String("desc", "", "提案备注")
	proposeSwapCmd.Flags().Int64("slippage-bps", 0, "滑点上限，基点 (默认取配置)")
	quoteCmd.Flags().Int64("slippage-bps", 0, "滑点上限，基点 (默认取配置)")

	proposeCmd.AddCommand(proposeTransferCmd, proposeTokenCmd, proposeSwapCmd,
		proposeWrapCmd, proposeUnwrapCmd, proposeSupplyCmd, proposeWithdrawCmd)
	rootCmd.AddCommand(proposeCmd, quoteCmd)
}
