package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <proposal-hash>",
	Short: "与协调服务同步一个提案的确认进度",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			report, err := orch.CheckProposalStatus(ctx, hash)
			if err != nil {
				return err
			}
			out := map[string]any{
				"hash":             report.Hash.Hex(),
				"status":           string(report.Status),
				"confirmations":    report.Confirmations,
				"required":         report.Required,
				"ready_to_execute": report.ReadyToExecute,
				"executed":         report.Executed,
			}
			if report.ExecutedTx != nil {
				out["executed_tx"] = report.ExecutedTx.Hex()
			}
			return printJSON(out)
		})
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <proposal-hash>",
	Short: "确认数达到阈值后把提案提交上链执行",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			result, err := orch.ExecuteIfReady(ctx, hash)
			if err != nil {
				return err
			}
			out := map[string]any{
				"executed":         result.Executed,
				"already_executed": result.AlreadyExecuted,
				"confirmations":    result.Confirmations,
				"required":         result.Required,
			}
			if result.TxHash != nil {
				out["tx_hash"] = result.TxHash.Hex()
			}
			if result.Reason != "" {
				out["reason"] = result.Reason
			}
			return printJSON(out)
		})
	},
}

var signCmd = &cobra.Command{
	Use:   "sign <proposal-hash>",
	Short: "以智能体身份补签一个协调服务上的待确认交易",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			result, err := orch.AgentSignTransaction(ctx, hash)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"hash":           result.Hash.Hex(),
				"already_signed": result.AlreadySigned,
			})
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "列出协调服务上尚未执行的交易",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			pending, err := orch.ListPendingTransactions(ctx)
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(pending))
			for _, tx := range pending {
				out = append(out, map[string]any{
					"hash":          tx.SafeTxHash.Hex(),
					"to":            tx.To.Hex(),
					"value":         tx.Value.String(),
					"nonce":         tx.Nonce.String(),
					"confirmations": len(tx.Confirmations),
					"required":      tx.ConfirmationsRequired,
				})
			}
			return printJSON(out)
		})
	},
}

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "列出本地提案账本",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			proposals, err := orch.ListProposals(ctx)
			if err != nil {
				return err
			}
			return printJSON(proposals)
		})
	},
}

var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "列出本地登记的金库",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			vaults, err := a.store.ListVaults(ctx)
			if err != nil {
				return err
			}
			return printJSON(vaults)
		})
	},
}

func parseHash(raw string) (common.Hash, error) {
	if len(raw) != 66 || raw[:2] != "0x" {
		return common.Hash{}, fmt.Errorf("无效的提案哈希: %q", raw)
	}
	return common.HexToHash(raw), nil
}

func init() {
	rootCmd.AddCommand(statusCmd, executeCmd, signCmd, pendingCmd, proposalsCmd, vaultsCmd)
}
