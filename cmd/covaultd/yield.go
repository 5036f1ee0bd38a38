package main

import (
	"context"
	"fmt"

	"CoVault/internal/yieldindex"

	"github.com/spf13/cobra"
)

var yieldCmd = &cobra.Command{
	Use:   "yield",
	Short: "查询当前网络按年化收益率排名的资金池",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if a.profile.YieldIndex == "" {
				return fmt.Errorf("网络 %s 未配置收益索引标识", a.profile.Name)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			client := yieldindex.NewClient(yieldindex.Config{})
			pools, err := client.TopPools(ctx, a.profile.YieldIndex, limit)
			if err != nil {
				return err
			}
			return printJSON(pools)
		})
	},
}

func init() {
	yieldCmd.Flags().Int("limit", 10, "返回的资金池数量上限")
	rootCmd.AddCommand(yieldCmd)
}
